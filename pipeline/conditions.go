package pipeline

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

// Default run conditions. Stages without a default always run.
var DefaultConditions = map[string]string{
	config.StageBuildImage: "cell.primary",
	config.StagePushImage:  "trigger.publishable && cell.primary",
}

// TriggerEnv exposes the trigger to run conditions as trigger.*.
type TriggerEnv struct {
	Kind          string `expr:"kind"`
	Ref           string `expr:"ref"`
	Branch        string `expr:"branch"`
	Tag           string `expr:"tag"`
	Commit        string `expr:"commit"`
	PRNumber      int    `expr:"pr_number"`
	DefaultBranch bool   `expr:"default_branch"`

	// Publishable is false for build-only triggers.
	Publishable bool `expr:"publishable"`
}

// CellEnv exposes the matrix cell to run conditions as cell.*.
type CellEnv struct {
	Name    string            `expr:"name"`
	Index   int               `expr:"index"`
	Primary bool              `expr:"primary"`
	Params  map[string]string `expr:"params"`

	// Status is the cell's status when the condition is evaluated.
	Status string `expr:"status"`

	// Stages maps each finished stage to its status, for example
	// cell.stages["gate"] == "succeeded".
	Stages map[string]string `expr:"stages"`
}

// ConditionEnv is the environment a run condition is evaluated against.
type ConditionEnv struct {
	Trigger TriggerEnv `expr:"trigger"`
	Cell    CellEnv    `expr:"cell"`
}

// NewConditionEnv builds the evaluation environment for one cell from its
// current state.
func NewConditionEnv(t domain.Trigger, defaultBranch string, cell *domain.MatrixCell, primary bool) ConditionEnv {
	branch := t.Branch()
	return ConditionEnv{
		Trigger: TriggerEnv{
			Kind:          t.Kind.String(),
			Ref:           t.Ref,
			Branch:        branch,
			Tag:           t.Tag(),
			Commit:        t.Commit,
			PRNumber:      t.PRNumber,
			DefaultBranch: branch != "" && branch == defaultBranch,
			Publishable:   !t.BuildOnly(),
		},
		Cell: newCellEnv(cell, primary),
	}
}

func newCellEnv(cell *domain.MatrixCell, primary bool) CellEnv {
	stages := make(map[string]string, len(cell.Stages))
	for _, s := range cell.Stages {
		if s.Status != domain.StageStatusPending && s.Status != domain.StageStatusRunning {
			stages[s.Name] = string(s.Status)
		}
	}
	return CellEnv{
		Name:    cell.Name,
		Index:   cell.Index,
		Primary: primary,
		Params:  cell.Params,
		Status:  string(cell.Status),
		Stages:  stages,
	}
}

// Condition is a compiled run condition.
type Condition struct {
	source  string
	program *vm.Program
}

// CompileCondition type-checks and compiles source. An empty source always
// evaluates to true.
func CompileCondition(source string) (*Condition, error) {
	c := &Condition{source: source}
	if source == "" {
		return c, nil
	}
	program, err := expr.Compile(source, expr.Env(ConditionEnv{}), expr.AsBool())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, fmt.Sprintf("invalid run condition %q", source))
	}
	c.program = program
	return c, nil
}

// String returns the condition source.
func (c *Condition) String() string {
	if c.source == "" {
		return "true"
	}
	return c.source
}

// Eval evaluates the condition against env.
func (c *Condition) Eval(env ConditionEnv) (bool, error) {
	if c.program == nil {
		return true, nil
	}
	out, err := expr.Run(c.program, env)
	if err != nil {
		return false, errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("run condition %q failed", c.source))
	}
	ok, _ := out.(bool)
	return ok, nil
}

// compileConditions compiles the run condition of every stage, falling back
// to DefaultConditions where the configuration sets none.
func compileConditions(cfg *config.Config) (map[string]*Condition, error) {
	out := make(map[string]*Condition, len(config.StageNames))
	for _, name := range config.StageNames {
		source := cfg.Stage(name).If
		if source == "" {
			source = DefaultConditions[name]
		}
		c, err := CompileCondition(source)
		if err != nil {
			return nil, errors.WrapWithContext(err, errors.CodeInvalidConfig, "stage condition does not compile",
				map[string]interface{}{"stage": name})
		}
		out[name] = c
	}
	return out, nil
}
