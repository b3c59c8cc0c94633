package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

// Summary is the user-facing outcome of a run. It is published as the
// run-summary artifact and printed by the CLI. It never carries credentials.
type Summary struct {
	RunID      string           `json:"run_id"`
	Repository string           `json:"repository"`
	Trigger    domain.Trigger   `json:"trigger"`
	Status     domain.RunStatus `json:"status"`
	ExitCode   int              `json:"exit_code"`
	Duration   string           `json:"duration,omitempty"`
	Cells      []CellSummary    `json:"cells"`
}

// CellSummary is the outcome of one matrix cell.
type CellSummary struct {
	Name         string            `json:"name"`
	Params       map[string]string `json:"params,omitempty"`
	Status       domain.RunStatus  `json:"status"`
	FailedStage  string            `json:"failed_stage,omitempty"`
	FailureCode  string            `json:"failure_code,omitempty"`
	Failure      string            `json:"failure,omitempty"`
	FailingGates []GateSummary     `json:"failing_gates,omitempty"`
	Gates        []GateSummary     `json:"gates,omitempty"`
	Tags         []domain.ImageTag `json:"tags,omitempty"`
	Pushed       bool              `json:"pushed"`
	Artifacts    int               `json:"artifacts"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// GateSummary is a gate outcome with its measured value and threshold.
type GateSummary struct {
	Gate      domain.GateName   `json:"gate"`
	Policy    domain.GatePolicy `json:"policy"`
	Passed    bool              `json:"passed"`
	Measured  float64           `json:"measured"`
	Threshold float64           `json:"threshold"`
	Detail    string            `json:"detail,omitempty"`
}

// Summarize builds the summary of a finished run.
func Summarize(run *domain.PipelineRun) *Summary {
	s := &Summary{
		RunID:      run.ID,
		Repository: run.Repository,
		Trigger:    run.Trigger,
		Status:     run.Status,
		ExitCode:   errors.ExitCode(RunError(run)),
		Cells:      make([]CellSummary, 0, len(run.Cells)),
	}
	if run.StartedAt != nil && run.CompletedAt != nil {
		s.Duration = run.CompletedAt.Sub(*run.StartedAt).Round(time.Millisecond).String()
	}

	for _, c := range run.Cells {
		cs := CellSummary{
			Name:        c.Name,
			Params:      c.Params,
			Status:      c.Status,
			FailedStage: c.FailedStage,
			FailureCode: c.FailureCode,
			Failure:     c.Failure,
			Tags:        c.Tags,
			Pushed:      c.Pushed,
			Artifacts:   len(c.Artifacts),
			Warnings:    c.Warnings,
		}
		for _, g := range c.Gates {
			gs := GateSummary{
				Gate:      g.Gate,
				Policy:    g.Policy,
				Passed:    g.Passed,
				Measured:  g.Measured,
				Threshold: g.Threshold,
				Detail:    g.Detail,
			}
			cs.Gates = append(cs.Gates, gs)
			if g.Blocking() {
				cs.FailingGates = append(cs.FailingGates, gs)
			}
		}
		s.Cells = append(s.Cells, cs)
	}
	return s
}

// RunError returns nil for a successful run and otherwise an error whose
// code is the most severe failure code among the cells.
func RunError(run *domain.PipelineRun) error {
	var (
		codes  []errors.ErrorCode
		failed []string
	)
	for _, c := range run.Cells {
		switch c.Status {
		case domain.RunStatusFailed, domain.RunStatusCancelled:
			code := errors.ErrorCode(c.FailureCode)
			if code == "" {
				code = errors.CodeInternal
				if c.Status == domain.RunStatusCancelled {
					code = errors.CodeCancelled
				}
			}
			codes = append(codes, code)
			failed = append(failed, c.Name)
		}
	}
	if len(codes) == 0 {
		if run.Status == domain.RunStatusCancelled {
			return errors.Newf(errors.CodeCancelled, "run %s cancelled", run.ID)
		}
		return nil
	}
	return errors.Newf(errors.MostSevere(codes), "run %s failed: %d of %d cells did not succeed (%s)",
		run.ID, len(failed), len(run.Cells), strings.Join(failed, ", "))
}

// WriteText renders the summary for a terminal.
func (s *Summary) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s (exit %d)\n", s.RunID, s.Status, s.ExitCode)
	for _, c := range s.Cells {
		fmt.Fprintf(&b, "  cell %s: %s", c.Name, c.Status)
		if c.FailedStage != "" {
			fmt.Fprintf(&b, " at %s", c.FailedStage)
		}
		b.WriteString("\n")
		for _, g := range c.FailingGates {
			fmt.Fprintf(&b, "    gate %s failed: measured %g, threshold %g\n", g.Gate, g.Measured, g.Threshold)
		}
		if c.Failure != "" && len(c.FailingGates) == 0 {
			fmt.Fprintf(&b, "    %s\n", c.Failure)
		}
		if len(c.Tags) > 0 {
			tags := make([]string, len(c.Tags))
			for i, t := range c.Tags {
				tags[i] = t.String()
			}
			fmt.Fprintf(&b, "    tags: %s (pushed: %t)\n", strings.Join(tags, ", "), c.Pushed)
		}
		for _, warning := range c.Warnings {
			fmt.Fprintf(&b, "    warning: %s\n", warning)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
