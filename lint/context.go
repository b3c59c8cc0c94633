package lint

// Context gives rules their position in the Dockerfile being linted:
// the file, optionally a stage, and optionally an instruction of that stage.
type Context struct {
	// File is the Dockerfile being linted.
	File *Dockerfile

	// Stage is the current stage (nil for file-level context).
	Stage *Stage

	// Instruction is the current instruction (nil for stage-level context).
	Instruction *Instruction

	// Parent is the enclosing context.
	Parent *Context
}

// NewContext creates a root Context for a Dockerfile.
func NewContext(df *Dockerfile) *Context {
	return &Context{File: df}
}

// NewStageContext creates a Context for a stage.
func NewStageContext(parent *Context, stage *Stage) *Context {
	return &Context{
		File:   parent.File,
		Stage:  stage,
		Parent: parent,
	}
}

// NewInstructionContext creates a Context for an instruction.
func NewInstructionContext(parent *Context, in *Instruction) *Context {
	return &Context{
		File:        parent.File,
		Stage:       parent.Stage,
		Instruction: in,
		Parent:      parent,
	}
}

// IsFileLevel returns true if this context has no stage or instruction.
func (ctx *Context) IsFileLevel() bool {
	return ctx.Stage == nil && ctx.Instruction == nil
}

// IsStageLevel returns true if this context has a stage but no instruction.
func (ctx *Context) IsStageLevel() bool {
	return ctx.Stage != nil && ctx.Instruction == nil
}

// IsFinalStage reports whether the context's stage produces the image.
func (ctx *Context) IsFinalStage() bool {
	return ctx.Stage != nil && ctx.File != nil && ctx.File.FinalStage() == ctx.Stage
}

// Location returns the source location of the context's instruction,
// falling back to the stage's FROM and then to the file.
func (ctx *Context) Location() *SourceLocation {
	if ctx.File == nil {
		return nil
	}
	switch {
	case ctx.Instruction != nil:
		return ctx.File.Location(ctx.Instruction)
	case ctx.Stage != nil:
		return ctx.File.Location(ctx.Stage.From)
	default:
		return ctx.File.Location(nil)
	}
}

// WalkStages calls fn for each stage. Walking stops at the first error.
func (ctx *Context) WalkStages(fn func(stageCtx *Context) error) error {
	if ctx.File == nil {
		return nil
	}
	for _, stage := range ctx.File.Stages {
		if err := fn(NewStageContext(ctx, stage)); err != nil {
			return err
		}
	}
	return nil
}

// WalkInstructions calls fn for each instruction of the current stage.
func (ctx *Context) WalkInstructions(fn func(inCtx *Context) error) error {
	if ctx.Stage == nil {
		return nil
	}
	for _, in := range ctx.Stage.Instructions {
		if err := fn(NewInstructionContext(ctx, in)); err != nil {
			return err
		}
	}
	return nil
}

// WalkAll calls fn for the file, every stage and every instruction.
func (ctx *Context) WalkAll(fn func(walkCtx *Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return ctx.WalkStages(func(stageCtx *Context) error {
		if err := fn(stageCtx); err != nil {
			return err
		}
		return stageCtx.WalkInstructions(fn)
	})
}
