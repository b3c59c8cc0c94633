// Package pipeline is the stage scheduler of the forge pipeline.
//
// An Engine expands the configured matrix into cells and executes the cells
// concurrently, bounded by the configured concurrency. Each cell runs the
// fixed stage sequence strictly in order:
//
//	checkout -> provision -> test -> gate -> build-image -> push-image
//
// followed by two finalizers that run on every path: publish-artifacts and
// cleanup. A stage's run condition is an expression over trigger.* and cell.*
// evaluated immediately before the stage; a false condition skips the stage
// and the next one proceeds. A failing stage halts its own cell only, but
// the primary cell builds the image only after every other cell has passed
// its gates.
//
// # Basic Usage
//
//	engine, err := pipeline.NewEngine(cfg, pipeline.Deps{
//	    Exec:        executor.New(),
//	    Credentials: broker,
//	    Store:       store,
//	})
//	if err != nil {
//	    return err
//	}
//
//	run, err := engine.Run(ctx, trigger)
//	os.Exit(errors.ExitCode(err))
//
// # Run Conditions
//
// Conditions are compiled once when the engine is created, so a typo fails
// early with INVALID_CONFIGURATION. By default build-image runs only in the
// primary cell and push-image additionally requires a publishable trigger:
//
//	stages:
//	  build-image:
//	    if: cell.primary
//	  push-image:
//	    if: trigger.publishable && cell.primary && trigger.default_branch
//
// cell.status and cell.stages reflect the cell at the moment of evaluation;
// cell.stages maps each finished stage to its status.
//
// # Cancellation
//
// Cancelling the context stops every running cell at its next suspension
// point. Cells still publish their artifacts and run their cleanup before
// the run reports CANCELLED.
package pipeline
