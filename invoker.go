package labflow

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Invoke runs a single step of the workflow (spec §4, C6): the Go stand-in
// for the original's decorator-wrapped method call. It commits the
// workflow if this is its first invocation, rejects calls carrying
// positional arguments (steps take none), enforces the reentry guard,
// applies the clean-restart discipline to ERROR/SLEEP steps, and runs the
// step body with panic and error recovery so nothing ever propagates out
// of the invoker — failures are recorded as step state instead.
func (w *Workflow) Invoke(ctx context.Context, table StepTable, name string, args ...any) error {
	if len(args) > 0 {
		return &InvalidStepCall{Step: name}
	}

	fn, ok := table[name]
	if !ok {
		return &NotAStep{Name: name}
	}

	if !w.committed {
		if err := w.Commit(ctx); err != nil {
			return err
		}
	}

	existing, found, err := w.store.GetStep(ctx, w.rec.ID, name)
	if err != nil {
		return err
	}

	if found {
		if existing.Status.restartable() {
			if err := w.restartStep(ctx, existing); err != nil {
				return err
			}
		} else if existing.HasOpenNext() {
			return &StepAlreadyInitialized{WorkflowID: w.rec.ID, Step: name}
		}
	}

	step, err := w.GetOrCreateStep(ctx, name)
	if err != nil {
		return err
	}
	if found && existing.Status.restartable() {
		step.Status = StateInitialized
		step.NextCall = DefaultNext
		step.UpdatedAt = NowUnix()
		if err := w.store.UpdateStep(ctx, step); err != nil {
			return err
		}
	}

	// Status stays INITIALIZED here (spec §4.6 step 5); only
	// StepContext.Next (§4.7, C7) transitions the step and workflow to
	// RUNNING, matching the original wrapper()/next() split.
	// StepContext.Sleep moves the step to SLEEP instead.
	sc := &StepContext{wf: w, stepName: name, table: table}

	ctx, span := w.workflowSpan(ctx, SpanStepInvoke, name)
	defer span.End()

	func() {
		defer func() {
			if r := recover(); r != nil {
				span.Error(fmt.Errorf("panic: %v", r))
				w.recordStepError(ctx, name, fmt.Errorf("panic in step %q: %v\n%s", name, r, debug.Stack()))
			}
		}()
		if err := fn(ctx, sc); err != nil {
			span.Error(err)
			w.recordStepError(ctx, name, err)
		}
	}()

	return nil
}

// restartStep applies the clean-restart discipline (spec §4): before a
// SLEEP or ERROR step re-runs, any sub-workflows and calculations it had
// already attached are killed and its attachment lists cleared, so the
// restarted body starts from a known-empty attachment set.
func (w *Workflow) restartStep(ctx context.Context, step StepRecord) error {
	subs, err := w.store.StepSubworkflows(ctx, step.ID)
	if err != nil {
		return err
	}
	for _, id := range subs {
		if err := KillWorkflow(ctx, w.store, w.calcSrc, id); err != nil {
			return err
		}
	}

	calcs, err := w.store.StepCalculations(ctx, step.ID)
	if err != nil {
		return err
	}
	if err := forceCalculationsTerminal(ctx, w.calcSrc, calcs); err != nil {
		return err
	}

	return w.store.ClearStepAttachments(ctx, step.ID)
}

// recordStepError appends the failure to the report and marks the step
// ERROR. Errors here are swallowed (logged via the report) rather than
// returned, since Invoke itself must never propagate a step failure.
func (w *Workflow) recordStepError(ctx context.Context, name string, stepErr error) {
	_ = w.AppendReport(ctx, fmt.Sprintf("step %q failed: %v", name, stepErr))

	step, ok, err := w.store.GetStep(ctx, w.rec.ID, name)
	if err != nil || !ok {
		return
	}
	step.Status = StateError
	step.UpdatedAt = NowUnix()
	_ = w.store.UpdateStep(ctx, step)
}
