package labflow

import "context"

// StepFunc is the body of a single named step. It receives a
// StepContext scoped to its own call rather than inspecting the call
// stack for caller identity (spec §9 design note) — the Go stand-in for
// the original's decorator-injected self/caller introspection.
type StepFunc func(ctx context.Context, sc *StepContext) error

// StepTable maps step names to their bodies. A type implementing a
// workflow builds one (typically in its constructor) and hands it to
// Workflow.Invoke.
type StepTable map[string]StepFunc

// StepContext is the explicit handle a step body uses to attach
// calculations and sub-workflows, sleep, and advance to the next step.
// It carries just enough identity — which workflow, which step name,
// which step table — to let Next (C7) verify the transition without any
// call-stack walking.
type StepContext struct {
	wf       *Workflow
	stepName string
	table    StepTable
}

// Workflow returns the owning workflow, for parameter/attribute/result
// access and repository operations from within a step body.
func (sc *StepContext) Workflow() *Workflow { return sc.wf }

// StepName returns the name of the step currently executing.
func (sc *StepContext) StepName() string { return sc.stepName }

// AttachCalculation queues a calculation ID to be recorded against the
// current step once Next flushes the buffer (C5).
func (sc *StepContext) AttachCalculation(calcID string) {
	sc.wf.attachments.attachCalculation(sc.stepName, calcID)
}

// AttachWorkflow queues a sub-workflow ID to be recorded against the
// current step once Next flushes the buffer (C5).
func (sc *StepContext) AttachWorkflow(childWorkflowID string) {
	sc.wf.attachments.attachSubworkflow(sc.stepName, childWorkflowID)
}

// Sleep sets the current step to SLEEP, pausing the workflow mid-body
// (spec §7, C9). Typically followed by returning nil from the step so
// the invoker can unwind cleanly; the daemon will not resume a sleeping
// step on its own — only an explicit re-invocation does (Revive resets
// ERROR steps only).
func (sc *StepContext) Sleep(ctx context.Context) error {
	step, ok, err := sc.wf.store.GetStep(ctx, sc.wf.rec.ID, sc.stepName)
	if err != nil {
		return err
	}
	if !ok {
		return &UnknownCaller{WorkflowID: sc.wf.rec.ID, Step: sc.stepName}
	}
	step.Status = StateSleep
	step.UpdatedAt = NowUnix()
	return sc.wf.store.UpdateStep(ctx, step)
}

// Next advances the workflow from the current step to next (C7). next
// must be either ExitSentinel or a name present in the step table this
// invocation was called with; an empty string is rejected with
// NullNext.
//
// Next re-verifies the script fingerprint, flushes any buffered
// attachments for the current step before writing its next_call
// pointer (P2 — flush happens strictly first), and transitions both the
// step and the workflow to RUNNING.
func (sc *StepContext) Next(ctx context.Context, next string) error {
	if next == "" {
		return &NullNext{}
	}
	if next != ExitSentinel {
		if _, ok := sc.table[next]; !ok {
			return &NotAStep{Name: next}
		}
	}

	wf := sc.wf
	_, span := wf.workflowSpan(ctx, SpanStepNext, sc.stepName, StringAttr("next", next))
	defer span.End()

	if wf.rec.ScriptPath != "" {
		sum, err := Fingerprint(wf.rec.ScriptPath)
		if err != nil {
			return err
		}
		if sum != wf.rec.ScriptMD5 {
			return &IntegrityViolation{WorkflowID: wf.rec.ID, ScriptPath: wf.rec.ScriptPath}
		}
	}

	step, ok, err := wf.store.GetStep(ctx, wf.rec.ID, sc.stepName)
	if err != nil {
		return err
	}
	if !ok {
		return &UnknownCaller{WorkflowID: wf.rec.ID, Step: sc.stepName}
	}

	calcs, subs := wf.attachments.drain(sc.stepName)
	for _, id := range calcs {
		if err := wf.store.AppendCalculationAttachment(ctx, step.ID, id); err != nil {
			return err
		}
	}
	for _, id := range subs {
		if err := wf.store.AppendSubworkflowAttachment(ctx, step.ID, id); err != nil {
			return err
		}
	}

	step.NextCall = next
	step.Status = StateRunning
	step.UpdatedAt = NowUnix()
	if err := wf.store.UpdateStep(ctx, step); err != nil {
		return err
	}

	wf.rec.Status = StateRunning
	return wf.store.UpdateWorkflow(ctx, wf.rec)
}
