package labflow

import "context"

// forceCalculationsTerminal kills each calculation and, if it still
// hasn't reached a terminal state, forces it there with SetFinished as a
// last-resort escalation (C9). Used by KillWorkflow, Revive and the
// invoker's clean restart. A nil calcSrc (no calculation subsystem
// wired) is a no-op.
func forceCalculationsTerminal(ctx context.Context, src CalculationSource, ids []string) error {
	if src == nil {
		return nil
	}
	for _, id := range ids {
		calc, err := src.Calculation(ctx, id)
		if err != nil {
			return err
		}
		if err := calc.Kill(ctx); err != nil {
			return err
		}
		terminal, err := calc.IsTerminal(ctx)
		if err != nil {
			return err
		}
		if !terminal {
			if err := calc.SetFinished(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// KillWorkflow recursively kills a workflow and its sub-workflow tree
// (spec §7, C9, P7): every RUNNING step's attached calculations are
// forced terminal and its attached sub-workflows are killed in turn,
// before the workflow itself is marked FINISHED. Operates directly on
// the store so it can be used both as Workflow.Kill's implementation and
// as part of the clean-restart discipline, without requiring a live
// *Workflow handle for descendants.
func KillWorkflow(ctx context.Context, store Store, calcSrc CalculationSource, workflowID string) error {
	rec, err := store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}

	running, err := store.ListSteps(ctx, workflowID, []State{StateRunning})
	if err != nil {
		return err
	}
	for _, step := range running {
		calcs, err := store.StepCalculations(ctx, step.ID)
		if err != nil {
			return err
		}
		if err := forceCalculationsTerminal(ctx, calcSrc, calcs); err != nil {
			return err
		}

		subs, err := store.StepSubworkflows(ctx, step.ID)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if err := KillWorkflow(ctx, store, calcSrc, sub); err != nil {
				return err
			}
		}
	}

	rec.Status = StateFinished
	return store.UpdateWorkflow(ctx, rec)
}

// Kill kills this workflow and its entire sub-workflow tree.
func (w *Workflow) Kill(ctx context.Context) error {
	ctx, span := w.workflowSpan(ctx, SpanKill, "")
	defer span.End()

	if err := KillWorkflow(ctx, w.store, w.calcSrc, w.rec.ID); err != nil {
		span.Error(err)
		return err
	}
	return w.refresh(ctx)
}

// Revive reseals a workflow whose script fingerprint has changed and
// resets every ERROR step back to INITIALIZED with its attachments
// cleared, so the workflow can be invoked again from those steps (spec
// §7, C9, C1). Reviving is the only operation permitted to accept a
// changed fingerprint; the mismatch is recorded in the report rather
// than silently dropped.
func (w *Workflow) Revive(ctx context.Context) error {
	ctx, span := w.workflowSpan(ctx, SpanRevive, "")
	defer span.End()

	if w.rec.ScriptPath != "" {
		sum, err := Fingerprint(w.rec.ScriptPath)
		if err != nil {
			return err
		}
		if sum != w.rec.ScriptMD5 {
			if err := w.AppendReport(ctx, "revive: script fingerprint changed for "+w.rec.ScriptPath); err != nil {
				return err
			}
			w.rec.ScriptMD5 = sum
		}
	}

	errored, err := w.store.ListSteps(ctx, w.rec.ID, []State{StateError})
	if err != nil {
		return err
	}
	for _, step := range errored {
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

		if err := w.store.ClearStepAttachments(ctx, step.ID); err != nil {
			return err
		}
		step.Status = StateInitialized
		step.NextCall = DefaultNext
		step.UpdatedAt = NowUnix()
		if err := w.store.UpdateStep(ctx, step); err != nil {
			return err
		}
	}

	w.rec.Status = StateRunning
	return w.store.UpdateWorkflow(ctx, w.rec)
}

// Exit is a no-op, present for explicit symmetry with Kill/Sleep/Revive
// before a step's final Next(ExitSentinel) (spec §7, C9).
func (w *Workflow) Exit(ctx context.Context) error {
	return nil
}
