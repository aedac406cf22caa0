package labflow

import "context"

// GetStep looks up a named step of this workflow. Querying the exit
// sentinel is a misuse (C4): it names a transition target, not a real
// step, and was never created as one.
func (w *Workflow) GetStep(ctx context.Context, name string) (StepRecord, bool, error) {
	if name == ExitSentinel {
		return StepRecord{}, false, &ReservedNameMisuse{Name: name}
	}
	return w.store.GetStep(ctx, w.rec.ID, name)
}

// HasStep reports whether a step has ever been created under name.
func (w *Workflow) HasStep(ctx context.Context, name string) (bool, error) {
	_, ok, err := w.GetStep(ctx, name)
	return ok, err
}

// GetOrCreateStep returns the step record for name, creating it in
// StateInitialized with the default next_call sentinel if this is its
// first appearance (spec §4, C4).
func (w *Workflow) GetOrCreateStep(ctx context.Context, name string) (StepRecord, error) {
	if name == ExitSentinel {
		return StepRecord{}, &ReservedNameMisuse{Name: name}
	}
	rec, ok, err := w.store.GetStep(ctx, w.rec.ID, name)
	if err != nil {
		return StepRecord{}, err
	}
	if ok {
		return rec, nil
	}
	rec = StepRecord{
		ID:         NewID(),
		WorkflowID: w.rec.ID,
		Name:       name,
		User:       w.rec.User,
		Status:     StateInitialized,
		NextCall:   DefaultNext,
		CreatedAt:  NowUnix(),
		UpdatedAt:  NowUnix(),
	}
	if err := w.store.CreateStep(ctx, rec); err != nil {
		return StepRecord{}, err
	}
	return rec, nil
}

// GetSteps lists this workflow's steps, optionally filtered by status.
func (w *Workflow) GetSteps(ctx context.Context, status ...State) ([]StepRecord, error) {
	return w.store.ListSteps(ctx, w.rec.ID, status)
}
