package labflow

import "context"

// AppendReport appends a line to the report, forwarding to the root
// workflow if this instance is a sub-workflow (spec §5, C10): only the
// root's Report field ever accumulates output, so a caller inspecting a
// top-level workflow sees everything its sub-workflows logged too.
func (w *Workflow) AppendReport(ctx context.Context, line string) error {
	root, err := w.rootID(ctx)
	if err != nil {
		return err
	}
	return w.store.AppendReport(ctx, root, line)
}

// Report returns the accumulated report of this workflow's root.
func (w *Workflow) Report(ctx context.Context) (string, error) {
	root, err := w.rootID(ctx)
	if err != nil {
		return "", err
	}
	return w.store.GetReport(ctx, root)
}

// ClearReport clears the root workflow's report.
func (w *Workflow) ClearReport(ctx context.Context) error {
	root, err := w.rootID(ctx)
	if err != nil {
		return err
	}
	return w.store.ClearReport(ctx, root)
}

// rootID walks the parent-step chain up to the workflow that has none,
// i.e. the root of the sub-workflow tree this instance belongs to.
func (w *Workflow) rootID(ctx context.Context) (string, error) {
	id := w.rec.ID
	for {
		parent, ok, err := w.store.ParentStep(ctx, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return id, nil
		}
		id = parent.WorkflowID
	}
}
