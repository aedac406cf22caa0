package labflow

// WorkflowRecord is the persisted representation of a workflow instance
// (spec §3). Module/ModuleClass is the registry key the Resumer (C8)
// uses to locate the constructor that rebuilds the live workflow object;
// see registry.go.
type WorkflowRecord struct {
	// PK is the store's integer primary key, exposed for the CLI's
	// kill_by_pk operation (spec §6). ID is the UUID used everywhere else.
	PK          int64
	ID          string
	User        string
	Module      string
	ModuleClass string
	ScriptPath  string
	ScriptMD5   string
	Status      State
	CTime       int64
	Report      string

	// ParentStepID is non-nil iff this workflow is a sub-workflow: it
	// names the step of another workflow that attached this one.
	ParentStepID *string
}

// IsSubworkflow reports whether this workflow has a parent step.
func (w WorkflowRecord) IsSubworkflow() bool {
	return w.ParentStepID != nil && *w.ParentStepID != ""
}

// StepRecord is the persisted representation of a single named step
// within a workflow (spec §3). A step is uniquely identified within its
// workflow by Name.
type StepRecord struct {
	ID         string
	WorkflowID string
	Name       string
	User       string
	Status     State
	NextCall   string
	CreatedAt  int64
	UpdatedAt  int64
}

// HasOpenNext reports whether the step's next_call is neither the
// default sentinel nor its own name — i.e. it has genuinely advanced the
// workflow (used by the reentry guard, P4, and by the daemon to find
// steps ready to resume).
func (s StepRecord) HasOpenNext() bool {
	return s.NextCall != DefaultNext && s.NextCall != s.Name
}
