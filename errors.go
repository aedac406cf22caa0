package labflow

import "fmt"

// IntegrityViolation is raised when a workflow's persisted script
// fingerprint no longer matches the content at its script path. Fatal to
// the current burst; the invoker does not clear any state on this error.
type IntegrityViolation struct {
	WorkflowID string
	ScriptPath string
}

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("workflow %s: script %s no longer matches its persisted fingerprint", e.WorkflowID, e.ScriptPath)
}

// BadConstructorUsage is raised when Open is called with both WithID
// (load an existing workflow) and additional construction options.
type BadConstructorUsage struct {
	Reason string
}

func (e *BadConstructorUsage) Error() string {
	return fmt.Sprintf("bad constructor usage: %s", e.Reason)
}

// IllegalWorkflowConstruction is raised by Open when a new workflow is
// requested without WithModule, and by AddPath/RemovePath when given a
// path of the wrong kind (absolute vs relative). A *Workflow built by
// hand rather than through Open or Resume is not detected.
type IllegalWorkflowConstruction struct {
	Reason string
}

func (e *IllegalWorkflowConstruction) Error() string {
	return fmt.Sprintf("illegal workflow construction: %s", e.Reason)
}

// DisallowedWorkflowLocation is raised when Resume is asked to load a
// registry key outside the reserved user-workflows namespace.
type DisallowedWorkflowLocation struct {
	Module string
}

func (e *DisallowedWorkflowLocation) Error() string {
	return fmt.Sprintf("disallowed workflow location: %q is outside the user-workflows namespace", e.Module)
}

// StepAlreadyInitialized is raised when a step method is invoked while a
// non-restartable step record already exists for it.
type StepAlreadyInitialized struct {
	WorkflowID string
	Step       string
}

func (e *StepAlreadyInitialized) Error() string {
	return fmt.Sprintf("workflow %s: step %q already initialized", e.WorkflowID, e.Step)
}

// InvalidStepCall is raised when a step method is invoked with arguments;
// steps receive only their StepContext.
type InvalidStepCall struct {
	Step string
}

func (e *InvalidStepCall) Error() string {
	return fmt.Sprintf("invalid step call: step %q takes no arguments", e.Step)
}

// NotAStep is raised when Next is given a target that isn't a registered
// step in the calling workflow's step table.
type NotAStep struct {
	Name string
}

func (e *NotAStep) Error() string {
	return fmt.Sprintf("%q is not a step", e.Name)
}

// ReservedNameMisuse is raised when the step registry is queried with the
// reserved exit-sentinel name.
type ReservedNameMisuse struct {
	Name string
}

func (e *ReservedNameMisuse) Error() string {
	return fmt.Sprintf("%q is a reserved name and cannot be used as a step name", e.Name)
}

// UnknownCaller is raised when Next cannot identify the calling step in
// the step registry.
type UnknownCaller struct {
	WorkflowID string
	Step       string
}

func (e *UnknownCaller) Error() string {
	return fmt.Sprintf("workflow %s: caller step %q is unknown to the step registry", e.WorkflowID, e.Step)
}

// NullNext is raised when Next is called with a nil step reference.
type NullNext struct{}

func (e *NullNext) Error() string {
	return "next: next step must not be nil"
}

// ImmutableAfterCommit is raised by repository operations attempted after
// the owning workflow has committed its staging folder.
type ImmutableAfterCommit struct {
	Op string
}

func (e *ImmutableAfterCommit) Error() string {
	return fmt.Sprintf("repository: %s is not allowed after commit", e.Op)
}

// NotExistent is raised when a lookup by UUID or primary key fails.
type NotExistent struct {
	Kind string
	ID   string
}

func (e *NotExistent) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Kind, e.ID)
}

// InternalInconsistency is raised on invariant violations that should
// never occur in correct operation (e.g. a missing temp folder during
// staging).
type InternalInconsistency struct {
	Reason string
}

func (e *InternalInconsistency) Error() string {
	return fmt.Sprintf("internal inconsistency: %s", e.Reason)
}
