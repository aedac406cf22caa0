package labflow

import "context"

// Store abstracts the relational persistence layer (spec §6, "out of
// scope" collaborator): workflow and step records, ordered attachment
// lists, and the three key-value bags. The engine never touches SQL
// directly — every mutation and lookup goes through this port.
type Store interface {
	// --- Workflows ---
	CreateWorkflow(ctx context.Context, w WorkflowRecord) error
	GetWorkflow(ctx context.Context, id string) (WorkflowRecord, error)
	GetWorkflowByPK(ctx context.Context, pk int64) (WorkflowRecord, error)
	UpdateWorkflow(ctx context.Context, w WorkflowRecord) error
	// ListWorkflows returns workflows owned by user, optionally filtered
	// to the given statuses (nil/empty means no filter).
	ListWorkflows(ctx context.Context, user string, status []State) ([]WorkflowRecord, error)
	// ListRootWorkflows returns user's workflows that are not
	// sub-workflows (ParentStepID is nil), for the CLI tree listing.
	ListRootWorkflows(ctx context.Context, user string, includeFinished bool) ([]WorkflowRecord, error)
	// ParentStep resolves a workflow's parent step, if it is a
	// sub-workflow. Returns ok=false for root workflows.
	ParentStep(ctx context.Context, workflowID string) (StepRecord, bool, error)

	// --- Steps ---
	CreateStep(ctx context.Context, s StepRecord) error
	GetStep(ctx context.Context, workflowID, name string) (StepRecord, bool, error)
	UpdateStep(ctx context.Context, s StepRecord) error
	// ListSteps returns all steps of a workflow, optionally filtered to
	// the given statuses (nil/empty means no filter).
	ListSteps(ctx context.Context, workflowID string, status []State) ([]StepRecord, error)

	// --- Attachments (ordered, append-only) ---
	AppendCalculationAttachment(ctx context.Context, stepID, calcID string) error
	AppendSubworkflowAttachment(ctx context.Context, stepID, childWorkflowID string) error
	ClearStepAttachments(ctx context.Context, stepID string) error
	StepCalculations(ctx context.Context, stepID string) ([]string, error)
	StepSubworkflows(ctx context.Context, stepID string) ([]string, error)

	// --- Parameter / attribute / result bags ---
	GetParam(ctx context.Context, workflowID, key string) (string, bool, error)
	SetParam(ctx context.Context, workflowID, key, value string, force bool) error
	GetAttr(ctx context.Context, workflowID, key string) (string, bool, error)
	SetAttr(ctx context.Context, workflowID, key, value string) error
	GetResult(ctx context.Context, workflowID, key string) (string, bool, error)
	SetResult(ctx context.Context, workflowID, key, value string) error

	// --- Report (append-only, rooted) ---
	AppendReport(ctx context.Context, workflowID, line string) error
	GetReport(ctx context.Context, workflowID string) (string, error)
	ClearReport(ctx context.Context, workflowID string) error

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
