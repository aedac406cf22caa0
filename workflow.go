package labflow

import (
	"context"
	"fmt"
	"path/filepath"
)

// RepoSection is the repository folder section workflows are filed
// under once committed (spec §6, C2: "permanent per-UUID folder").
// Fixed and deterministic so a resumed workflow can recompute its
// permanent folder handle without persisting it separately.
const RepoSection = "workflows"

// Workflow is the live, in-process handle onto a single workflow
// instance (spec §3). It wraps the persisted WorkflowRecord with the
// engine-side state that must never be persisted directly: the
// pre-commit parameter staging area and the per-invocation attachment
// buffer (C5). Attributes and results are not staged; setting one
// before commit commits the workflow first.
//
// A Workflow is always constructed through Open (new workflow) or
// Registry.Resume (existing workflow) — never built by hand — so both
// paths can enforce the constructor's invariants (C3).
type Workflow struct {
	store   Store
	repo    Repository
	calcSrc CalculationSource
	tracer  Tracer

	rec       WorkflowRecord
	folder    string
	committed bool

	attachments *attachmentBuffer

	// staged holds parameters set before the first commit. After commit
	// they have been flushed into the store and this map is unused.
	staged map[string]string
}

// openConfig accumulates OpenOption values before Open validates them.
type openConfig struct {
	id          *string
	user        string
	module      string
	moduleClass string
	scriptPath  string
	params      map[string]string
}

// OpenOption configures Open. Exactly one of WithID or the
// new-construction options (WithUser/WithModule/WithScript/WithParam*)
// may be used (C3); combining them is BadConstructorUsage.
type OpenOption func(*openConfig)

// WithID reopens a workflow that has already been committed, identified
// by its UUID. Mutually exclusive with every other option.
func WithID(id string) OpenOption {
	return func(c *openConfig) { c.id = &id }
}

// WithUser sets the owning user of a new workflow.
func WithUser(user string) OpenOption {
	return func(c *openConfig) { c.user = user }
}

// WithModule sets the registry namespace and class name of a new
// workflow (spec §6, C8). module must live under the reserved
// user-workflows namespace.
func WithModule(module, class string) OpenOption {
	return func(c *openConfig) { c.module = module; c.moduleClass = class }
}

// WithScript attaches the defining script whose contents are hashed for
// the integrity fingerprint (C1) and staged into the workflow's
// permanent folder at commit (C2).
func WithScript(path string) OpenOption {
	return func(c *openConfig) { c.scriptPath = path }
}

// WithParam stages a single parameter to be persisted at commit.
func WithParam(key, value string) OpenOption {
	return func(c *openConfig) {
		if c.params == nil {
			c.params = make(map[string]string)
		}
		c.params[key] = value
	}
}

// WithParams stages a batch of parameters.
func WithParams(params map[string]string) OpenOption {
	return func(c *openConfig) {
		if c.params == nil {
			c.params = make(map[string]string)
		}
		for k, v := range params {
			c.params[k] = v
		}
	}
}

// Open constructs a workflow handle (spec §3, C3). With WithID it
// reopens an already-committed workflow; otherwise it stages a brand
// new, not-yet-committed one. The two modes cannot be mixed.
func Open(ctx context.Context, store Store, repo Repository, opts ...OpenOption) (*Workflow, error) {
	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	newConstructionUsed := cfg.user != "" || cfg.module != "" || cfg.moduleClass != "" ||
		cfg.scriptPath != "" || len(cfg.params) > 0

	if cfg.id != nil {
		if newConstructionUsed {
			return nil, &BadConstructorUsage{Reason: "WithID cannot be combined with WithUser/WithModule/WithScript/WithParam"}
		}
		rec, err := store.GetWorkflow(ctx, *cfg.id)
		if err != nil {
			return nil, err
		}
		return &Workflow{
			store:       store,
			repo:        repo,
			rec:         rec,
			folder:      filepath.Join(RepoSection, rec.ID),
			committed:   true,
			attachments: newAttachmentBuffer(),
		}, nil
	}

	if cfg.module == "" || cfg.moduleClass == "" {
		return nil, &IllegalWorkflowConstruction{Reason: "new workflows must set WithModule(module, class)"}
	}

	tmp, err := repo.MakeTempFolder(ctx)
	if err != nil {
		return nil, err
	}

	w := &Workflow{
		store:   store,
		repo:    repo,
		folder:  tmp,
		staged:  cfg.params,
		attachments: newAttachmentBuffer(),
		rec: WorkflowRecord{
			ID:          NewID(),
			User:        cfg.user,
			Module:      cfg.module,
			ModuleClass: cfg.moduleClass,
			ScriptPath:  cfg.scriptPath,
			Status:      StateCreated,
		},
	}
	if w.staged == nil {
		w.staged = make(map[string]string)
	}
	return w, nil
}

// ID returns the workflow's UUID, assigned at construction (but only
// persisted at commit).
func (w *Workflow) ID() string { return w.rec.ID }

// Record returns a snapshot of the persisted workflow record as last
// known to this handle.
func (w *Workflow) Record() WorkflowRecord { return w.rec }

// Committed reports whether Commit has run for this handle.
func (w *Workflow) Committed() bool { return w.committed }

// WithCalculationSource attaches the adapter used to resolve attached
// calculation IDs to live handles, needed for Kill (C9).
func (w *Workflow) WithCalculationSource(src CalculationSource) *Workflow {
	w.calcSrc = src
	return w
}

// WithTracer attaches a Tracer for step invocation and transition spans.
func (w *Workflow) WithTracer(t Tracer) *Workflow {
	w.tracer = t
	return w
}

// Commit seals the workflow (spec §3, C2/C1): moves its staging folder
// into a permanent per-UUID location, computes the integrity
// fingerprint over the defining script's contents, persists the record,
// and flushes staged parameters. Idempotent (P8) — a second call is a
// no-op.
func (w *Workflow) Commit(ctx context.Context) error {
	if w.committed {
		return nil
	}

	permFolder, err := w.repo.MoveInto(ctx, w.folder, RepoSection, w.rec.ID)
	if err != nil {
		return err
	}

	if w.rec.ScriptPath != "" {
		sum, err := Fingerprint(w.rec.ScriptPath)
		if err != nil {
			return err
		}
		w.rec.ScriptMD5 = sum
		if err := w.repo.InsertPath(ctx, permFolder, w.rec.ScriptPath, w.rec.ModuleClass); err != nil {
			return err
		}
	}

	w.rec.CTime = NowUnix()
	w.rec.Status = StateCreated
	if err := w.store.CreateWorkflow(ctx, w.rec); err != nil {
		return err
	}

	for k, v := range w.staged {
		if err := w.store.SetParam(ctx, w.rec.ID, k, v, false); err != nil {
			return err
		}
	}

	w.folder = permFolder
	w.committed = true
	return nil
}

// CurrentFolder returns the workflow's current folder handle: the
// temporary staging folder before commit, the permanent per-UUID folder
// after.
func (w *Workflow) CurrentFolder() string { return w.folder }

// AddPath copies srcAbs (an absolute path outside the repository) to
// dstRel inside the workflow's current folder. Forbidden once the
// workflow has been committed (C2, ImmutableAfterCommit).
func (w *Workflow) AddPath(ctx context.Context, srcAbs, dstRel string) error {
	if w.committed {
		return &ImmutableAfterCommit{Op: "add_path"}
	}
	if !filepath.IsAbs(srcAbs) {
		return &IllegalWorkflowConstruction{Reason: "add_path source must be absolute: " + srcAbs}
	}
	if filepath.IsAbs(dstRel) {
		return &IllegalWorkflowConstruction{Reason: "add_path destination must be relative: " + dstRel}
	}
	return w.repo.InsertPath(ctx, w.folder, srcAbs, dstRel)
}

// RemovePath removes rel from the workflow's current folder. Forbidden
// once the workflow has been committed.
func (w *Workflow) RemovePath(ctx context.Context, rel string) error {
	if w.committed {
		return &ImmutableAfterCommit{Op: "remove_path"}
	}
	if filepath.IsAbs(rel) {
		return &IllegalWorkflowConstruction{Reason: "remove_path path must be relative: " + rel}
	}
	return w.repo.RemovePath(ctx, w.folder, rel)
}

// --- Parameters: read-only to the engine after commit unless force. ---

// Param returns a parameter's value.
func (w *Workflow) Param(ctx context.Context, key string) (string, bool, error) {
	if !w.committed {
		v, ok := w.staged[key]
		return v, ok, nil
	}
	return w.store.GetParam(ctx, w.rec.ID, key)
}

// SetParam sets a parameter. Before commit this only stages the value;
// after commit it requires force=true, and reuses ImmutableAfterCommit
// for the same "locked after commit" shape the repository uses (spec
// does not name a distinct error for this case).
func (w *Workflow) SetParam(ctx context.Context, key, value string, force bool) error {
	if !w.committed {
		w.staged[key] = value
		return nil
	}
	if !force {
		return &ImmutableAfterCommit{Op: "set_param:" + key}
	}
	return w.store.SetParam(ctx, w.rec.ID, key, value, true)
}

// --- Attributes: mutable at any time. ---

func (w *Workflow) Attr(ctx context.Context, key string) (string, bool, error) {
	if !w.committed {
		return "", false, nil
	}
	return w.store.GetAttr(ctx, w.rec.ID, key)
}

func (w *Workflow) SetAttr(ctx context.Context, key, value string) error {
	if !w.committed {
		if err := w.Commit(ctx); err != nil {
			return err
		}
	}
	return w.store.SetAttr(ctx, w.rec.ID, key, value)
}

// --- Results: mutable at any time. ---

func (w *Workflow) Result(ctx context.Context, key string) (string, bool, error) {
	if !w.committed {
		return "", false, nil
	}
	return w.store.GetResult(ctx, w.rec.ID, key)
}

func (w *Workflow) SetResult(ctx context.Context, key, value string) error {
	if !w.committed {
		if err := w.Commit(ctx); err != nil {
			return err
		}
	}
	return w.store.SetResult(ctx, w.rec.ID, key, value)
}

func (w *Workflow) refresh(ctx context.Context) error {
	rec, err := w.store.GetWorkflow(ctx, w.rec.ID)
	if err != nil {
		return fmt.Errorf("refresh workflow %s: %w", w.rec.ID, err)
	}
	w.rec = rec
	return nil
}
