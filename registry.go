package labflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// UserWorkflowNamespace is the only module namespace the Resumer is
// allowed to instantiate workflows from (spec §6, C8). Replaces the
// original's dynamic module/class string loading with an explicit,
// closed registry — nothing outside this namespace can be resumed, by
// construction rather than by a runtime import-path check.
const UserWorkflowNamespace = "workflows/"

// StepSource is implemented by a user's workflow type: it exposes the
// step table Invoke dispatches against. Typically built once in the
// type's constructor from its own bound methods.
type StepSource interface {
	Steps() StepTable
}

// Factory builds a live StepSource around an already-resumed *Workflow
// core. Registered under a module/class key by Register.
type Factory func(core *Workflow) StepSource

// Registry maps module/class keys to the factories that can rebuild a
// live workflow instance from a persisted record (spec §6, C8).
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func registryKey(module, class string) string {
	return filepath.ToSlash(filepath.Join(module, class))
}

// Register adds a factory under module/class. module must be rooted
// under UserWorkflowNamespace; anything else is rejected up front rather
// than deferred to resume time.
func (r *Registry) Register(module, class string, f Factory) error {
	if !strings.HasPrefix(module, UserWorkflowNamespace) {
		return &DisallowedWorkflowLocation{Module: module}
	}
	r.factories[registryKey(module, class)] = f
	return nil
}

// Resume loads a persisted workflow by UUID and rebuilds its live
// StepSource via the registered factory for its module/class (spec §6,
// C8). Returns DisallowedWorkflowLocation if the persisted module falls
// outside the reserved namespace — e.g. a record tampered with directly
// in the store — and NotExistent if no such workflow exists.
func (r *Registry) Resume(ctx context.Context, store Store, repo Repository, calcSrc CalculationSource, tracer Tracer, id string) (StepSource, *Workflow, error) {
	rec, err := store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, nil, &NotExistent{Kind: "workflow", ID: id}
	}
	if !strings.HasPrefix(rec.Module, UserWorkflowNamespace) {
		return nil, nil, &DisallowedWorkflowLocation{Module: rec.Module}
	}

	key := registryKey(rec.Module, rec.ModuleClass)
	factory, ok := r.factories[key]
	if !ok {
		return nil, nil, fmt.Errorf("registry: no factory registered for %q", key)
	}

	core := &Workflow{
		store:       store,
		repo:        repo,
		calcSrc:     calcSrc,
		tracer:      tracer,
		rec:         rec,
		folder:      filepath.Join(RepoSection, rec.ID),
		committed:   true,
		attachments: newAttachmentBuffer(),
	}

	return factory(core), core, nil
}
