// Package calc is the thinnest possible labflow.CalculationSource: an
// in-memory registry of calculation handles. Calculation execution
// itself is out of scope (spec §1 names the calculation subsystem an
// external collaborator) — this package exists only so kill and
// kill_step_calculations (C9) have something real to call against in
// tests and small deployments that don't run a separate calculation
// engine.
package calc

import (
	"context"
	"sync"

	"github.com/scidag/labflow"
)

// Status is the lifecycle state of an in-memory calculation.
type Status int

const (
	StatusRunning Status = iota
	StatusFinished
	StatusKilled
)

// Handle is an in-memory labflow.Calculation.
type Handle struct {
	mu     sync.Mutex
	id     string
	status Status
}

var _ labflow.Calculation = (*Handle)(nil)

func (h *Handle) ID() string { return h.id }

func (h *Handle) Kill(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusRunning {
		h.status = StatusKilled
	}
	return nil
}

func (h *Handle) SetFinished(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusRunning {
		h.status = StatusFinished
	}
	return nil
}

func (h *Handle) IsTerminal(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status != StatusRunning, nil
}

// Status returns the handle's current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Registry is an in-memory labflow.CalculationSource: a concurrency-safe
// map from calculation ID to Handle.
type Registry struct {
	mu     sync.Mutex
	calcs  map[string]*Handle
}

var _ labflow.CalculationSource = (*Registry)(nil)

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{calcs: make(map[string]*Handle)}
}

// Start registers a new running calculation under id, returning its handle.
func (r *Registry) Start(id string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &Handle{id: id, status: StatusRunning}
	r.calcs[id] = h
	return h
}

// Calculation resolves id to its Handle.
func (r *Registry) Calculation(ctx context.Context, id string) (labflow.Calculation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.calcs[id]
	if !ok {
		return nil, &labflow.NotExistent{Kind: "calculation", ID: id}
	}
	return h, nil
}
