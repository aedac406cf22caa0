package labflow

import "sync"

// attachmentBuffer is the in-memory, per-workflow-instance staging area
// described by spec §4.5 (C5): calculations and sub-workflows queued
// during a step body, keyed by the caller step's name, drained exactly
// once by Next (C7) before the step's next_call pointer is written.
//
// Not persisted. A fresh buffer is created whenever a *Workflow is
// constructed (Open or registry.Resume) — it never survives across
// process boundaries, matching spec §3's "in-memory only ... destroyed
// at the end of a step execution once drained".
type attachmentBuffer struct {
	mu    sync.Mutex
	calcs map[string][]string
	subs  map[string][]string
}

func newAttachmentBuffer() *attachmentBuffer {
	return &attachmentBuffer{
		calcs: make(map[string][]string),
		subs:  make(map[string][]string),
	}
}

// attachCalculation queues a calculation ID under the caller step name.
// Insertion order is preserved (spec §5 ordering guarantee).
func (b *attachmentBuffer) attachCalculation(step, calcID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calcs[step] = append(b.calcs[step], calcID)
}

// attachSubworkflow queues a sub-workflow ID under the caller step name.
func (b *attachmentBuffer) attachSubworkflow(step, childID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[step] = append(b.subs[step], childID)
}

// drain removes and returns the queued calculations and sub-workflows
// for step, in the order they were attached. Safe to call on a step with
// nothing queued (returns nil, nil).
func (b *attachmentBuffer) drain(step string) (calcs, subs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	calcs = b.calcs[step]
	subs = b.subs[step]
	delete(b.calcs, step)
	delete(b.subs, step)
	return calcs, subs
}
