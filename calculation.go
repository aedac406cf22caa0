package labflow

import "context"

// Calculation is the engine's view of the calculation subsystem (spec
// §6, "out of scope" collaborator): an opaque handle with exactly the
// three operations the engine needs — kill it, force it terminal, and
// check whether it already is. Calculation execution semantics are
// explicitly a spec Non-goal; labflow/calc provides the thinnest
// concrete adapter that satisfies this port.
type Calculation interface {
	ID() string
	// Kill requests termination of a running calculation.
	Kill(ctx context.Context) error
	// SetFinished forces the calculation to a terminal state, used by
	// forceCalculationsTerminal (C9) as a last resort when Kill alone
	// doesn't guarantee termination promptly.
	SetFinished(ctx context.Context) error
	// IsTerminal reports whether the calculation has reached a terminal
	// state (success or failure), independent of how it got there.
	IsTerminal(ctx context.Context) (bool, error)
}

// CalculationSource resolves calculation IDs (as recorded in step
// attachments) to live Calculation handles. The engine looks calculations
// up lazily — at kill time — rather than holding handles across bursts.
type CalculationSource interface {
	Calculation(ctx context.Context, id string) (Calculation, error)
}
