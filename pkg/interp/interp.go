// Package interp contains the pure interpreters for the four actor kinds.
// Every interpreter is a total function (state, message) -> (state, effects):
// no I/O, no clocks, no randomness, no panics. Time and fresh IDs arrive
// stamped on the message by the runtime; errors leave as data.
package interp

import (
	"salon/pkg/effect"
	"salon/pkg/proto"
)

// Params carries the tuning knobs the interpreters need. All values are
// plain data so transitions stay deterministic.
type Params struct {
	// Room.
	ResponderThreshold float64 // minimum response tendency to qualify
	ResponderFanOut    int     // cap on simultaneous responders
	ContextWindow      int     // messages included in a response context
	ResponseTimeoutMs  int64   // pending responder timeout
	RoomTickMs         int64   // recurring room tick interval

	// Project.
	ProjectTickMs int64 // recurring project tick interval

	// Agent.
	MaxToolCalls     int // tool-call ceiling per response cycle
	MaxAttempts      int // LLM retry ceiling for transient errors
	MaxTokens        int // max_tokens per LLM call
	MaxContextTokens int // transcript token budget

	// ToolCatalog declares the tools agents may offer the LLM, keyed by name.
	ToolCatalog map[string]proto.ToolSpec
}

// DefaultParams mirrors the documented defaults.
func DefaultParams() Params {
	return Params{
		ResponderThreshold: 0.3,
		ResponderFanOut:    3,
		ContextWindow:      20,
		ResponseTimeoutMs:  30_000,
		RoomTickMs:         5_000,
		ProjectTickMs:      10_000,
		MaxToolCalls:       50,
		MaxAttempts:        3,
		MaxTokens:          1024,
		MaxContextTokens:   4096,
	}
}

// noChange returns the state untouched with no effects.
func noChange[S any](s S) (S, []effect.Effect) {
	return s, nil
}

// stateOnly returns a new state with no effects.
func stateOnly[S any](s S) (S, []effect.Effect) {
	return s, nil
}

// withEffects pairs a state with its effect list.
func withEffects[S any](s S, effects ...effect.Effect) (S, []effect.Effect) {
	return s, effects
}
