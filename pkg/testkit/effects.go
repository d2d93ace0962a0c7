package testkit

import (
	"salon/pkg/effect"
)

// EffectsOfKind filters an interpreter's effect list down to one kind.
func EffectsOfKind(effects []effect.Effect, kind effect.Kind) []effect.Effect {
	var out []effect.Effect
	for _, e := range effects {
		if e.EffectKind() == kind {
			out = append(out, e)
		}
	}
	return out
}

// KindsOf lists the kinds in emission order, useful for ordering assertions.
func KindsOf(effects []effect.Effect) []effect.Kind {
	out := make([]effect.Kind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.EffectKind())
	}
	return out
}

// HasKind reports whether any effect of the kind was emitted.
func HasKind(effects []effect.Effect, kind effect.Kind) bool {
	return len(EffectsOfKind(effects, kind)) > 0
}
