package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"quantdesk/internal/domain"
)

// ValidationError is a caller-facing weight validation failure with enough
// structure for per-field display.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid weights: %s: %s", e.Field, e.Reason)
}

// ValidateTargetWeights cleans and bounds a raw weight map:
//
//  1. entries with non-finite or zero values are dropped silently; a symbol
//     outside the universe (case-insensitive) is a hard error
//  2. negative weights are rejected when longOnly is set
//  3. each weight is clipped to at most maxWeightPerAsset
//  4. a non-positive total yields an empty map (all cash, not an error)
//  5. the total is scaled down, never up, so it does not exceed 1-cashBuffer
//
// The function is idempotent: applying it to its own output with the same
// arguments returns the same map.
func ValidateTargetWeights(weights map[string]float64, universe []string, longOnly bool, cashBuffer, maxWeightPerAsset float64) (map[string]float64, error) {
	allowed := make(map[string]struct{}, len(universe))
	for _, sym := range universe {
		allowed[strings.ToUpper(sym)] = struct{}{}
	}

	cleaned := make(map[string]float64, len(weights))
	for sym, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w == 0 {
			continue
		}
		if _, ok := allowed[strings.ToUpper(sym)]; !ok {
			return nil, &ValidationError{Field: sym, Reason: "symbol not in universe"}
		}
		if w < 0 && longOnly {
			return nil, &ValidationError{Field: sym, Reason: "negative weight not allowed for long-only strategy"}
		}
		if maxWeightPerAsset > 0 && w > maxWeightPerAsset {
			w = maxWeightPerAsset
		}
		cleaned[sym] = w
	}

	total := 0.0
	for _, w := range cleaned {
		total += w
	}
	if total <= 0 {
		return map[string]float64{}, nil
	}

	limit := 1 - cashBuffer
	if total-limit > 1e-12 {
		scale := limit / total
		for sym := range cleaned {
			cleaned[sym] *= scale
		}
	}
	return cleaned, nil
}

// ApplyConstraints applies ensemble constraints to a combined weight map in
// a fixed order: clip, drop sub-threshold entries, keep the largest
// positions, then normalize and apply the cash buffer.
func ApplyConstraints(weights map[string]float64, c *domain.Constraints) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for sym, w := range weights {
		out[sym] = w
	}
	if c == nil {
		c = &domain.Constraints{}
	}

	if c.MaxWeightPerSymbol != nil {
		maxW := *c.MaxWeightPerSymbol
		for sym, w := range out {
			if w > maxW {
				out[sym] = maxW
			} else if w < -maxW {
				out[sym] = -maxW
			}
		}
	}

	if c.MinTradeWeight != nil {
		for sym, w := range out {
			if math.Abs(w) < *c.MinTradeWeight {
				delete(out, sym)
			}
		}
	}

	if c.MaxPositions != nil && len(out) > *c.MaxPositions {
		type entry struct {
			sym string
			w   float64
		}
		entries := make([]entry, 0, len(out))
		for sym, w := range out {
			entries = append(entries, entry{sym, w})
		}
		sort.Slice(entries, func(i, j int) bool {
			ai, aj := math.Abs(entries[i].w), math.Abs(entries[j].w)
			if ai != aj {
				return ai > aj
			}
			return entries[i].sym < entries[j].sym
		})
		out = make(map[string]float64, *c.MaxPositions)
		for _, e := range entries[:*c.MaxPositions] {
			out[e.sym] = e.w
		}
	}

	buffer := 0.0
	if c.CashBufferPct != nil {
		buffer = *c.CashBufferPct
	}
	if c.Normalize() {
		total := 0.0
		for _, w := range out {
			total += math.Abs(w)
		}
		if total > 0 {
			scale := (1 - buffer) / total
			for sym := range out {
				out[sym] *= scale
			}
		}
	} else if buffer > 0 {
		for sym := range out {
			out[sym] *= 1 - buffer
		}
	}
	return out
}

// MixWeights blends per-strategy weight maps using the given mixing
// coefficients, then applies the shared constraints. Strategies without a
// mixing weight contribute nothing.
func MixWeights(strategyWeights map[string]map[string]float64, mixWeights map[string]float64, c *domain.Constraints) map[string]float64 {
	combined := make(map[string]float64)
	for name, weights := range strategyWeights {
		mix, ok := mixWeights[name]
		if !ok || mix == 0 {
			continue
		}
		for sym, w := range weights {
			combined[sym] += mix * w
		}
	}
	return ApplyConstraints(combined, c)
}
