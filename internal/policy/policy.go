// Package policy holds the driver's pure decision functions: budget,
// stagnation, session-rotation, model-fallback, and cooldown. None of
// these functions perform I/O; they act only on cycle history and
// configuration, so they can be tested as plain table-driven functions.
package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/loopforge/loopforge/internal/config"
	"github.com/loopforge/loopforge/internal/state"
)

// StagnationKind is the outcome of CheckStagnation.
type StagnationKind string

// StagnationKind values.
const (
	StagnationOK        StagnationKind = "ok"
	StagnationLowTurns  StagnationKind = "STAGNATION_LOW_TURNS"
	StagnationZeroCost  StagnationKind = "STAGNATION_ZERO_COST"
)

// ShouldRotateSession reports whether the given session handle has
// exhausted its turn ceiling, cost ceiling, or shown behavioural
// exhaustion (a run of recent cycles under this handle with few turns
// each), returning a human-readable reason when true.
func ShouldRotateSession(handle string, st *state.Store, cfg *config.StagnationConfig) (bool, string) {
	if handle == "" {
		return false, ""
	}

	if cfg.SessionTurnCeiling > 0 {
		if turns := st.SessionTurns(handle); turns >= cfg.SessionTurnCeiling {
			return true, fmt.Sprintf("session turn ceiling reached (%d >= %d)", turns, cfg.SessionTurnCeiling)
		}
	}
	if cfg.SessionCostCeiling > 0 {
		if cost := st.SessionCost(handle); cost >= cfg.SessionCostCeiling {
			return true, fmt.Sprintf("session cost ceiling reached (%.2f >= %.2f)", cost, cfg.SessionCostCeiling)
		}
	}

	window := cfg.ExhaustionWindow
	if window <= 0 {
		return false, ""
	}
	recent := st.RecentCycles(window)
	if len(recent) < window {
		return false, ""
	}
	lowTurnCount := 0
	for _, c := range recent {
		if c.SessionHandle == handle && c.Turns < cfg.ExhaustionTurnThreshold {
			lowTurnCount++
		}
	}
	if lowTurnCount >= window-1 {
		return true, "context exhaustion: recent cycles show persistently low turn counts"
	}
	return false, ""
}

// CheckStagnation evaluates the last Window cycles: if all have turns at
// or below LowTurnThreshold, STAGNATION_LOW_TURNS; if all have zero
// cost, STAGNATION_ZERO_COST; else StagnationOK.
func CheckStagnation(st *state.Store, cfg *config.StagnationConfig) StagnationKind {
	window := cfg.Window
	if window <= 0 {
		return StagnationOK
	}
	recent := st.RecentCycles(window)
	if len(recent) < window {
		return StagnationOK
	}

	allLowTurns := true
	allZeroCost := true
	for _, c := range recent {
		if c.Turns > cfg.LowTurnThreshold {
			allLowTurns = false
		}
		if c.CostUSD != 0 {
			allZeroCost = false
		}
	}
	switch {
	case allLowTurns:
		return StagnationLowTurns
	case allZeroCost:
		return StagnationZeroCost
	default:
		return StagnationOK
	}
}

// ComputeCooldown returns min(base * 2^(count-1), cap) seconds, or 0
// seconds when base is 0. count must be >= 1.
func ComputeCooldown(count int, base, cap float64) float64 {
	if base <= 0 {
		return 0
	}
	if count < 1 {
		count = 1
	}
	delay := base * math.Pow(2, float64(count-1))
	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}

// EffectiveTimeout returns the per-model effective timeout in seconds:
// base seconds times the model's multiplier (default 1.0).
func EffectiveTimeout(model string, baseSeconds float64, multipliers map[string]float64) float64 {
	mult, ok := multipliers[model]
	if !ok || mult <= 0 {
		mult = 1.0
	}
	return baseSeconds * mult
}

// EffectiveMaxTurns returns min(limit, override[model]); an override of
// zero or absent leaves the global limit unchanged.
func EffectiveMaxTurns(model string, limit int, overrides map[string]int) int {
	override, ok := overrides[model]
	if !ok || override <= 0 {
		return limit
	}
	if limit <= 0 {
		return override
	}
	if override < limit {
		return override
	}
	return limit
}

// MaxTimeoutsFor returns the per-model override of the consecutive
// timeout ceiling, or the default when no override is configured.
func MaxTimeoutsFor(model string, defaultMax int, overrides map[string]int) int {
	if override, ok := overrides[model]; ok && override > 0 {
		return override
	}
	return defaultMax
}

// DetectCompletion reports whether any configured marker appears, case
// insensitively, as a substring of the combined result and assistant
// text.
func DetectCompletion(resultText, assistantText string, markers []string) bool {
	combined := strings.ToLower(resultText + " " + assistantText)
	for _, m := range markers {
		if m == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
