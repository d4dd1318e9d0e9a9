package router

import (
	"math"
	"slices"

	"github.com/raeburn-ai/raeburn/internal/providers"
	"github.com/raeburn-ai/raeburn/internal/registry"
)

// biasMultiplier folds a descriptor's task affinity, cost, speed, and live
// health into one multiplicative factor on the hybrid score. Every factor is
// positive, so a response's relative quality survives the adjustment; the
// failure factor is floored at 0.2 so a flaky model is demoted, never erased.
func biasMultiplier(d *registry.Descriptor, task string, h providers.HealthSnapshot) float64 {
	m := 1.0

	if task != "" {
		if slices.Contains(d.RouterBias.PreferFor, task) {
			m *= 1.2
		}
		if slices.Contains(d.RouterBias.AvoidFor, task) {
			m *= 0.7
		}
		if slices.Contains(d.Strengths, task) {
			m *= 1.15
		}
		if slices.Contains(d.Weaknesses, task) {
			m *= 0.85
		}
	}

	m *= 1.0 / (1.0 + math.Max(d.CostUSDPer1K, 0))
	m *= 1.0 + math.Min(d.SpeedTPS, 100)/1000

	if h.FailureCount > 0 {
		m *= math.Max(0.2, 1.0-0.1*float64(h.FailureCount))
	}
	if !h.OK {
		m *= 0.8
	}
	if h.LastPassed.IsZero() {
		m *= 0.9
	}
	return m
}
