// Package noise tracks the running noise floor of a sonar channel and
// estimates, per frame, the blind-zone boundary left by transducer ring-down.
package noise

import (
	"math"

	"github.com/fathomwave/sonartrack/internal/types"
)

// sanityFloorMin is the minimum noise mean the dynamic threshold is allowed
// to be derived from; prevents a cold or silent channel from driving the
// detection threshold toward zero.
const sanityFloorMin = 50

// blindZoneSmoothingAlpha is the EMA factor for BlindZoneState.Smoothed.
const blindZoneSmoothingAlpha = 0.3

// Params configures both the floor/variance estimator and the blind-zone
// search.
type Params struct {
	// NoiseFloorRange is the tail window (samples) the per-frame floor is
	// computed over.
	NoiseFloorRange int
	// IgnoreFirstSamples is where the blind-zone search starts (2 air, 8
	// water).
	IgnoreFirstSamples int
	// MaxBZSearchSamples bounds the blind-zone search.
	MaxBZSearchSamples int
	// Margin multiplies the running mean to form the blind-zone threshold.
	Margin float64
}

// Estimator is the per-sensor running noise state. Zero value is a valid,
// cold estimator.
type Estimator struct {
	params Params
	stats  types.NoiseStats
	bz     types.BlindZoneState
}

// New constructs an Estimator with the given parameters.
func New(p Params) *Estimator {
	return &Estimator{params: p}
}

// Stats returns the current running noise statistics.
func (e *Estimator) Stats() types.NoiseStats {
	return e.stats
}

// BlindZone returns the current smoothed blind-zone state.
func (e *Estimator) BlindZone() types.BlindZoneState {
	return e.bz
}

// Observe updates the running estimator from one frame's samples and
// returns the updated NoiseStats and BlindZoneState. Never returns NaN or
// +Inf; a cold estimator (count == 0 before this call) falls back to a
// static floor via the caller's DynamicThreshold use, per the error table.
func (e *Estimator) Observe(samples []uint16) (types.NoiseStats, types.BlindZoneState) {
	floor := tailMean(samples, e.params.NoiseFloorRange)
	e.updateWelford(floor)
	e.stats.FrameFloor = floor

	idx := e.scanBlindZone(samples)
	e.updateBlindZone(idx)

	return e.stats, e.bz
}

func tailMean(samples []uint16, window int) float64 {
	if window <= 0 || window > len(samples) {
		window = len(samples)
	}

	start := len(samples) - window

	var sum float64

	for _, s := range samples[start:] {
		sum += float64(s)
	}

	if window == 0 {
		return 0
	}

	return sum / float64(window)
}

// updateWelford folds one new floor observation into the running
// mean/variance/min/max using Welford's algorithm, avoiding a re-sum of the
// whole history per frame.
func (e *Estimator) updateWelford(x float64) {
	s := &e.stats

	s.Count++

	if s.Count == 1 {
		s.Mean = x
		s.Variance = 0
		s.Min = x
		s.Max = x

		return
	}

	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	delta2 := x - s.Mean
	// Variance is stored pre-divided (population variance of count
	// observations), matching NoiseStats.DynamicThreshold's direct use.
	m2 := s.Variance*float64(s.Count-1) + delta*delta2
	s.Variance = m2 / float64(s.Count)

	if x < s.Min {
		s.Min = x
	}

	if x > s.Max {
		s.Max = x
	}
}

// floor returns the noise mean clamped against the sanity floor, never
// allowing a cold or silent channel to collapse the threshold toward zero.
func (e *Estimator) floor() float64 {
	if e.stats.Mean < sanityFloorMin {
		return sanityFloorMin
	}

	return e.stats.Mean
}

func (e *Estimator) scanBlindZone(samples []uint16) int {
	threshold := e.floor() * e.params.Margin

	start := e.params.IgnoreFirstSamples
	if start < 0 {
		start = 0
	}

	limit := e.params.MaxBZSearchSamples
	if limit <= 0 || limit > len(samples) {
		limit = len(samples)
	}

	for i := start; i < limit; i++ {
		if float64(samples[i]) <= threshold {
			return i
		}
	}

	return limit
}

func (e *Estimator) updateBlindZone(idx int) {
	e.bz.Index = idx

	if e.stats.Count <= 1 {
		e.bz.Smoothed = float64(idx)

		return
	}

	e.bz.Smoothed = blindZoneSmoothingAlpha*float64(idx) + (1-blindZoneSmoothingAlpha)*e.bz.Smoothed
}

// DynamicThreshold is mean + snr*sqrt(variance), clamped so a cold or silent
// estimator cannot drive detection below staticFallback. Never NaN or +Inf.
func (e *Estimator) DynamicThreshold(snr, staticFallback float64) float64 {
	if e.stats.Count == 0 {
		return staticFallback
	}

	dyn := e.stats.DynamicThreshold(snr)
	if math.IsNaN(dyn) || math.IsInf(dyn, 1) || dyn < staticFallback {
		return staticFallback
	}

	return dyn
}
