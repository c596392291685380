// Package smooth implements the exponential filter applied to the primary
// track's range before it reaches fusion and telemetry.
package smooth

import "github.com/fathomwave/sonartrack/internal/types"

// EMA is an exponential moving average over the primary target's range.
// Alpha close to 1 tracks the raw signal closely; close to 0 smooths
// heavily. The zero value is uninitialized and ready to use.
type EMA struct {
	Alpha float64
	state types.SmoothedDepth
}

// New builds an EMA with the given smoothing factor.
func New(alpha float64) *EMA {
	return &EMA{Alpha: alpha}
}

// State returns the current smoothed depth.
func (e *EMA) State() types.SmoothedDepth {
	return e.state
}

// Observe folds in a new range reading. A zero rangeCM means "no primary
// target this frame" and leaves the state unchanged, per spec. The first
// non-zero observation initializes the filter directly rather than blending
// against a zero baseline.
func (e *EMA) Observe(rangeCM float64) types.SmoothedDepth {
	if rangeCM == 0 {
		return e.state
	}

	if !e.state.Initialized {
		e.state.RangeCM = rangeCM
		e.state.Initialized = true

		return e.state
	}

	e.state.RangeCM = e.Alpha*rangeCM + (1-e.Alpha)*e.state.RangeCM

	return e.state
}
