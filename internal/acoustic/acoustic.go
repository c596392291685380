// Package acoustic holds the physical constants used to turn a sample index
// in an echo envelope into a one-way range (half the round-trip path).
package acoustic

import "time"

// SampleTime is the per-sample period of the echo envelope (13.2us). Some
// source variants use 12.2us; 13.2us is canonical here (matches the
// majority of the pipeline including the air/water resolution calc).
const SampleTime = 13_200 * time.Nanosecond

// Medium selects the speed of sound used to convert sample index to range.
type Medium int

const (
	MediumAir Medium = iota
	MediumWater
)

// SpeedOfSound in m/s for the given medium.
func (m Medium) SpeedOfSound() float64 {
	switch m {
	case MediumWater:
		return 1522
	default:
		return 330
	}
}

// IgnoreFirstSamples is the blind-zone search starting offset for the medium.
func (m Medium) IgnoreFirstSamples() int {
	switch m {
	case MediumWater:
		return 8
	default:
		return 2
	}
}

func (m Medium) String() string {
	switch m {
	case MediumWater:
		return "water"
	default:
		return "air"
	}
}

// ParseMedium converts a config string to a Medium.
func ParseMedium(s string) (Medium, bool) {
	switch s {
	case "water":
		return MediumWater, true
	case "air", "":
		return MediumAir, true
	default:
		return 0, false
	}
}

// Resolution returns the cm-per-sample conversion factor r = (c * dt) / 2.
func Resolution(m Medium) float64 {
	c := m.SpeedOfSound()
	dtSeconds := SampleTime.Seconds()

	// c in m/s, dt in s -> meters per sample round trip; /2 for one-way,
	// then *100 for cm.
	return (c * dtSeconds / 2) * 100
}

// RangeCM converts a sample index to a one-way range in centimeters.
func RangeCM(m Medium, sampleIndex int) float64 {
	return float64(sampleIndex) * Resolution(m)
}
