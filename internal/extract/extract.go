// Package extract turns one frame's envelope, blind-zone index, and dynamic
// threshold into an ordered list of detections.
package extract

import (
	"sort"

	"github.com/samber/lo"

	"github.com/fathomwave/sonartrack/internal/acoustic"
	"github.com/fathomwave/sonartrack/internal/types"
)

// Params configures peak identification and consolidation.
type Params struct {
	MinSignalSeparation    int
	ConsolidationTolerance int
	NMax                   int
	Medium                 acoustic.Medium
}

// Detect scans samples[blindZone:] for pulses above threshold, consolidates
// nearby candidates, and returns up to NMax detections ordered by ascending
// index, padded with sentinel slots when fewer than NMax are found.
func Detect(samples []uint16, blindZone int, threshold float64, p Params) []types.Detection {
	raw := scan(samples, blindZone, threshold)

	consolidated := consolidate(raw, p.ConsolidationTolerance)
	separated := enforceMinSeparation(consolidated, p.MinSignalSeparation)

	sort.Slice(separated, func(i, j int) bool {
		return separated[i].StartIndex < separated[j].StartIndex
	})

	for i := range separated {
		separated[i].RangeCM = acoustic.RangeCM(p.Medium, separated[i].PeakIndex)
	}

	if len(separated) > p.NMax {
		separated = separated[:p.NMax]
	}

	return pad(separated, p.NMax)
}

// scan walks the envelope from the blind-zone index, opening a pulse at the
// first sample at or above threshold and closing it at the first sample
// below it, then resuming immediately after the pulse so no adjacent pulse
// is skipped. MIN_SIGNAL_SEPARATION is applied afterward, by
// enforceMinSeparation, not as a scan-skip distance. A flat-topped maximum
// reports the middle of its first and last occurrence as the peak index.
func scan(samples []uint16, start int, threshold float64) []types.Detection {
	var detections []types.Detection

	i := start
	if i < 0 {
		i = 0
	}

	for i < len(samples) {
		if float64(samples[i]) < threshold {
			i++

			continue
		}

		pulseStart := i
		peakIdx := i
		peakEnd := i
		peakVal := samples[i]

		j := i
		for j < len(samples) && float64(samples[j]) >= threshold {
			if samples[j] > peakVal {
				peakVal = samples[j]
				peakIdx = j
				peakEnd = j
			} else if samples[j] == peakVal {
				peakEnd = j
			}

			j++
		}

		detections = append(detections, types.Detection{
			StartIndex: pulseStart,
			PeakIndex:  (peakIdx + peakEnd) / 2,
			PeakValue:  peakVal,
			PulseWidth: j - pulseStart,
		})

		i = j
	}

	return detections
}

// consolidate merges candidate pulses whose starts lie within tolerance
// indices of one another into a single detection keyed on the dominant peak.
// tolerance <= 0 disables consolidation.
func consolidate(detections []types.Detection, tolerance int) []types.Detection {
	if tolerance <= 0 || len(detections) < 2 {
		return detections
	}

	var out []types.Detection

	group := []types.Detection{detections[0]}

	flush := func() {
		dominant := lo.MaxBy(group, func(a, b types.Detection) bool { return a.PeakValue > b.PeakValue })
		merged := dominant
		merged.StartIndex = lo.MinBy(group, func(a, b types.Detection) bool { return a.StartIndex < b.StartIndex }).StartIndex
		out = append(out, merged)
	}

	for _, d := range detections[1:] {
		prev := group[len(group)-1]
		if d.StartIndex-prev.StartIndex <= tolerance {
			group = append(group, d)

			continue
		}

		flush()

		group = []types.Detection{d}
	}

	flush()

	return out
}

// enforceMinSeparation merges consolidated detections whose peaks lie closer
// together than minSeparation samples, keeping the dominant peak of each
// group and the earliest start index. minSeparation <= 0 disables the rule.
func enforceMinSeparation(detections []types.Detection, minSeparation int) []types.Detection {
	if minSeparation <= 0 || len(detections) < 2 {
		return detections
	}

	byPeak := append([]types.Detection(nil), detections...)
	sort.Slice(byPeak, func(i, j int) bool { return byPeak[i].PeakIndex < byPeak[j].PeakIndex })

	var out []types.Detection

	group := []types.Detection{byPeak[0]}

	flush := func() {
		dominant := lo.MaxBy(group, func(a, b types.Detection) bool { return a.PeakValue > b.PeakValue })
		merged := dominant
		merged.StartIndex = lo.MinBy(group, func(a, b types.Detection) bool { return a.StartIndex < b.StartIndex }).StartIndex
		out = append(out, merged)
	}

	for _, d := range byPeak[1:] {
		prev := group[len(group)-1]
		if d.PeakIndex-prev.PeakIndex < minSeparation {
			group = append(group, d)

			continue
		}

		flush()

		group = []types.Detection{d}
	}

	flush()

	return out
}

func pad(detections []types.Detection, nMax int) []types.Detection {
	out := make([]types.Detection, nMax)

	for i := 0; i < nMax; i++ {
		if i < len(detections) {
			out[i] = detections[i]
		} else {
			out[i] = types.Detection{StartIndex: types.NoDetection, PeakIndex: types.NoDetection}
		}
	}

	return out
}
