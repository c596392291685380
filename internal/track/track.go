// Package track implements the Design A consistency-buffer temporal
// tracker: detections become tracks once a peak index recurs, within
// tolerance, across a configured number of recent frames.
package track

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/fathomwave/sonartrack/internal/types"
)

// Params configures the consistency buffer and the persistence/decay
// lifecycle common to both tracker designs.
type Params struct {
	// ConsistencySamples is the FIFO depth; a peak must recur across this
	// many consecutive frames (including the newest) to be consistent.
	ConsistencySamples int
	// PositionTolerance is the base index tolerance for matching a peak
	// against a buffered frame or an existing track.
	PositionTolerance float64
	// MaxBoost is the maximum additional tolerance granted to high-
	// amplitude echoes, on top of PositionTolerance as the base.
	MaxBoost float64
	// BoostAmplitude is the PeakValue at which the full MaxBoost applies;
	// tolerance scales linearly up to it.
	BoostAmplitude float64
	// PersistenceThreshold is both the persistence value a track starts at
	// once consistency is first established, and the PERSISTENT/
	// PROVISIONAL boundary.
	PersistenceThreshold int
	// PersistenceHeadroom bounds persistence above the threshold.
	PersistenceHeadroom int
	// MissBound destroys a track once consecutive misses exceed it.
	MissBound int
	// HistoryDepth caps the index history kept per track for the median.
	HistoryDepth int
}

// Tracker owns the consistency buffer and the live track set. Single-writer:
// Update must not be called concurrently.
type Tracker struct {
	params Params
	buffer []frameObservation
	tracks []*types.Track
	nextID uint64
}

type frameObservation struct {
	indices    []float64
	amplitudes []uint16
}

// New constructs a Tracker.
func New(p Params) *Tracker {
	return &Tracker{params: p}
}

// Update folds one frame's detections into the consistency buffer, advances
// every track's lifecycle, and returns the current track set (a stable
// slice a caller may range over; not safe to mutate).
func (t *Tracker) Update(frameSeq uint64, now time.Time, detections []types.Detection) []types.Track {
	obs := newObservation(detections)

	t.buffer = append(t.buffer, obs)
	if len(t.buffer) > t.params.ConsistencySamples {
		t.buffer = t.buffer[len(t.buffer)-t.params.ConsistencySamples:]
	}

	matched := make(map[*types.Track]bool)

	if len(t.buffer) == t.params.ConsistencySamples {
		for i, idx := range obs.indices {
			if !t.isConsistent(idx, obs.amplitudes[i]) {
				continue
			}

			tr := t.matchExisting(idx, obs.amplitudes[i])
			if tr == nil {
				tr = t.spawn(idx, obs.amplitudes[i])
			}

			t.advance(tr, idx, obs.amplitudes[i], frameSeq, now)
			matched[tr] = true
		}
	}

	for _, tr := range t.tracks {
		if matched[tr] {
			continue
		}

		t.decay(tr)
	}

	t.prune()

	return t.snapshot()
}

func newObservation(detections []types.Detection) frameObservation {
	obs := frameObservation{}

	for _, d := range detections {
		if d.IsSentinel() {
			continue
		}

		obs.indices = append(obs.indices, float64(d.PeakIndex))
		obs.amplitudes = append(obs.amplitudes, d.PeakValue)
	}

	return obs
}

// tolerance scales with amplitude: stronger echoes warrant a wider
// association window, up to PositionTolerance + MaxBoost.
func (t *Tracker) tolerance(amplitude uint16) float64 {
	if t.params.BoostAmplitude <= 0 {
		return t.params.PositionTolerance
	}

	frac := float64(amplitude) / t.params.BoostAmplitude
	if frac > 1 {
		frac = 1
	}

	return t.params.PositionTolerance + frac*t.params.MaxBoost
}

// isConsistent reports whether idx (from the newest frame) has a peak
// within tolerance in every earlier buffered frame.
func (t *Tracker) isConsistent(idx float64, amplitude uint16) bool {
	tol := t.tolerance(amplitude)

	for _, frame := range t.buffer[:len(t.buffer)-1] {
		if !hasNearby(frame.indices, idx, tol) {
			return false
		}
	}

	return true
}

func hasNearby(indices []float64, idx, tol float64) bool {
	for _, v := range indices {
		if math.Abs(v-idx) <= tol {
			return true
		}
	}

	return false
}

func (t *Tracker) matchExisting(idx float64, amplitude uint16) *types.Track {
	tol := t.tolerance(amplitude)

	best := (*types.Track)(nil)
	bestDist := math.Inf(1)

	for _, tr := range t.tracks {
		if tr.State == types.TrackLost {
			continue
		}

		d := math.Abs(tr.Index - idx)
		if d <= tol && d < bestDist {
			best = tr
			bestDist = d
		}
	}

	return best
}

func (t *Tracker) spawn(idx float64, amplitude uint16) *types.Track {
	t.nextID++

	tr := &types.Track{
		ID:          t.nextID,
		State:       types.TrackProvisional,
		Index:       idx,
		Amplitude:   amplitude,
		Persistence: t.params.PersistenceThreshold,
		History:     []float64{idx},
	}

	t.tracks = append(t.tracks, tr)

	return tr
}

// advance updates a matched track for the current frame: persistence grows
// by one per matched frame (a track spawned this frame at threshold leaves
// it at threshold+1), capped at threshold + headroom.
func (t *Tracker) advance(tr *types.Track, idx float64, amplitude uint16, frameSeq uint64, now time.Time) {
	tr.Index = idx
	tr.Amplitude = amplitude
	tr.Misses = 0
	tr.LastSeen = frameSeq
	tr.LastSeenTime = now

	tr.Persistence++
	maxPersistence := t.params.PersistenceThreshold + t.params.PersistenceHeadroom
	if tr.Persistence > maxPersistence {
		tr.Persistence = maxPersistence
	}

	tr.History = append(tr.History, idx)
	if len(tr.History) > t.params.HistoryDepth {
		tr.History = tr.History[len(tr.History)-t.params.HistoryDepth:]
	}

	tr.State = stateFor(tr.Persistence, tr.Misses, t.params.PersistenceThreshold)
}

// decay penalizes a track that went unmatched this frame: tracks already
// above threshold lose persistence twice as fast, biasing the tracker
// toward fast re-acquisition over stale locks.
func (t *Tracker) decay(tr *types.Track) {
	tr.Misses++

	loss := 1
	if tr.Persistence > t.params.PersistenceThreshold {
		loss = 2
	}

	tr.Persistence -= loss
	if tr.Persistence < 0 {
		tr.Persistence = 0
	}

	if tr.Persistence == 0 || tr.Misses > t.params.MissBound {
		tr.State = types.TrackLost

		return
	}

	tr.State = stateFor(tr.Persistence, tr.Misses, t.params.PersistenceThreshold)
}

func stateFor(persistence, misses, threshold int) types.TrackState {
	if persistence == 0 {
		return types.TrackLost
	}

	if misses > 0 {
		return types.TrackDecaying
	}

	if persistence >= threshold {
		return types.TrackPersistent
	}

	return types.TrackProvisional
}

func (t *Tracker) prune() {
	t.tracks = lo.Filter(t.tracks, func(tr *types.Track, _ int) bool {
		return tr.State != types.TrackLost
	})
}

func (t *Tracker) snapshot() []types.Track {
	out := make([]types.Track, len(t.tracks))
	for i, tr := range t.tracks {
		out[i] = *tr
	}

	return out
}

// Persistent returns only the tracks currently in the PERSISTENT state.
func Persistent(tracks []types.Track) []types.Track {
	return lo.Filter(tracks, func(tr types.Track, _ int) bool {
		return tr.State == types.TrackPersistent
	})
}

// Primary returns the closest persistent track at or beyond the blind
// zone (smallest median index), and whether one exists.
func Primary(tracks []types.Track, blindZone int) (types.Track, bool) {
	candidates := lo.Filter(Persistent(tracks), func(tr types.Track, _ int) bool {
		return tr.Median() >= float64(blindZone)
	})

	if len(candidates) == 0 {
		return types.Track{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Median() < candidates[j].Median()
	})

	return candidates[0], true
}
