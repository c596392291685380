// Package fusion correlates the high-rate echo pipeline with the slower
// GPS stream: it buffers processed frames, throttles persistence, and
// gates the aggregated telemetry emit on GPS arrival.
package fusion

import (
	"time"

	"github.com/samber/lo"

	"github.com/fathomwave/sonartrack/internal/types"
)

// defaultCapacity bounds the fusion buffer so an unbounded GPS outage
// cannot grow it without limit; oldest records are dropped on overflow.
const defaultCapacity = 1024

// BatchEntry is one projected record in a sonar_batch telemetry event, per
// spec.md §6: `{time, depth_cm, lat, lon}`.
type BatchEntry struct {
	Time    time.Time `json:"time"`
	DepthCM float64   `json:"depth_cm"`
	Lat     float64   `json:"lat"`
	Lon     float64   `json:"lon"`
}

// GpsEvent is the payload of a "gps" telemetry event, per spec.md §6:
// `{lat, lon, alt, speed, track, time, fix_mode, accuracy, status, depth_m}`.
// Flattened rather than nesting the fix, to match the wire shape exactly.
type GpsEvent struct {
	Lat      float64       `json:"lat"`
	Lon      float64       `json:"lon"`
	Alt      float64       `json:"alt"`
	Speed    float64       `json:"speed"`
	Track    float64       `json:"track"`
	Time     time.Time     `json:"time"`
	FixMode  types.FixMode `json:"fix_mode"`
	Accuracy float64       `json:"accuracy"`
	Status   string        `json:"status"`
	DepthM   float64       `json:"depth_m"`
}

// SatelliteUpdate is the payload of a "satellite_update" telemetry event,
// per spec.md §6: `{used, total}`.
type SatelliteUpdate struct {
	Used  int `json:"used"`
	Total int `json:"total"`
}

// Buffer is the fusion stage's state: the in-memory record buffer, the
// last-known GPS snapshot, and the DB-write throttle clock. Single-writer
// from the frame side and drain-only from the GPS side, per spec.
type Buffer struct {
	Capacity        int
	DBWriteInterval time.Duration

	records     []types.FusionRecord
	lastGPS     *types.GpsFix
	lastDBWrite time.Time
	lastSky     SatelliteUpdate
	haveSky     bool
}

// New builds a Buffer with the given capacity (<=0 uses defaultCapacity)
// and DB-write throttle interval.
func New(capacity int, dbWriteInterval time.Duration) *Buffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	return &Buffer{Capacity: capacity, DBWriteInterval: dbWriteInterval}
}

// Append adds one processed-frame record to the buffer, stamping it with
// the most recent GPS snapshot (possibly nil before the first fix), and
// drops the oldest record on overflow.
func (b *Buffer) Append(rec types.FusionRecord) {
	rec.GPS = b.lastGPS

	b.records = append(b.records, rec)
	if len(b.records) > b.Capacity {
		b.records = b.records[len(b.records)-b.Capacity:]
	}
}

// Len reports the current buffer size.
func (b *Buffer) Len() int {
	return len(b.records)
}

// MaybeThrottledWrite returns a representative record to persist if the
// throttle interval has elapsed and the latest buffered record carries a
// non-nil GPS snapshot. It does not clear the buffer: persistence of the
// full buffer isn't required, and the buffer is only cleared by a GPS-gated
// emit.
func (b *Buffer) MaybeThrottledWrite(now time.Time) (types.FusionRecord, bool) {
	if len(b.records) == 0 {
		return types.FusionRecord{}, false
	}

	latest := b.records[len(b.records)-1]
	if latest.GPS == nil {
		return types.FusionRecord{}, false
	}

	if !b.lastDBWrite.IsZero() && now.Sub(b.lastDBWrite) < b.DBWriteInterval {
		return types.FusionRecord{}, false
	}

	b.lastDBWrite = now

	return latest, true
}

// OnGpsFix records the new snapshot, and if the fix carries at least a 2D
// lock, drains the buffer into a batch and builds the paired gps event.
// Returns ok=false for a fix below mode 2 (not inserted, not emitted).
func (b *Buffer) OnGpsFix(fix types.GpsFix, smoothedDepthCM float64) ([]BatchEntry, GpsEvent, bool) {
	if !fix.Valid() {
		return nil, GpsEvent{}, false
	}

	b.lastGPS = &fix

	var batch []BatchEntry

	if len(b.records) > 0 {
		batch = lo.Map(b.records, func(r types.FusionRecord, _ int) BatchEntry {
			lat, lon := 0.0, 0.0
			if r.GPS != nil {
				lat, lon = r.GPS.Latitude, r.GPS.Longitude
			}

			return BatchEntry{Time: r.Timestamp, DepthCM: r.SmoothedDepthCM, Lat: lat, Lon: lon}
		})

		b.records = nil
	}

	event := GpsEvent{
		Lat:      fix.Latitude,
		Lon:      fix.Longitude,
		Alt:      fix.Altitude,
		Speed:    fix.Speed,
		Track:    fix.Track,
		Time:     fix.Timestamp,
		FixMode:  fix.Mode,
		Accuracy: fix.HorizontalAccuracy,
		Status:   fixStatus(fix.Mode),
		DepthM:   smoothedDepthCM / 100,
	}

	return batch, event, true
}

func fixStatus(mode types.FixMode) string {
	switch {
	case mode >= 3:
		return "3d"
	case mode == 2:
		return "2d"
	default:
		return "none"
	}
}

// OnSky reports a satellite_update payload and whether it differs from the
// last one observed (telemetry should only emit on change).
func (b *Buffer) OnSky(status types.SkyStatus) (SatelliteUpdate, bool) {
	update := SatelliteUpdate{Used: status.Used, Total: status.Total}

	if b.haveSky && update == b.lastSky {
		return SatelliteUpdate{}, false
	}

	b.haveSky = true
	b.lastSky = update

	return update, true
}
