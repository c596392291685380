// Package pipeline owns PipelineState, the single explicit aggregate that
// replaces the source's module-level mutable globals, and wires the
// reassemble/noise/extract/track/smooth/fusion/telemetry/persist stages
// into the frame- and GPS-driven data flow described in spec §2 and §5.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/fathomwave/sonartrack/internal/acoustic"
	"github.com/fathomwave/sonartrack/internal/extract"
	"github.com/fathomwave/sonartrack/internal/fusion"
	"github.com/fathomwave/sonartrack/internal/gps"
	"github.com/fathomwave/sonartrack/internal/noise"
	"github.com/fathomwave/sonartrack/internal/persist"
	"github.com/fathomwave/sonartrack/internal/reassemble"
	"github.com/fathomwave/sonartrack/internal/smooth"
	"github.com/fathomwave/sonartrack/internal/telemetry"
	"github.com/fathomwave/sonartrack/internal/track"
	"github.com/fathomwave/sonartrack/internal/types"
)

// Config collects every tunable named in spec §6's configuration table.
type Config struct {
	Medium acoustic.Medium

	ValueThreshold float64
	SNRFactor      float64

	ConsistencySamples int
	PositionTolerance  float64
	BoostAmplitude     float64
	MaxBoost           float64

	MinSignalSeparation    int
	ConsolidationTolerance int
	NMax                   int

	NoiseFloorRange    int
	MaxBZSearchSamples int
	IgnoreFirstSamples int
	NoiseMargin        float64

	EMAAlpha float64

	DBWriteInterval time.Duration

	EmitThreshold uint16

	FusionCapacity   int
	TelemetryWorkers int
}

// DefaultConfig returns the typical values named in spec §2/§6.
func DefaultConfig() Config {
	return Config{
		Medium:                 acoustic.MediumAir,
		ValueThreshold:         60,
		SNRFactor:              3.0,
		ConsistencySamples:     10,
		PositionTolerance:      3,
		BoostAmplitude:         500,
		MaxBoost:               5,
		MinSignalSeparation:    20,
		ConsolidationTolerance: 5,
		NMax:                   10,
		NoiseFloorRange:        200,
		MaxBZSearchSamples:     400,
		IgnoreFirstSamples:     2,
		NoiseMargin:            1.1,
		EMAAlpha:               0.1,
		DBWriteInterval:        3 * time.Second,
		EmitThreshold:          50,
		FusionCapacity:         1024,
		TelemetryWorkers:       8,
	}
}

// State is the single owner of every stage's mutable state: the byte
// buffer (via Reassembler), the noise statistics, the track set, the
// fusion buffer, the last-known GPS snapshot, and the last-DB-write
// timestamp. Not safe for concurrent ProcessFrame/ProcessGPSLine calls.
type State struct {
	cfg Config

	Reassembler *reassemble.Reassembler
	Noise       *noise.Estimator
	Tracker     *track.Tracker
	Smoother    *smooth.EMA
	Fusion      *fusion.Buffer
	Telemetry   *telemetry.Hub
	Store       persist.Store

	Logger *slog.Logger

	rawGPSCount uint64
}

// New builds a PipelineState from cfg. store may be nil if persistence is
// not configured (e.g. sonartrack-dump replay).
func New(cfg Config, store persist.Store, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}

	return &State{
		cfg:         cfg,
		Reassembler: reassemble.New(logger),
		Noise: noise.New(noise.Params{
			NoiseFloorRange:    cfg.NoiseFloorRange,
			IgnoreFirstSamples: cfg.IgnoreFirstSamples,
			MaxBZSearchSamples: cfg.MaxBZSearchSamples,
			Margin:             cfg.NoiseMargin,
		}),
		Tracker: track.New(track.Params{
			ConsistencySamples:   cfg.ConsistencySamples,
			PositionTolerance:    cfg.PositionTolerance,
			MaxBoost:             cfg.MaxBoost,
			BoostAmplitude:       cfg.BoostAmplitude,
			PersistenceThreshold: cfg.ConsistencySamples,
			PersistenceHeadroom:  cfg.ConsistencySamples,
			MissBound:            cfg.ConsistencySamples / 2,
			HistoryDepth:         cfg.ConsistencySamples * 2,
		}),
		Smoother:  smooth.New(cfg.EMAAlpha),
		Fusion:    fusion.New(cfg.FusionCapacity, cfg.DBWriteInterval),
		Telemetry: telemetry.New(cfg.TelemetryWorkers, logger),
		Store:     store,
		Logger:    logger,
	}
}

// FrameResult is what ProcessFrame produced, useful to callers (e.g.
// sonartrack-dump) that want to print per-frame detail.
type FrameResult struct {
	Detections []types.Detection
	Tracks     []types.Track
	Primary    types.Track
	HasPrimary bool
	Smoothed   types.SmoothedDepth
}

// ProcessFrame runs one validated frame through noise -> extract -> track ->
// smooth -> fusion as a single atomic transform, then emits the high-rate
// binary records and checks the DB-write throttle. It must not be called
// concurrently with itself.
func (s *State) ProcessFrame(frame types.Frame) FrameResult {
	_, bz := s.Noise.Observe(frame.Samples[:])
	dyn := s.Noise.DynamicThreshold(s.cfg.SNRFactor, s.cfg.ValueThreshold)

	detections := extract.Detect(frame.Samples[:], bz.Index, dyn, extract.Params{
		MinSignalSeparation:    s.cfg.MinSignalSeparation,
		ConsolidationTolerance: s.cfg.ConsolidationTolerance,
		NMax:                   s.cfg.NMax,
		Medium:                 s.cfg.Medium,
	})

	tracks := s.Tracker.Update(frame.Sequence, frame.Timestamp, detections)

	primary, hasPrimary := track.Primary(tracks, bz.Index)

	rangeCM := 0.0
	if hasPrimary {
		rangeCM = acoustic.RangeCM(s.cfg.Medium, int(primary.Median()))
	}

	smoothed := s.Smoother.Observe(rangeCM)

	rec := types.FusionRecord{
		Timestamp:       frame.Timestamp,
		SmoothedDepthCM: smoothed.RangeCM,
		DetectionsCount: countReal(detections),
	}

	if hasPrimary {
		rec.PeakAmplitude = primary.Amplitude
		rec.PeakIndex = int(primary.Median())
	}

	s.Fusion.Append(rec)

	for _, d := range detections {
		if d.IsSentinel() || d.PeakValue < s.cfg.EmitThreshold {
			continue
		}

		s.Telemetry.PublishBinary(telemetry.ClampDistanceMM(d.RangeCM), telemetry.ClampPeak(d.PeakValue))
	}

	s.checkThrottledWrite(frame.Timestamp)

	return FrameResult{Detections: detections, Tracks: tracks, Primary: primary, HasPrimary: hasPrimary, Smoothed: smoothed}
}

func countReal(detections []types.Detection) int {
	n := 0

	for _, d := range detections {
		if !d.IsSentinel() {
			n++
		}
	}

	return n
}

func (s *State) checkThrottledWrite(now time.Time) {
	if s.Store == nil {
		return
	}

	rec, ok := s.Fusion.MaybeThrottledWrite(now)
	if !ok {
		return
	}

	lat, lon := 0.0, 0.0
	if rec.GPS != nil {
		lat, lon = rec.GPS.Latitude, rec.GPS.Longitude
	}

	persist.SafeInsertSonarReading(context.Background(), s.Store, s.Logger, rec, lat, lon)
}

// ProcessGPSLine decodes one gpspipe JSON line and drives the GPS-gated
// emit path: store insert, sonar_batch/gps telemetry, satellite_update, and
// raw_count_update. Parse failures are logged and ignored, per spec.
func (s *State) ProcessGPSLine(line []byte) {
	msg, err := gps.Parse(line)
	if err != nil {
		s.Logger.Warn("gps parse failure, ignoring line", "error", err)

		return
	}

	s.rawGPSCount++
	s.Telemetry.Publish(telemetry.Event{Type: "raw_count_update"})

	if s.Store != nil {
		if err := s.Store.InsertRawGPS(context.Background(), time.Now(), line); err != nil {
			s.Logger.Warn("dropping gps_raw row after insert failure", "error", err)
		}
	}

	switch {
	case msg.Fix != nil:
		s.onFix(*msg.Fix)
	case msg.Sky != nil:
		s.onSky(*msg.Sky)
	}
}

func (s *State) onFix(fix types.GpsFix) {
	if !fix.Valid() {
		return
	}

	if s.Store != nil {
		if err := s.Store.InsertGPSPoint(context.Background(), fix); err != nil {
			s.Logger.Warn("dropping gps_points row after insert failure", "error", err)
		}
	}

	batch, event, ok := s.Fusion.OnGpsFix(fix, s.Smoother.State().RangeCM)
	if !ok {
		return
	}

	if len(batch) > 0 {
		s.Telemetry.Publish(telemetry.Event{Type: "sonar_batch", Payload: batch})
	}

	s.Telemetry.Publish(telemetry.Event{Type: "gps", Payload: event})
}

func (s *State) onSky(status types.SkyStatus) {
	update, changed := s.Fusion.OnSky(status)
	if !changed {
		return
	}

	s.Telemetry.Publish(telemetry.Event{Type: "satellite_update", Payload: update})
}

// FeedSerial pushes one chunk of raw serial bytes through the reassembler
// and processes every frame it yields, in arrival order.
func (s *State) FeedSerial(chunk []byte) {
	frames, err := s.Reassembler.Feed(chunk)
	if err != nil {
		s.Logger.Warn("reassembler busy, dropping chunk", "error", err)

		return
	}

	for _, f := range frames {
		s.ProcessFrame(f)
	}
}
