package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/fathomwave/sonartrack/internal/persist"
	"github.com/fathomwave/sonartrack/internal/reassemble"
	"github.com/fathomwave/sonartrack/internal/types"
)

type countingStore struct {
	sonarRows int
	gpsRows   int
}

func (c *countingStore) InsertGPSPoint(context.Context, types.GpsFix) error {
	c.gpsRows++

	return nil
}

func (c *countingStore) InsertRawGPS(context.Context, time.Time, []byte) error { return nil }

func (c *countingStore) InsertSonarReading(context.Context, time.Time, float64, float64, uint16, int, float64) error {
	c.sonarRows++

	return nil
}

var _ persist.Store = (*countingStore)(nil)

func frameWithPeak(seq uint64, at time.Time, idx int, amplitude uint16) types.Frame {
	var f types.Frame

	f.Sequence = seq
	f.Timestamp = at

	for i := idx; i < idx+10 && i < len(f.Samples); i++ {
		f.Samples[i] = amplitude
	}

	return f
}

func TestNoGPSNoDBWritesNoBatch(t *testing.T) {
	cfg := DefaultConfig()
	store := &countingStore{}
	state := New(cfg, store, nil)

	base := time.Unix(0, 0)

	for i := 0; i < 50; i++ {
		state.ProcessFrame(frameWithPeak(uint64(i), base.Add(time.Duration(i)*40*time.Millisecond), 700, 200))
	}

	if store.sonarRows != 0 {
		t.Fatalf("sonar rows = %d, want 0 without a GPS fix", store.sonarRows)
	}

	if state.Fusion.Len() != 50 {
		t.Fatalf("fusion buffer len = %d, want 50 (unflushed)", state.Fusion.Len())
	}
}

func TestGPSFixFlushesBatchAndInsertsPoint(t *testing.T) {
	cfg := DefaultConfig()
	store := &countingStore{}
	state := New(cfg, store, nil)

	base := time.Unix(0, 0)

	for i := 0; i < 50; i++ {
		state.ProcessFrame(frameWithPeak(uint64(i), base.Add(time.Duration(i)*40*time.Millisecond), 700, 200))
	}

	state.ProcessGPSLine([]byte(`{"class":"TPV","mode":3,"lat":44.5,"lon":15.1}`))

	if state.Fusion.Len() != 0 {
		t.Fatalf("fusion buffer not drained after GPS fix, len = %d", state.Fusion.Len())
	}

	if store.gpsRows != 1 {
		t.Fatalf("gps rows = %d, want 1", store.gpsRows)
	}
}

func TestThrottledWriteRateIndependentOfFrameRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBWriteInterval = 3 * time.Second
	store := &countingStore{}
	state := New(cfg, store, nil)

	state.ProcessGPSLine([]byte(`{"class":"TPV","mode":3,"lat":1,"lon":2}`))

	base := time.Unix(0, 0)

	for i := 0; i < 100; i++ {
		state.ProcessFrame(frameWithPeak(uint64(i), base.Add(time.Duration(i)*50*time.Millisecond), 700, 200))
	}

	elapsedSeconds := 100 * 50 / 1000.0
	want := int(elapsedSeconds/3) + 1

	if store.sonarRows < want-1 || store.sonarRows > want+1 {
		t.Fatalf("sonar rows = %d, want approximately %d", store.sonarRows, want)
	}
}

func TestFeedSerialDrivesFullPipeline(t *testing.T) {
	cfg := DefaultConfig()
	state := New(cfg, nil, nil)

	var f types.Frame
	for i := 400; i <= 410; i++ {
		f.Samples[i] = 200
	}

	state.FeedSerial(reassemble.Encode(f))

	if state.Fusion.Len() != 1 {
		t.Fatalf("fusion buffer len = %d, want 1 after one serial frame", state.Fusion.Len())
	}
}
