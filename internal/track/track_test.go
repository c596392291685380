package track

import (
	"testing"
	"time"

	"github.com/fathomwave/sonartrack/internal/types"
)

func testParams() Params {
	return Params{
		ConsistencySamples:   10,
		PositionTolerance:    3,
		MaxBoost:             5,
		BoostAmplitude:       500,
		PersistenceThreshold: 10,
		PersistenceHeadroom:  10,
		MissBound:            5,
		HistoryDepth:         20,
	}
}

func detectionAt(idx int, amp uint16) types.Detection {
	return types.Detection{StartIndex: idx - 1, PeakIndex: idx, PeakValue: amp, PulseWidth: 3}
}

func TestPersistenceGating(t *testing.T) {
	tr := New(testParams())

	now := time.Unix(0, 0)

	var last []types.Track

	for i := 0; i < 9; i++ {
		last = tr.Update(uint64(i), now, []types.Detection{detectionAt(700, 200)})
	}

	if got := len(Persistent(last)); got != 0 {
		t.Fatalf("after 9 identical frames: %d persistent tracks, want 0", got)
	}

	last = tr.Update(9, now, []types.Detection{detectionAt(700, 200)})

	persistent := Persistent(last)
	if len(persistent) != 1 {
		t.Fatalf("after 10th identical frame: %d persistent tracks, want 1", len(persistent))
	}

	if persistent[0].Index != 700 {
		t.Errorf("persistent track index = %v, want 700", persistent[0].Index)
	}
}

func TestTrackIDsMonotonicAndNeverReused(t *testing.T) {
	tr := New(testParams())
	now := time.Unix(0, 0)

	var firstID uint64

	for i := 0; i < 10; i++ {
		last := tr.Update(uint64(i), now, []types.Detection{detectionAt(200, 100)})
		if i == 9 {
			firstID = Persistent(last)[0].ID
		}
	}

	for i := 10; i < 10+testParams().MissBound+2; i++ {
		tr.Update(uint64(i), now, nil)
	}

	var last []types.Track

	for i := 100; i < 110; i++ {
		last = tr.Update(uint64(i), now, []types.Detection{detectionAt(200, 100)})
	}

	persistent := Persistent(last)
	if len(persistent) != 1 {
		t.Fatalf("got %d persistent tracks after re-acquisition, want 1", len(persistent))
	}

	if persistent[0].ID <= firstID {
		t.Fatalf("re-acquired track ID %d did not increase past original ID %d", persistent[0].ID, firstID)
	}

	if tr.nextID != persistent[0].ID {
		t.Fatalf("nextID %d diverged from last allocated ID %d", tr.nextID, persistent[0].ID)
	}
}

func TestPersistenceBounded(t *testing.T) {
	tr := New(testParams())
	now := time.Unix(0, 0)

	var last []types.Track

	for i := 0; i < 50; i++ {
		last = tr.Update(uint64(i), now, []types.Detection{detectionAt(300, 100)})
	}

	for _, tk := range last {
		maxP := testParams().PersistenceThreshold + testParams().PersistenceHeadroom
		if tk.Persistence < 0 || tk.Persistence > maxP {
			t.Fatalf("persistence %d out of bounds [0, %d]", tk.Persistence, maxP)
		}
	}
}

func TestTracksEventuallyLostWithNoDetections(t *testing.T) {
	tr := New(testParams())
	now := time.Unix(0, 0)

	for i := 0; i < 10; i++ {
		tr.Update(uint64(i), now, []types.Detection{detectionAt(300, 100)})
	}

	var last []types.Track

	for i := 10; i < 40; i++ {
		last = tr.Update(uint64(i), now, nil)
	}

	if len(last) != 0 {
		t.Fatalf("got %d tracks after 30 frames with no detections, want 0", len(last))
	}
}

func TestPrimaryIsClosestPersistentTrackAtOrPastBlindZone(t *testing.T) {
	tr := New(testParams())
	now := time.Unix(0, 0)

	var last []types.Track

	for i := 0; i < 10; i++ {
		last = tr.Update(uint64(i), now, []types.Detection{
			detectionAt(200, 100),
			detectionAt(600, 100),
		})
	}

	primary, ok := Primary(last, 300)
	if !ok {
		t.Fatalf("expected a primary track")
	}

	if primary.Median() != 600 {
		t.Fatalf("primary index = %v, want 600 (the one past the blind zone)", primary.Median())
	}
}
