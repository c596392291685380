package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeJSON struct {
	mu   sync.Mutex
	msgs [][]byte
	fail bool
}

func (f *fakeJSON) SendJSON(data []byte) error {
	if f.fail {
		return errors.New("send failed")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.msgs = append(f.msgs, data)

	return nil
}

func (f *fakeJSON) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.msgs)
}

type fakeBinary struct {
	mu   sync.Mutex
	recs [][]byte
}

func (f *fakeBinary) SendBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := append([]byte(nil), data...)
	f.recs = append(f.recs, cp)

	return nil
}

func (f *fakeBinary) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.recs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("condition not met before deadline")
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	hub := New(2, nil)
	defer hub.Close()

	sub := &fakeJSON{}
	hub.Subscribe(sub)

	if err := hub.Publish(Event{Type: "gps"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool { return sub.count() == 1 })
}

func TestPublishRemovesFailingSubscriber(t *testing.T) {
	hub := New(2, nil)
	defer hub.Close()

	bad := &fakeJSON{fail: true}
	id := hub.Subscribe(bad)

	hub.Publish(Event{Type: "gps"})

	waitFor(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()

		_, ok := hub.json[id]

		return !ok
	})
}

func TestPublishBinaryDiscardedWithNoSubscribers(t *testing.T) {
	hub := New(2, nil)
	defer hub.Close()

	// Must not panic or block with zero subscribers.
	hub.PublishBinary(1234, 200)
}

func TestPublishBinaryDeliversRecord(t *testing.T) {
	hub := New(2, nil)
	defer hub.Close()

	sub := &fakeBinary{}
	hub.SubscribeBinary(sub)

	hub.PublishBinary(1000, 200)

	waitFor(t, func() bool { return sub.count() == 1 })

	rec := sub.recs[0]
	if len(rec) != 3 {
		t.Fatalf("record len = %d, want 3", len(rec))
	}

	got := uint16(rec[0])<<8 | uint16(rec[1])
	if got != 1000 {
		t.Errorf("distance mm = %d, want 1000", got)
	}

	if rec[2] != 200 {
		t.Errorf("peak = %d, want 200", rec[2])
	}
}

func TestClampDistanceMM(t *testing.T) {
	cases := []struct {
		rangeCM float64
		want    uint16
	}{
		{0, 0},
		{-5, 0},
		{100, 1000},
		{10000, 65535},
	}

	for _, c := range cases {
		if got := ClampDistanceMM(c.rangeCM); got != c.want {
			t.Errorf("ClampDistanceMM(%v) = %d, want %d", c.rangeCM, got, c.want)
		}
	}
}

func TestClampPeak(t *testing.T) {
	if got := ClampPeak(300); got != 255 {
		t.Errorf("ClampPeak(300) = %d, want 255", got)
	}

	if got := ClampPeak(100); got != 100 {
		t.Errorf("ClampPeak(100) = %d, want 100", got)
	}
}
