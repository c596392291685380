package smooth

import "testing"

func TestAlphaOneIsIdentity(t *testing.T) {
	e := New(1.0)

	e.Observe(100)

	got := e.Observe(250)
	if got.RangeCM != 250 {
		t.Fatalf("got %v, want 250 (identity at alpha=1)", got.RangeCM)
	}
}

func TestZeroObservationLeavesStateUnchanged(t *testing.T) {
	e := New(0.1)

	e.Observe(120)
	before := e.State()

	got := e.Observe(0)
	if got.RangeCM != before.RangeCM {
		t.Fatalf("zero observation changed state: %v -> %v", before.RangeCM, got.RangeCM)
	}
}

func TestFirstNonZeroObservationInitializes(t *testing.T) {
	e := New(0.1)

	got := e.Observe(300)
	if !got.Initialized || got.RangeCM != 300 {
		t.Fatalf("got %+v, want initialized at 300", got)
	}
}

func TestConvergesTowardInput(t *testing.T) {
	e := New(0.5)

	e.Observe(0)
	e.Observe(100)

	for i := 0; i < 20; i++ {
		e.Observe(200)
	}

	got := e.State().RangeCM
	if got < 199 || got > 201 {
		t.Fatalf("EMA did not converge toward steady input: %v", got)
	}
}
