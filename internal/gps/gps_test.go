package gps

import (
	"math"
	"testing"
)

func TestParseTPVWithAccuracy(t *testing.T) {
	line := []byte(`{"class":"TPV","mode":3,"lat":44.5,"lon":15.1,"speed":1.2,"track":90,"epx":3,"epy":4,"time":"2026-01-01T00:00:00Z"}`)

	msg, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if msg.Fix == nil {
		t.Fatalf("expected a Fix")
	}

	if msg.Fix.Latitude != 44.5 || msg.Fix.Longitude != 15.1 {
		t.Errorf("lat/lon = %v/%v", msg.Fix.Latitude, msg.Fix.Longitude)
	}

	if !msg.Fix.HasAccuracy || math.Abs(msg.Fix.HorizontalAccuracy-5) > 1e-9 {
		t.Errorf("horizontal accuracy = %v, want 5 (3-4-5 triangle)", msg.Fix.HorizontalAccuracy)
	}

	if !msg.Fix.Valid() {
		t.Errorf("mode 3 fix should be Valid()")
	}
}

func TestParseTPVWithoutAccuracy(t *testing.T) {
	line := []byte(`{"class":"TPV","mode":2,"lat":1,"lon":2}`)

	msg, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if msg.Fix.HasAccuracy {
		t.Errorf("expected no accuracy when epx/epy absent")
	}
}

func TestParseSKYCountsUsedSatellites(t *testing.T) {
	line := []byte(`{"class":"SKY","satellites":[{"used":true},{"used":true},{"used":false}]}`)

	msg, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if msg.Sky == nil {
		t.Fatalf("expected Sky status")
	}

	if msg.Sky.Used != 2 || msg.Sky.Total != 3 {
		t.Errorf("used/total = %d/%d, want 2/3", msg.Sky.Used, msg.Sky.Total)
	}
}

func TestParseIgnoresOtherClasses(t *testing.T) {
	line := []byte(`{"class":"VERSION","release":"3.25"}`)

	msg, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if msg.Fix != nil || msg.Sky != nil {
		t.Errorf("expected empty Message for ignored class")
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestFixModeBelowTwoIsNotValid(t *testing.T) {
	line := []byte(`{"class":"TPV","mode":1,"lat":0,"lon":0}`)

	msg, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if msg.Fix.Valid() {
		t.Errorf("mode 1 fix should not be Valid()")
	}
}
