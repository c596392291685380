// Package gps decodes line-delimited JSON messages from a gpspipe-style
// producer into the core's tagged GPS message variants.
package gps

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/farcloser/primordium/fault"

	"github.com/fathomwave/sonartrack/internal/types"
)

// ErrParse wraps any failure decoding a GPS line; callers log and ignore it.
var ErrParse = errors.New("gps: failed to parse message")

// classEnvelope peeks at the "class" discriminator shared by every gpsd
// message before committing to a concrete shape.
type classEnvelope struct {
	Class string `json:"class"`
}

type tpvMessage struct {
	Mode  int      `json:"mode"`
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	Alt   *float64 `json:"alt"`
	Speed float64  `json:"speed"`
	Track float64  `json:"track"`
	Time  string   `json:"time"`
	Epx   *float64 `json:"epx"`
	Epy   *float64 `json:"epy"`
}

type skyMessage struct {
	Satellites []satellite `json:"satellites"`
}

type satellite struct {
	Used bool `json:"used"`
}

// Message is the tagged-union result of parsing one GPS line: exactly one
// of Fix or Sky is set, or neither if the class is ignored.
type Message struct {
	Fix *types.GpsFix
	Sky *types.SkyStatus
}

// Parse decodes one line of gpspipe JSON. Unknown or irrelevant classes
// (VERSION, DEVICES, PPS, ...) decode successfully to an empty Message; only
// malformed JSON or a malformed TPV/SKY body returns ErrParse.
func Parse(line []byte) (Message, error) {
	var env classEnvelope

	if err := json.Unmarshal(line, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %w: %w", ErrParse, fault.ErrInvalidJSON, err)
	}

	switch env.Class {
	case "TPV":
		return parseTPV(line)
	case "SKY":
		return parseSKY(line)
	default:
		return Message{}, nil
	}
}

func parseTPV(line []byte) (Message, error) {
	var m tpvMessage

	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w: %w", ErrParse, fault.ErrInvalidJSON, err)
	}

	fix := &types.GpsFix{
		Latitude:  m.Lat,
		Longitude: m.Lon,
		Speed:     m.Speed,
		Track:     m.Track,
		Mode:      types.FixMode(m.Mode),
	}

	if m.Alt != nil {
		fix.Altitude = *m.Alt
		fix.HasAltitude = true
	}

	if m.Epx != nil && m.Epy != nil {
		fix.HorizontalAccuracy = math.Hypot(*m.Epx, *m.Epy)
		fix.HasAccuracy = true
	}

	if m.Time != "" {
		if ts, err := time.Parse(time.RFC3339, m.Time); err == nil {
			fix.Timestamp = ts
		}
	}

	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	return Message{Fix: fix}, nil
}

func parseSKY(line []byte) (Message, error) {
	var m skyMessage

	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w: %w", ErrParse, fault.ErrInvalidJSON, err)
	}

	status := &types.SkyStatus{Total: len(m.Satellites)}

	for _, s := range m.Satellites {
		if s.Used {
			status.Used++
		}
	}

	return Message{Sky: status}, nil
}
