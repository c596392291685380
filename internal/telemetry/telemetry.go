// Package telemetry fans structured events and a compact binary stream out
// to subscribers over two independent channels.
package telemetry

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/alitto/pond"
)

// Event is one JSON telemetry message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// JSONSubscriber receives encoded telemetry events.
type JSONSubscriber interface {
	SendJSON(data []byte) error
}

// BinarySubscriber receives raw high-rate binary records.
type BinarySubscriber interface {
	SendBinary(data []byte) error
}

// SubscriberID identifies a registered subscriber for removal.
type SubscriberID uint64

// Hub is the subscriber set plus non-blocking fan-out dispatch for both
// channels. Add/remove are O(1) map operations; broadcast is best-effort
// and never blocks a caller on a slow or dead subscriber.
type Hub struct {
	mu     sync.Mutex
	nextID SubscriberID
	json   map[SubscriberID]JSONSubscriber
	binary map[SubscriberID]BinarySubscriber

	pool   *pond.WorkerPool
	logger *slog.Logger
}

// New builds a Hub with a bounded worker pool for fan-out dispatch.
func New(workers int, logger *slog.Logger) *Hub {
	if workers <= 0 {
		workers = 8
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		json:   make(map[SubscriberID]JSONSubscriber),
		binary: make(map[SubscriberID]BinarySubscriber),
		pool:   pond.New(workers, 0, pond.MinWorkers(workers)),
		logger: logger,
	}
}

// Subscribe registers a JSON-channel subscriber and returns its ID.
func (h *Hub) Subscribe(s JSONSubscriber) SubscriberID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.json[id] = s

	return id
}

// Unsubscribe removes a JSON-channel subscriber.
func (h *Hub) Unsubscribe(id SubscriberID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.json, id)
}

// SubscribeBinary registers a binary-channel subscriber and returns its ID.
func (h *Hub) SubscribeBinary(s BinarySubscriber) SubscriberID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.binary[id] = s

	return id
}

// UnsubscribeBinary removes a binary-channel subscriber.
func (h *Hub) UnsubscribeBinary(id SubscriberID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.binary, id)
}

// Close stops the dispatch pool, waiting for in-flight sends to finish.
func (h *Hub) Close() {
	h.pool.StopAndWait()
}

// Publish encodes event and dispatches it to every JSON subscriber without
// blocking the caller. Subscribers whose send fails are pruned.
func (h *Hub) Publish(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	targets := make(map[SubscriberID]JSONSubscriber, len(h.json))
	for id, s := range h.json {
		targets[id] = s
	}
	h.mu.Unlock()

	for id, s := range targets {
		id, s := id, s

		h.pool.Submit(func() {
			if err := s.SendJSON(data); err != nil {
				h.logger.Warn("telemetry subscriber removed after send failure", "subscriber", id, "error", err)
				h.Unsubscribe(id)
			}
		})
	}

	return nil
}

// PublishBinary dispatches a 3-byte record [u16 BE mm][u8 peak] to every
// binary-channel subscriber. If there are no subscribers the record is
// simply discarded; this channel never queues.
func (h *Hub) PublishBinary(distanceMM uint16, peakAmplitude uint8) {
	h.mu.Lock()
	targets := make(map[SubscriberID]BinarySubscriber, len(h.binary))
	for id, s := range h.binary {
		targets[id] = s
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	record := []byte{byte(distanceMM >> 8), byte(distanceMM), peakAmplitude}

	for id, s := range targets {
		id, s := id, s

		h.pool.Submit(func() {
			if err := s.SendBinary(record); err != nil {
				h.logger.Warn("binary telemetry subscriber removed after send failure", "subscriber", id, "error", err)
				h.UnsubscribeBinary(id)
			}
		})
	}
}

// ClampDistanceMM converts a cm range to the clamped u16 mm encoding used by
// the binary channel.
func ClampDistanceMM(rangeCM float64) uint16 {
	mm := rangeCM * 10

	switch {
	case mm <= 0:
		return 0
	case mm >= 65535:
		return 65535
	default:
		return uint16(mm)
	}
}

// ClampPeak converts a raw sample amplitude to the clamped u8 encoding.
func ClampPeak(value uint16) uint8 {
	if value > 255 {
		return 255
	}

	return uint8(value)
}
