/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcast multicasts rendered PCM chunks to any number of
// independent subscribers. The producer never blocks: a subscriber that
// cannot keep up loses its oldest buffered chunks instead of stalling the
// renderer.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_radio/internal/events"
	"github.com/friendsincode/skald_radio/internal/telemetry"
)

// Chunk is a fixed-size array of interleaved 16-bit PCM samples, immutable
// once published and shared read-only by all current subscribers.
type Chunk []int16

// DefaultSubscriberBuffer is how many chunks a subscriber may lag before the
// hub starts dropping its oldest ones.
const DefaultSubscriberBuffer = 8

// Hub fans chunks out from one producer to N subscribers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscriber]struct{}
	logger  zerolog.Logger
	bus     *events.Bus
	metrics *telemetry.Metrics
}

// Subscriber is one attached consumer with its own cursor into the stream.
// It only ever observes chunks published after it attached.
type Subscriber struct {
	ID      string
	ch      chan Chunk
	hub     *Hub
	dropped atomic.Uint64
	once    sync.Once
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger, bus *events.Bus, metrics *telemetry.Metrics) *Hub {
	return &Hub{
		subs:    make(map[*Subscriber]struct{}),
		logger:  logger.With().Str("component", "broadcast").Logger(),
		bus:     bus,
		metrics: metrics,
	}
}

// Subscribe attaches a new consumer buffering up to buffer chunks.
func (h *Hub) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &Subscriber{
		ID:  uuid.NewString(),
		ch:  make(chan Chunk, buffer),
		hub: h,
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.metrics.Listeners.Set(float64(count))
	h.publishStats(count, "connect")
	h.logger.Info().Str("subscriber", sub.ID).Int("subscribers", count).Msg("subscriber attached")
	return sub
}

// Publish delivers chunk to every subscriber. A full subscriber loses its
// oldest buffered chunk; if it is still full the new chunk is skipped for
// that subscriber only. Publish never blocks.
func (h *Hub) Publish(chunk Chunk) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.ch <- chunk:
			continue
		default:
		}
		// Drop-oldest: free one slot, then retry once.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
			h.metrics.ChunksDropped.Inc()
		default:
		}
		select {
		case sub.ch <- chunk:
		default:
			sub.dropped.Add(1)
			h.metrics.ChunksDropped.Inc()
		}
	}
}

// SubscriberCount reports the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) publishStats(count int, event string) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(events.EventListenerStats, events.Payload{
		"listeners": count,
		"event":     event,
	})
}

// Chunks returns the receive channel of published chunks.
func (s *Subscriber) Chunks() <-chan Chunk {
	return s.ch
}

// Dropped reports how many chunks this subscriber has lost to overflow.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		delete(h.subs, s)
		count := len(h.subs)
		h.mu.Unlock()

		h.metrics.Listeners.Set(float64(count))
		h.publishStats(count, "disconnect")
		h.logger.Info().
			Str("subscriber", s.ID).
			Int("subscribers", count).
			Uint64("dropped", s.dropped.Load()).
			Msg("subscriber detached")
	})
}
