/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package broadcast

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_radio/internal/events"
	"github.com/friendsincode/skald_radio/internal/telemetry"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop(), events.NewBus(), telemetry.NewMetrics())
}

func chunkOf(v int16) Chunk {
	return Chunk{v, v}
}

func TestHubDeliversChunksInOrder(t *testing.T) {
	h := newTestHub()
	sub := h.Subscribe(4)
	defer sub.Close()

	h.Publish(chunkOf(1))
	h.Publish(chunkOf(2))
	h.Publish(chunkOf(3))

	for want := int16(1); want <= 3; want++ {
		got := <-sub.Chunks()
		if got[0] != want {
			t.Fatalf("out of order: got %d, want %d", got[0], want)
		}
	}
}

func TestHubSlowSubscriberNeverBlocksProducer(t *testing.T) {
	h := newTestHub()
	sub := h.Subscribe(2)
	defer sub.Close()

	// Publish far more than the subscriber's buffer without ever reading.
	// If the producer blocked, this test would hang.
	for i := 0; i < 100; i++ {
		h.Publish(chunkOf(int16(i)))
	}

	if sub.Dropped() == 0 {
		t.Fatal("expected overflow drops for a subscriber that never polls")
	}

	// After resuming, the subscriber observes a gap, not a deadlock: it
	// sees recent chunks, with relative order preserved.
	first := <-sub.Chunks()
	second := <-sub.Chunks()
	if first[0] >= second[0] {
		t.Fatalf("order not preserved across gap: %d then %d", first[0], second[0])
	}
	if first[0] == 0 {
		t.Fatal("expected oldest chunks to have been dropped")
	}
}

func TestHubNewSubscriberReceivesOnlyFutureChunks(t *testing.T) {
	h := newTestHub()
	early := h.Subscribe(8)
	defer early.Close()

	h.Publish(chunkOf(1))
	h.Publish(chunkOf(2))

	late := h.Subscribe(8)
	defer late.Close()
	h.Publish(chunkOf(3))

	if got := <-late.Chunks(); got[0] != 3 {
		t.Fatalf("late subscriber must start at the attach point: got %d", got[0])
	}
	// The early subscriber still has the full history since its attach.
	if got := <-early.Chunks(); got[0] != 1 {
		t.Fatalf("early subscriber missing chunk: got %d", got[0])
	}
}

func TestHubSubscriberCloseIsIdempotent(t *testing.T) {
	h := newTestHub()
	sub := h.Subscribe(2)
	sub.Close()
	sub.Close()

	if h.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d, want 0", h.SubscriberCount())
	}
	// Publishing after detach must not panic or deliver.
	h.Publish(chunkOf(9))
	select {
	case c := <-sub.Chunks():
		t.Fatalf("detached subscriber received chunk %v", c)
	default:
	}
}
