/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_radio/internal/broadcast"
	"github.com/friendsincode/skald_radio/internal/encoder"
	"github.com/friendsincode/skald_radio/internal/events"
	"github.com/friendsincode/skald_radio/internal/telemetry"
)

func newTestService() (*Service, *broadcast.Hub) {
	metrics := telemetry.NewMetrics()
	hub := broadcast.NewHub(zerolog.Nop(), events.NewBus(), metrics)
	params := encoder.Params{SampleRate: 48000, Channels: 2, BitrateKbps: 128, Quality: 7}
	return NewService(hub, params, "test radio", zerolog.Nop(), metrics), hub
}

func TestServeHTTPStreamsUntilClientDisconnects(t *testing.T) {
	svc, hub := newTestService()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		svc.ServeHTTP(rec, req)
		close(done)
	}()

	// Wait for the connection to subscribe, feed it some audio, then hang up.
	deadline := time.After(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("listener never subscribed")
		case <-time.After(time.Millisecond):
		}
	}
	for i := 0; i < 4; i++ {
		hub.Publish(make(broadcast.Chunk, 4800))
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after disconnect")
	}

	if got := rec.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("Content-Type = %q, want audio/mpeg", got)
	}
	if got := rec.Header().Get("icy-name"); got != "test radio" {
		t.Fatalf("icy-name = %q", got)
	}
	if rec.Header().Get("Content-Length") != "" {
		t.Fatal("Content-Length must be unset for a chunked stream")
	}
	if hub.SubscriberCount() != 0 {
		t.Fatal("subscription not torn down on disconnect")
	}
}

func TestEachConnectionGetsItsOwnSubscription(t *testing.T) {
	svc, hub := newTestService()

	start := func() (context.CancelFunc, chan struct{}) {
		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
		done := make(chan struct{})
		go func() {
			svc.ServeHTTP(httptest.NewRecorder(), req)
			close(done)
		}()
		return cancel, done
	}

	cancelA, doneA := start()
	cancelB, doneB := start()

	deadline := time.After(2 * time.Second)
	for hub.SubscriberCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 subscribers, have %d", hub.SubscriberCount())
		case <-time.After(time.Millisecond):
		}
	}

	// Dropping one listener must not affect the other.
	cancelA()
	<-doneA
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber after disconnect, have %d", hub.SubscriberCount())
	}

	cancelB()
	<-doneB
}
