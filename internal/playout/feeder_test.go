/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_radio/internal/audio"
	"github.com/friendsincode/skald_radio/internal/catalog"
	"github.com/friendsincode/skald_radio/internal/decode"
	"github.com/friendsincode/skald_radio/internal/events"
	"github.com/friendsincode/skald_radio/internal/telemetry"
)

type fakeCatalog struct {
	mu sync.Mutex

	adminErrs    int
	collErrs     int
	randomErrs   int
	downloadErrs int

	randomCalls   int
	downloadCalls int
}

func (f *fakeCatalog) AdminUser(ctx context.Context) (catalog.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adminErrs > 0 {
		f.adminErrs--
		return catalog.User{}, errors.New("catalog unavailable")
	}
	return catalog.User{ID: "user-1", Name: "admin"}, nil
}

func (f *fakeCatalog) FindCollection(ctx context.Context, userID, name string) (catalog.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collErrs > 0 {
		f.collErrs--
		return catalog.Collection{}, errors.New("no such collection")
	}
	return catalog.Collection{ID: "coll-1", Name: name}, nil
}

func (f *fakeCatalog) RandomItem(ctx context.Context, userID, collectionID string) (catalog.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.randomCalls++
	if f.randomErrs > 0 {
		f.randomErrs--
		return catalog.Item{}, errors.New("query failed")
	}
	return catalog.Item{ID: "item-1", Name: "Song", Artists: []string{"Band"}}, nil
}

func (f *fakeCatalog) Download(ctx context.Context, itemID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls++
	if f.downloadErrs > 0 {
		f.downloadErrs--
		return nil, "", errors.New("download failed")
	}
	return []byte{1, 2, 3}, "mp3", nil
}

func (f *fakeCatalog) downloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloadCalls
}

func newTestFeeder(t *testing.T, cat *fakeCatalog) (*Feeder, *audio.Controllable, *audio.Controller) {
	t.Helper()
	player := audio.NewPlayer(2, zerolog.Nop())
	controllable, controller := audio.NewControllable(player)
	f := NewFeeder(cat, controller, "Music", decode.Spec{SampleRate: 48000, Channels: 2, MaxSourceChannels: 2}, events.NewBus(), zerolog.Nop(), telemetry.NewMetrics())
	f.backoff = time.Millisecond
	f.decodeFn = func(data []byte, hint string, spec decode.Spec) (audio.Source, error) {
		return audio.NewBufferSource([]int16{1, 2, 3, 4}, spec.Channels, spec.SampleRate), nil
	}
	return f, controllable, controller
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
	t.Fatal("condition not reached in time")
}

func TestFeederQueuesOnWake(t *testing.T) {
	cat := &fakeCatalog{}
	f, controllable, controller := newTestFeeder(t, cat)
	defer controller.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()

	// A batch start with an empty queue raises the prefetch signal.
	controllable.OnBatchStart()
	waitFor(t, func() bool { return cat.downloads() >= 1 })

	// Once a track is queued, the first sample event is a metadata change.
	waitFor(t, func() bool {
		controllable.OnBatchStart()
		_, kind, _ := controllable.NextSample()
		return kind == audio.KindMetadataChanged
	})

	cancel()
	<-done
}

func TestFeederRetriesResolve(t *testing.T) {
	cat := &fakeCatalog{adminErrs: 2, collErrs: 1}
	f, controllable, controller := newTestFeeder(t, cat)
	defer controller.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	controllable.OnBatchStart()
	waitFor(t, func() bool { return cat.downloads() >= 1 })
}

func TestFeederRetriesFetchErrors(t *testing.T) {
	cat := &fakeCatalog{randomErrs: 1, downloadErrs: 1}
	f, controllable, controller := newTestFeeder(t, cat)
	defer controller.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	controllable.OnBatchStart()
	waitFor(t, func() bool { return cat.downloads() >= 1 })

	cat.mu.Lock()
	calls := cat.randomCalls
	cat.mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected at least 2 random item calls, got %d", calls)
	}
}

func TestFeederSkipsUndecodableTracks(t *testing.T) {
	cat := &fakeCatalog{}
	f, controllable, controller := newTestFeeder(t, cat)
	defer controller.Close()

	var mu sync.Mutex
	failures := 1
	f.decodeFn = func(data []byte, hint string, spec decode.Spec) (audio.Source, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, decode.ErrTooManyChannels
		}
		return audio.NewBufferSource([]int16{1, 2}, spec.Channels, spec.SampleRate), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	controllable.OnBatchStart()
	waitFor(t, func() bool { return cat.downloads() >= 2 })
}

func TestFeederStopsOnCancel(t *testing.T) {
	cat := &fakeCatalog{adminErrs: 1 << 30}
	f, _, controller := newTestFeeder(t, cat)
	defer controller.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feeder did not stop on cancel")
	}
}
