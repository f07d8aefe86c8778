/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout keeps the music branch of the audio graph fed: it waits
// for the player's prefetch signal, pulls random tracks from the catalog,
// decodes them, and queues them on the player's controller.
package playout

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_radio/internal/audio"
	"github.com/friendsincode/skald_radio/internal/catalog"
	"github.com/friendsincode/skald_radio/internal/decode"
	"github.com/friendsincode/skald_radio/internal/events"
	"github.com/friendsincode/skald_radio/internal/telemetry"
)

// retryBackoff is the fixed delay between failed fetch attempts. Fetches are
// retried indefinitely: silence is worse than a delayed next track.
const retryBackoff = time.Second

// Catalog is the subset of the catalog client the feeder needs.
type Catalog interface {
	AdminUser(ctx context.Context) (catalog.User, error)
	FindCollection(ctx context.Context, userID, name string) (catalog.Collection, error)
	RandomItem(ctx context.Context, userID, collectionID string) (catalog.Item, error)
	Download(ctx context.Context, itemID string) ([]byte, string, error)
}

// Feeder is the track-fetch task for one player branch.
type Feeder struct {
	catalog    Catalog
	controller *audio.Controller
	collection string
	spec       decode.Spec
	bus        *events.Bus
	logger     zerolog.Logger
	metrics    *telemetry.Metrics

	// backoff and decodeFn are swappable in tests.
	backoff  time.Duration
	decodeFn func(data []byte, hint string, spec decode.Spec) (audio.Source, error)
}

// NewFeeder creates a feeder queueing into controller from the named
// catalog collection.
func NewFeeder(cat Catalog, controller *audio.Controller, collection string, spec decode.Spec, bus *events.Bus, logger zerolog.Logger, metrics *telemetry.Metrics) *Feeder {
	return &Feeder{
		catalog:    cat,
		controller: controller,
		collection: collection,
		spec:       spec,
		bus:        bus,
		logger:     logger.With().Str("component", "playout").Logger(),
		metrics:    metrics,
		backoff:    retryBackoff,
		decodeFn:   decode.Source,
	}
}

// Run resolves the catalog account and collection, then serves prefetch
// wakes until ctx is done. Every failure is retried with a fixed backoff;
// the feeder never gives up on its own.
func (f *Feeder) Run(ctx context.Context) error {
	userID, collectionID, err := f.resolve(ctx)
	if err != nil {
		return err
	}

	f.logger.Info().Str("collection", f.collection).Msg("playout feeder started")
	for {
		if err := f.controller.WaitForQueue(ctx); err != nil {
			return err
		}
		if err := f.queueNext(ctx, userID, collectionID); err != nil {
			return err
		}
	}
}

// resolve finds the administrator account and the target collection,
// retrying until it succeeds or ctx ends.
func (f *Feeder) resolve(ctx context.Context) (userID, collectionID string, err error) {
	for {
		user, err := f.catalog.AdminUser(ctx)
		if err == nil {
			coll, err := f.catalog.FindCollection(ctx, user.ID, f.collection)
			if err == nil {
				return user.ID, coll.ID, nil
			}
			f.logger.Warn().Err(err).Str("collection", f.collection).Msg("collection lookup failed, retrying")
		} else {
			f.logger.Warn().Err(err).Msg("account lookup failed, retrying")
		}
		f.metrics.FetchRetries.Inc()
		if err := sleep(ctx, f.backoff); err != nil {
			return "", "", err
		}
	}
}

// queueNext fetches and queues exactly one track, retrying on any
// content-fetch or decode error.
func (f *Feeder) queueNext(ctx context.Context, userID, collectionID string) error {
	for {
		err := f.fetchOne(ctx, userID, collectionID)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		f.metrics.FetchRetries.Inc()
		f.logger.Warn().Err(err).Msg("fetching next track failed, retrying")
		if err := sleep(ctx, f.backoff); err != nil {
			return err
		}
	}
}

func (f *Feeder) fetchOne(ctx context.Context, userID, collectionID string) error {
	ctx, span := telemetry.StartSpan(ctx, "playout", "fetch_track")
	defer span.End()

	item, err := f.catalog.RandomItem(ctx, userID, collectionID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	f.logger.Info().Str("artist", item.Artist()).Str("title", item.Name).Msg("fetching track")
	data, hint, err := f.catalog.Download(ctx, item.ID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	src, err := f.decodeFn(data, hint, f.spec)
	if err != nil {
		// Rejected material (bad bytes, too many channels) counts as a
		// fetch failure: skip this item and pick another.
		span.RecordError(err)
		return err
	}

	f.controller.Add(src)
	f.metrics.TracksQueued.Inc()
	f.bus.Publish(events.EventTrackQueued, events.Payload{
		"item_id": item.ID,
		"title":   item.Name,
		"artist":  item.Artist(),
	})
	f.bus.Publish(events.EventNowPlaying, events.Payload{
		"title":  item.Name,
		"artist": item.Artist(),
	})
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
