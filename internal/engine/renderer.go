/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine drives the audio graph: a fixed-cadence render loop that
// pulls PCM chunks from the root source and publishes them to the broadcast
// hub. The render goroutine is the single owner of the graph; it never
// performs I/O and never blocks on anything but its ticker.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_radio/internal/audio"
	"github.com/friendsincode/skald_radio/internal/broadcast"
	"github.com/friendsincode/skald_radio/internal/telemetry"
)

// Renderer produces one chunk of chunkSamples interleaved samples per tick.
type Renderer struct {
	root         audio.Source
	hub          *broadcast.Hub
	chunkSamples int
	interval     time.Duration
	logger       zerolog.Logger
	metrics      *telemetry.Metrics
}

// NewRenderer wires the root source to the hub. chunkSamples counts
// interleaved samples across all channels; the tick interval is derived so
// that chunk production keeps pace with real time.
func NewRenderer(root audio.Source, hub *broadcast.Hub, chunkSamples int, logger zerolog.Logger, metrics *telemetry.Metrics) *Renderer {
	framesPerSecond := root.SampleRate() * root.ChannelCount()
	interval := time.Duration(chunkSamples) * time.Second / time.Duration(framesPerSecond)
	return &Renderer{
		root:         root,
		hub:          hub,
		chunkSamples: chunkSamples,
		interval:     interval,
		logger:       logger.With().Str("component", "renderer").Logger(),
		metrics:      metrics,
	}
}

// Interval returns the derived tick period.
func (r *Renderer) Interval() time.Duration {
	return r.interval
}

// Run ticks until ctx is done. Every tick completes unconditionally: the
// renderer is the heartbeat for every listener, so sentinel results degrade
// to silence rather than stalling the loop.
func (r *Renderer) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("interval", r.interval).
		Int("chunk_samples", r.chunkSamples).
		Msg("renderer started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("renderer stopped")
			return ctx.Err()
		case <-ticker.C:
			r.hub.Publish(r.RenderChunk())
		}
	}
}

// RenderChunk applies the batch boundary to the whole graph, then pulls
// exactly one chunk of samples. Paused, Finished and boundary sentinels
// contribute silence. The returned chunk is freshly allocated and immutable
// from the caller's point of view.
func (r *Renderer) RenderChunk() broadcast.Chunk {
	r.root.OnBatchStart()

	chunk := make(broadcast.Chunk, r.chunkSamples)
	silent := 0
	for i := range chunk {
		s, kind, err := r.root.NextSample()
		if err != nil {
			// Render-graph errors are impossible by contract; convert any
			// underlying fault to silence.
			r.logger.Error().Err(err).Msg("root source error, rendering silence")
			silent++
			continue
		}
		if kind != audio.KindSample {
			silent++
			continue
		}
		chunk[i] = s
	}

	r.metrics.ChunksRendered.Inc()
	if silent > 0 {
		r.metrics.SilenceSamples.Add(float64(silent))
	}
	return chunk
}
