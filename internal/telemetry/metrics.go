/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the process-wide Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	Listeners           prometheus.Gauge
	ChunksRendered      prometheus.Counter
	SilenceSamples      prometheus.Counter
	ChunksDropped       prometheus.Counter
	TracksQueued        prometheus.Counter
	FetchRetries        prometheus.Counter
	EncodeErrors        prometheus.Counter
	InterstitialsPlayed prometheus.Counter

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all instruments on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Listeners: factory.NewGauge(prometheus.GaugeOpts{
			Name: "skald_stream_listeners",
			Help: "Currently connected stream listeners.",
		}),
		ChunksRendered: factory.NewCounter(prometheus.CounterOpts{
			Name: "skald_render_chunks_total",
			Help: "PCM chunks produced by the renderer.",
		}),
		SilenceSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "skald_render_silence_samples_total",
			Help: "Samples substituted with silence because no branch produced.",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "skald_broadcast_chunks_dropped_total",
			Help: "Chunks dropped for lagging subscribers.",
		}),
		TracksQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "skald_playout_tracks_queued_total",
			Help: "Tracks fetched from the catalog and queued for playback.",
		}),
		FetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "skald_playout_fetch_retries_total",
			Help: "Catalog fetch attempts that failed and were retried.",
		}),
		EncodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "skald_stream_encode_errors_total",
			Help: "Listener connections torn down by encode or write errors.",
		}),
		InterstitialsPlayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "skald_interstitials_played_total",
			Help: "Interstitial announcements played to completion.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skald_http_requests_total",
			Help: "HTTP requests handled, by method, endpoint and status.",
		}, []string{"method", "endpoint", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skald_http_request_duration_seconds",
			Help:    "HTTP request duration, by method, endpoint and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint", "status"}),
	}
}

// Handler exposes the metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
