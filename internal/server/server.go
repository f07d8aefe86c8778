/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the audio graph, catalog feeder, interstitial
// scheduler and HTTP surface into one running station.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_radio/internal/audio"
	"github.com/friendsincode/skald_radio/internal/broadcast"
	"github.com/friendsincode/skald_radio/internal/catalog"
	"github.com/friendsincode/skald_radio/internal/config"
	"github.com/friendsincode/skald_radio/internal/decode"
	"github.com/friendsincode/skald_radio/internal/engine"
	"github.com/friendsincode/skald_radio/internal/events"
	"github.com/friendsincode/skald_radio/internal/interstitial"
	"github.com/friendsincode/skald_radio/internal/logbuffer"
	"github.com/friendsincode/skald_radio/internal/playout"
	"github.com/friendsincode/skald_radio/internal/stream"
	"github.com/friendsincode/skald_radio/internal/telemetry"
)

// Server bundles the station's HTTP surface and its background services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	bus       *events.Bus
	metrics   *telemetry.Metrics
	hub       *broadcast.Hub
	logBuffer *logbuffer.Buffer

	renderer      *engine.Renderer
	feeder        *playout.Feeder
	interstitials *interstitial.Scheduler
	streamSvc     *stream.Service

	musicController *audio.Controller
	clipController  *audio.Controller

	startedAt time.Time

	npMu       sync.RWMutex
	nowPlaying events.Payload

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New assembles the station from config. The returned server is already
// rendering and fetching; callers only need to serve HTTP.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		bus:       events.NewBus(),
		metrics:   telemetry.NewMetrics(),
		logBuffer: logBuf,
		startedAt: time.Now(),
	}

	if err := srv.initAudioGraph(); err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("skald-radio"))
	router.Use(srv.metrics.RequestMetrics)
	// Listener connections hold their response open for the lifetime of the
	// session, so the request timeout only applies to the control surface.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/" || strings.HasPrefix(r.URL.Path, "/stream") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})
	srv.router = router
	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv.router,
		// Header deadline protects against slowloris; read/write deadlines
		// stay off because listener responses are open-ended.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", srv.metrics.Handler())
	srv.metricsServer = &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	return srv, nil
}

// initAudioGraph builds the mixer tree and the services hanging off it:
//
//	catalog -> feeder -> music player \
//	                                   mixer -> renderer -> hub -> listeners
//	  interstitial -> clip player     /
func (s *Server) initAudioGraph() error {
	cfg := s.cfg

	mixer := audio.NewMixer(cfg.Channels, cfg.SampleRate, s.logger)

	musicPlayer := audio.NewPlayer(cfg.SongPrefetch, s.logger)
	musicSource, musicController := audio.NewControllable(musicPlayer)
	mixer.Add(musicSource)
	s.musicController = musicController

	clipPlayer := audio.NewPlayer(0, s.logger)
	clipSource, clipController := audio.NewControllable(clipPlayer)
	mixer.Add(clipSource)
	s.clipController = clipController

	s.hub = broadcast.NewHub(s.logger, s.bus, s.metrics)
	s.renderer = engine.NewRenderer(mixer, s.hub, cfg.ChunkSamples, s.logger, s.metrics)

	client := catalog.New(cfg.CatalogURL, cfg.CatalogAPIKey, s.logger)
	spec := decode.Spec{
		SampleRate:        cfg.SampleRate,
		Channels:          cfg.Channels,
		MaxSourceChannels: cfg.MaxSourceChannels,
	}
	s.feeder = playout.NewFeeder(client, musicController, cfg.CollectionName, spec, s.bus, s.logger, s.metrics)

	slots, err := interstitial.LoadSlots(cfg.InterstitialDir, s.logger)
	if err != nil {
		return fmt.Errorf("loading interstitial slots: %w", err)
	}
	fade := interstitial.FadeConfig{
		Duration: cfg.FadeDuration,
		Steps:    cfg.FadeSteps,
		Floor:    float32(cfg.FadeFloor),
	}
	s.interstitials = interstitial.NewScheduler(slots, musicController, clipController, spec, fade, s.bus, s.logger, s.metrics)

	s.streamSvc = stream.NewService(s.hub, cfg.EncoderParams(), cfg.StreamName, s.logger, s.metrics)
	return nil
}

func (s *Server) configureRoutes() {
	// The root path serves audio so bare player URLs keep working.
	s.router.Get("/", s.streamSvc.ServeHTTP)
	s.router.Get("/stream", s.streamSvc.ServeHTTP)
	s.router.Get("/stream.mp3", s.streamSvc.ServeHTTP)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/logs", s.handleLogs)
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.npMu.RLock()
	nowPlaying := s.nowPlaying
	s.npMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":        s.cfg.StreamName,
		"listeners":   s.hub.SubscriberCount(),
		"now_playing": nowPlaying,
		"uptime_sec":  int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logBuffer == nil {
		http.Error(w, "log buffer not enabled", http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.logBuffer.Recent(r.URL.Query().Get("level"), limit))
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus endpoint's server.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.renderer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("renderer exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.feeder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("playout feeder exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.interstitials.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("interstitial scheduler exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.trackNowPlaying(ctx)
	}()
}

// trackNowPlaying mirrors the latest now-playing event for /status.
func (s *Server) trackNowPlaying(ctx context.Context) {
	sub := s.bus.Subscribe(events.EventNowPlaying)
	defer s.bus.Unsubscribe(events.EventNowPlaying, sub)
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub:
			s.npMu.Lock()
			s.nowPlaying = payload
			s.npMu.Unlock()
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	s.musicController.Close()
	s.clipController.Close()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
