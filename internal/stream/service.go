/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stream serves the live program as a chunked MP3 HTTP response.
// Each accepted connection gets its own hub subscription and its own
// stateful encoder; the response has no defined end and terminates only
// when the peer disconnects or the write path fails.
package stream

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald_radio/internal/broadcast"
	"github.com/friendsincode/skald_radio/internal/encoder"
	"github.com/friendsincode/skald_radio/internal/telemetry"
)

// Service handles listener connections for the single stream endpoint.
type Service struct {
	hub     *broadcast.Hub
	params  encoder.Params
	name    string
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewService creates the streaming handler. name is advertised in the icy
// headers.
func NewService(hub *broadcast.Hub, params encoder.Params, name string, logger zerolog.Logger, metrics *telemetry.Metrics) *Service {
	return &Service{
		hub:     hub,
		params:  params,
		name:    name,
		logger:  logger.With().Str("component", "stream").Logger(),
		metrics: metrics,
	}
}

// ServeHTTP streams encoded audio until the client goes away. Do not set
// Transfer-Encoding manually; leaving Content-Length unset makes the
// net/http server chunk the body.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("icy-name", s.name)
	w.Header().Set("icy-br", strconv.Itoa(s.params.BitrateKbps))

	var flusher http.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	} else {
		flusher = &rcFlusher{rc: http.NewResponseController(w), logger: s.logger}
	}

	enc, err := encoder.New(s.params, &flushWriter{w: w, flusher: flusher})
	if err != nil {
		// Parameters are validated at startup, so this is an encoder
		// initialization fault, not a configuration one.
		s.logger.Error().Err(err).Msg("encoder init failed")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	defer enc.Close()

	sub := s.hub.Subscribe(broadcast.DefaultSubscriberBuffer)
	defer sub.Close()

	logger := s.logger.With().Str("listener", sub.ID).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("listener connected")

	for {
		select {
		case <-r.Context().Done():
			logger.Info().Msg("listener disconnected")
			return
		case chunk := <-sub.Chunks():
			if err := enc.EncodeChunk(chunk); err != nil {
				s.metrics.EncodeErrors.Inc()
				logger.Info().Err(err).Msg("stream write failed, dropping listener")
				return
			}
		}
	}
}

// flushWriter flushes after every write so frames leave the process as soon
// as the encoder emits them.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, err
	}
	fw.flusher.Flush()
	return n, nil
}

// rcFlusher adapts http.ResponseController to http.Flusher for wrapped
// response writers.
type rcFlusher struct {
	rc        *http.ResponseController
	logger    zerolog.Logger
	errLogged bool
}

func (f *rcFlusher) Flush() {
	if err := f.rc.Flush(); err != nil && !f.errLogged {
		f.logger.Debug().Err(err).Msg("response controller flush failed")
		f.errLogged = true
	}
}
