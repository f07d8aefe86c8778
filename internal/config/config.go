/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/skald_radio/internal/encoder"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// Catalog server configuration
	CatalogURL     string // Base URL of the media server (e.g., http://jellyfin:8096)
	CatalogAPIKey  string
	CollectionName string // Library the station plays from

	// Audio graph configuration
	SampleRate        int
	Channels          int
	ChunkSamples      int // Interleaved samples rendered per clock tick
	SongPrefetch      int // Queue depth below which the feeder fetches more
	MaxSourceChannels int

	// MP3 output configuration
	MP3BitrateKbps int
	MP3Quality     int
	StreamName     string

	// Interstitial configuration
	InterstitialDir string
	FadeDuration    time.Duration
	FadeSteps       int
	FadeFloor       float64

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"SKALD_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"SKALD_HTTP_BIND", "HOST"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"SKALD_HTTP_PORT", "PORT"}, 8080),
		MetricsBind: getEnvAny([]string{"SKALD_METRICS_BIND"}, "127.0.0.1:9000"),

		// Catalog server configuration
		CatalogURL:     getEnvAny([]string{"SKALD_CATALOG_URL", "JELLYFIN_URL"}, ""),
		CatalogAPIKey:  getEnvAny([]string{"SKALD_CATALOG_API_KEY", "JELLYFIN_API_KEY"}, ""),
		CollectionName: getEnvAny([]string{"SKALD_COLLECTION", "JELLYFIN_COLLECTION_NAME"}, "Music"),

		// Audio graph configuration
		SampleRate:        getEnvIntAny([]string{"SKALD_SAMPLE_RATE"}, 48000),
		Channels:          getEnvIntAny([]string{"SKALD_CHANNELS"}, 2),
		ChunkSamples:      getEnvIntAny([]string{"SKALD_CHUNK_SAMPLES"}, 4800),
		SongPrefetch:      getEnvIntAny([]string{"SKALD_SONG_PREFETCH", "SONG_PREFETCH"}, 2),
		MaxSourceChannels: getEnvIntAny([]string{"SKALD_MAX_SOURCE_CHANNELS"}, 2),

		// MP3 output configuration
		MP3BitrateKbps: getEnvIntAny([]string{"SKALD_MP3_BITRATE"}, 320),
		MP3Quality:     getEnvIntAny([]string{"SKALD_MP3_QUALITY"}, 0),
		StreamName:     getEnvAny([]string{"SKALD_STREAM_NAME"}, "Skald Radio"),

		// Interstitial configuration
		InterstitialDir: getEnvAny([]string{"SKALD_INTERSTITIAL_DIR"}, "./interstitials/time"),
		FadeDuration:    time.Duration(getEnvIntAny([]string{"SKALD_FADE_SECONDS"}, 2)) * time.Second,
		FadeSteps:       getEnvIntAny([]string{"SKALD_FADE_STEPS"}, 100),
		FadeFloor:       getEnvFloatAny([]string{"SKALD_FADE_FLOOR"}, 0.1),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"SKALD_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"SKALD_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"SKALD_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.CatalogURL == "" {
		return nil, fmt.Errorf("SKALD_CATALOG_URL must be provided")
	}
	if cfg.CatalogAPIKey == "" {
		return nil, fmt.Errorf("SKALD_CATALOG_API_KEY must be provided")
	}

	if err := cfg.EncoderParams().Validate(); err != nil {
		return nil, fmt.Errorf("mp3 output configuration: %w", err)
	}
	if cfg.ChunkSamples <= 0 || cfg.ChunkSamples%cfg.Channels != 0 {
		return nil, fmt.Errorf("SKALD_CHUNK_SAMPLES must be a positive multiple of SKALD_CHANNELS, got %d", cfg.ChunkSamples)
	}
	if cfg.SongPrefetch < 0 {
		return nil, fmt.Errorf("SKALD_SONG_PREFETCH must not be negative, got %d", cfg.SongPrefetch)
	}
	if cfg.MaxSourceChannels < cfg.Channels {
		return nil, fmt.Errorf("SKALD_MAX_SOURCE_CHANNELS must be at least SKALD_CHANNELS, got %d", cfg.MaxSourceChannels)
	}
	if cfg.FadeSteps <= 0 {
		return nil, fmt.Errorf("SKALD_FADE_STEPS must be positive, got %d", cfg.FadeSteps)
	}
	if cfg.FadeFloor < 0 || cfg.FadeFloor >= 1 {
		return nil, fmt.Errorf("SKALD_FADE_FLOOR must be in [0, 1), got %v", cfg.FadeFloor)
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// EncoderParams returns the MP3 encoder settings derived from the config.
func (c *Config) EncoderParams() encoder.Params {
	return encoder.Params{
		SampleRate:  c.SampleRate,
		Channels:    c.Channels,
		BitrateKbps: c.MP3BitrateKbps,
		Quality:     c.MP3Quality,
	}
}

// ListenAddr returns the stream server's bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"JELLYFIN_URL":             "use SKALD_CATALOG_URL",
		"JELLYFIN_API_KEY":         "use SKALD_CATALOG_API_KEY",
		"JELLYFIN_COLLECTION_NAME": "use SKALD_COLLECTION",
		"SONG_PREFETCH":            "use SKALD_SONG_PREFETCH",
		"HOST":                     "use SKALD_HTTP_BIND",
		"PORT":                     "use SKALD_HTTP_PORT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
