/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package interstitial plays pre-recorded clips (time announcements,
// station idents) at fixed wall-clock times, ducking the music underneath.
package interstitial

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/skald_radio/internal/audio"
	"github.com/friendsincode/skald_radio/internal/decode"
	"github.com/friendsincode/skald_radio/internal/events"
	"github.com/friendsincode/skald_radio/internal/telemetry"
)

// Slot is one daily broadcast time with the clip files eligible for it.
// When several files share a slot, one is picked at random per firing.
type Slot struct {
	// Minute is the slot's minute-of-day (0..1439).
	Minute int
	Paths  []string
}

// slotsManifest is the optional slots.yaml format: explicit slot entries
// for files whose names do not follow the HH_MM convention.
type slotsManifest []struct {
	At    string   `yaml:"at"`
	Files []string `yaml:"files"`
}

const manifestName = "slots.yaml"

// LoadSlots scans dir for clip files named <hour>_<minute>.<ext> and merges
// the optional slots.yaml manifest. Files that fit neither scheme are
// skipped with a warning. A missing directory yields an empty schedule.
func LoadSlots(dir string, logger zerolog.Logger) ([]Slot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading interstitial dir: %w", err)
	}

	byMinute := make(map[int][]string)
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == manifestName {
			continue
		}
		minute, ok := parseSlotName(entry.Name())
		if !ok {
			logger.Warn().Str("file", entry.Name()).Msg("interstitial file name is not HH_MM, skipping")
			continue
		}
		byMinute[minute] = append(byMinute[minute], filepath.Join(dir, entry.Name()))
	}

	if err := mergeManifest(dir, byMinute, logger); err != nil {
		return nil, err
	}

	slots := make([]Slot, 0, len(byMinute))
	for minute, paths := range byMinute {
		sort.Strings(paths)
		slots = append(slots, Slot{Minute: minute, Paths: paths})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Minute < slots[j].Minute })
	return slots, nil
}

func mergeManifest(dir string, byMinute map[int][]string, logger zerolog.Logger) error {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", manifestName, err)
	}

	var manifest slotsManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parsing %s: %w", manifestName, err)
	}
	for _, entry := range manifest {
		minute, ok := parseClock(entry.At)
		if !ok {
			logger.Warn().Str("at", entry.At).Msg("manifest slot time is not HH:MM, skipping")
			continue
		}
		for _, file := range entry.Files {
			byMinute[minute] = append(byMinute[minute], filepath.Join(dir, file))
		}
	}
	return nil
}

// parseSlotName extracts the minute-of-day from a file name like 8_30.wav.
func parseSlotName(name string) (int, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.SplitN(stem, "_", 3)
	if len(parts) < 2 {
		return 0, false
	}
	return clockMinute(parts[0], parts[1])
}

// parseClock extracts the minute-of-day from a manifest time like "08:30".
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	return clockMinute(parts[0], parts[1])
}

func clockMinute(hourStr, minuteStr string) (int, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

// FadeConfig controls the music duck around an interstitial.
type FadeConfig struct {
	Duration time.Duration
	Steps    int
	Floor    float32
}

// Scheduler waits out the wall clock and plays each slot's clip on its own
// player branch while fading the music branch down and back up.
type Scheduler struct {
	slots     []Slot
	music     *audio.Controller
	playerCtl *audio.Controller
	spec      decode.Spec
	fade      FadeConfig
	bus       *events.Bus
	logger    zerolog.Logger
	metrics   *telemetry.Metrics

	// Test seams.
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	readFile func(path string) ([]byte, error)
	pick     func(n int) int
}

// NewScheduler creates a scheduler playing clips on playerCtl and ducking
// the music branch via music.
func NewScheduler(slots []Slot, music, playerCtl *audio.Controller, spec decode.Spec, fade FadeConfig, bus *events.Bus, logger zerolog.Logger, metrics *telemetry.Metrics) *Scheduler {
	return &Scheduler{
		slots:     slots,
		music:     music,
		playerCtl: playerCtl,
		spec:      spec,
		fade:      fade,
		bus:       bus,
		logger:    logger.With().Str("component", "interstitial").Logger(),
		metrics:   metrics,
		now:       time.Now,
		sleep:     sleepCtx,
		readFile:  os.ReadFile,
		pick:      rand.Intn,
	}
}

// NextSlot returns the next slot at or after now, with its absolute firing
// time. A slot whose time-of-day has already passed today fires tomorrow.
func (s *Scheduler) NextSlot(now time.Time) (Slot, time.Time, bool) {
	if len(s.slots) == 0 {
		return Slot{}, time.Time{}, false
	}
	for _, slot := range s.slots {
		at := time.Date(now.Year(), now.Month(), now.Day(), slot.Minute/60, slot.Minute%60, 0, 0, now.Location())
		if at.After(now) {
			return slot, at, true
		}
	}
	// All of today's slots are in the past; wrap to the earliest tomorrow.
	first := s.slots[0]
	tomorrow := now.AddDate(0, 0, 1)
	at := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), first.Minute/60, first.Minute%60, 0, 0, now.Location())
	return first, at, true
}

// Run fires slots until ctx is done. With an empty schedule it logs and
// returns immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.slots) == 0 {
		s.logger.Info().Msg("no interstitial slots configured, scheduler disabled")
		return nil
	}

	s.logger.Info().Int("slots", len(s.slots)).Msg("interstitial scheduler started")
	for {
		slot, at, _ := s.NextSlot(s.now())
		s.logger.Info().Time("at", at).Msg("next interstitial")
		if err := s.sleep(ctx, at.Sub(s.now())); err != nil {
			return err
		}
		path := slot.Paths[s.pick(len(slot.Paths))]
		s.play(ctx, path)
	}
}

// play ducks the music, runs one clip to completion, and fades back up.
// Errors are reported on the bus and never stop the scheduler.
func (s *Scheduler) play(ctx context.Context, path string) {
	ctx, span := telemetry.StartSpan(ctx, "interstitial", "play")
	defer span.End()

	src, err := s.open(path)
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Str("path", path).Msg("interstitial clip unplayable")
		s.bus.Publish(events.EventInterstitialFailed, events.Payload{
			"path":  path,
			"error": err.Error(),
		})
		return
	}

	s.logger.Info().Str("path", path).Msg("playing interstitial")
	s.bus.Publish(events.EventInterstitialStart, events.Payload{"path": path})

	wrapped, done := audio.WithCompletion(src)
	s.fadeMusic(ctx, true)
	s.playerCtl.Add(wrapped)
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.fadeMusic(ctx, false)

	s.metrics.InterstitialsPlayed.Inc()
	s.bus.Publish(events.EventInterstitialEnd, events.Payload{"path": path})
}

func (s *Scheduler) open(path string) (audio.Source, error) {
	data, err := s.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading clip: %w", err)
	}
	hint := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	src, err := decode.Source(data, hint, s.spec)
	if err != nil {
		return nil, fmt.Errorf("decoding clip: %w", err)
	}
	return src, nil
}

// fadeMusic steps the music volume between full level and the fade floor.
// Volume changes are linear in amplitude, matching the step count and
// duration regardless of direction.
func (s *Scheduler) fadeMusic(ctx context.Context, down bool) {
	maxStep := s.fade.Steps
	minStep := int(s.fade.Floor * float32(s.fade.Steps))
	if minStep >= maxStep {
		return
	}
	stepDelay := s.fade.Duration / time.Duration(maxStep-minStep)

	for i := 0; i <= maxStep-minStep; i++ {
		step := maxStep - i
		if !down {
			step = minStep + i
		}
		s.music.SetVolume(float32(step) / float32(s.fade.Steps))
		if err := s.sleep(ctx, stepDelay); err != nil {
			break
		}
	}
	if !down {
		// Restore full level even if the fade was interrupted.
		s.music.SetVolume(1)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
