/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"math"

	"github.com/rs/zerolog"
)

// Reported only while the queue is empty, so never observed by a consumer
// that normalizes against a real track.
const (
	defaultChannelCount = 2
	defaultSampleRate   = 48000
)

// Player is an ordered queue of Sources played back to back without gaps.
// The front source is always the one currently advancing; a source leaves
// the queue only when it reports Finished or errors. Player is not safe for
// concurrent use; wrap it in a Controllable to mutate it from other
// goroutines.
type Player struct {
	sources  []Source
	wasEmpty bool
	prefetch int
	volume   float32
	logger   zerolog.Logger
}

// NewPlayer creates an empty player. songPrefetch is the queue depth at or
// below which PrefetchNeeded reports true.
func NewPlayer(songPrefetch int, logger zerolog.Logger) *Player {
	return &Player{
		prefetch: songPrefetch,
		volume:   1.0,
		logger:   logger.With().Str("component", "player").Logger(),
	}
}

// Add appends a source to the tail of the queue. Adding to an empty queue
// arms a one-shot MetadataChanged that is returned on the next pull, before
// the new source is asked for a sample.
func (p *Player) Add(src Source) {
	if len(p.sources) == 0 {
		p.wasEmpty = true
	}
	p.sources = append(p.sources, src)
}

// SetVolume sets the multiplicative volume applied to every outgoing sample.
func (p *Player) SetVolume(volume float32) {
	p.volume = volume
}

// Volume returns the current volume factor.
func (p *Player) Volume() float32 {
	return p.volume
}

// Len reports the number of queued sources, including the playing one.
func (p *Player) Len() int {
	return len(p.sources)
}

// PrefetchNeeded reports whether the queue is at or below the prefetch
// threshold and more content should be requested.
func (p *Player) PrefetchNeeded() bool {
	return len(p.sources) <= p.prefetch
}

func (p *Player) ChannelCount() int {
	if len(p.sources) == 0 {
		return defaultChannelCount
	}
	return p.sources[0].ChannelCount()
}

func (p *Player) SampleRate() int {
	if len(p.sources) == 0 {
		return defaultSampleRate
	}
	return p.sources[0].SampleRate()
}

// OnBatchStart forwards the batch boundary to every queued source.
func (p *Player) OnBatchStart() {
	for _, src := range p.sources {
		src.OnBatchStart()
	}
}

// NextSample pulls from the head of the queue. Exactly one MetadataChanged
// is emitted per track transition: when a head finishes or errors it is
// dropped and MetadataChanged is returned instead of splicing the next
// track's first sample in directly. Errors from a source are logged and
// treated as end of track, never propagated.
func (p *Player) NextSample() (int16, Kind, error) {
	if len(p.sources) == 0 {
		return 0, KindFinished, nil
	}
	if p.wasEmpty {
		p.wasEmpty = false
		return 0, KindMetadataChanged, nil
	}

	s, kind, err := p.sources[0].NextSample()
	if err != nil {
		p.logger.Error().Err(err).Msg("track failed mid-playback, dropping")
	}
	if err != nil || kind == KindFinished {
		p.sources = p.sources[1:]
		if len(p.sources) == 0 {
			return 0, KindFinished, nil
		}
		// The next track may carry different metadata; let downstream
		// normalize instead of doing it here.
		return 0, KindMetadataChanged, nil
	}
	if kind == KindSample {
		return p.scale(s), KindSample, nil
	}
	return s, kind, nil
}

func (p *Player) scale(s int16) int16 {
	if p.volume == 1.0 {
		return s
	}
	v := float32(s) * p.volume
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
