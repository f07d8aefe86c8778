/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"math"

	"github.com/rs/zerolog"
)

// Mixer additively combines several branches into one Source at the
// process-wide output format. Paused branches contribute silence, Finished
// branches are pruned, and branch MetadataChanged sentinels are swallowed so
// consumers never observe a mid-batch metadata change. The Mixer is mutated
// only by the render goroutine.
type Mixer struct {
	channels int
	rate     int
	sources  []Source
	logger   zerolog.Logger
}

// NewMixer creates an empty mixer with the given output format.
func NewMixer(channels, rate int, logger zerolog.Logger) *Mixer {
	return &Mixer{
		channels: channels,
		rate:     rate,
		logger:   logger.With().Str("component", "mixer").Logger(),
	}
}

// Add attaches a branch. Ownership of src moves to the mixer.
func (m *Mixer) Add(src Source) {
	m.sources = append(m.sources, src)
}

// BranchCount reports the number of live branches.
func (m *Mixer) BranchCount() int {
	return len(m.sources)
}

func (m *Mixer) ChannelCount() int { return m.channels }
func (m *Mixer) SampleRate() int   { return m.rate }

// OnBatchStart forwards the batch boundary to every branch.
func (m *Mixer) OnBatchStart() {
	for _, src := range m.sources {
		src.OnBatchStart()
	}
}

// NextSample sums one sample from every branch with saturation. With no live
// branches it reports Paused; the mixer itself never finishes.
func (m *Mixer) NextSample() (int16, Kind, error) {
	if len(m.sources) == 0 {
		return 0, KindPaused, nil
	}

	var sum int32
	live := m.sources[:0]
	for _, src := range m.sources {
		s, keep := m.pullBranch(src)
		sum += int32(s)
		if keep {
			live = append(live, src)
		}
	}
	m.sources = live

	if sum > math.MaxInt16 {
		sum = math.MaxInt16
	}
	if sum < math.MinInt16 {
		sum = math.MinInt16
	}
	return int16(sum), KindSample, nil
}

// pullBranch fetches one sample from a branch, skipping metadata sentinels.
// It returns the branch's contribution and whether the branch stays live.
func (m *Mixer) pullBranch(src Source) (int16, bool) {
	for {
		s, kind, err := src.NextSample()
		if err != nil {
			m.logger.Error().Err(err).Msg("mixer branch failed, pruning")
			return 0, false
		}
		switch kind {
		case KindSample:
			return s, true
		case KindMetadataChanged:
			continue
		case KindPaused:
			return 0, true
		case KindFinished:
			return 0, false
		default:
			return 0, true
		}
	}
}
