/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio implements the pull-based audio graph: sources, the gapless
// player queue, the cross-goroutine control bridge, and the additive mixer.
// Everything operates on interleaved signed 16-bit PCM at a single
// process-wide sample rate and channel count.
package audio

// Kind discriminates the result of a NextSample call.
type Kind uint8

const (
	// KindSample means a valid PCM sample was produced.
	KindSample Kind = iota
	// KindMetadataChanged marks a stream boundary; the next sample may have
	// fresh metadata (new track, new format hints for downstream encoders).
	KindMetadataChanged
	// KindPaused means the source has nothing right now but may produce
	// again later. Consumers should substitute silence.
	KindPaused
	// KindFinished means the source will never produce again.
	KindFinished
)

func (k Kind) String() string {
	switch k {
	case KindSample:
		return "sample"
	case KindMetadataChanged:
		return "metadata_changed"
	case KindPaused:
		return "paused"
	case KindFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Source is a pull-based unit producing one interleaved PCM sample per call.
// A Source is owned by exactly one container at a time; ownership moves when
// the Source is handed to a Player or Mixer and callers must not touch it
// afterwards.
type Source interface {
	// ChannelCount reports the interleaved channel count of the stream.
	ChannelCount() int
	// SampleRate reports the sample rate in Hz.
	SampleRate() int
	// NextSample produces the next sample or a control sentinel. The sample
	// value is only meaningful when the Kind is KindSample. An error is
	// terminal for the source; callers treat it as end of stream.
	NextSample() (int16, Kind, error)
	// OnBatchStart is invoked once at the start of every render batch,
	// before any NextSample call of that batch.
	OnBatchStart()
}

// BufferSource plays a fixed slice of interleaved samples and then reports
// Finished. It backs decoded in-memory tracks and tests.
type BufferSource struct {
	samples  []int16
	pos      int
	channels int
	rate     int
}

// NewBufferSource wraps interleaved samples in a Source.
func NewBufferSource(samples []int16, channels, rate int) *BufferSource {
	return &BufferSource{samples: samples, channels: channels, rate: rate}
}

func (b *BufferSource) ChannelCount() int { return b.channels }
func (b *BufferSource) SampleRate() int   { return b.rate }
func (b *BufferSource) OnBatchStart()     {}

func (b *BufferSource) NextSample() (int16, Kind, error) {
	if b.pos >= len(b.samples) {
		return 0, KindFinished, nil
	}
	s := b.samples[b.pos]
	b.pos++
	return s, KindSample, nil
}

// CompletionSource wraps a Source and closes Done exactly once when the
// inner source finishes or fails. The interstitial scheduler uses it to wait
// for announcement playback to end.
type CompletionSource struct {
	inner Source
	done  chan struct{}
	fired bool
}

// WithCompletion wraps src with a completion notification.
func WithCompletion(src Source) (*CompletionSource, <-chan struct{}) {
	c := &CompletionSource{inner: src, done: make(chan struct{})}
	return c, c.done
}

func (c *CompletionSource) ChannelCount() int { return c.inner.ChannelCount() }
func (c *CompletionSource) SampleRate() int   { return c.inner.SampleRate() }
func (c *CompletionSource) OnBatchStart()     { c.inner.OnBatchStart() }

func (c *CompletionSource) NextSample() (int16, Kind, error) {
	s, kind, err := c.inner.NextSample()
	if (err != nil || kind == KindFinished) && !c.fired {
		c.fired = true
		close(c.done)
	}
	return s, kind, err
}
