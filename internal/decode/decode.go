/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package decode turns raw downloaded media bytes into audio graph sources.
// Format selection follows the extension hint when one is available and
// falls back to probing; everything is resampled to the process output rate.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/friendsincode/skald_radio/internal/audio"
)

// ErrTooManyChannels marks a source rejected for exceeding the configured
// channel maximum. The feeder re-fetches on this error instead of queueing.
var ErrTooManyChannels = errors.New("source has too many channels")

// Spec is the process output format a decoded source must match.
type Spec struct {
	SampleRate int
	Channels   int
	// MaxSourceChannels rejects material with more channels than the engine
	// is prepared to downmix.
	MaxSourceChannels int
}

// resampleQuality trades CPU for interpolation accuracy; 4 matches beep's
// recommended default for music.
const resampleQuality = 4

type decoderFunc func(io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]decoderFunc{
	"mp3":  func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return mp3.Decode(rc) },
	"wav":  func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(rc) },
	"flac": func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(rc) },
	"ogg":  func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(rc) },
}

func init() {
	decoders["oga"] = decoders["ogg"]
	decoders["vorbis"] = decoders["ogg"]
}

// probeOrder is the fallback sequence when the hint is missing or unknown.
var probeOrder = []string{"mp3", "flac", "ogg", "wav"}

// Source decodes data into an audio.Source producing interleaved samples at
// the spec's output format.
func Source(data []byte, hint string, spec Spec) (audio.Source, error) {
	streamer, format, err := open(data, hint)
	if err != nil {
		return nil, err
	}

	if spec.MaxSourceChannels > 0 && format.NumChannels > spec.MaxSourceChannels {
		streamer.Close()
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyChannels, format.NumChannels, spec.MaxSourceChannels)
	}

	var s beep.Streamer = streamer
	if int(format.SampleRate) != spec.SampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(spec.SampleRate), streamer)
	}

	return &beepSource{
		streamer: s,
		closer:   streamer,
		channels: spec.Channels,
		rate:     spec.SampleRate,
	}, nil
}

func open(data []byte, hint string) (beep.StreamSeekCloser, beep.Format, error) {
	if dec, ok := decoders[hint]; ok {
		return dec(reader(data))
	}

	var lastErr error
	for _, name := range probeOrder {
		streamer, format, err := decoders[name](reader(data))
		if err == nil {
			return streamer, format, nil
		}
		lastErr = err
	}
	return nil, beep.Format{}, fmt.Errorf("no decoder accepted media (hint %q): %w", hint, lastErr)
}

func reader(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}

// beepSource adapts a beep float64 stereo streamer to the int16 pull
// interface, emitting samples interleaved across the output channels.
type beepSource struct {
	streamer beep.Streamer
	closer   beep.StreamSeekCloser
	channels int
	rate     int

	buf      [512][2]float64
	n        int
	pos      int
	chIdx    int
	finished bool
}

func (b *beepSource) ChannelCount() int { return b.channels }
func (b *beepSource) SampleRate() int   { return b.rate }
func (b *beepSource) OnBatchStart()     {}

func (b *beepSource) NextSample() (int16, audio.Kind, error) {
	if b.finished {
		return 0, audio.KindFinished, nil
	}
	if b.pos >= b.n {
		if err := b.refill(); err != nil {
			return 0, audio.KindFinished, err
		}
		if b.finished {
			return 0, audio.KindFinished, nil
		}
	}

	frame := b.buf[b.pos]
	var value float64
	if b.channels == 1 {
		value = (frame[0] + frame[1]) / 2
		b.pos++
	} else {
		value = frame[b.chIdx]
		b.chIdx++
		if b.chIdx == 2 {
			b.chIdx = 0
			b.pos++
		}
	}
	return quantize(value), audio.KindSample, nil
}

func (b *beepSource) refill() error {
	n, ok := b.streamer.Stream(b.buf[:])
	b.n = n
	b.pos = 0
	b.chIdx = 0
	if !ok || n == 0 {
		b.finished = true
		b.closer.Close()
		if err := b.streamer.Err(); err != nil {
			return fmt.Errorf("decode stream: %w", err)
		}
	}
	return nil
}

func quantize(v float64) int16 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	if v >= 0 {
		return int16(v * 32767)
	}
	return int16(v * 32768)
}
