/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package encoder turns PCM chunks into MP3 frames via LAME. Every listener
// connection owns its own Encoder so stream headers, bit reservoir and
// Huffman state are never shared between listeners.
package encoder

import (
	"fmt"
	"io"

	"github.com/viert/go-lame"
)

// Params are the process-wide encoding parameters, fixed at configuration
// time and shared by all connections.
type Params struct {
	SampleRate  int
	Channels    int
	BitrateKbps int
	// Quality is the LAME algorithm quality, 0 (best) to 9 (fastest).
	Quality int
}

// Legal LAME bitrates. MPEG-1 applies at 32 kHz and above, MPEG-2/2.5 below.
var (
	mpeg1SampleRates = map[int]bool{32000: true, 44100: true, 48000: true}
	mpeg2SampleRates = map[int]bool{
		8000: true, 11025: true, 12000: true,
		16000: true, 22050: true, 24000: true,
	}
	mpeg1Bitrates = map[int]bool{
		32: true, 40: true, 48: true, 56: true, 64: true, 80: true, 96: true,
		112: true, 128: true, 160: true, 192: true, 224: true, 256: true, 320: true,
	}
	mpeg2Bitrates = map[int]bool{
		8: true, 16: true, 24: true, 32: true, 40: true, 48: true, 56: true,
		64: true, 80: true, 96: true, 112: true, 128: true, 144: true, 160: true,
	}
)

// Validate rejects parameter combinations LAME cannot encode. Called once at
// startup; a failure here is a static configuration defect and fatal.
func (p Params) Validate() error {
	if p.Channels < 1 || p.Channels > 2 {
		return fmt.Errorf("unsupported channel count %d (must be 1 or 2)", p.Channels)
	}
	if p.Quality < 0 || p.Quality > 9 {
		return fmt.Errorf("quality %d out of range 0..9", p.Quality)
	}
	switch {
	case mpeg1SampleRates[p.SampleRate]:
		if !mpeg1Bitrates[p.BitrateKbps] {
			return fmt.Errorf("bitrate %d kbps invalid for sample rate %d Hz", p.BitrateKbps, p.SampleRate)
		}
	case mpeg2SampleRates[p.SampleRate]:
		if !mpeg2Bitrates[p.BitrateKbps] {
			return fmt.Errorf("bitrate %d kbps invalid for sample rate %d Hz", p.BitrateKbps, p.SampleRate)
		}
	default:
		return fmt.Errorf("unsupported sample rate %d Hz", p.SampleRate)
	}
	return nil
}

// Encoder is a stateful per-connection MP3 encoder writing encoded bytes to
// its sink as frames complete.
type Encoder struct {
	enc     *lame.Encoder
	scratch []byte
}

// New creates an encoder writing MP3 data to sink. The caller must Close it
// to flush the final frames.
func New(p Params, sink io.Writer) (*Encoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	enc := lame.NewEncoder(sink)
	if err := enc.SetNumChannels(p.Channels); err != nil {
		return nil, fmt.Errorf("set channels: %w", err)
	}
	if err := enc.SetInSamplerate(p.SampleRate); err != nil {
		return nil, fmt.Errorf("set sample rate: %w", err)
	}
	if err := enc.SetBrate(p.BitrateKbps); err != nil {
		return nil, fmt.Errorf("set bitrate: %w", err)
	}
	if err := enc.SetQuality(p.Quality); err != nil {
		return nil, fmt.Errorf("set quality: %w", err)
	}

	return &Encoder{enc: enc}, nil
}

// EncodeChunk feeds one chunk of interleaved samples into the encoder.
// Encoded bytes are written to the sink as LAME completes frames.
func (e *Encoder) EncodeChunk(chunk []int16) error {
	need := len(chunk) * 2
	if cap(e.scratch) < need {
		e.scratch = make([]byte, need)
	}
	buf := e.scratch[:need]
	for i, s := range chunk {
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	if _, err := e.enc.Write(buf); err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	return nil
}

// Close flushes the trailing frames and releases the LAME context.
func (e *Encoder) Close() {
	e.enc.Close()
}
