/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func drainSamples(t *testing.T, p *Player, n int) []int16 {
	t.Helper()
	out := make([]int16, 0, n)
	for len(out) < n {
		s, kind, err := p.NextSample()
		if err != nil {
			t.Fatalf("player returned error: %v", err)
		}
		if kind != KindSample {
			t.Fatalf("expected sample, got %v", kind)
		}
		out = append(out, s)
	}
	return out
}

func TestPlayerEmitsMetadataBeforeFirstSampleOfNewQueue(t *testing.T) {
	p := NewPlayer(2, zerolog.Nop())
	p.Add(NewBufferSource([]int16{100, 200}, 2, 48000))

	_, kind, err := p.NextSample()
	if err != nil {
		t.Fatalf("next sample: %v", err)
	}
	if kind != KindMetadataChanged {
		t.Fatalf("expected MetadataChanged on first pull after add to empty queue, got %v", kind)
	}

	s, kind, _ := p.NextSample()
	if kind != KindSample || s != 100 {
		t.Fatalf("expected first sample 100, got %d (%v)", s, kind)
	}
}

func TestPlayerPlaysTracksInFIFOOrderWithBoundaryMetadata(t *testing.T) {
	p := NewPlayer(2, zerolog.Nop())
	p.Add(NewBufferSource([]int16{1, 2}, 2, 48000))
	p.Add(NewBufferSource([]int16{3, 4}, 2, 48000))

	if _, kind, _ := p.NextSample(); kind != KindMetadataChanged {
		t.Fatalf("expected initial MetadataChanged, got %v", kind)
	}
	if got := drainSamples(t, p, 2); got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected first track samples: %v", got)
	}

	// Track boundary: exactly one MetadataChanged, never the next track's
	// first sample spliced in directly.
	if _, kind, _ := p.NextSample(); kind != KindMetadataChanged {
		t.Fatalf("expected MetadataChanged at track boundary, got %v", kind)
	}
	if got := drainSamples(t, p, 2); got[0] != 3 || got[1] != 4 {
		t.Fatalf("unexpected second track samples: %v", got)
	}

	if _, kind, _ := p.NextSample(); kind != KindFinished {
		t.Fatalf("expected Finished on empty queue, got %v", kind)
	}
}

type failingSource struct{ calls int }

func (f *failingSource) ChannelCount() int { return 2 }
func (f *failingSource) SampleRate() int   { return 48000 }
func (f *failingSource) OnBatchStart()     {}
func (f *failingSource) NextSample() (int16, Kind, error) {
	f.calls++
	if f.calls > 1 {
		return 0, KindSample, errors.New("decode failure")
	}
	return 7, KindSample, nil
}

func TestPlayerTreatsSourceErrorAsEndOfTrack(t *testing.T) {
	p := NewPlayer(2, zerolog.Nop())
	p.Add(&failingSource{})
	p.Add(NewBufferSource([]int16{9}, 2, 48000))

	p.NextSample() // MetadataChanged
	if s, kind, _ := p.NextSample(); kind != KindSample || s != 7 {
		t.Fatalf("expected sample 7, got %d (%v)", s, kind)
	}

	// The failing source is dropped; the error never surfaces.
	_, kind, err := p.NextSample()
	if err != nil {
		t.Fatalf("error must not propagate out of the player: %v", err)
	}
	if kind != KindMetadataChanged {
		t.Fatalf("expected MetadataChanged after dropped track, got %v", kind)
	}
	if s, kind, _ := p.NextSample(); kind != KindSample || s != 9 {
		t.Fatalf("expected next track sample 9, got %d (%v)", s, kind)
	}
}

func TestPlayerPrefetchThreshold(t *testing.T) {
	p := NewPlayer(2, zerolog.Nop())
	if !p.PrefetchNeeded() {
		t.Fatal("empty player must need prefetch")
	}
	p.Add(NewBufferSource(nil, 2, 48000))
	p.Add(NewBufferSource(nil, 2, 48000))
	if !p.PrefetchNeeded() {
		t.Fatal("player at threshold must need prefetch")
	}
	p.Add(NewBufferSource(nil, 2, 48000))
	if p.PrefetchNeeded() {
		t.Fatal("player above threshold must not need prefetch")
	}
}

func TestPlayerVolumeScalingClampsToSampleRange(t *testing.T) {
	cases := []struct {
		name   string
		volume float32
		in     int16
		want   int16
	}{
		{"half", 0.5, 10000, 5000},
		{"unity", 1.0, -32768, -32768},
		{"zero", 0.0, 25000, 0},
		{"overdrive positive", 1.5, 32767, 32767},
		{"overdrive negative", 1.5, -32768, -32768},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPlayer(2, zerolog.Nop())
			p.Add(NewBufferSource([]int16{tc.in}, 2, 48000))
			p.SetVolume(tc.volume)
			p.NextSample() // MetadataChanged
			s, kind, _ := p.NextSample()
			if kind != KindSample {
				t.Fatalf("expected sample, got %v", kind)
			}
			if s != tc.want {
				t.Fatalf("volume %v on %d: got %d, want %d", tc.volume, tc.in, s, tc.want)
			}
		})
	}
}

func TestCompletionSourceFiresOnceOnFinish(t *testing.T) {
	src, done := WithCompletion(NewBufferSource([]int16{1}, 2, 48000))

	src.NextSample()
	select {
	case <-done:
		t.Fatal("completion fired before source finished")
	default:
	}

	if _, kind, _ := src.NextSample(); kind != KindFinished {
		t.Fatalf("expected Finished, got %v", kind)
	}
	select {
	case <-done:
	default:
		t.Fatal("completion did not fire on Finished")
	}

	// Further pulls must not panic on the already-closed channel.
	src.NextSample()
}
