/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"sync"
)

// commandBuffer bounds how many unapplied commands can be outstanding. The
// render goroutine drains the buffer every batch, so a full buffer clears
// within one tick.
const commandBuffer = 256

type commandKind uint8

const (
	cmdAdd commandKind = iota
	cmdSetVolume
)

// command is a single deferred mutation on a Player. Commands are created on
// control goroutines and applied only by the render goroutine at a batch
// boundary.
type command struct {
	kind   commandKind
	src    Source
	volume float32
}

func (c command) apply(p *Player) {
	switch c.kind {
	case cmdAdd:
		p.Add(c.src)
	case cmdSetVolume:
		p.SetVolume(c.volume)
	}
}

// Controllable owns a Player and applies commands sent by its paired
// Controller. All pending commands are drained in FIFO order at the start of
// each render batch, never mid-batch, so a control-side mutation is atomic
// with respect to sample production. Once every Controller handle is closed
// the Controllable turns terminal and reports Finished on empty instead of
// Paused.
type Controllable struct {
	inner    *Player
	cmds     <-chan command
	wake     chan<- struct{}
	finished bool
}

// Controller is the control-side handle of a Controllable. It is cheap to
// clone; the paired Controllable finishes when the last clone is closed.
type Controller struct {
	shared *controlShared
	closed bool
}

type controlShared struct {
	mu     sync.Mutex
	refs   int
	closed bool
	cmds   chan command
	wake   chan struct{}
}

// NewControllable pairs player with a Controller. The caller hands the
// returned Controllable to the render graph and keeps the Controller on the
// control side.
func NewControllable(player *Player) (*Controllable, *Controller) {
	shared := &controlShared{
		refs: 1,
		cmds: make(chan command, commandBuffer),
		// Single slot so that wakes issued before the waiter registers are
		// kept, and multiple wakes coalesce into one.
		wake: make(chan struct{}, 1),
	}
	controllable := &Controllable{
		inner: player,
		cmds:  shared.cmds,
		wake:  shared.wake,
	}
	return controllable, &Controller{shared: shared}
}

func (c *Controllable) ChannelCount() int { return c.inner.ChannelCount() }
func (c *Controllable) SampleRate() int   { return c.inner.SampleRate() }

// OnBatchStart drains pending commands, arms the prefetch wake if the inner
// player runs low, and forwards the batch boundary to the player.
func (c *Controllable) OnBatchStart() {
drain:
	for {
		select {
		case cmd, ok := <-c.cmds:
			if !ok {
				c.finished = true
				break drain
			}
			cmd.apply(c.inner)
		default:
			break drain
		}
	}
	if c.inner.PrefetchNeeded() {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
	c.inner.OnBatchStart()
}

// NextSample forwards to the inner player. While not terminal an empty
// player reports Paused rather than Finished: the branch stays in the mixer
// topology and contributes silence until new content arrives.
func (c *Controllable) NextSample() (int16, Kind, error) {
	s, kind, err := c.inner.NextSample()
	if kind == KindFinished && !c.finished {
		return 0, KindPaused, nil
	}
	return s, kind, err
}

// Add queues a source append. Ownership of src moves to the render side.
func (ctl *Controller) Add(src Source) {
	ctl.send(command{kind: cmdAdd, src: src})
}

// SetVolume queues a volume change on the controlled player.
func (ctl *Controller) SetVolume(volume float32) {
	ctl.send(command{kind: cmdSetVolume, volume: volume})
}

func (ctl *Controller) send(cmd command) {
	ctl.shared.mu.Lock()
	defer ctl.shared.mu.Unlock()
	if ctl.shared.closed {
		return
	}
	ctl.shared.cmds <- cmd
}

// WaitForQueue blocks until the render side observes the controlled player
// at or below its prefetch threshold, or ctx is done. Wakes issued while no
// one is waiting are retained; consecutive wakes collapse into one.
func (ctl *Controller) WaitForQueue(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ctl.shared.wake:
		return nil
	}
}

// Clone returns an additional handle to the same Controllable.
func (ctl *Controller) Clone() *Controller {
	ctl.shared.mu.Lock()
	defer ctl.shared.mu.Unlock()
	ctl.shared.refs++
	return &Controller{shared: ctl.shared}
}

// Close releases this handle. Closing the last handle finalizes the paired
// Controllable: it drains remaining commands and then reports Finished once
// its player is empty. Close is idempotent per handle.
func (ctl *Controller) Close() {
	if ctl.closed {
		return
	}
	ctl.closed = true

	ctl.shared.mu.Lock()
	defer ctl.shared.mu.Unlock()
	ctl.shared.refs--
	if ctl.shared.refs == 0 && !ctl.shared.closed {
		ctl.shared.closed = true
		close(ctl.shared.cmds)
	}
}
