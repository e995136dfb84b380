// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import "time"

// Backoff implements the reconnect delay schedule from spec.md §4.F:
// starts at 1ms, grows by 1ms per consecutive failed attempt, and caps at
// 2048ms. Reset returns it to 1ms; vhclient.Client and pubsub.Subscriber
// call Reset once a connection attempt has dialed and completed its
// handshake, before any reply is read, not on the first successful read.
// Exported so pubsub's independent connection loop (which
// cannot share vhclient.Client's stager-bound run loop) can reuse the same
// schedule rather than re-deriving it.
type Backoff struct {
	cur time.Duration
}

const (
	backoffStart = time.Millisecond
	backoffStep  = time.Millisecond
	backoffMax   = 2048 * time.Millisecond
)

func NewBackoff() *Backoff { return &Backoff{cur: backoffStart} }

// Next returns the delay to wait before the next attempt, then advances
// the schedule.
func (b *Backoff) Next() time.Duration {
	d := b.cur
	b.cur += backoffStep
	if b.cur > backoffMax {
		b.cur = backoffMax
	}
	return d
}

func (b *Backoff) Reset() { b.cur = backoffStart }

type backoff = Backoff

func newBackoff() *backoff { return NewBackoff() }
