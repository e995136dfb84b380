// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import (
	"sync"

	"github.com/awinterman/vhclient/resp"
)

// staged is one pipelined request: bytes waiting to go out, and the means
// to deliver its eventual reply. Exactly one of future/callback is set.
type staged struct {
	bytes    []byte
	future   chan *resp.Reply
	callback func(*resp.Reply)

	// bypass exempts this request from the backpressure strategy
	// (SPEC_FULL.md §4.D). It has no effect on write or resend order.
	bypass bool
}

func (s *staged) resolve(r *resp.Reply) {
	if s.callback != nil {
		s.callback(r)
		return
	}
	s.future <- r
}

// Stager is the FIFO request stager (component D). One instance lives for
// the whole life of a Client and is shared across reconnects; only the
// writer loop watching it is restarted per connection attempt.
type Stager struct {
	mu         sync.Mutex
	notify     chan struct{}
	writeQueue []*staged
	awaiting   []*staged
	strategy   BackpressureStrategy
	closed     bool
}

func NewStager(strategy BackpressureStrategy) *Stager {
	return &Stager{
		notify:   make(chan struct{}, 1),
		strategy: strategy,
	}
}

func (s *Stager) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Stager) inFlightLocked() int {
	return len(s.writeQueue) + len(s.awaiting)
}

// StageFuture submits argv bytes and returns a channel that receives the
// reply (or nil, if the request is abandoned by ClearPending).
func (s *Stager) StageFuture(bytes []byte, bypass bool) <-chan *resp.Reply {
	future := make(chan *resp.Reply, 1)
	s.stage(&staged{bytes: bytes, future: future, bypass: bypass})
	return future
}

// StageCallback submits argv bytes with a callback invoked on reply.
func (s *Stager) StageCallback(bytes []byte, cb func(*resp.Reply), bypass bool) {
	s.stage(&staged{bytes: bytes, callback: cb, bypass: bypass})
}

func (s *Stager) stage(req *staged) {
	s.mu.Lock()
	for {
		if s.closed {
			s.mu.Unlock()
			req.resolve(nil)
			return
		}
		if req.bypass || !s.strategy.Bounded || s.inFlightLocked() < s.strategy.MaxInFlight {
			break
		}
		s.mu.Unlock()
		<-s.notify // woken on any satisfy/clear; re-check condition
		s.mu.Lock()
	}
	s.writeQueue = append(s.writeQueue, req)
	s.mu.Unlock()
	s.wake()
}

// Next blocks until a request is ready to be written, stop fires, or the
// stager is closed. ok is false in the latter two cases.
func (s *Stager) Next(stop <-chan struct{}) (*staged, bool) {
	for {
		s.mu.Lock()
		if len(s.writeQueue) > 0 {
			req := s.writeQueue[0]
			s.writeQueue = s.writeQueue[1:]
			s.mu.Unlock()
			return req, true
		}
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-stop:
			return nil, false
		}
	}
}

// Requeue puts a request that failed to write back at the front of the
// write queue -- it was never sent, so it must go out before anything
// staged after it.
func (s *Stager) Requeue(req *staged) {
	s.mu.Lock()
	s.writeQueue = append([]*staged{req}, s.writeQueue...)
	s.mu.Unlock()
	s.wake()
}

// MarkAwaiting records that req was fully written and is now waiting for
// its reply, preserving write order for Satisfy's FIFO pop.
func (s *Stager) MarkAwaiting(req *staged) {
	s.mu.Lock()
	s.awaiting = append(s.awaiting, req)
	s.mu.Unlock()
}

// Satisfy resolves the oldest awaiting request with reply, in FIFO order.
func (s *Stager) Satisfy(reply *resp.Reply) error {
	s.mu.Lock()
	if len(s.awaiting) == 0 {
		s.mu.Unlock()
		return ErrUnexpectedReply
	}
	req := s.awaiting[0]
	s.awaiting = s.awaiting[1:]
	s.mu.Unlock()
	req.resolve(reply)
	s.wake()
	return nil
}

// ResendPending moves every awaiting (sent-but-unsatisfied) request back in
// front of the write queue, ahead of anything not yet sent, so a new writer
// loop resends them in their original order after a reconnect
// (SPEC_FULL.md §4.D "drain_to_writer", grounded on the resend-on-reconnect
// behavior of original_source/src/QClient.cc's eventLoop).
func (s *Stager) ResendPending() {
	s.mu.Lock()
	if len(s.awaiting) > 0 {
		s.writeQueue = append(s.awaiting, s.writeQueue...)
		s.awaiting = nil
	}
	s.mu.Unlock()
	s.wake()
}

// ClearPending resolves every staged and awaiting request with a nil reply.
// Later Stage calls are accepted as usual; only Close makes them fail
// immediately. Used on permanent shutdown or when a RetryStrategy gives up.
func (s *Stager) ClearPending() {
	s.mu.Lock()
	pending := append(s.awaiting, s.writeQueue...)
	s.awaiting = nil
	s.writeQueue = nil
	s.mu.Unlock()

	for _, req := range pending {
		req.resolve(nil)
	}
	s.wake()
}

// Close marks the stager permanently closed: ClearPending plus rejecting
// all future Stage calls.
func (s *Stager) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ClearPending()
}

// PendingCount reports the current in-flight count, for tests and metrics.
func (s *Stager) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlightLocked()
}
