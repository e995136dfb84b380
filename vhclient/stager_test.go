package vhclient

import (
	"testing"
	"time"

	"github.com/awinterman/vhclient/resp"
	"gotest.tools/v3/assert"
)

func TestStager_FIFOOrder(t *testing.T) {
	s := NewStager(NoBackpressure())

	f1 := s.StageFuture([]byte("a"), false)
	f2 := s.StageFuture([]byte("b"), false)

	req1, ok := s.Next(nil)
	assert.Assert(t, ok)
	assert.Equal(t, string(req1.bytes), "a")
	s.MarkAwaiting(req1)

	req2, ok := s.Next(nil)
	assert.Assert(t, ok)
	assert.Equal(t, string(req2.bytes), "b")
	s.MarkAwaiting(req2)

	assert.NilError(t, s.Satisfy(resp.NewStatus("first")))
	assert.NilError(t, s.Satisfy(resp.NewStatus("second")))

	assert.Equal(t, (<-f1).Status, "first")
	assert.Equal(t, (<-f2).Status, "second")
}

func TestStager_SatisfyWithNothingAwaiting(t *testing.T) {
	s := NewStager(NoBackpressure())
	assert.ErrorIs(t, s.Satisfy(resp.NewStatus("x")), ErrUnexpectedReply)
}

func TestStager_BackpressureBlocksThenReleases(t *testing.T) {
	s := NewStager(BlockingBackpressure(1))

	s.StageFuture([]byte("a"), false)

	staged := make(chan struct{})
	go func() {
		s.StageFuture([]byte("b"), false)
		close(staged)
	}()

	select {
	case <-staged:
		t.Fatal("second stage should have blocked under backpressure of 1")
	case <-time.After(50 * time.Millisecond):
	}

	req, ok := s.Next(nil)
	assert.Assert(t, ok)
	s.MarkAwaiting(req)
	assert.NilError(t, s.Satisfy(resp.NewStatus("ok")))

	select {
	case <-staged:
	case <-time.After(time.Second):
		t.Fatal("second stage never unblocked after satisfy")
	}
}

func TestStager_BypassSkipsBackpressure(t *testing.T) {
	s := NewStager(BlockingBackpressure(1))
	s.StageFuture([]byte("a"), false)

	done := make(chan struct{})
	go func() {
		s.StageFuture([]byte("bypass"), true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bypass request should not have blocked on backpressure")
	}
}

func TestStager_ResendPendingReordersAwaitingFirst(t *testing.T) {
	s := NewStager(NoBackpressure())
	s.StageFuture([]byte("a"), false)
	s.StageFuture([]byte("b"), false)

	req, ok := s.Next(nil)
	assert.Assert(t, ok)
	s.MarkAwaiting(req) // "a" is now awaiting, "b" still queued to write

	s.ResendPending()

	next, ok := s.Next(nil)
	assert.Assert(t, ok)
	assert.Equal(t, string(next.bytes), "a")

	next, ok = s.Next(nil)
	assert.Assert(t, ok)
	assert.Equal(t, string(next.bytes), "b")
}

func TestStager_ClearPendingResolvesNil(t *testing.T) {
	s := NewStager(NoBackpressure())
	f := s.StageFuture([]byte("a"), false)
	s.ClearPending()
	assert.Assert(t, <-f == nil)
}

func TestStager_RequeuePutsRequestBackAtFront(t *testing.T) {
	s := NewStager(NoBackpressure())
	s.StageFuture([]byte("a"), false)
	s.StageFuture([]byte("b"), false)

	req, ok := s.Next(nil)
	assert.Assert(t, ok)
	assert.Equal(t, string(req.bytes), "a")
	s.Requeue(req)

	next, ok := s.Next(nil)
	assert.Assert(t, ok)
	assert.Equal(t, string(next.bytes), "a")
}
