// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import (
	"io"
	"time"

	"github.com/awinterman/vhclient/transport"
)

// pollInterval bounds how long a single Recv call blocks before the reader
// loop re-checks its stop channel -- the Go stand-in for the teacher's
// second pollable shutdown-eventfd (SPEC_FULL.md §4.F REDESIGN FLAG).
const pollInterval = 200 * time.Millisecond

// streamReader adapts a transport.Stream into an io.Reader that returns
// io.EOF when stop fires, so a *bufio.Reader built on top of it can be used
// with a normal blocking ReadReply call while still being interruptible.
type streamReader struct {
	stream transport.Stream
	stop   <-chan struct{}
}

func (r *streamReader) Read(p []byte) (int, error) {
	for {
		select {
		case <-r.stop:
			return 0, io.EOF
		default:
		}

		r.stream.SetReadDeadline(time.Now().Add(pollInterval))
		n, alive := r.stream.Recv(p)
		if !alive {
			return n, io.EOF
		}
		if n > 0 {
			return n, nil
		}
	}
}
