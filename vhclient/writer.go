// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import "github.com/awinterman/vhclient/transport"

// sendAll writes buf to stream in full, reporting false if the stream died
// partway through.
func sendAll(stream transport.Stream, buf []byte) bool {
	for len(buf) > 0 {
		n, alive := stream.Send(buf)
		if !alive {
			return false
		}
		buf = buf[n:]
	}
	return true
}

// runWriterLoop drains the stager onto stream until a write fails or stop
// fires. It is spawned fresh per connection attempt by the connection
// manager (component E) -- grounded on WriterThread::eventLoop in
// original_source/src/WriterThread.hh, which likewise runs for the
// lifetime of one activated stream and returns on first write failure,
// leaving reconnection to the owning QClient.
//
// Normal (non-handshake) traffic is held back until handshakeDone fires,
// so user requests can never race ahead of the handshake on the wire.
func runWriterLoop(stream transport.Stream, stager *Stager, handshakeDone <-chan struct{}, stop <-chan struct{}) {
	select {
	case <-handshakeDone:
	case <-stop:
		return
	}

	for {
		req, ok := stager.Next(stop)
		if !ok {
			return
		}
		if !sendAll(stream, req.bytes) {
			stager.Requeue(req)
			return
		}
		stager.MarkAwaiting(req)
	}
}
