// Copyright 2025 Outreach Corporation. All Rights Reserved.

package pubsub

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/awinterman/vhclient/resp"
	"github.com/awinterman/vhclient/transport"
	"github.com/awinterman/vhclient/vhclient"
)

// Options configures a Subscriber. It mirrors the parts of vhclient.Config
// that a push-only connection needs; there is no BackpressureStrategy or
// request stager here.
type Options struct {
	Members     []vhclient.Endpoint
	TLS         transport.TLSConfig
	DialTimeout time.Duration
	Handshake   vhclient.Handshake
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Subscriber maintains SUBSCRIBE/PSUBSCRIBE state across reconnects,
// replaying it before any pushed message can be mistaken for a fresh
// subscription ack (component G). Constructing with a nil Listener panics,
// matching BaseSubscriber's contract that a subscriber with nowhere to
// deliver messages is a programming error, not a runtime one.
type Subscriber struct {
	opts     Options
	listener Listener
	parser   *resp.Parser
	shutdown transport.Signal

	mu       sync.Mutex
	channels map[string]struct{}
	patterns map[string]struct{}

	streamMu sync.Mutex
	stream   transport.Stream

	done chan struct{}
}

// NewSubscriber starts the subscriber's connection loop in the background.
func NewSubscriber(opts Options, listener Listener) *Subscriber {
	if listener == nil {
		panic("pubsub: NewSubscriber requires a non-nil Listener")
	}
	if len(opts.Members) == 0 {
		panic("pubsub: NewSubscriber requires at least one member")
	}

	s := &Subscriber{
		opts:     opts.withDefaults(),
		listener: listener,
		parser:   &resp.Parser{},
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Subscribe adds channels to the live subscription set, issuing SUBSCRIBE
// immediately if connected (written on the caller's goroutine; see trySend).
func (s *Subscriber) Subscribe(channels ...string) {
	s.mu.Lock()
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	s.mu.Unlock()
	s.trySend(resp.Encode(append([]string{"SUBSCRIBE"}, channels...)...))
}

func (s *Subscriber) Unsubscribe(channels ...string) {
	s.mu.Lock()
	for _, ch := range channels {
		delete(s.channels, ch)
	}
	s.mu.Unlock()
	s.trySend(resp.Encode(append([]string{"UNSUBSCRIBE"}, channels...)...))
}

func (s *Subscriber) PSubscribe(patterns ...string) {
	s.mu.Lock()
	for _, p := range patterns {
		s.patterns[p] = struct{}{}
	}
	s.mu.Unlock()
	s.trySend(resp.Encode(append([]string{"PSUBSCRIBE"}, patterns...)...))
}

func (s *Subscriber) PUnsubscribe(patterns ...string) {
	s.mu.Lock()
	for _, p := range patterns {
		delete(s.patterns, p)
	}
	s.mu.Unlock()
	s.trySend(resp.Encode(append([]string{"PUNSUBSCRIBE"}, patterns...)...))
}

// trySend writes directly to the live stream if one is connected. If the
// subscriber is mid-reconnect, the change is a no-op here: snapshot() in
// serve() will pick it up and replay it once the next connection is up.
func (s *Subscriber) trySend(buf []byte) {
	s.streamMu.Lock()
	stream := s.stream
	s.streamMu.Unlock()
	if stream != nil {
		sendFully(stream, buf)
	}
}

func (s *Subscriber) setStream(stream transport.Stream) {
	s.streamMu.Lock()
	s.stream = stream
	s.streamMu.Unlock()
}

// Close tears down the subscriber's connection permanently.
func (s *Subscriber) Close() {
	s.shutdown.Notify()
	s.streamMu.Lock()
	if s.stream != nil {
		s.stream.Close() // unblocks a Recv the serve loop is parked in
	}
	s.streamMu.Unlock()
	<-s.done
}

func (s *Subscriber) snapshot() (channels, patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	for p := range s.patterns {
		patterns = append(patterns, p)
	}
	return
}

func (s *Subscriber) run() {
	defer close(s.done)
	bo := vhclient.NewBackoff()
	member := 0

	for {
		if s.shutdown.Fired() {
			return
		}

		target := s.opts.Members[member%len(s.opts.Members)]
		member++

		stream, err := transport.Dial(target.String(), s.opts.TLS, s.opts.DialTimeout)
		if err != nil {
			s.opts.Logger.Warn("pubsub: dial failed", "target", target, "err", err)
			if !s.sleepOrStop(bo.Next()) {
				return
			}
			continue
		}

		if err := s.handshake(stream); err != nil {
			stream.Close()
			s.opts.Logger.Warn("pubsub: handshake failed", "target", target, "err", err)
			if !s.sleepOrStop(bo.Next()) {
				return
			}
			continue
		}

		bo.Reset()
		if s.serve(stream) {
			stream.Close()
			return
		}
		stream.Close()

		if !s.sleepOrStop(bo.Next()) {
			return
		}
	}
}

func (s *Subscriber) sleepOrStop(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.shutdown.Done():
		return false
	}
}

func (s *Subscriber) handshake(stream transport.Stream) error {
	h := s.opts.Handshake
	if h == nil {
		return nil
	}
	h.Restart()
	reader := bufio.NewReader(&clampedReader{stream})
	for round := 0; round < 8; round++ {
		batches := h.Provide()
		replies := make([]*resp.Reply, 0, len(batches))
		for _, argv := range batches {
			if !sendFully(stream, resp.Encode(argv...)) {
				return fmt.Errorf("pubsub: handshake write failed")
			}
			reply, err := s.parser.ReadReply(reader)
			if err != nil {
				return err
			}
			replies = append(replies, reply)
		}
		switch h.Validate(replies) {
		case vhclient.ValidComplete:
			return nil
		case vhclient.Invalid:
			return vhclient.ErrHandshakeRejected
		}
	}
	return vhclient.ErrHandshakeRoundsExceeded
}

// serve resubscribes to everything tracked, then reads pushed messages
// until the stream dies (returns false, reconnect) or shutdown fires
// (returns true, stop for good).
func (s *Subscriber) serve(stream transport.Stream) (stopped bool) {
	s.setStream(stream)
	defer s.setStream(nil)

	channels, patterns := s.snapshot()
	if len(channels) > 0 && !sendFully(stream, resp.Encode(append([]string{"SUBSCRIBE"}, channels...)...)) {
		return false
	}
	if len(patterns) > 0 && !sendFully(stream, resp.Encode(append([]string{"PSUBSCRIBE"}, patterns...)...)) {
		return false
	}

	reader := bufio.NewReader(&clampedReader{stream})
	for {
		select {
		case <-s.shutdown.Done():
			return true
		default:
		}

		reply, err := s.parser.ReadReply(reader)
		if err != nil {
			return false
		}
		msg, ok := translate(reply)
		if !ok {
			s.opts.Logger.Warn("pubsub: unrecognized push", "reply", reply.String())
			continue
		}
		s.listener(msg)
	}
}

func sendFully(stream transport.Stream, buf []byte) bool {
	for len(buf) > 0 {
		n, alive := stream.Send(buf)
		if !alive {
			return false
		}
		buf = buf[n:]
	}
	return true
}

// clampedReader adapts a transport.Stream to io.Reader without the
// deadline-poll dance vhclient's reader.go uses: pubsub's serve loop only
// needs to notice shutdown between messages, which the select above already
// does, so a plain blocking Recv is enough here.
type clampedReader struct {
	stream transport.Stream
}

func (r *clampedReader) Read(p []byte) (int, error) {
	n, alive := r.stream.Recv(p)
	if !alive {
		return n, io.EOF
	}
	return n, nil
}

// translate converts a raw RESP2 push array into a Message, reporting false
// for anything that isn't one of the six shapes pub/sub ever sends.
func translate(r *resp.Reply) (Message, bool) {
	if r.Kind != resp.Array || len(r.Array) < 3 {
		return Message{}, false
	}
	head := r.Array[0]
	if head.Kind != resp.Bulk {
		return Message{}, false
	}

	switch string(head.Bulk) {
	case "message":
		return Message{Kind: KindMessage, Channel: string(r.Array[1].Bulk), Payload: r.Array[2].Bulk}, true
	case "pmessage":
		if len(r.Array) < 4 {
			return Message{}, false
		}
		return Message{Kind: KindPMessage, Pattern: string(r.Array[1].Bulk), Channel: string(r.Array[2].Bulk), Payload: r.Array[3].Bulk}, true
	case "subscribe":
		return Message{Kind: KindSubscribe, Channel: string(r.Array[1].Bulk), Count: r.Array[2].Int}, true
	case "unsubscribe":
		return Message{Kind: KindUnsubscribe, Channel: string(r.Array[1].Bulk), Count: r.Array[2].Int}, true
	case "psubscribe":
		return Message{Kind: KindPSubscribe, Pattern: string(r.Array[1].Bulk), Count: r.Array[2].Int}, true
	case "punsubscribe":
		return Message{Kind: KindPUnsubscribe, Pattern: string(r.Array[1].Bulk), Count: r.Array[2].Int}, true
	default:
		return Message{}, false
	}
}
