// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import (
	"bufio"
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/awinterman/vhclient/resp"
	"github.com/awinterman/vhclient/transport"
)

// State is the connection manager's lifecycle state (spec.md §4.F).
type State int

const (
	StateInit State = iota
	StateConnecting
	StateHandshaking
	StateConnected
	StateReconnecting
	StateRedirectPending
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateRedirectPending:
		return "redirect-pending"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Client is the pipelined RESP connection manager (components D, E, F, I).
// One Client owns one logical connection at a time, failing over between
// Config.Members and following MOVED redirects transparently when
// configured to.
type Client struct {
	cfg       *Config
	stager    *Stager
	listeners *listenerRegistry
	shutdown  transport.Signal
	parser    *resp.Parser
	log       *slog.Logger

	mu            sync.Mutex
	state         State
	epoch         uint64
	nextMember    int
	redirectTo    *Endpoint
	unavailableAt *time.Time
	bo            *backoff

	wg conc.WaitGroup
}

// NewClient constructs a Client and starts its connection-manager goroutine
// in the background; construction never blocks on a successful connection.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Members) == 0 {
		return nil, ErrNoMembers
	}
	full := cfg.withDefaults()
	if full.Handshake == nil {
		full.Handshake = noopHandshake{}
	}

	c := &Client{
		cfg:       full,
		stager:    NewStager(full.BackpressureStrategy),
		listeners: newListenerRegistry(),
		parser:    &resp.Parser{MaxBulkLen: full.MaxBulkLen},
		log:       full.Logger,
	}

	c.wg.Go(c.run)
	return c, nil
}

// State reports the connection manager's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch reports the current connection epoch (bumped on each successful
// connect).
func (c *Client) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// AttachListener registers a ConnectionListener and returns a handle used
// to detach it later.
func (c *Client) AttachListener(l ConnectionListener) *listenerHandle {
	return c.listeners.Attach(l)
}

// Execute stages argv and blocks for its reply, honoring ctx for
// cancellation. A nil reply with a nil error means the request was
// abandoned (shutdown or retry exhaustion) without a wire-level answer.
func (c *Client) Execute(ctx context.Context, argv ...string) (*resp.Reply, error) {
	future := c.stager.StageFuture(resp.Encode(argv...), false)
	select {
	case reply := <-future:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExecuteCB stages argv and invokes cb with the reply asynchronously,
// without blocking the caller.
func (c *Client) ExecuteCB(argv []string, cb func(*resp.Reply)) {
	c.stager.StageCallback(resp.Encode(argv...), cb, false)
}

// ExecuteMulti stages MULTI, every command in mb, and EXEC as consecutive
// requests (one stager slot each) and returns the replies to MULTI, every
// queued command, and EXEC, in that order.
func (c *Client) ExecuteMulti(ctx context.Context, mb *MultiBuilder) ([]*resp.Reply, error) {
	want := mb.Len() + 2
	replies := make([]*resp.Reply, 0, want)
	futures := make([]<-chan *resp.Reply, want)

	// A MultiBuilder's wire bytes are N+2 independently-framed RESP values,
	// so each gets its own stager slot to preserve per-reply FIFO ordering
	// against any other traffic interleaved by a concurrent caller.
	bytesPerItem := splitMultiBuild(mb)
	for i, b := range bytesPerItem {
		futures[i] = c.stager.StageFuture(b, false)
	}
	for _, f := range futures {
		select {
		case r := <-f:
			replies = append(replies, r)
		case <-ctx.Done():
			return replies, ctx.Err()
		}
	}
	return replies, nil
}

func splitMultiBuild(mb *MultiBuilder) [][]byte {
	out := make([][]byte, 0, mb.Len()+2)
	out = append(out, resp.Encode("MULTI"))
	for _, argv := range mb.argvs {
		out = append(out, resp.Encode(argv...))
	}
	out = append(out, resp.Encode("EXEC"))
	return out
}

// Close begins an orderly shutdown: the connection manager stops
// reconnecting, abandons pending requests, and tears down the active
// stream. Close blocks until the manager goroutine has exited.
func (c *Client) Close() error {
	c.setState(StateShuttingDown)
	c.shutdown.Notify()
	c.stager.Close()
	c.wg.Wait()
	c.setState(StateTerminated)
	return nil
}

// run is the connection manager's single long-lived goroutine: it owns
// dialing, handshaking, reading replies, and deciding when to reconnect,
// redirect, or give up -- the Go analogue of QClient's eventLoop thread in
// original_source/src/QClient.cc.
func (c *Client) run() {
	for {
		if c.shutdown.Fired() {
			c.stager.ClearPending()
			return
		}

		target := c.pickTarget()
		c.setState(StateConnecting)

		stream, err := c.dial(target)
		if err != nil {
			c.log.Warn("vhclient: dial failed", "target", target, "err", err)
			if !c.waitBackoffOrGiveUp() {
				return
			}
			continue
		}

		c.setState(StateHandshaking)
		handshakeDone := make(chan struct{})
		reader := bufio.NewReader(&streamReader{stream: stream, stop: c.shutdown.Done()})

		hsErr := runHandshake(c.cfg.Handshake,
			func(b []byte) bool { return sendAll(stream, b) },
			func() (*resp.Reply, error) { return c.parser.ReadReply(reader) },
			c.cfg.MaxHandshakeRounds)
		if hsErr != nil {
			stream.Close()
			c.log.Warn("vhclient: handshake failed", "target", target, "err", hsErr)
			if !c.waitBackoffOrGiveUp() {
				return
			}
			continue
		}
		close(handshakeDone)

		c.mu.Lock()
		c.epoch++
		epoch := c.epoch
		c.unavailableAt = nil
		if c.bo != nil {
			c.bo.Reset()
		}
		c.mu.Unlock()
		c.setState(StateConnected)
		c.listeners.notifyEstablished(epoch)
		c.log.Info("vhclient: connected", "target", target, "epoch", epoch)

		writerStop := make(chan struct{})
		var writerDone conc.WaitGroup
		writerDone.Go(func() { runWriterLoop(stream, c.stager, handshakeDone, writerStop) })

		redirect, readErr := c.readLoop(reader, stream)

		close(writerStop)
		writerDone.Wait()
		stream.Close()
		c.listeners.notifyLost(epoch, readErr)

		if c.shutdown.Fired() {
			c.stager.ClearPending()
			return
		}

		if redirect != nil {
			c.mu.Lock()
			c.redirectTo = redirect
			c.mu.Unlock()
			c.setState(StateRedirectPending)
			c.stager.ResendPending()
			continue
		}

		c.setState(StateReconnecting)
		if !c.waitBackoffOrGiveUp() {
			return
		}
	}
}

func (c *Client) pickTarget() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.redirectTo != nil {
		t := *c.redirectTo
		c.redirectTo = nil
		return t
	}
	t := c.cfg.Members[c.nextMember%len(c.cfg.Members)]
	c.nextMember++
	return t
}

func (c *Client) dial(target Endpoint) (transport.Stream, error) {
	addr := resolveIntercept(target).addr()
	return transport.Dial(addr, c.cfg.TLS, c.cfg.DialTimeout)
}

// waitBackoffOrGiveUp sleeps the next backoff interval and reports whether
// run() should keep trying to reconnect. RetryStrategy only governs how
// pending requests are resolved on each failure -- NoRetries abandons them
// immediately, WithTimeout abandons them once continuously unavailable past
// its timeout, InfiniteRetries never abandons them -- it does not stop the
// manager from reconnecting; StateTerminated is reached only via Close().
func (c *Client) waitBackoffOrGiveUp() bool {
	c.mu.Lock()
	if c.unavailableAt == nil {
		now := time.Now()
		c.unavailableAt = &now
	}
	since := time.Since(*c.unavailableAt)
	strategy := c.cfg.RetryStrategy
	c.mu.Unlock()

	switch strategy.Mode {
	case NoRetries:
		c.stager.ClearPending()
	case WithTimeout:
		if since >= strategy.Timeout {
			c.stager.ClearPending()
		}
	case InfiniteRetries:
		// pending requests survive until a successful reconnect resends them
	}

	delay := c.nextBackoff()
	select {
	case <-time.After(delay):
		return true
	case <-c.shutdown.Done():
		return false
	}
}

func (c *Client) nextBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bo == nil {
		c.bo = newBackoff()
	}
	return c.bo.Next()
}

// readLoop consumes replies until the stream dies or a MOVED redirect is
// seen. redirect is non-nil only in the latter case.
func (c *Client) readLoop(reader *bufio.Reader, stream transport.Stream) (redirect *Endpoint, err error) {
	for {
		reply, rerr := c.parser.ReadReply(reader)
		if rerr != nil {
			return nil, rerr
		}

		if c.cfg.TransparentRedirects && reply.Kind == resp.Error {
			if ep, ok := parseMoved(reply.Err.Error()); ok {
				return &ep, nil
			}
		}

		if serr := c.stager.Satisfy(reply); serr != nil {
			c.log.Warn("vhclient: unexpected reply with no matching request", "reply", reply.String())
		}

		select {
		case <-c.shutdown.Done():
			return nil, nil
		default:
		}
	}
}

// parseMoved parses a "MOVED <slot> host:port" error message.
func parseMoved(msg string) (Endpoint, bool) {
	fields := strings.Fields(msg)
	if len(fields) != 3 || fields[0] != "MOVED" {
		return Endpoint{}, false
	}
	host, portStr, ok := strings.Cut(fields[2], ":")
	if !ok {
		return Endpoint{}, false
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, false
	}
	return Endpoint{Host: host, Port: uint16(port)}, true
}
