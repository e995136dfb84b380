// Copyright 2025 Outreach Corporation. All Rights Reserved.

// Package vhclient is the pipelined RESP client: connection manager,
// request stager, writer loop, multi-builder and intercepts registry
// (SPEC_FULL.md components D, E, F, I).
package vhclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/awinterman/vhclient/transport"
)

// Endpoint is a (host, port) pair, the unit the connection manager dials
// and redirects between (spec.md §3).
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e Endpoint) addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// RetryMode selects how long the connection manager tolerates continuous
// unavailability before failing pending requests (spec.md §4.F).
type RetryMode int

const (
	NoRetries RetryMode = iota
	WithTimeout
	InfiniteRetries
)

// RetryStrategy governs per-connection (not per-request) retry behavior.
type RetryStrategy struct {
	Mode RetryMode

	// Timeout only applies when Mode == WithTimeout. Measured against a
	// monotonic clock (time.Time is always monotonic-backed in Go -- see
	// DESIGN.md for the Open Question this resolves).
	Timeout time.Duration
}

func NoRetriesStrategy() RetryStrategy { return RetryStrategy{Mode: NoRetries} }

func WithTimeoutStrategy(d time.Duration) RetryStrategy {
	return RetryStrategy{Mode: WithTimeout, Timeout: d}
}

func InfiniteRetriesStrategy() RetryStrategy { return RetryStrategy{Mode: InfiniteRetries} }

// BackpressureStrategy bounds the number of staged-but-unsatisfied requests
// (spec.md §4.D).
type BackpressureStrategy struct {
	// Bounded is false for {none}; true with MaxInFlight for {blocking(n)}.
	Bounded     bool
	MaxInFlight int
}

func NoBackpressure() BackpressureStrategy { return BackpressureStrategy{} }

func BlockingBackpressure(maxInFlight int) BackpressureStrategy {
	return BackpressureStrategy{Bounded: true, MaxInFlight: maxInFlight}
}

// Config is the client's full configuration (spec.md §6).
type Config struct {
	Members                []Endpoint
	TransparentRedirects   bool
	RetryStrategy          RetryStrategy
	BackpressureStrategy   BackpressureStrategy
	TLS                    transport.TLSConfig
	Handshake              Handshake
	DialTimeout            time.Duration
	Logger                 *slog.Logger
	MaxHandshakeRounds     int
	MaxBulkLen             int64
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxHandshakeRounds <= 0 {
		cfg.MaxHandshakeRounds = 8
	}
	return &cfg
}
