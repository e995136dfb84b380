// Copyright 2025 Outreach Corporation. All Rights Reserved.

// Package transport provides the byte-stream and event-signal primitives
// the connection manager is built on (SPEC_FULL.md §4.A, §4.B).
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// TLSConfig configures the optional TLS transport, mirroring spec.md §6's
// `tls: {enabled, ca_path?, cert_path?, key_path?}`.
type TLSConfig struct {
	Enabled  bool
	CAPath   string
	CertPath string
	KeyPath  string

	// ServerName overrides the TLS SNI / verification name; defaults to the
	// dialed host when empty.
	ServerName string

	// InsecureSkipVerify is for tests against self-signed fixtures only.
	InsecureSkipVerify bool
}

func (c TLSConfig) tlsConfig(host string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	if c.ServerName != "" {
		cfg.ServerName = c.ServerName
	}

	if c.CAPath != "" {
		pem, err := os.ReadFile(c.CAPath)
		if err != nil {
			return nil, fmt.Errorf("transport: reading CA file %q: %w", c.CAPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("transport: no certificates found in %q", c.CAPath)
		}
		cfg.RootCAs = pool
	}

	if c.CertPath != "" || c.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("transport: loading client keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// Stream is a bidirectional byte transport over TCP or TLS (component A).
// It is deliberately narrow: Send/Recv/OK/Close, nothing RESP-aware.
type Stream interface {
	// OK reports whether the stream is still believed alive. Once false,
	// it stays false.
	OK() bool

	// Send writes buf in its entirety or returns alive=false.
	Send(buf []byte) (n int, alive bool)

	// Recv reads into buf, returning the number of bytes read and whether
	// the stream is still alive. It may return n=0, alive=true when the
	// underlying transport buffered plaintext that has not yet been
	// handed back (relevant for TLS record reassembly) -- callers must
	// retry rather than treat 0 as EOF.
	Recv(buf []byte) (n int, alive bool)

	// SetReadDeadline unblocks a pending Recv, used by the connection
	// manager to implement the shutdown signal without a second pollable
	// fd (see transport.Signal and SPEC_FULL.md §4.F).
	SetReadDeadline(t time.Time) error

	Close() error
}

// netStream wraps a net.Conn (TCP or TLS) as a Stream.
type netStream struct {
	conn net.Conn
	ok   atomic.Bool
}

// Dial opens a TCP connection to addr, promoting it to TLS if tlsCfg is
// enabled. Constructor for component A.
func Dial(addr string, tlsCfg TLSConfig, dialTimeout time.Duration) (Stream, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	if tlsCfg.Enabled {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		cfg, cfgErr := tlsCfg.tlsConfig(host)
		if cfgErr != nil {
			conn.Close()
			return nil, cfgErr
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.Handshake(); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("transport: TLS handshake with %q: %w", addr, err)
		}
		conn = tlsConn
	}

	s := &netStream{conn: conn}
	s.ok.Store(true)
	return s, nil
}

func (s *netStream) OK() bool { return s.ok.Load() }

func (s *netStream) Send(buf []byte) (int, bool) {
	n, err := s.conn.Write(buf)
	if err != nil {
		s.ok.Store(false)
		return n, false
	}
	return n, true
}

func (s *netStream) Recv(buf []byte) (int, bool) {
	n, err := s.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			// A deadline set by the caller (see streamReader in vhclient)
			// elapsed with no data; the stream is still alive.
			return n, true
		}
		s.ok.Store(false)
		return n, false
	}
	return n, true
}

func (s *netStream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *netStream) Close() error {
	s.ok.Store(false)
	return s.conn.Close()
}
