// Copyright 2025 Outreach Corporation. All Rights Reserved.

// Package testserver launches a real valkey-server subprocess for
// integration tests, adapted from valkey/valkey.go's Valkey type: the same
// os/exec-managed lifecycle, generalized to pick its own free port and
// report it back as a vhclient.Endpoint instead of a fixed address.
package testserver

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/awinterman/vhclient/vhclient"
)

// Server wraps a valkey-server (or redis-server) process bound to an
// ephemeral port, for tests that want to exercise vhclient against the real
// wire protocol instead of a hand-rolled fake.
type Server struct {
	Binary string // defaults to "valkey-server"
	Host   string // defaults to 127.0.0.1
	Port   int    // chosen automatically in Start if zero

	cmd atomic.Pointer[exec.Cmd]
}

// Start picks a free port (unless Port is already set), launches the
// server, and blocks until it accepts TCP connections or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if s.Binary == "" {
		s.Binary = "valkey-server"
	}
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.Port == 0 {
		port, err := freePort()
		if err != nil {
			return fmt.Errorf("testserver: choosing a free port: %w", err)
		}
		s.Port = port
	}

	cmd := exec.CommandContext(ctx, s.Binary,
		"--save", "",
		"--appendonly", "no",
		"--port", strconv.Itoa(s.Port),
		"--bind", s.Host,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	s.cmd.Store(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("testserver: starting %s: %w", s.Binary, err)
	}
	return s.waitReady(ctx)
}

func (s *Server) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(5 * time.Second)
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("testserver: %s never accepted a connection on %s", s.Binary, addr)
}

// Endpoint reports the address to hand to vhclient.Config.Members.
func (s *Server) Endpoint() vhclient.Endpoint {
	return vhclient.Endpoint{Host: s.Host, Port: uint16(s.Port)}
}

// Stop cancels and reaps the subprocess.
func (s *Server) Stop() error {
	cmd := s.cmd.Load()
	if cmd == nil {
		return nil
	}
	if err := cmd.Cancel(); err != nil {
		return err
	}
	err := cmd.Wait()
	s.cmd.Store(nil)
	return err
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
