// Copyright 2025 Outreach Corporation. All Rights Reserved.

// Command vhcli is a redis-cli-style REPL over vhclient, demonstrating the
// connection manager, MOVED redirects, and reconnect handling against a
// real deployment. Grounded on cmd/anarchoredis/main.go's shape (parse
// config, run, exit non-zero on error) and server/config.go's go-arg tag
// conventions.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/awinterman/vhclient/transport"
	"github.com/awinterman/vhclient/vhclient"
)

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("vhcli exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg Config
	if err := cfg.parse(); err != nil {
		return err
	}

	members, err := cfg.endpoints()
	if err != nil {
		return err
	}

	client, err := vhclient.NewClient(vhclient.Config{
		Members:              members,
		TransparentRedirects: cfg.TransparentRedirects,
		DialTimeout:          cfg.DialTimeout,
		RetryStrategy:        cfg.retryStrategy(),
		TLS: transport.TLSConfig{
			Enabled: cfg.TLS,
			CAPath:  cfg.TLSCACert,
		},
	})
	if err != nil {
		return fmt.Errorf("vhcli: constructing client: %w", err)
	}
	defer client.Close()

	client.AttachListener(replLogger{})

	fmt.Fprintln(os.Stdout, "vhcli connected to", members)
	return repl(ctx, client, os.Stdin, os.Stdout)
}

// replLogger logs connection lifecycle events through slog's default
// logger, the CLI equivalent of the slog lines server.Run emits for
// accept/close.
type replLogger struct{}

func (replLogger) NotifyConnectionEstablished(epoch uint64) {
	slog.Info("connected", "epoch", epoch)
}

func (replLogger) NotifyConnectionLost(epoch uint64, err error) {
	slog.Warn("disconnected", "epoch", epoch, "err", err)
}

func repl(ctx context.Context, client *vhclient.Client, in *os.File, out *os.File) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, "> ")
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}

		argv := strings.Fields(line)
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		reply, err := client.Execute(reqCtx, argv...)
		cancel()

		switch {
		case err != nil:
			fmt.Fprintln(out, "(error)", err)
		case reply == nil:
			fmt.Fprintln(out, "(nil) -- request abandoned, connection gave up retrying")
		default:
			fmt.Fprintln(out, reply.String())
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}
