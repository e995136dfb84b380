// Copyright 2025 Outreach Corporation. All Rights Reserved.

package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/awinterman/vhclient/vhclient"
)

// Config is vhcli's command-line configuration, in the same
// arg/env/help/default tag style as server/config.go's Config.
type Config struct {
	Members              []string      `arg:"--members" env:"VHCLI_MEMBERS" help:"host:port member list, repeat the flag for each one" default:"127.0.0.1:6379"`
	TransparentRedirects bool          `arg:"--transparent-redirects" env:"VHCLI_TRANSPARENT_REDIRECTS" help:"follow MOVED redirects automatically" default:"true"`
	DialTimeout          time.Duration `arg:"--dial-timeout" env:"VHCLI_DIAL_TIMEOUT" help:"per-attempt dial timeout" default:"5s"`
	RetryTimeout         time.Duration `arg:"--retry-timeout" env:"VHCLI_RETRY_TIMEOUT" help:"give up pending requests after this much continuous unavailability; 0 means retry forever" default:"0s"`
	TLS                  bool          `arg:"--tls" env:"VHCLI_TLS" help:"use TLS for the connection"`
	TLSCACert            string        `arg:"--tls-ca-cert" env:"VHCLI_TLS_CA_CERT" help:"path to a CA bundle, if --tls is set"`
}

func (c *Config) parse() error {
	return arg.Parse(c)
}

func (c *Config) endpoints() ([]vhclient.Endpoint, error) {
	var out []vhclient.Endpoint
	for _, m := range c.Members {
		ep, err := parseEndpoint(m)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

func (c *Config) retryStrategy() vhclient.RetryStrategy {
	if c.RetryTimeout <= 0 {
		return vhclient.InfiniteRetriesStrategy()
	}
	return vhclient.WithTimeoutStrategy(c.RetryTimeout)
}

func parseEndpoint(s string) (vhclient.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return vhclient.Endpoint{}, fmt.Errorf("vhcli: invalid member %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return vhclient.Endpoint{}, fmt.Errorf("vhcli: invalid port in %q: %w", s, err)
	}
	return vhclient.Endpoint{Host: host, Port: uint16(port)}, nil
}
