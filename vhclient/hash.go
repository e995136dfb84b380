// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import (
	"context"
	"fmt"

	"github.com/awinterman/vhclient/resp"
)

// Get is a convenience wrapper for GET key.
func (c *Client) Get(ctx context.Context, key string) (*resp.Reply, error) {
	return c.Execute(ctx, "GET", key)
}

// Set is a convenience wrapper for SET key value.
func (c *Client) Set(ctx context.Context, key, value string) (*resp.Reply, error) {
	return c.Execute(ctx, "SET", key, value)
}

// Del is a convenience wrapper for DEL key [key ...].
func (c *Client) Del(ctx context.Context, keys ...string) (*resp.Reply, error) {
	argv := append([]string{"DEL"}, keys...)
	return c.Execute(ctx, argv...)
}

// Exists is a convenience wrapper for EXISTS key, grounded on QClient::exists
// in original_source/src/QClient.cc.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	reply, err := c.Execute(ctx, "EXISTS", key)
	if err != nil {
		return false, err
	}
	if reply == nil {
		return false, ErrShuttingDown
	}
	if reply.Kind != resp.Int {
		return false, fmt.Errorf("vhclient: EXISTS: unexpected reply kind %s", reply.Kind)
	}
	return reply.Int != 0, nil
}
