// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import "github.com/awinterman/vhclient/resp"

// HandshakeStatus is the verdict a Handshake gives for one round of replies
// (grounded on the Status enum in
// original_source/include/qclient/QClient.hh: INVALID / VALID_INCOMPLETE /
// VALID_COMPLETE).
type HandshakeStatus int

const (
	Invalid HandshakeStatus = iota
	ValidIncomplete
	ValidComplete
)

// Handshake lets callers run arbitrary command exchanges (AUTH, HELLO,
// CLIENT SETNAME, ...) before the connection manager marks a connection
// Connected and starts draining user traffic. One Handshake instance is
// reused across reconnects; Restart resets any round-local state.
type Handshake interface {
	// Provide returns the argv batches to send for this round. Returning
	// nil/empty means "nothing left to send, just wait for Validate".
	Provide() [][]string

	// Validate inspects the replies to the most recently provided batch (in
	// order) and reports whether the handshake is done, needs more rounds,
	// or has failed outright.
	Validate(replies []*resp.Reply) HandshakeStatus

	// Restart resets the handshake for a fresh connection attempt.
	Restart()
}

// noopHandshake is used when Config.Handshake is nil: no commands are sent
// and the first round is immediately ValidComplete.
type noopHandshake struct{}

func (noopHandshake) Provide() [][]string                          { return nil }
func (noopHandshake) Validate(_ []*resp.Reply) HandshakeStatus      { return ValidComplete }
func (noopHandshake) Restart()                                     {}

// runHandshake drives h against conn, capped at maxRounds (spec.md Open
// Question: cap handshake iteration to bound a misbehaving peer or buggy
// Handshake from looping forever).
func runHandshake(h Handshake, send func([]byte) bool, recv func() (*resp.Reply, error), maxRounds int) error {
	h.Restart()

	for round := 0; round < maxRounds; round++ {
		batches := h.Provide()
		replies := make([]*resp.Reply, 0, len(batches))

		for _, argv := range batches {
			if !send(resp.Encode(argv...)) {
				return ErrShuttingDown
			}
			reply, err := recv()
			if err != nil {
				return err
			}
			replies = append(replies, reply)
		}

		switch h.Validate(replies) {
		case ValidComplete:
			return nil
		case Invalid:
			return ErrHandshakeRejected
		case ValidIncomplete:
			continue
		}
	}

	return ErrHandshakeRoundsExceeded
}
