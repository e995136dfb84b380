// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import "errors"

var (
	// ErrShuttingDown is returned by Exists when its request was abandoned
	// with a nil reply (shutdown or retry give-up), and by the handshake
	// driver when a handshake write fails. Pending futures themselves
	// resolve with a nil reply, not with this error.
	ErrShuttingDown = errors.New("vhclient: client is shutting down")

	// ErrNoMembers means Config.Members was empty at construction.
	ErrNoMembers = errors.New("vhclient: no members configured")

	// ErrUnexpectedReply means the connection received a reply with no
	// corresponding staged request -- a protocol-level bug in the peer or
	// in this client's bookkeeping.
	ErrUnexpectedReply = errors.New("vhclient: reply with no matching staged request")

	// ErrHandshakeRoundsExceeded is returned when a Handshake never reaches
	// ValidComplete within Config.MaxHandshakeRounds.
	ErrHandshakeRoundsExceeded = errors.New("vhclient: handshake did not complete within the round cap")

	// ErrHandshakeRejected is returned when a Handshake reports Invalid.
	ErrHandshakeRejected = errors.New("vhclient: handshake rejected by peer")

	// ErrListenerAlreadyDetached guards double-Detach of a ConnectionListener.
	ErrListenerAlreadyDetached = errors.New("vhclient: listener already detached")
)
