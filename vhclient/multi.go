// Copyright 2025 Outreach Corporation. All Rights Reserved.

package vhclient

import "github.com/awinterman/vhclient/resp"

// MultiBuilder accumulates commands to be sent as a single MULTI/EXEC
// transaction in one pipelined write, matching the batching sharedhash uses
// for VHSET/VHDEL fan-out (spec.md §4.H, original_source/src/shared/SharedHash.cc
// resilver()'s multi-command apply).
type MultiBuilder struct {
	argvs [][]string
}

func NewMultiBuilder() *MultiBuilder {
	return &MultiBuilder{}
}

// Add appends one command to the transaction.
func (m *MultiBuilder) Add(argv ...string) *MultiBuilder {
	m.argvs = append(m.argvs, append([]string(nil), argv...))
	return m
}

// Len reports how many commands (excluding MULTI/EXEC) have been added.
func (m *MultiBuilder) Len() int { return len(m.argvs) }

// Build returns the wire bytes for MULTI, each added command, then EXEC --
// N+2 independently-parseable RESP arrays in one buffer, so a single pipelined
// write produces the whole transaction.
func (m *MultiBuilder) Build() []byte {
	out := resp.Encode("MULTI")
	for _, argv := range m.argvs {
		out = append(out, resp.Encode(argv...)...)
	}
	out = append(out, resp.Encode("EXEC")...)
	return out
}
