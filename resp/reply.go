// Copyright 2025 Outreach Corporation. All Rights Reserved.

package resp

import (
	"fmt"
	"strings"
)

// Reply is a RESP2 reply tree. Kind says which field to trust. Immutable
// once returned by the Parser; safe to share across goroutines without
// copying, since nothing in vhclient mutates a Reply after it is produced.
type Reply struct {
	Kind Kind

	Int    int64
	Status string
	Err    error

	// Bulk holds the payload of a bulk string. A nil Bulk with Kind==Bulk
	// is RESP's null bulk string ($-1).
	Bulk []byte

	Array []*Reply
}

// IsNil reports whether this reply is a null bulk string or a null array,
// the two spellings of "nothing" in RESP2.
func (r *Reply) IsNil() bool {
	if r == nil {
		return true
	}
	switch r.Kind {
	case Bulk:
		return r.Bulk == nil
	case Array:
		return r.Array == nil
	default:
		return false
	}
}

func (r *Reply) String() string {
	if r == nil {
		return "<nil>"
	}
	switch r.Kind {
	case Status:
		return r.Status
	case Error:
		return r.Err.Error()
	case Int:
		return fmt.Sprintf("%d", r.Int)
	case Bulk:
		if r.Bulk == nil {
			return "(nil)"
		}
		return string(r.Bulk)
	case Array:
		parts := make([]string, len(r.Array))
		for i, e := range r.Array {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return fmt.Sprintf("unknown(%s)", r.Kind)
	}
}

// NewStatus builds a simple-string reply.
func NewStatus(s string) *Reply { return &Reply{Kind: Status, Status: s} }

// NewError builds an error reply.
func NewError(err error) *Reply { return &Reply{Kind: Error, Err: err} }

// NewInt builds an integer reply.
func NewInt(i int64) *Reply { return &Reply{Kind: Int, Int: i} }

// NewBulk builds a bulk-string reply. Pass nil for the RESP null bulk string.
func NewBulk(b []byte) *Reply { return &Reply{Kind: Bulk, Bulk: b} }

// NewArray builds an array reply. Pass nil for the RESP null array.
func NewArray(elems ...*Reply) *Reply { return &Reply{Kind: Array, Array: elems} }
