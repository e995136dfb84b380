// Copyright 2025 Outreach Corporation. All Rights Reserved.

// Package sharedhash implements the eventually-consistent replicated map
// (component H): local reads against a cached copy, writes forwarded as
// VHSET/VHDEL, and a revision-numbered incremental feed with resilver
// fallback on gap or rollback. Grounded line-for-line on
// original_source/src/shared/SharedHash.cc.
package sharedhash

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/awinterman/vhclient/pubsub"
	"github.com/awinterman/vhclient/resp"
	"github.com/awinterman/vhclient/vhclient"
)

// SharedHash is one replicated map, identified by key, backed by a
// connection owned by a Manager.
type SharedHash struct {
	mgr    *Manager
	key    string
	logger *slog.Logger

	mu             sync.RWMutex
	contents       map[string]string
	currentVersion uint64

	resilverInFlight atomic.Bool
	listenerHandle   interface{ Detach() error }
}

func newSharedHash(mgr *Manager, key string) *SharedHash {
	h := &SharedHash{
		mgr:      mgr,
		key:      key,
		logger:   mgr.logger,
		contents: make(map[string]string),
	}
	h.listenerHandle = mgr.client.AttachListener(h)
	h.triggerResilvering()
	return h
}

// channel is the pub/sub topic this hash's incremental feed is published
// on -- "__vhash@<key>" per original_source/src/shared/SharedHash.cc.
func (h *SharedHash) channel() string { return "__vhash@" + h.key }

// Get reads a field from the local cache. The read is eventually
// consistent: a concurrent writer elsewhere may have already had a VHSET
// acknowledged that hasn't reached this cache's feed yet.
func (h *SharedHash) Get(field string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.contents[field]
	return v, ok
}

// GetCurrentVersion reports the revision this cache believes it is at.
func (h *SharedHash) GetCurrentVersion() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentVersion
}

// Set writes a single field. Not guaranteed to succeed across network
// instability -- callers wanting a hard guarantee should inspect the error.
func (h *SharedHash) Set(ctx context.Context, field, value string) error {
	return h.SetBatch(ctx, map[string]string{field: value})
}

// Del removes a field (modeled, like the original, as a set to "").
func (h *SharedHash) Del(ctx context.Context, field string) error {
	return h.SetBatch(ctx, map[string]string{field: ""})
}

// SetBatch applies every field in one pipelined MULTI/EXEC, mapping empty
// values to VHDEL and everything else to VHSET.
func (h *SharedHash) SetBatch(ctx context.Context, batch map[string]string) error {
	mb := vhclient.NewMultiBuilder()
	for field, value := range batch {
		if value == "" {
			mb.Add("VHDEL", h.key, field)
		} else {
			mb.Add("VHSET", h.key, field, value)
		}
	}
	if mb.Len() == 0 {
		return nil
	}

	replies, err := h.mgr.client.ExecuteMulti(ctx, mb)
	if err != nil {
		return err
	}
	for _, r := range replies {
		if r != nil && r.Kind == resp.Error {
			return fmt.Errorf("sharedhash: %s: %w", h.key, r.Err)
		}
	}
	return nil
}

// NotifyConnectionEstablished implements vhclient.ConnectionListener: a
// fresh connection may have missed updates, so resilver unconditionally.
func (h *SharedHash) NotifyConnectionEstablished(epoch uint64) {
	h.triggerResilvering()
}

// NotifyConnectionLost implements vhclient.ConnectionListener. The cache is
// left as-is; it will be brought current by the next
// NotifyConnectionEstablished or incremental feed after reconnect.
func (h *SharedHash) NotifyConnectionLost(epoch uint64, err error) {}

// Close detaches this hash's connection listener. The cache contents
// remain readable after Close; only future updates stop arriving.
func (h *SharedHash) Close() error {
	return h.listenerHandle.Detach()
}

// triggerResilvering asynchronously issues VHGETALL and applies the
// response when it arrives. At most one resilver is ever in flight per
// SharedHash (SPEC_FULL.md §4.H invariant): a second call while one is
// outstanding is a no-op, since the in-flight one will bring the cache
// current regardless of what provoked this call.
func (h *SharedHash) triggerResilvering() {
	if !h.resilverInFlight.CompareAndSwap(false, true) {
		return
	}
	h.mgr.client.ExecuteCB([]string{"VHGETALL", h.key}, func(reply *resp.Reply) {
		defer h.resilverInFlight.Store(false)
		h.handleGetAllResponse(reply)
	})
}

func (h *SharedHash) handleGetAllResponse(reply *resp.Reply) {
	if reply == nil {
		return // abandoned (shutdown); a future connection will retry
	}
	revision, contents, ok := parseGetAllReply(reply)
	if !ok {
		h.logger.Warn("sharedhash: could not parse VHGETALL reply", "key", h.key, "reply", reply.String())
		return
	}
	h.resilver(revision, contents)
}

// parseGetAllReply unpacks the VHGETALL shape: [revision, [k1, v1, k2, v2, ...]].
func parseGetAllReply(reply *resp.Reply) (uint64, map[string]string, bool) {
	if reply.Kind != resp.Array || len(reply.Array) != 2 {
		return 0, nil, false
	}
	if reply.Array[0].Kind != resp.Int {
		return 0, nil, false
	}
	revision := uint64(reply.Array[0].Int)

	flat := reply.Array[1]
	if flat.Kind != resp.Array || len(flat.Array)%2 != 0 {
		return 0, nil, false
	}

	contents := make(map[string]string, len(flat.Array)/2)
	for i := 0; i < len(flat.Array); i += 2 {
		k, v := flat.Array[i], flat.Array[i+1]
		if k.Kind != resp.Bulk || v.Kind != resp.Bulk {
			return 0, nil, false
		}
		contents[string(k.Bulk)] = string(v.Bulk)
	}
	return revision, contents, true
}

// resilver replaces the cache wholesale, the fallback path for every gap
// or rollback feedRevision detects.
func (h *SharedHash) resilver(revision uint64, contents map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger.Warn("sharedhash: resilvering", "key", h.key, "from", h.currentVersion, "to", revision)
	h.currentVersion = revision
	h.contents = contents
}

// feedSingleKeyValue applies one key/value pair, treating an empty value as
// a deletion. Caller must hold h.mu.
func (h *SharedHash) feedSingleKeyValue(field, value string) {
	if value == "" {
		delete(h.contents, field)
		return
	}
	h.contents[field] = value
}

// feedRevision applies an incremental update if it is exactly the next
// revision. Returns false (asking the caller to resilver) for both a
// rollback (revision <= currentVersion, should never happen) and a gap
// (revision >= currentVersion+2, meaning an update was missed) --
// identical to the original's two defensive branches.
func (h *SharedHash) feedRevision(revision uint64, field, value string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if revision <= h.currentVersion {
		h.logger.Error("sharedhash: fed a revision not newer than current, asking for resilvering",
			"key", h.key, "fed", revision, "current", h.currentVersion)
		return false
	}
	if revision >= h.currentVersion+2 {
		h.logger.Warn("sharedhash: discontinuity in fed revisions, asking for resilvering",
			"key", h.key, "fed", revision, "current", h.currentVersion)
		return false
	}

	h.feedSingleKeyValue(field, value)
	h.currentVersion = revision
	return true
}

// processIncoming handles one push on this hash's channel: the payload is
// itself a 3-element RESP array [revision, field, value], parsed with the
// same resp.Parser used for server replies so no bespoke wire format is
// needed for the feed.
func (h *SharedHash) processIncoming(msg pubsub.Message) {
	revision, field, value, ok := parseFeedPayload(msg.Payload)
	if !ok {
		h.logger.Warn("sharedhash: could not parse incoming feed message", "key", h.key)
		return
	}
	if !h.feedRevision(revision, field, value) {
		h.triggerResilvering()
	}
}

func parseFeedPayload(payload []byte) (revision uint64, field, value string, ok bool) {
	r := bufio.NewReader(bytes.NewReader(payload))
	parser := &resp.Parser{}
	reply, err := parser.ReadReply(r)
	if err != nil || reply.Kind != resp.Array || len(reply.Array) != 3 {
		return 0, "", "", false
	}
	if reply.Array[0].Kind != resp.Bulk {
		return 0, "", "", false
	}
	rev, err := strconv.ParseUint(string(reply.Array[0].Bulk), 10, 64)
	if err != nil {
		return 0, "", "", false
	}
	if reply.Array[1].Kind != resp.Bulk || reply.Array[2].Kind != resp.Bulk {
		return 0, "", "", false
	}
	return rev, string(reply.Array[1].Bulk), string(reply.Array[2].Bulk), true
}

// encodeFeedPayload builds the wire bytes a server-side publisher would
// send on "__vhash@<key>" for one incremental update: reusing resp.Encode
// keeps the feed's wire format identical to an ordinary RESP2 command.
func encodeFeedPayload(revision uint64, field, value string) []byte {
	return resp.Encode(strconv.FormatUint(revision, 10), field, value)
}
