package sharedhash

import (
	"log/slog"
	"testing"

	"github.com/awinterman/vhclient/resp"
	"gotest.tools/v3/assert"
)

func newBareHash() *SharedHash {
	return &SharedHash{
		key:      "k",
		logger:   slog.Default(),
		contents: make(map[string]string),
	}
}

func TestFeedRevision_AppliesNext(t *testing.T) {
	h := newBareHash()
	h.currentVersion = 5

	ok := h.feedRevision(6, "a", "1")
	assert.Assert(t, ok)
	v, found := h.Get("a")
	assert.Assert(t, found)
	assert.Equal(t, v, "1")
	assert.Equal(t, h.GetCurrentVersion(), uint64(6))
}

func TestFeedRevision_EmptyValueDeletes(t *testing.T) {
	h := newBareHash()
	h.currentVersion = 1
	h.contents["a"] = "1"

	ok := h.feedRevision(2, "a", "")
	assert.Assert(t, ok)
	_, found := h.Get("a")
	assert.Assert(t, !found)
}

func TestFeedRevision_RollbackRejected(t *testing.T) {
	h := newBareHash()
	h.currentVersion = 10

	ok := h.feedRevision(10, "a", "1")
	assert.Assert(t, !ok)
	ok = h.feedRevision(5, "a", "1")
	assert.Assert(t, !ok)
	// Neither rejected feed should have mutated state.
	assert.Equal(t, h.GetCurrentVersion(), uint64(10))
}

func TestFeedRevision_GapRejected(t *testing.T) {
	h := newBareHash()
	h.currentVersion = 10

	ok := h.feedRevision(12, "a", "1") // skipped revision 11
	assert.Assert(t, !ok)
	assert.Equal(t, h.GetCurrentVersion(), uint64(10))
}

func TestResilver_ReplacesContentsWholesale(t *testing.T) {
	h := newBareHash()
	h.currentVersion = 3
	h.contents["stale"] = "value"

	h.resilver(40, map[string]string{"fresh": "data"})

	assert.Equal(t, h.GetCurrentVersion(), uint64(40))
	_, staleFound := h.Get("stale")
	assert.Assert(t, !staleFound)
	v, found := h.Get("fresh")
	assert.Assert(t, found)
	assert.Equal(t, v, "data")
}

func TestParseGetAllReply_Shape(t *testing.T) {
	reply := resp.NewArray(
		resp.NewInt(7),
		resp.NewArray(
			resp.NewBulk([]byte("a")), resp.NewBulk([]byte("1")),
			resp.NewBulk([]byte("b")), resp.NewBulk([]byte("2")),
		),
	)
	revision, contents, ok := parseGetAllReply(reply)
	assert.Assert(t, ok)
	assert.Equal(t, revision, uint64(7))
	assert.Equal(t, contents["a"], "1")
	assert.Equal(t, contents["b"], "2")
}

func TestParseGetAllReply_RejectsOddContentArray(t *testing.T) {
	reply := resp.NewArray(resp.NewInt(1), resp.NewArray(resp.NewBulk([]byte("a"))))
	_, _, ok := parseGetAllReply(reply)
	assert.Assert(t, !ok)
}

func TestFeedPayload_RoundTrips(t *testing.T) {
	wire := encodeFeedPayload(9, "field", "value")
	revision, field, value, ok := parseFeedPayload(wire)
	assert.Assert(t, ok)
	assert.Equal(t, revision, uint64(9))
	assert.Equal(t, field, "field")
	assert.Equal(t, value, "value")
}

func TestFeedPayload_DeletionIsEmptyValue(t *testing.T) {
	wire := encodeFeedPayload(10, "field", "")
	_, _, value, ok := parseFeedPayload(wire)
	assert.Assert(t, ok)
	assert.Equal(t, value, "")
}
