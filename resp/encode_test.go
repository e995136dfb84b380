package resp

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"gotest.tools/v3/assert"
)

func TestEncode(t *testing.T) {
	got := Encode("SET", "foo", "bar")
	assert.Equal(t, string(got), "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
}

func TestEncode_Empty(t *testing.T) {
	got := Encode()
	assert.Equal(t, string(got), "*0\r\n")
}

// TestEncode_RoundTrip feeds the encoded buffer back through the parser and
// checks it comes out as the array-of-bulk-strings a server would see.
func TestEncode_RoundTrip(t *testing.T) {
	argv := []string{"HSET", "myhash", "field", "value"}
	encoded := Encode(argv...)

	r, err := (&Parser{}).ReadReply(bufio.NewReader(bytes.NewReader(encoded)))
	assert.NilError(t, err)

	assert.Equal(t, r.Kind, Array)
	if t.Failed() {
		t.Log(spew.Sdump(r))
	}
	assert.Equal(t, len(r.Array), len(argv))
	for i, a := range argv {
		assert.Equal(t, string(r.Array[i].Bulk), a)
	}
}
