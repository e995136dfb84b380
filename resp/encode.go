// Copyright 2025 Outreach Corporation. All Rights Reserved.

package resp

import (
	"strconv"
)

// Encode renders argv as a RESP2 multi-bulk command: "*N\r\n$len\r\narg\r\n...".
// This is the pure encode(argv) -> bytes function spec.md §1 assumes is
// available from outside the core; vhclient depends only on this contract.
func Encode(argv ...string) []byte {
	size := 1 + len(strconv.Itoa(len(argv))) + 2
	for _, a := range argv {
		size += 1 + len(strconv.Itoa(len(a))) + 2 + len(a) + 2
	}

	buf := make([]byte, 0, size)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(argv)), 10)
	buf = append(buf, EOL...)

	for _, a := range argv {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(a)), 10)
		buf = append(buf, EOL...)
		buf = append(buf, a...)
		buf = append(buf, EOL...)
	}

	return buf
}

// EncodeBytes is Encode's byte-slice counterpart, used where an argument
// (e.g. a VHSET value) is arbitrary binary rather than a string.
func EncodeBytes(argv ...[]byte) []byte {
	size := 1 + len(strconv.Itoa(len(argv))) + 2
	for _, a := range argv {
		size += 1 + len(strconv.Itoa(len(a))) + 2 + len(a) + 2
	}

	buf := make([]byte, 0, size)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(argv)), 10)
	buf = append(buf, EOL...)

	for _, a := range argv {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(a)), 10)
		buf = append(buf, EOL...)
		buf = append(buf, a...)
		buf = append(buf, EOL...)
	}

	return buf
}
