package order

import (
	"encoding/binary"
	"fmt"
)

// Pebble key schema for the order store.
//
//	ord:<id>  → Order (JSON)
//	ord:seq   → next id (big-endian uint64)
//
// Ids are zero-padded so a prefix scan yields numeric order.
const (
	prefixOrder = "ord:"
	keySequence = "ord:seq"
)

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func orderPrefix() []byte {
	return []byte(prefixOrder)
}

func sequenceKey() []byte {
	return []byte(keySequence)
}

func encodeSequence(next uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], next)
	return b[:]
}

func decodeSequence(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
