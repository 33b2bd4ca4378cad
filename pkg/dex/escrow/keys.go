package escrow

import (
	"fmt"
	"strconv"
	"strings"
)

// Pebble key schema for escrow holds.
//
//	esc:<orderID> → held value (big-endian uint64)
//
// Distinct prefix from the order store ("ord:") so both share one database.
const prefixEscrow = "esc:"

func escrowKey(orderID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEscrow, orderID))
}

func escrowPrefix() []byte {
	return []byte(prefixEscrow)
}

func decodeEscrowKey(key []byte) (uint64, bool) {
	s := strings.TrimPrefix(string(key), prefixEscrow)
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
