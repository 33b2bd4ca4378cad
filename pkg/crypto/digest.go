package crypto

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Canonical request digests. Each request type hashes a versioned,
// pipe-delimited message with Keccak256; the nonce makes every signature
// single-use (the server tracks the highest nonce seen per address).

const domain = "tokendex/v1"

// BidDigest is signed by a bidder creating a buy order.
func BidDigest(token common.Address, assetID uint64, amount, price, value int64, nonce uint64) []byte {
	msg := fmt.Sprintf("%s/bid|token=%s|asset=%d|amount=%d|price=%d|value=%d|nonce=%d",
		domain, token.Hex(), assetID, amount, price, value, nonce)
	return crypto.Keccak256([]byte(msg))
}

// AskDigest is signed by a seller creating a sell order.
func AskDigest(token common.Address, assetID uint64, amount, price int64, nonce uint64) []byte {
	msg := fmt.Sprintf("%s/ask|token=%s|asset=%d|amount=%d|price=%d|nonce=%d",
		domain, token.Hex(), assetID, amount, price, nonce)
	return crypto.Keccak256([]byte(msg))
}

// CancelDigest is signed by an owner cancelling their orders.
func CancelDigest(ids []uint64, nonce uint64) []byte {
	msg := fmt.Sprintf("%s/cancel|ids=%s|nonce=%d", domain, joinUints(ids), nonce)
	return crypto.Keccak256([]byte(msg))
}

// SettleDigest is signed by an operator submitting a settlement batch.
// withRefund distinguishes the two settlement entry points so a signature
// for one cannot be replayed against the other.
func SettleDigest(bidIDs, askIDs []uint64, amounts []int64, withRefund bool, nonce uint64) []byte {
	kind := "settle"
	if withRefund {
		kind = "settle-refund"
	}
	msg := fmt.Sprintf("%s/%s|bids=%s|asks=%s|amounts=%s|nonce=%d",
		domain, kind, joinUints(bidIDs), joinUints(askIDs), joinInts(amounts), nonce)
	return crypto.Keccak256([]byte(msg))
}

// ApproveDigest is signed by an asset owner granting or revoking the
// exchange's transfer authority (devnet approval endpoint).
func ApproveDigest(token, agent common.Address, approved bool, nonce uint64) []byte {
	msg := fmt.Sprintf("%s/approve|token=%s|agent=%s|approved=%t|nonce=%d",
		domain, token.Hex(), agent.Hex(), approved, nonce)
	return crypto.Keccak256([]byte(msg))
}

func joinUints(xs []uint64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return strings.Join(parts, ",")
}

func joinInts(xs []int64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return strings.Join(parts, ",")
}
