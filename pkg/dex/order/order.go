package order

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Store-level errors. The exchange core re-exports these so API callers can
// match a single identity with errors.Is.
var (
	ErrNotFound        = errors.New("order not found")
	ErrAlreadyInactive = errors.New("order already inactive")
	ErrInvalidAmount   = errors.New("amount and price must be positive")
)

// AssetRef identifies a traded token: the ledger (token contract) address
// plus the asset id within that ledger.
type AssetRef struct {
	Token common.Address `json:"token"`
	ID    uint64         `json:"id"`
}

func (r AssetRef) String() string {
	return fmt.Sprintf("%s/%d", r.Token.Hex(), r.ID)
}

// Side is the order direction.
type Side bool

const (
	Bid Side = true  // escrows value, wants the asset
	Ask Side = false // escrows a transfer approval, wants value
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Order is one bid or ask resting in the store.
//
// Amount is the remaining unsettled quantity; it only decreases. IsActive
// transitions true→false exactly once, via full settlement or cancellation.
// Inactive orders are never deleted and stay queryable for audit.
type Order struct {
	ID    uint64         `json:"id"`
	Owner common.Address `json:"owner"`
	Asset AssetRef       `json:"asset"`

	Amount int64 `json:"amount"` // remaining quantity (in asset units)
	Price  int64 `json:"price"`  // unit price (in native value units)

	IsBuy    bool `json:"isBuy"`
	IsActive bool `json:"isActive"`

	// Timestamps (Unix milliseconds)
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Side returns the order direction.
func (o *Order) Side() Side {
	return Side(o.IsBuy)
}

// Clone returns a deep copy, used by the settlement engine to stage
// mutations before commit.
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}
