package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientFunds = errors.New("insufficient native balance")

// Bank is the native value-transfer mechanism. The exchange pulls attached
// value from the bidder's balance into its custody address at bid creation
// and pays sellers and refunds out of custody at settlement.
//
// Outbound payments must succeed or the enclosing exchange call aborts, so
// the exchange pre-validates custody funds before committing a settlement.
type Bank struct {
	mu       sync.RWMutex
	balances map[common.Address]int64
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{balances: make(map[common.Address]int64)}
}

// Deposit credits native value to an address (devnet faucet / bridge-in).
func (b *Bank) Deposit(addr common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive: %d", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.balances[addr] += amount
	return nil
}

// Transfer moves native value between addresses.
func (b *Bank) Transfer(from, to common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive: %d", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.balances[from] < amount {
		return fmt.Errorf("%w: addr=%s have=%d need=%d",
			ErrInsufficientFunds, from.Hex(), b.balances[from], amount)
	}

	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}

// BalanceOf returns the native balance of an address.
func (b *Bank) BalanceOf(addr common.Address) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[addr]
}
