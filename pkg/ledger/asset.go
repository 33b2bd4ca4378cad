// Package ledger holds the exchange core's external collaborators: the
// multi-token asset ledger, the native-value bank, and the operator
// registry. The core consults them through the interfaces below; the
// concrete types are in-process reference implementations used by the node
// and the tests.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrTransferNotApproved = errors.New("transfer agent not approved by owner")
)

// AssetLedger is the core-facing slice of a multi-token balance/approval/
// transfer registry. SafeTransferFrom moves custody on behalf of agent,
// which must have been approved by from via SetApprovalForAll.
type AssetLedger interface {
	BalanceOf(owner common.Address, assetID uint64) int64
	IsApprovedForAll(owner, agent common.Address) bool
	SafeTransferFrom(agent, from, to common.Address, assetID uint64, amount int64) error
}

// TokenLedger is an in-memory multi-token ledger with per-owner balances and
// blanket transfer approvals. Mint and SetApprovalForAll model the
// administration a deployed token registry would expose.
type TokenLedger struct {
	mu        sync.RWMutex
	addr      common.Address
	balances  map[uint64]map[common.Address]int64        // asset id → owner → balance
	approvals map[common.Address]map[common.Address]bool // owner → agent → approved
}

// NewTokenLedger creates an empty ledger addressed at addr.
func NewTokenLedger(addr common.Address) *TokenLedger {
	return &TokenLedger{
		addr:      addr,
		balances:  make(map[uint64]map[common.Address]int64),
		approvals: make(map[common.Address]map[common.Address]bool),
	}
}

// Address returns the ledger's registry address (the AssetRef token field).
func (t *TokenLedger) Address() common.Address {
	return t.addr
}

// Mint credits amount of an asset to an owner.
func (t *TokenLedger) Mint(owner common.Address, assetID uint64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint amount must be positive: %d", amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.balances[assetID] == nil {
		t.balances[assetID] = make(map[common.Address]int64)
	}
	t.balances[assetID][owner] += amount
	return nil
}

// SetApprovalForAll grants or revokes blanket transfer authority for agent
// over every asset the owner holds.
func (t *TokenLedger) SetApprovalForAll(owner, agent common.Address, approved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.approvals[owner] == nil {
		t.approvals[owner] = make(map[common.Address]bool)
	}
	t.approvals[owner][agent] = approved
}

// BalanceOf returns the owner's balance for an asset id.
func (t *TokenLedger) BalanceOf(owner common.Address, assetID uint64) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[assetID][owner]
}

// IsApprovedForAll reports whether agent may move the owner's assets.
func (t *TokenLedger) IsApprovedForAll(owner, agent common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.approvals[owner][agent]
}

// SafeTransferFrom moves custody from → to. Fails if agent is not the owner
// and holds no approval, or if the owner's balance is insufficient.
func (t *TokenLedger) SafeTransferFrom(agent, from, to common.Address, assetID uint64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive: %d", amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if agent != from && !t.approvals[from][agent] {
		return fmt.Errorf("%w: owner=%s agent=%s", ErrTransferNotApproved, from.Hex(), agent.Hex())
	}
	if t.balances[assetID][from] < amount {
		return fmt.Errorf("%w: owner=%s asset=%d have=%d need=%d",
			ErrInsufficientBalance, from.Hex(), assetID, t.balances[assetID][from], amount)
	}

	t.balances[assetID][from] -= amount
	t.balances[assetID][to] += amount
	return nil
}
