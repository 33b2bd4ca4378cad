// Package escrow tracks native value held by the exchange on behalf of bid
// owners, keyed by order id, pending settlement or cancellation.
//
// Ask orders never escrow the asset itself: creation only verifies that the
// owner approved the exchange as a transfer agent, and the asset stays with
// the owner until settlement moves it.
package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrEscrowNotFound = errors.New("no escrow held for order")
	ErrNotApproved    = errors.New("exchange not approved for asset transfers")
)

// Approver is the slice of the asset ledger the escrow ledger consults when
// accepting an ask: only the approval check, not transfers.
type Approver interface {
	IsApprovedForAll(owner, operator common.Address) bool
}

// Ledger records value held against bid orders. Owned exclusively by the
// exchange core; all mutation goes through the exchange's lock.
type Ledger struct {
	mu   sync.RWMutex
	held map[uint64]int64 // bid order id → value units held
	db   *pebble.DB       // nil = memory only (tests)
}

// NewLedger creates a memory-only escrow ledger.
func NewLedger() *Ledger {
	return &Ledger{held: make(map[uint64]int64)}
}

// NewLedgerWithDB creates a ledger backed by an open Pebble database and
// reloads every persisted hold.
func NewLedgerWithDB(db *pebble.DB) (*Ledger, error) {
	l := &Ledger{held: make(map[uint64]int64), db: db}
	if err := l.load(); err != nil {
		return nil, fmt.Errorf("failed to load escrow ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) load() error {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: escrowPrefix(),
		UpperBound: keyUpperBound(escrowPrefix()),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		id, ok := decodeEscrowKey(iter.Key())
		if !ok {
			continue
		}
		if len(iter.Value()) != 8 {
			return fmt.Errorf("corrupt escrow record %q", iter.Key())
		}
		l.held[id] = int64(binary.BigEndian.Uint64(iter.Value()))
	}
	return nil
}

// CaptureValue records that amount value units, already moved into the
// exchange's custody by the caller, are held against the given bid order.
func (l *Ledger) CaptureValue(orderID uint64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("escrow amount must be positive: %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.held[orderID] + amount
	if err := l.persist(orderID, next); err != nil {
		return err
	}
	l.held[orderID] = next
	return nil
}

// CaptureAssetClaim verifies the ask owner granted the exchange transfer
// authority. No asset moves here; transfer is deferred to settlement.
func (l *Ledger) CaptureAssetClaim(owner, exchange common.Address, approver Approver) error {
	if !approver.IsApprovedForAll(owner, exchange) {
		return fmt.Errorf("%w: owner=%s", ErrNotApproved, owner.Hex())
	}
	return nil
}

// Held returns the value currently held for an order (0 if none).
func (l *Ledger) Held(orderID uint64) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.held[orderID]
}

// TotalHeld returns the sum of all holds; it must equal the exchange's
// custody balance attributable to open bids.
func (l *Ledger) TotalHeld() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := int64(0)
	for _, v := range l.held {
		total += v
	}
	return total
}

// StageSet serializes a hold update into a Pebble batch without committing.
// A zero amount stages a delete. The settlement engine uses one batch to
// commit orders and escrow together.
func StageSet(b *pebble.Batch, orderID uint64, amount int64) error {
	if amount == 0 {
		return b.Delete(escrowKey(orderID), nil)
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(amount))
	return b.Set(escrowKey(orderID), v[:], nil)
}

// Apply replaces holds with already-persisted staged values. A zero value
// removes the hold.
func (l *Ledger) Apply(changes map[uint64]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, amount := range changes {
		if amount == 0 {
			delete(l.held, id)
		} else {
			l.held[id] = amount
		}
	}
}

func (l *Ledger) persist(orderID uint64, amount int64) error {
	if l.db == nil {
		return nil
	}
	if amount == 0 {
		if err := l.db.Delete(escrowKey(orderID), pebble.Sync); err != nil {
			return fmt.Errorf("failed to delete escrow %d: %w", orderID, err)
		}
		return nil
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(amount))
	if err := l.db.Set(escrowKey(orderID), v[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist escrow %d: %w", orderID, err)
	}
	return nil
}
