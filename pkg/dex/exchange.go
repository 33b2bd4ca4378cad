// Package dex implements the escrow-backed exchange core: the order store,
// the escrow ledger, the settlement engine, and the operator gate around it.
//
// Every public entry point executes to completion under one lock and is
// all-or-nothing: mutations are staged on copies, committed in a single
// Pebble batch, and only then are external transfers issued
// (checks-effects-interactions). External transfer preconditions are
// validated up front so the interaction phase cannot fail for a validated
// call; if a collaborator still misbehaves, the staged commit is rolled back.
package dex

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tokenex-labs/tokendex/pkg/dex/escrow"
	"github.com/tokenex-labs/tokendex/pkg/dex/order"
	"github.com/tokenex-labs/tokendex/pkg/ledger"
)

// Exchange owns the order store and escrow ledger and drives settlement
// against the external asset ledgers and the native-value bank.
type Exchange struct {
	mu sync.Mutex

	addr   common.Address // custody address holding escrowed value
	orders *order.Store
	escrow *escrow.Ledger
	assets *ledger.Registry
	bank   *ledger.Bank
	db     *pebble.DB // shared with the stores; nil = memory only
	log    *zap.SugaredLogger

	// OnOrder is called after an order is created or cancelled.
	OnOrder func(order.Order)
	// OnSettlement is called once per settled triple after commit.
	OnSettlement func(Settlement)
}

// NewExchange creates a memory-only exchange (tests, ephemeral devnet).
func NewExchange(addr common.Address, assets *ledger.Registry, bank *ledger.Bank, log *zap.SugaredLogger) *Exchange {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Exchange{
		addr:   addr,
		orders: order.NewStore(),
		escrow: escrow.NewLedger(),
		assets: assets,
		bank:   bank,
		log:    log,
	}
}

// NewExchangeWithDB creates an exchange whose order store and escrow ledger
// are persisted in the given Pebble database and reloaded from it.
func NewExchangeWithDB(addr common.Address, assets *ledger.Registry, bank *ledger.Bank, db *pebble.DB, log *zap.SugaredLogger) (*Exchange, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	orders, err := order.NewStoreWithDB(db)
	if err != nil {
		return nil, err
	}
	esc, err := escrow.NewLedgerWithDB(db)
	if err != nil {
		return nil, err
	}
	return &Exchange{
		addr:   addr,
		orders: orders,
		escrow: esc,
		assets: assets,
		bank:   bank,
		db:     db,
		log:    log,
	}, nil
}

// Addr returns the exchange's custody address.
func (e *Exchange) Addr() common.Address {
	return e.addr
}

// Orders exposes the order store for read paths (API queries).
func (e *Exchange) Orders() *order.Store {
	return e.orders
}

// Escrow exposes the escrow ledger for read paths.
func (e *Exchange) Escrow() *escrow.Ledger {
	return e.escrow
}

// BidOrder creates a buy order. attachedValue must equal amount*price and is
// pulled from the owner's bank balance into exchange custody, where it stays
// escrowed until settlement or cancellation. Returns the new order id.
func (e *Exchange) BidOrder(owner common.Address, asset order.AssetRef, amount, price, attachedValue int64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount <= 0 || price <= 0 {
		return 0, fmt.Errorf("%w: amount=%d price=%d", ErrInvalidAmount, amount, price)
	}
	need := amount * price
	if need/price != amount {
		return 0, fmt.Errorf("%w: amount=%d price=%d notional overflows", ErrInvalidAmount, amount, price)
	}
	if attachedValue != need {
		return 0, fmt.Errorf("%w: attached=%d need=%d", ErrInsufficientValue, attachedValue, need)
	}
	if _, err := e.assets.Get(asset.Token); err != nil {
		return 0, err
	}

	if err := e.bank.Transfer(owner, e.addr, attachedValue); err != nil {
		return 0, err
	}

	o, err := e.orders.Create(owner, asset, amount, price, true)
	if err != nil {
		// Return the pulled value; creation left no state behind.
		if rerr := e.bank.Transfer(e.addr, owner, attachedValue); rerr != nil {
			e.log.Errorw("bid_refund_failed", "owner", owner.Hex(), "value", attachedValue, "err", rerr)
		}
		return 0, err
	}
	if err := e.escrow.CaptureValue(o.ID, attachedValue); err != nil {
		if derr := e.orders.SetInactive(o.ID); derr != nil {
			e.log.Errorw("bid_unwind_failed", "id", o.ID, "err", derr)
		}
		if rerr := e.bank.Transfer(e.addr, owner, attachedValue); rerr != nil {
			e.log.Errorw("bid_refund_failed", "owner", owner.Hex(), "value", attachedValue, "err", rerr)
		}
		return 0, err
	}

	e.log.Infow("bid_created",
		"id", o.ID, "owner", owner.Hex(), "asset", asset.String(),
		"amount", amount, "price", price, "escrow", attachedValue)
	e.emitOrder(o)
	return o.ID, nil
}

// AskOrder creates a sell order. The owner must already have approved the
// exchange as a transfer agent on the asset ledger; the asset itself stays
// with the owner until settlement. Returns the new order id.
func (e *Exchange) AskOrder(owner common.Address, asset order.AssetRef, amount, price int64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount <= 0 || price <= 0 {
		return 0, fmt.Errorf("%w: amount=%d price=%d", ErrInvalidAmount, amount, price)
	}
	l, err := e.assets.Get(asset.Token)
	if err != nil {
		return 0, err
	}
	if err := e.escrow.CaptureAssetClaim(owner, e.addr, l); err != nil {
		return 0, err
	}

	o, err := e.orders.Create(owner, asset, amount, price, false)
	if err != nil {
		return 0, err
	}

	e.log.Infow("ask_created",
		"id", o.ID, "owner", owner.Hex(), "asset", asset.String(),
		"amount", amount, "price", price)
	e.emitOrder(o)
	return o.ID, nil
}

// DetailOrder returns a read-only snapshot of an order, active or not.
func (e *Exchange) DetailOrder(id uint64) (*order.Order, error) {
	return e.orders.Get(id)
}

// CancelOrders cancels the caller's orders. All-or-nothing: any invalid id
// aborts the whole call with no state change. Remaining bid escrow is
// released back to the owner; ask cancellation moves no value.
func (e *Exchange) CancelOrders(caller common.Address, ids []uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := newStaged()
	var refunds []payment

	now := time.Now().UnixMilli()
	for _, id := range ids {
		o, err := st.getOrder(e, id)
		if err != nil {
			return err
		}
		if o.Owner != caller {
			return fmt.Errorf("%w: id=%d caller=%s", ErrNotOwner, id, caller.Hex())
		}
		if !o.IsActive {
			return fmt.Errorf("%w: id=%d", ErrAlreadyInactive, id)
		}

		if o.IsBuy {
			held := st.escrowValue(e, id)
			if held > 0 {
				st.setEscrow(id, 0)
				refunds = append(refunds, payment{to: o.Owner, amount: held})
			}
		}
		o.IsActive = false
		o.UpdatedAt = now
	}

	if err := e.commitStaged(st); err != nil {
		return err
	}

	// Interactions last: custody holds at least the sum of all escrow, so
	// these transfers succeed for any committed cancellation.
	for _, p := range refunds {
		if err := e.bank.Transfer(e.addr, p.to, p.amount); err != nil {
			e.rollbackStaged(st)
			return fmt.Errorf("escrow release failed: %w", err)
		}
	}

	for _, id := range ids {
		e.log.Infow("order_cancelled", "id", id, "owner", caller.Hex())
	}
	if e.OnOrder != nil {
		for _, o := range st.orders {
			e.emitOrder(o)
		}
	}
	return nil
}

func (e *Exchange) emitOrder(o *order.Order) {
	if e.OnOrder != nil {
		e.OnOrder(*o)
	}
}

// payment is a deferred outbound native-value transfer.
type payment struct {
	to     common.Address
	amount int64
}

// staged collects order and escrow mutations on copies, with snapshots of
// the pre-call state for rollback.
type staged struct {
	orders     map[uint64]*order.Order
	escrow     map[uint64]int64 // staged hold per bid id (0 = released)
	prevOrders map[uint64]*order.Order
	prevEscrow map[uint64]int64
	escrowHot  map[uint64]bool // escrow entries touched this call
}

func newStaged() *staged {
	return &staged{
		orders:     make(map[uint64]*order.Order),
		escrow:     make(map[uint64]int64),
		prevOrders: make(map[uint64]*order.Order),
		prevEscrow: make(map[uint64]int64),
		escrowHot:  make(map[uint64]bool),
	}
}

// getOrder returns the staged copy of an order, cloning it from the store on
// first touch. Later triples in the same call observe earlier staged
// decrements.
func (st *staged) getOrder(e *Exchange, id uint64) (*order.Order, error) {
	if o, ok := st.orders[id]; ok {
		return o, nil
	}
	o, err := e.orders.Get(id)
	if err != nil {
		return nil, err
	}
	st.prevOrders[id] = o.Clone()
	st.orders[id] = o
	return o, nil
}

// escrowValue returns the staged hold for a bid order id.
func (st *staged) escrowValue(e *Exchange, id uint64) int64 {
	if st.escrowHot[id] {
		return st.escrow[id]
	}
	held := e.escrow.Held(id)
	st.prevEscrow[id] = held
	st.escrow[id] = held
	st.escrowHot[id] = true
	return held
}

func (st *staged) setEscrow(id uint64, amount int64) {
	st.escrow[id] = amount
	st.escrowHot[id] = true
}

// commitStaged writes all staged orders and escrow holds in one Pebble batch
// and then swaps them into the in-memory stores.
func (e *Exchange) commitStaged(st *staged) error {
	if e.db != nil {
		b := e.db.NewBatch()
		defer b.Close()
		for _, o := range st.orders {
			if err := order.StagePut(b, o); err != nil {
				return err
			}
		}
		for id := range st.escrowHot {
			if err := escrow.StageSet(b, id, st.escrow[id]); err != nil {
				return err
			}
		}
		if err := b.Commit(pebble.Sync); err != nil {
			return fmt.Errorf("settlement commit failed: %w", err)
		}
	}

	staged := make([]*order.Order, 0, len(st.orders))
	for _, o := range st.orders {
		staged = append(staged, o)
	}
	e.orders.Apply(staged...)

	changes := make(map[uint64]int64, len(st.escrowHot))
	for id := range st.escrowHot {
		changes[id] = st.escrow[id]
	}
	e.escrow.Apply(changes)
	return nil
}

// rollbackStaged restores the pre-call snapshots after a failed interaction
// phase. Only reachable when a pre-validated external transfer fails anyway.
func (e *Exchange) rollbackStaged(st *staged) {
	if e.db != nil {
		b := e.db.NewBatch()
		defer b.Close()
		for _, o := range st.prevOrders {
			if err := order.StagePut(b, o); err != nil {
				e.log.Errorw("rollback_stage_failed", "id", o.ID, "err", err)
			}
		}
		for id, amount := range st.prevEscrow {
			if err := escrow.StageSet(b, id, amount); err != nil {
				e.log.Errorw("rollback_stage_failed", "escrow", id, "err", err)
			}
		}
		if err := b.Commit(pebble.Sync); err != nil {
			e.log.Errorw("rollback_commit_failed", "err", err)
		}
	}

	prev := make([]*order.Order, 0, len(st.prevOrders))
	for _, o := range st.prevOrders {
		prev = append(prev, o)
	}
	e.orders.Apply(prev...)
	e.escrow.Apply(st.prevEscrow)
}
