package order

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Store is the authoritative mapping from order id to Order record.
// Ids are allocated monotonically starting at 1 and never reused; inactive
// orders remain in the store for audit queries.
//
// In-memory map + optional Pebble persistence, following the account-store
// split: the map is the working set, Pebble makes it durable across restarts.
type Store struct {
	mu     sync.RWMutex
	orders map[uint64]*Order
	nextID uint64
	db     *pebble.DB // nil = memory only (tests)
}

// NewStore creates a memory-only store.
func NewStore() *Store {
	return &Store{
		orders: make(map[uint64]*Order),
		nextID: 1,
	}
}

// NewStoreWithDB creates a store backed by an open Pebble database and
// reloads every persisted order plus the id sequence.
func NewStoreWithDB(db *pebble.DB) (*Store, error) {
	s := &Store{
		orders: make(map[uint64]*Order),
		nextID: 1,
		db:     db,
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load order store: %w", err)
	}
	return s, nil
}

func (s *Store) load() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: orderPrefix(),
		UpperBound: keyUpperBound(orderPrefix()),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	maxID := uint64(0)
	for iter.First(); iter.Valid(); iter.Next() {
		if string(iter.Key()) == keySequence {
			if seq := decodeSequence(iter.Value()); seq > s.nextID {
				s.nextID = seq
			}
			continue
		}
		var o Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return fmt.Errorf("corrupt order record %q: %w", iter.Key(), err)
		}
		s.orders[o.ID] = &o
		if o.ID > maxID {
			maxID = o.ID
		}
	}
	if maxID+1 > s.nextID {
		s.nextID = maxID + 1
	}
	return nil
}

// Create allocates a fresh id and inserts a new active order.
// Fails with ErrInvalidAmount if amount or price is not positive.
func (s *Store) Create(owner common.Address, asset AssetRef, amount, price int64, isBuy bool) (*Order, error) {
	if amount <= 0 || price <= 0 {
		return nil, fmt.Errorf("%w: amount=%d price=%d", ErrInvalidAmount, amount, price)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	o := &Order{
		ID:        s.nextID,
		Owner:     owner,
		Asset:     asset,
		Amount:    amount,
		Price:     price,
		IsBuy:     isBuy,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if s.db != nil {
		b := s.db.NewBatch()
		defer b.Close()
		if err := stagePut(b, o); err != nil {
			return nil, err
		}
		if err := b.Set(sequenceKey(), encodeSequence(o.ID+1), nil); err != nil {
			return nil, err
		}
		if err := b.Commit(pebble.Sync); err != nil {
			return nil, fmt.Errorf("failed to persist order %d: %w", o.ID, err)
		}
	}

	s.orders[o.ID] = o
	s.nextID++
	return o.Clone(), nil
}

// Get returns a snapshot of the order. Fails with ErrNotFound if the id was
// never allocated.
func (s *Store) Get(id uint64) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	return o.Clone(), nil
}

// SetInactive flips an order to inactive. Fails with ErrAlreadyInactive if
// the order is already closed; callers must check IsActive first rather than
// rely on this as race protection.
func (s *Store) SetInactive(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	if !o.IsActive {
		return fmt.Errorf("%w: id=%d", ErrAlreadyInactive, id)
	}

	cp := o.Clone()
	cp.IsActive = false
	cp.UpdatedAt = time.Now().UnixMilli()

	if err := s.persist(cp); err != nil {
		return err
	}
	s.orders[id] = cp
	return nil
}

// Apply replaces store entries with already-persisted staged copies.
// Used by the settlement engine after its batch commit; the staged orders
// must have been written through StagePut on the committed batch.
func (s *Store) Apply(orders ...*Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		s.orders[o.ID] = o
	}
}

// StagePut serializes an order into a Pebble batch without committing.
// The settlement engine uses one batch to commit orders and escrow together.
func StagePut(b *pebble.Batch, o *Order) error {
	return stagePut(b, o)
}

func stagePut(b *pebble.Batch, o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
	}
	return b.Set(orderKey(o.ID), data, nil)
}

func (s *Store) persist(o *Order) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
	}
	if err := s.db.Set(orderKey(o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist order %d: %w", o.ID, err)
	}
	return nil
}

// Count returns the number of orders ever created (active and inactive).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// NextID returns the id the next created order will receive.
func (s *Store) NextID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}
