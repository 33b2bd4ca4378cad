package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves an AssetRef's token address to the ledger behind it.
// Orders may reference any registered ledger; settlement refuses assets the
// node does not know about.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[common.Address]AssetLedger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[common.Address]AssetLedger)}
}

// Register adds a ledger under its token address.
// Returns error if the address is already taken.
func (r *Registry) Register(addr common.Address, l AssetLedger) error {
	if l == nil {
		return fmt.Errorf("cannot register nil ledger")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ledgers[addr]; exists {
		return fmt.Errorf("ledger %s already registered", addr.Hex())
	}
	r.ledgers[addr] = l
	return nil
}

// Get retrieves the ledger at addr.
func (r *Registry) Get(addr common.Address) (AssetLedger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, exists := r.ledgers[addr]
	if !exists {
		return nil, fmt.Errorf("ledger %s not registered", addr.Hex())
	}
	return l, nil
}

// Count returns the number of registered ledgers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ledgers)
}
