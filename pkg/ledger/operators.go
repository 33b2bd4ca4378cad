package ledger

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// OperatorRegistry answers whether an address may trigger settlement.
// Consulted, never mutated, by the exchange core.
type OperatorRegistry interface {
	IsOperator(addr common.Address) bool
}

// Operators is the reference registry. Add/Remove model the registry's own
// administration, which sits outside the exchange core; the node bootstraps
// the set from config and tests register operators directly.
type Operators struct {
	mu  sync.RWMutex
	set map[common.Address]bool
}

// NewOperators creates a registry seeded with the given operators.
func NewOperators(addrs ...common.Address) *Operators {
	o := &Operators{set: make(map[common.Address]bool)}
	for _, a := range addrs {
		o.set[a] = true
	}
	return o
}

// Add registers an operator.
func (o *Operators) Add(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.set[addr] = true
}

// Remove deregisters an operator.
func (o *Operators) Remove(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.set, addr)
}

// IsOperator reports whether addr is a registered operator.
func (o *Operators) IsOperator(addr common.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.set[addr]
}

// List returns all registered operators.
func (o *Operators) List() []common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()

	addrs := make([]common.Address, 0, len(o.set))
	for a := range o.set {
		addrs = append(addrs, a)
	}
	return addrs
}
