package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenex-labs/tokendex/pkg/ledger"
)

// Settler is the settlement surface the gate wraps.
type Settler interface {
	ExecuteMatches(bidIDs, askIDs []uint64, amounts []int64) ([]Settlement, error)
	ExecuteMatchesWithRefund(bidIDs, askIDs []uint64, amounts []int64) ([]Settlement, error)
}

// Gate restricts settlement to registered operators. It is a decorator
// around the engine, not part of it: the operator check runs fail-closed
// before any engine state is touched.
type Gate struct {
	ops   ledger.OperatorRegistry
	inner Settler
}

// NewGate wraps a settler with an operator check.
func NewGate(ops ledger.OperatorRegistry, inner Settler) *Gate {
	return &Gate{ops: ops, inner: inner}
}

// Authorize fails with ErrUnauthorized unless caller is a registered operator.
func (g *Gate) Authorize(caller common.Address) error {
	if !g.ops.IsOperator(caller) {
		return fmt.Errorf("%w: caller=%s", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// ExecuteMatches settles matches on behalf of an operator.
func (g *Gate) ExecuteMatches(caller common.Address, bidIDs, askIDs []uint64, amounts []int64) ([]Settlement, error) {
	if err := g.Authorize(caller); err != nil {
		return nil, err
	}
	return g.inner.ExecuteMatches(bidIDs, askIDs, amounts)
}

// ExecuteMatchesWithRefund settles matches with price-differential refunds
// on behalf of an operator.
func (g *Gate) ExecuteMatchesWithRefund(caller common.Address, bidIDs, askIDs []uint64, amounts []int64) ([]Settlement, error) {
	if err := g.Authorize(caller); err != nil {
		return nil, err
	}
	return g.inner.ExecuteMatchesWithRefund(bidIDs, askIDs, amounts)
}
