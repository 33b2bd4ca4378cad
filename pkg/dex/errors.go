package dex

import (
	"errors"

	"github.com/tokenex-labs/tokendex/pkg/dex/escrow"
	"github.com/tokenex-labs/tokendex/pkg/dex/order"
)

// Error taxonomy of the exchange core. Every failure aborts the whole call
// with no partial state change; callers match with errors.Is.
//
// Store-level sentinels are re-exported so API code needs only this package.
var (
	// ErrUnauthorized is returned when a non-operator attempts settlement.
	ErrUnauthorized = errors.New("caller is not a registered operator")

	// ErrOrderInactive is returned when settlement targets a closed order.
	ErrOrderInactive = errors.New("order is no longer active")

	// ErrSideMismatch is returned when both legs of a match are on the same side.
	ErrSideMismatch = errors.New("orders are on the same side")

	// ErrAssetMismatch is returned when the two legs reference different assets.
	ErrAssetMismatch = errors.New("orders reference different assets")

	// ErrAmountExceedsOrder is returned when a match amount exceeds either
	// leg's remaining quantity.
	ErrAmountExceedsOrder = errors.New("match amount exceeds order remainder")

	// ErrLengthMismatch is returned when the batched settlement id/amount
	// sequences differ in length.
	ErrLengthMismatch = errors.New("mismatched batch lengths")

	// ErrInsufficientValue is returned when the value attached to a bid does
	// not equal amount*price.
	ErrInsufficientValue = errors.New("attached value does not match escrow requirement")

	// ErrNotOwner is returned when cancellation is attempted by a non-owner.
	ErrNotOwner = errors.New("caller does not own order")

	// ErrPriceMismatch is returned by the refund variant when the ask's
	// quoted price exceeds the bid's. Negative refunds are rejected rather
	// than clamped so a mispriced match never consumes bid escrow silently.
	ErrPriceMismatch = errors.New("ask price exceeds bid price")

	// Order store sentinels.
	ErrNotFound        = order.ErrNotFound
	ErrAlreadyInactive = order.ErrAlreadyInactive
	ErrInvalidAmount   = order.ErrInvalidAmount

	// Escrow ledger sentinels.
	ErrEscrowNotFound = escrow.ErrEscrowNotFound
	ErrNotApproved    = escrow.ErrNotApproved
)
