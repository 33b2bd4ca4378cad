package dex

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenex-labs/tokendex/pkg/dex/order"
	"github.com/tokenex-labs/tokendex/pkg/ledger"
)

// Settlement records one executed (bid, ask) match.
type Settlement struct {
	BidID    uint64         `json:"bidId"`
	AskID    uint64         `json:"askId"`
	Asset    order.AssetRef `json:"asset"`
	Amount   int64          `json:"amount"`
	Price    int64          `json:"price"`  // unit price paid to the ask owner
	Payment  int64          `json:"payment"` // value paid to the ask owner
	Refund   int64          `json:"refund"`  // value returned to the bid owner
	BidOwner common.Address `json:"bidOwner"`
	AskOwner common.Address `json:"askOwner"`
}

// assetTransfer is a deferred custody move on an asset ledger.
type assetTransfer struct {
	ledger  ledger.AssetLedger
	token   common.Address // the ledger's registry address
	from    common.Address
	to      common.Address
	assetID uint64
	amount  int64
}

// transferKey aggregates outbound amounts per (ledger, owner, asset) for
// up-front balance validation across all triples of a call.
type transferKey struct {
	token   common.Address
	owner   common.Address
	assetID uint64
}

// ExecuteMatches settles the given (bid, ask, amount) triples, paying each
// ask owner at the bid's price. Not operator-gated; compose with Gate for
// the public surface.
func (e *Exchange) ExecuteMatches(bidIDs, askIDs []uint64, amounts []int64) ([]Settlement, error) {
	return e.execute(bidIDs, askIDs, amounts, false)
}

// ExecuteMatchesWithRefund settles like ExecuteMatches but pays each ask
// owner at the ask's quoted price and refunds the bid owner the difference
// amount*(bidPrice-askPrice). An ask priced above the bid is rejected with
// ErrPriceMismatch.
func (e *Exchange) ExecuteMatchesWithRefund(bidIDs, askIDs []uint64, amounts []int64) ([]Settlement, error) {
	return e.execute(bidIDs, askIDs, amounts, true)
}

// execute runs the three-phase settlement: validate and stage every triple
// on copies, commit internal state, then perform the external transfers.
func (e *Exchange) execute(bidIDs, askIDs []uint64, amounts []int64, withRefund bool) ([]Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(bidIDs) != len(askIDs) || len(bidIDs) != len(amounts) {
		return nil, fmt.Errorf("%w: bids=%d asks=%d amounts=%d",
			ErrLengthMismatch, len(bidIDs), len(askIDs), len(amounts))
	}

	st := newStaged()
	settlements := make([]Settlement, 0, len(bidIDs))
	var transfers []assetTransfer
	var payouts []payment
	now := time.Now().UnixMilli()

	// Phase 1: validate each triple in order against the staged state.
	for i := range bidIDs {
		bid, err := st.getOrder(e, bidIDs[i])
		if err != nil {
			return nil, err
		}
		ask, err := st.getOrder(e, askIDs[i])
		if err != nil {
			return nil, err
		}

		if !bid.IsActive || !ask.IsActive {
			return nil, fmt.Errorf("%w: bid=%d ask=%d", ErrOrderInactive, bid.ID, ask.ID)
		}
		// The bid slot must hold a buy and the ask slot a sell; a swapped
		// pair is as invalid as two orders on the same side.
		if bid.IsBuy == ask.IsBuy || !bid.IsBuy {
			return nil, fmt.Errorf("%w: bid=%d(%s) ask=%d(%s)",
				ErrSideMismatch, bid.ID, bid.Side(), ask.ID, ask.Side())
		}
		if bid.Asset != ask.Asset {
			return nil, fmt.Errorf("%w: bid=%s ask=%s", ErrAssetMismatch, bid.Asset, ask.Asset)
		}

		m := amounts[i]
		if m <= 0 {
			return nil, fmt.Errorf("%w: match amount=%d", ErrInvalidAmount, m)
		}
		if m > bid.Amount || m > ask.Amount {
			return nil, fmt.Errorf("%w: match=%d bid_remaining=%d ask_remaining=%d",
				ErrAmountExceedsOrder, m, bid.Amount, ask.Amount)
		}

		price := bid.Price
		if withRefund {
			if ask.Price > bid.Price {
				return nil, fmt.Errorf("%w: bid_price=%d ask_price=%d",
					ErrPriceMismatch, bid.Price, ask.Price)
			}
			price = ask.Price
		}

		// Escrow was captured at the bid price; debit it at the bid price
		// and split the debit into payment plus refund.
		debit := m * bid.Price
		if debit/bid.Price != m {
			return nil, fmt.Errorf("%w: match=%d price=%d notional overflows", ErrInvalidAmount, m, bid.Price)
		}
		pay := m * price
		refund := debit - pay

		held := st.escrowValue(e, bid.ID)
		if held < debit {
			return nil, fmt.Errorf("%w: bid=%d held=%d need=%d", ErrEscrowNotFound, bid.ID, held, debit)
		}
		st.setEscrow(bid.ID, held-debit)

		bid.Amount -= m
		ask.Amount -= m
		bid.UpdatedAt = now
		ask.UpdatedAt = now
		if bid.Amount == 0 {
			bid.IsActive = false
		}
		if ask.Amount == 0 {
			ask.IsActive = false
		}

		l, err := e.assets.Get(bid.Asset.Token)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, assetTransfer{
			ledger: l, token: bid.Asset.Token,
			from: ask.Owner, to: bid.Owner, assetID: bid.Asset.ID, amount: m,
		})
		payouts = append(payouts, payment{to: ask.Owner, amount: pay})
		if refund > 0 {
			payouts = append(payouts, payment{to: bid.Owner, amount: refund})
		}

		settlements = append(settlements, Settlement{
			BidID: bid.ID, AskID: ask.ID, Asset: bid.Asset,
			Amount: m, Price: price, Payment: pay, Refund: refund,
			BidOwner: bid.Owner, AskOwner: ask.Owner,
		})
	}

	// Phase 2: validate the deferred external transfers so the interaction
	// phase cannot fail. Outbound asset amounts are aggregated per owner.
	if err := e.validateTransfers(transfers, payouts); err != nil {
		return nil, err
	}

	// Phase 3: commit internal state (orders + escrow) atomically.
	if err := e.commitStaged(st); err != nil {
		return nil, err
	}

	// Phase 4: interactions. Pre-validated; a failure here means a
	// collaborator broke its contract, so restore the snapshot.
	for _, tr := range transfers {
		if err := tr.ledger.SafeTransferFrom(e.addr, tr.from, tr.to, tr.assetID, tr.amount); err != nil {
			e.rollbackStaged(st)
			return nil, fmt.Errorf("asset transfer failed: %w", err)
		}
	}
	for _, p := range payouts {
		if err := e.bank.Transfer(e.addr, p.to, p.amount); err != nil {
			e.rollbackStaged(st)
			return nil, fmt.Errorf("payout failed: %w", err)
		}
	}

	for _, s := range settlements {
		e.log.Infow("match_settled",
			"bid", s.BidID, "ask", s.AskID, "asset", s.Asset.String(),
			"amount", s.Amount, "price", s.Price, "payment", s.Payment, "refund", s.Refund)
		if e.OnSettlement != nil {
			e.OnSettlement(s)
		}
	}
	return settlements, nil
}

// validateTransfers checks ask-owner balances and approvals and the custody
// balance backing the payouts, aggregated over the whole call.
func (e *Exchange) validateTransfers(transfers []assetTransfer, payouts []payment) error {
	outbound := make(map[transferKey]int64)
	ledgers := make(map[transferKey]ledger.AssetLedger)
	for _, tr := range transfers {
		k := transferKey{token: tr.token, owner: tr.from, assetID: tr.assetID}
		outbound[k] += tr.amount
		ledgers[k] = tr.ledger

		if !tr.ledger.IsApprovedForAll(tr.from, e.addr) {
			return fmt.Errorf("%w: owner=%s", ErrNotApproved, tr.from.Hex())
		}
	}
	for k, total := range outbound {
		if have := ledgers[k].BalanceOf(k.owner, k.assetID); have < total {
			return fmt.Errorf("%w: owner=%s asset=%d have=%d need=%d",
				ledger.ErrInsufficientBalance, k.owner.Hex(), k.assetID, have, total)
		}
	}

	totalOut := int64(0)
	for _, p := range payouts {
		totalOut += p.amount
	}
	if have := e.bank.BalanceOf(e.addr); have < totalOut {
		return fmt.Errorf("%w: custody=%d payouts=%d", ledger.ErrInsufficientFunds, have, totalOut)
	}
	return nil
}
