package dex

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenex-labs/tokendex/pkg/dex/order"
	"github.com/tokenex-labs/tokendex/pkg/ledger"
)

var (
	custodyAddr = common.HexToAddress("0xDE30000000000000000000000000000000000001")
	tokenAddr   = common.HexToAddress("0xDE30000000000000000000000000000000000002")
	buyer       = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	seller      = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	operator    = common.HexToAddress("0xCC00000000000000000000000000000000000000")
	stranger    = common.HexToAddress("0xDD00000000000000000000000000000000000000")

	testAsset = order.AssetRef{Token: tokenAddr, ID: 1}
)

// fixture wires a memory-only exchange with a funded buyer and an approved,
// minted seller.
type fixture struct {
	ex     *Exchange
	tokens *ledger.TokenLedger
	bank   *ledger.Bank
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens := ledger.NewTokenLedger(tokenAddr)
	registry := ledger.NewRegistry()
	if err := registry.Register(tokenAddr, tokens); err != nil {
		t.Fatalf("register ledger: %v", err)
	}
	bank := ledger.NewBank()
	if err := bank.Deposit(buyer, 1_000_000); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}
	if err := tokens.Mint(seller, testAsset.ID, 1_000); err != nil {
		t.Fatalf("mint seller: %v", err)
	}
	tokens.SetApprovalForAll(seller, custodyAddr, true)

	return &fixture{
		ex:     NewExchange(custodyAddr, registry, bank, nil),
		tokens: tokens,
		bank:   bank,
	}
}

func (f *fixture) bid(t *testing.T, amount, price int64) uint64 {
	t.Helper()
	id, err := f.ex.BidOrder(buyer, testAsset, amount, price, amount*price)
	if err != nil {
		t.Fatalf("bid failed: %v", err)
	}
	return id
}

func (f *fixture) ask(t *testing.T, amount, price int64) uint64 {
	t.Helper()
	id, err := f.ex.AskOrder(seller, testAsset, amount, price)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	return id
}

func TestBidOrderEscrowsValue(t *testing.T) {
	f := newFixture(t)

	id := f.bid(t, 100, 100)

	if held := f.ex.Escrow().Held(id); held != 10_000 {
		t.Errorf("escrow = %d, want 10000", held)
	}
	if bal := f.bank.BalanceOf(buyer); bal != 990_000 {
		t.Errorf("buyer balance = %d, want 990000", bal)
	}
	if bal := f.bank.BalanceOf(custodyAddr); bal != 10_000 {
		t.Errorf("custody balance = %d, want 10000", bal)
	}

	o, err := f.ex.DetailOrder(id)
	if err != nil {
		t.Fatalf("detail failed: %v", err)
	}
	if !o.IsBuy || !o.IsActive || o.Owner != buyer || o.Amount != 100 || o.Price != 100 {
		t.Errorf("order corrupted: %+v", o)
	}
}

func TestBidOrderRejectsWrongValue(t *testing.T) {
	f := newFixture(t)

	if _, err := f.ex.BidOrder(buyer, testAsset, 100, 100, 9_999); !errors.Is(err, ErrInsufficientValue) {
		t.Errorf("short value: got %v, want ErrInsufficientValue", err)
	}
	// Overpay is as wrong as underpay.
	if _, err := f.ex.BidOrder(buyer, testAsset, 100, 100, 10_001); !errors.Is(err, ErrInsufficientValue) {
		t.Errorf("excess value: got %v, want ErrInsufficientValue", err)
	}
	if bal := f.bank.BalanceOf(buyer); bal != 1_000_000 {
		t.Errorf("failed bid must not move value: balance = %d", bal)
	}
	if f.ex.Orders().Count() != 0 {
		t.Error("failed bid must not create an order")
	}
}

func TestBidOrderRejectsInvalidAmounts(t *testing.T) {
	f := newFixture(t)

	if _, err := f.ex.BidOrder(buyer, testAsset, 0, 100, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := f.ex.BidOrder(buyer, testAsset, 100, 0, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero price: got %v, want ErrInvalidAmount", err)
	}
	if _, err := f.ex.BidOrder(buyer, testAsset, -5, 100, -500); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestBidOrderRejectsOverflowingNotional(t *testing.T) {
	f := newFixture(t)

	// 3 * 6148914691236517206 wraps past the int64 range to 2, so without an
	// overflow check the attached value of 2 would satisfy the escrow rule.
	amount := int64(6148914691236517206)
	if _, err := f.ex.BidOrder(buyer, testAsset, amount, 3, 2); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("overflowing notional: got %v, want ErrInvalidAmount", err)
	}
	if f.ex.Orders().Count() != 0 {
		t.Error("overflowing bid must not create an order")
	}
	if bal := f.bank.BalanceOf(buyer); bal != 1_000_000 {
		t.Errorf("overflowing bid moved value: balance = %d", bal)
	}
}

func TestBidOrderRejectsUnfundedBuyer(t *testing.T) {
	f := newFixture(t)

	_, err := f.ex.BidOrder(stranger, testAsset, 100, 100, 10_000)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestAskOrderRequiresApproval(t *testing.T) {
	f := newFixture(t)

	if _, err := f.ex.AskOrder(stranger, testAsset, 100, 100); !errors.Is(err, ErrNotApproved) {
		t.Errorf("unapproved owner: got %v, want ErrNotApproved", err)
	}

	// Ask creation checks the approval only; the asset stays with the owner.
	id := f.ask(t, 100, 100)
	if bal := f.tokens.BalanceOf(seller, testAsset.ID); bal != 1_000 {
		t.Errorf("ask creation moved assets: seller balance = %d", bal)
	}
	o, _ := f.ex.DetailOrder(id)
	if o.IsBuy || !o.IsActive {
		t.Errorf("order corrupted: %+v", o)
	}
}

func TestOrderIDsNeverReused(t *testing.T) {
	f := newFixture(t)

	id1 := f.bid(t, 1, 100)
	if err := f.ex.CancelOrders(buyer, []uint64{id1}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	id2 := f.bid(t, 1, 100)
	if id2 <= id1 {
		t.Errorf("id reused or regressed: first=%d second=%d", id1, id2)
	}
}

func TestCancelBidReturnsEscrow(t *testing.T) {
	f := newFixture(t)
	id := f.bid(t, 100, 100)

	if err := f.ex.CancelOrders(buyer, []uint64{id}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if bal := f.bank.BalanceOf(buyer); bal != 1_000_000 {
		t.Errorf("buyer balance after cancel = %d, want 1000000", bal)
	}
	if held := f.ex.Escrow().Held(id); held != 0 {
		t.Errorf("escrow not released: held = %d", held)
	}
	o, err := f.ex.DetailOrder(id)
	if err != nil {
		t.Fatalf("cancelled order must stay queryable: %v", err)
	}
	if o.IsActive {
		t.Error("cancelled order still active")
	}
}

func TestCancelAskMovesNoValue(t *testing.T) {
	f := newFixture(t)
	id := f.ask(t, 100, 100)

	if err := f.ex.CancelOrders(seller, []uint64{id}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if bal := f.tokens.BalanceOf(seller, testAsset.ID); bal != 1_000 {
		t.Errorf("ask cancel moved assets: balance = %d", bal)
	}
}

func TestCancelRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	id := f.bid(t, 100, 100)

	if err := f.ex.CancelOrders(seller, []uint64{id}); !errors.Is(err, ErrNotOwner) {
		t.Errorf("got %v, want ErrNotOwner", err)
	}
	o, _ := f.ex.DetailOrder(id)
	if !o.IsActive {
		t.Error("failed cancel must not deactivate the order")
	}
}

func TestCancelRejectsDoubleCancel(t *testing.T) {
	f := newFixture(t)
	id := f.bid(t, 100, 100)

	if err := f.ex.CancelOrders(buyer, []uint64{id}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := f.ex.CancelOrders(buyer, []uint64{id}); !errors.Is(err, ErrAlreadyInactive) {
		t.Errorf("second cancel: got %v, want ErrAlreadyInactive", err)
	}
	if bal := f.bank.BalanceOf(buyer); bal != 1_000_000 {
		t.Errorf("double cancel paid out twice: balance = %d", bal)
	}
}

func TestCancelUnknownID(t *testing.T) {
	f := newFixture(t)

	if err := f.ex.CancelOrders(buyer, []uint64{42}); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCancelBatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	good := f.bid(t, 100, 100)
	bad := f.bid(t, 50, 10)
	if err := f.ex.CancelOrders(buyer, []uint64{bad}); err != nil {
		t.Fatalf("setup cancel failed: %v", err)
	}
	balBefore := f.bank.BalanceOf(buyer)

	// Second id is already inactive, so the whole batch must abort.
	err := f.ex.CancelOrders(buyer, []uint64{good, bad})
	if !errors.Is(err, ErrAlreadyInactive) {
		t.Fatalf("got %v, want ErrAlreadyInactive", err)
	}

	o, _ := f.ex.DetailOrder(good)
	if !o.IsActive {
		t.Error("aborted batch deactivated an order")
	}
	if held := f.ex.Escrow().Held(good); held != 10_000 {
		t.Errorf("aborted batch touched escrow: held = %d", held)
	}
	if bal := f.bank.BalanceOf(buyer); bal != balBefore {
		t.Errorf("aborted batch moved value: %d -> %d", balBefore, bal)
	}
}

func TestDetailOrderUnknownID(t *testing.T) {
	f := newFixture(t)

	if _, err := f.ex.DetailOrder(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
