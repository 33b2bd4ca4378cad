package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tokenex-labs/tokendex/pkg/crypto"
	"github.com/tokenex-labs/tokendex/pkg/dex"
	"github.com/tokenex-labs/tokendex/pkg/ledger"
)

var (
	custodyAddr = common.HexToAddress("0xDE30000000000000000000000000000000000001")
	tokenAddr   = common.HexToAddress("0xDE30000000000000000000000000000000000002")
)

type testEnv struct {
	srv      *httptest.Server
	buyer    *crypto.Signer
	seller   *crypto.Signer
	operator *crypto.Signer
	nonce    uint64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	buyer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	seller, _ := crypto.GenerateKey()
	operator, _ := crypto.GenerateKey()

	tokens := ledger.NewTokenLedger(tokenAddr)
	registry := ledger.NewRegistry()
	if err := registry.Register(tokenAddr, tokens); err != nil {
		t.Fatalf("register ledger: %v", err)
	}
	bank := ledger.NewBank()
	bank.Deposit(buyer.Address(), 1_000_000)
	tokens.Mint(seller.Address(), 1, 1_000)
	tokens.SetApprovalForAll(seller.Address(), custodyAddr, true)

	exchange := dex.NewExchange(custodyAddr, registry, bank, nil)
	gate := dex.NewGate(ledger.NewOperators(operator.Address()), exchange)

	server := NewServer(exchange, gate, tokens, bank, nil)
	server.EnableDevFaucet()

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, buyer: buyer, seller: seller, operator: operator}
}

func (env *testEnv) nextNonce() uint64 {
	env.nonce++
	return env.nonce
}

func (env *testEnv) post(t *testing.T, path string, body interface{}, out interface{}) int {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	resp, err := http.Post(env.srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (env *testEnv) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(env.srv.URL + path)
	if err != nil {
		t.Fatalf("get %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func sign(t *testing.T, signer *crypto.Signer, digest []byte) string {
	t.Helper()
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	return hexutil.Encode(sig)
}

func (env *testEnv) placeBid(t *testing.T, amount, price int64) uint64 {
	t.Helper()
	nonce := env.nextNonce()
	value := amount * price
	req := BidRequest{
		Token: tokenAddr.Hex(), AssetID: 1, Amount: amount, Price: price,
		Value: value, Nonce: nonce,
		Signature: sign(t, env.buyer, crypto.BidDigest(tokenAddr, 1, amount, price, value, nonce)),
	}
	var resp CreateOrderResponse
	if code := env.post(t, "/api/v1/orders/bid", req, &resp); code != http.StatusOK {
		t.Fatalf("bid returned %d", code)
	}
	return resp.OrderID
}

func (env *testEnv) placeAsk(t *testing.T, amount, price int64) uint64 {
	t.Helper()
	nonce := env.nextNonce()
	req := AskRequest{
		Token: tokenAddr.Hex(), AssetID: 1, Amount: amount, Price: price,
		Nonce:     nonce,
		Signature: sign(t, env.seller, crypto.AskDigest(tokenAddr, 1, amount, price, nonce)),
	}
	var resp CreateOrderResponse
	if code := env.post(t, "/api/v1/orders/ask", req, &resp); code != http.StatusOK {
		t.Fatalf("ask returned %d", code)
	}
	return resp.OrderID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	var out map[string]string
	if code := env.get(t, "/health", &out); code != http.StatusOK {
		t.Fatalf("health returned %d", code)
	}
	if out["status"] != "ok" {
		t.Errorf("status = %q", out["status"])
	}
}

func TestBidAskAndDetail(t *testing.T) {
	env := newTestEnv(t)

	bidID := env.placeBid(t, 100, 100)
	askID := env.placeAsk(t, 100, 100)

	var info OrderInfo
	if code := env.get(t, "/api/v1/orders/1", &info); code != http.StatusOK {
		t.Fatalf("detail returned %d", code)
	}
	if info.ID != bidID || !info.IsBuy || !info.IsActive || info.Escrow != 10_000 {
		t.Errorf("bid info = %+v", info)
	}
	if info.Owner != env.buyer.Address().Hex() {
		t.Errorf("owner = %s, want recovered signer %s", info.Owner, env.buyer.Address().Hex())
	}

	if code := env.get(t, "/api/v1/orders/2", &info); code != http.StatusOK {
		t.Fatalf("detail returned %d", code)
	}
	if info.ID != askID || info.IsBuy {
		t.Errorf("ask info = %+v", info)
	}

	if code := env.get(t, "/api/v1/orders/999", nil); code != http.StatusNotFound {
		t.Errorf("unknown order returned %d, want 404", code)
	}
}

func TestBidRejectsTamperedSignature(t *testing.T) {
	env := newTestEnv(t)

	nonce := env.nextNonce()
	// Sign for one price, submit another: recovery yields a different
	// address with no funds, so the bid fails downstream.
	req := BidRequest{
		Token: tokenAddr.Hex(), AssetID: 1, Amount: 100, Price: 999,
		Value: 100 * 999, Nonce: nonce,
		Signature: sign(t, env.buyer, crypto.BidDigest(tokenAddr, 1, 100, 100, 10_000, nonce)),
	}
	if code := env.post(t, "/api/v1/orders/bid", req, nil); code == http.StatusOK {
		t.Error("tampered bid accepted")
	}
}

func TestNonceReplayRejected(t *testing.T) {
	env := newTestEnv(t)

	nonce := env.nextNonce()
	req := AskRequest{
		Token: tokenAddr.Hex(), AssetID: 1, Amount: 10, Price: 10,
		Nonce:     nonce,
		Signature: sign(t, env.seller, crypto.AskDigest(tokenAddr, 1, 10, 10, nonce)),
	}
	if code := env.post(t, "/api/v1/orders/ask", req, nil); code != http.StatusOK {
		t.Fatalf("first ask returned %d", code)
	}
	if code := env.post(t, "/api/v1/orders/ask", req, nil); code != http.StatusConflict {
		t.Errorf("replayed ask returned %d, want 409", code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	env := newTestEnv(t)
	bidID := env.placeBid(t, 100, 100)

	// A non-owner's cancel is rejected.
	nonce := env.nextNonce()
	req := CancelRequest{
		IDs: []uint64{bidID}, Nonce: nonce,
		Signature: sign(t, env.seller, crypto.CancelDigest([]uint64{bidID}, nonce)),
	}
	if code := env.post(t, "/api/v1/orders/cancel", req, nil); code != http.StatusConflict {
		t.Errorf("non-owner cancel returned %d, want 409", code)
	}

	nonce = env.nextNonce()
	req = CancelRequest{
		IDs: []uint64{bidID}, Nonce: nonce,
		Signature: sign(t, env.buyer, crypto.CancelDigest([]uint64{bidID}, nonce)),
	}
	if code := env.post(t, "/api/v1/orders/cancel", req, nil); code != http.StatusOK {
		t.Fatalf("cancel returned %d", code)
	}

	var acct AccountInfo
	env.get(t, "/api/v1/accounts/"+env.buyer.Address().Hex(), &acct)
	if acct.Balance != 1_000_000 {
		t.Errorf("buyer balance after cancel = %d, want 1000000", acct.Balance)
	}
}

func TestSettleEndpoint(t *testing.T) {
	env := newTestEnv(t)
	bidID := env.placeBid(t, 100, 100)
	askID := env.placeAsk(t, 100, 100)

	// A non-operator's settlement is forbidden.
	nonce := env.nextNonce()
	req := SettleRequest{
		BidIDs: []uint64{bidID}, AskIDs: []uint64{askID}, Amounts: []int64{100},
		Nonce:     nonce,
		Signature: sign(t, env.buyer, crypto.SettleDigest([]uint64{bidID}, []uint64{askID}, []int64{100}, false, nonce)),
	}
	if code := env.post(t, "/api/v1/settle", req, nil); code != http.StatusForbidden {
		t.Errorf("non-operator settle returned %d, want 403", code)
	}

	nonce = env.nextNonce()
	req = SettleRequest{
		BidIDs: []uint64{bidID}, AskIDs: []uint64{askID}, Amounts: []int64{100},
		Nonce:     nonce,
		Signature: sign(t, env.operator, crypto.SettleDigest([]uint64{bidID}, []uint64{askID}, []int64{100}, false, nonce)),
	}
	var resp SettleResponse
	if code := env.post(t, "/api/v1/settle", req, &resp); code != http.StatusOK {
		t.Fatalf("settle returned %d", code)
	}
	if len(resp.Settlements) != 1 || resp.Settlements[0].Payment != 10_000 {
		t.Errorf("settle response = %+v", resp)
	}

	var bal AssetBalanceInfo
	env.get(t, "/api/v1/accounts/"+env.buyer.Address().Hex()+"/assets/1", &bal)
	if bal.Balance != 100 {
		t.Errorf("buyer asset balance = %d, want 100", bal.Balance)
	}
	var acct AccountInfo
	env.get(t, "/api/v1/accounts/"+env.seller.Address().Hex(), &acct)
	if acct.Balance != 10_000 {
		t.Errorf("seller payment = %d, want 10000", acct.Balance)
	}
}

func TestSettleRefundEndpoint(t *testing.T) {
	env := newTestEnv(t)
	bidID := env.placeBid(t, 10, 150)
	askID := env.placeAsk(t, 5, 50)

	nonce := env.nextNonce()
	req := SettleRequest{
		BidIDs: []uint64{bidID}, AskIDs: []uint64{askID}, Amounts: []int64{5},
		Nonce:     nonce,
		Signature: sign(t, env.operator, crypto.SettleDigest([]uint64{bidID}, []uint64{askID}, []int64{5}, true, nonce)),
	}
	var resp SettleResponse
	if code := env.post(t, "/api/v1/settle/refund", req, &resp); code != http.StatusOK {
		t.Fatalf("settle/refund returned %d", code)
	}
	if len(resp.Settlements) != 1 {
		t.Fatalf("got %d settlements, want 1", len(resp.Settlements))
	}
	if got := resp.Settlements[0]; got.Payment != 250 || got.Refund != 500 {
		t.Errorf("settlement = %+v, want payment 250 refund 500", got)
	}
}

func TestSettleSignatureBindsVariant(t *testing.T) {
	env := newTestEnv(t)
	bidID := env.placeBid(t, 10, 100)
	askID := env.placeAsk(t, 10, 100)

	// A plain-settle signature submitted to the refund endpoint recovers a
	// different address, which is not an operator.
	nonce := env.nextNonce()
	req := SettleRequest{
		BidIDs: []uint64{bidID}, AskIDs: []uint64{askID}, Amounts: []int64{10},
		Nonce:     nonce,
		Signature: sign(t, env.operator, crypto.SettleDigest([]uint64{bidID}, []uint64{askID}, []int64{10}, false, nonce)),
	}
	if code := env.post(t, "/api/v1/settle/refund", req, nil); code == http.StatusOK {
		t.Error("cross-variant signature accepted")
	}
}

func TestFaucetAndMint(t *testing.T) {
	env := newTestEnv(t)
	fresh, _ := crypto.GenerateKey()

	if code := env.post(t, "/api/v1/faucet", FaucetRequest{Address: fresh.Address().Hex(), Amount: 500}, nil); code != http.StatusOK {
		t.Fatalf("faucet returned %d", code)
	}
	var acct AccountInfo
	env.get(t, "/api/v1/accounts/"+fresh.Address().Hex(), &acct)
	if acct.Balance != 500 {
		t.Errorf("faucet balance = %d, want 500", acct.Balance)
	}

	if code := env.post(t, "/api/v1/tokens/mint", MintRequest{Address: fresh.Address().Hex(), AssetID: 7, Amount: 42}, nil); code != http.StatusOK {
		t.Fatalf("mint returned %d", code)
	}
	var bal AssetBalanceInfo
	env.get(t, "/api/v1/accounts/"+fresh.Address().Hex()+"/assets/7", &bal)
	if bal.Balance != 42 {
		t.Errorf("minted balance = %d, want 42", bal.Balance)
	}
}

func TestApproveEndpoint(t *testing.T) {
	env := newTestEnv(t)
	fresh, _ := crypto.GenerateKey()
	env.post(t, "/api/v1/tokens/mint", MintRequest{Address: fresh.Address().Hex(), AssetID: 1, Amount: 10}, nil)

	// Without approval an ask from the fresh account is rejected.
	nonce := env.nextNonce()
	askReq := AskRequest{
		Token: tokenAddr.Hex(), AssetID: 1, Amount: 10, Price: 10,
		Nonce:     nonce,
		Signature: sign(t, fresh, crypto.AskDigest(tokenAddr, 1, 10, 10, nonce)),
	}
	if code := env.post(t, "/api/v1/orders/ask", askReq, nil); code != http.StatusBadRequest {
		t.Errorf("unapproved ask returned %d, want 400", code)
	}

	nonce = env.nextNonce()
	approveReq := ApproveRequest{
		Token: tokenAddr.Hex(), Approved: true, Nonce: nonce,
		Signature: sign(t, fresh, crypto.ApproveDigest(tokenAddr, custodyAddr, true, nonce)),
	}
	if code := env.post(t, "/api/v1/tokens/approve", approveReq, nil); code != http.StatusOK {
		t.Fatalf("approve returned %d", code)
	}

	nonce = env.nextNonce()
	askReq.Nonce = nonce
	askReq.Signature = sign(t, fresh, crypto.AskDigest(tokenAddr, 1, 10, 10, nonce))
	if code := env.post(t, "/api/v1/orders/ask", askReq, nil); code != http.StatusOK {
		t.Errorf("approved ask returned %d, want 200", code)
	}
}
