// sign-request builds and signs exchange API payloads for manual testing:
//
//	sign-request -kind bid  -token 0x... -asset 1 -amount 100 -price 100 -nonce 1
//	sign-request -kind ask  -token 0x... -asset 1 -amount 100 -price 100 -nonce 2
//	sign-request -kind settle -bids 1 -asks 2 -amounts 100 -nonce 3 -key <hex>
//
// Without -key a fresh keypair is generated and printed.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tokenex-labs/tokendex/pkg/crypto"
)

func main() {
	kind := flag.String("kind", "bid", "bid | ask | cancel | settle | settle-refund | approve")
	keyHex := flag.String("key", "", "signer private key hex (generated if empty)")
	token := flag.String("token", "0xDE30000000000000000000000000000000000002", "token ledger address")
	asset := flag.Uint64("asset", 1, "asset id")
	amount := flag.Int64("amount", 0, "order amount")
	price := flag.Int64("price", 0, "unit price")
	ids := flag.String("ids", "", "comma-separated order ids (cancel)")
	bids := flag.String("bids", "", "comma-separated bid ids (settle)")
	asks := flag.String("asks", "", "comma-separated ask ids (settle)")
	amounts := flag.String("amounts", "", "comma-separated match amounts (settle)")
	agent := flag.String("agent", "0xDE30000000000000000000000000000000000001", "exchange custody address (approve)")
	approved := flag.Bool("approved", true, "approval flag (approve)")
	nonce := flag.Uint64("nonce", 1, "request nonce")
	flag.Parse()

	var signer *crypto.Signer
	var err error
	if *keyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(strings.TrimPrefix(*keyHex, "0x"))
	} else {
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "signer: %s\n", signer.Address().Hex())
	if *keyHex == "" {
		fmt.Fprintf(os.Stderr, "private key: %s (keep secret)\n", signer.PrivateKeyHex())
	}

	tokenAddr := common.HexToAddress(*token)
	payload := map[string]interface{}{"nonce": *nonce}

	var digest []byte
	switch *kind {
	case "bid":
		value := *amount * *price
		digest = crypto.BidDigest(tokenAddr, *asset, *amount, *price, value, *nonce)
		payload["token"] = tokenAddr.Hex()
		payload["assetId"] = *asset
		payload["amount"] = *amount
		payload["price"] = *price
		payload["value"] = value
	case "ask":
		digest = crypto.AskDigest(tokenAddr, *asset, *amount, *price, *nonce)
		payload["token"] = tokenAddr.Hex()
		payload["assetId"] = *asset
		payload["amount"] = *amount
		payload["price"] = *price
	case "cancel":
		idList := parseUints(*ids)
		digest = crypto.CancelDigest(idList, *nonce)
		payload["ids"] = idList
	case "settle", "settle-refund":
		bidList := parseUints(*bids)
		askList := parseUints(*asks)
		amtList := parseInts(*amounts)
		digest = crypto.SettleDigest(bidList, askList, amtList, *kind == "settle-refund", *nonce)
		payload["bidIds"] = bidList
		payload["askIds"] = askList
		payload["amounts"] = amtList
	case "approve":
		agentAddr := common.HexToAddress(*agent)
		digest = crypto.ApproveDigest(tokenAddr, agentAddr, *approved, *nonce)
		payload["token"] = tokenAddr.Hex()
		payload["approved"] = *approved
	default:
		fatal(fmt.Errorf("unknown kind %q", *kind))
	}

	sig, err := signer.Sign(digest)
	if err != nil {
		fatal(err)
	}
	payload["signature"] = hexutil.Encode(sig)

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(out))
}

func parseUints(s string) []uint64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			fatal(fmt.Errorf("bad id %q: %w", p, err))
		}
		out[i] = v
	}
	return out
}

func parseInts(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			fatal(fmt.Errorf("bad amount %q: %w", p, err))
		}
		out[i] = v
	}
	return out
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
