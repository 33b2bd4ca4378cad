package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenex-labs/tokendex/params"
	"github.com/tokenex-labs/tokendex/pkg/api"
	"github.com/tokenex-labs/tokendex/pkg/dex"
	"github.com/tokenex-labs/tokendex/pkg/ledger"
	"github.com/tokenex-labs/tokendex/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewFileLogger(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	// ---- Collaborators: token ledger, bank, operator registry ----
	tokenAddr := common.HexToAddress(cfg.Dex.TokenAddr)
	tokens := ledger.NewTokenLedger(tokenAddr)

	assets := ledger.NewRegistry()
	if err := assets.Register(tokenAddr, tokens); err != nil {
		sugar.Fatalw("ledger_register_failed", "err", err)
	}

	bank := ledger.NewBank()

	var operatorAddrs []common.Address
	for _, s := range cfg.Dex.Operators {
		if !common.IsHexAddress(s) {
			sugar.Fatalw("invalid_operator_address", "addr", s)
		}
		operatorAddrs = append(operatorAddrs, common.HexToAddress(s))
	}
	operators := ledger.NewOperators(operatorAddrs...)
	sugar.Infow("operators_loaded", "count", len(operatorAddrs))

	// ---- Exchange core ----
	exchangeAddr := common.HexToAddress(cfg.Dex.ExchangeAddr)

	var exchange *dex.Exchange
	if cfg.Storage.DBPath != "" {
		db, err := pebble.Open(cfg.Storage.DBPath, &pebble.Options{})
		if err != nil {
			sugar.Fatalw("pebble_open_failed", "path", cfg.Storage.DBPath, "err", err)
		}
		defer db.Close()

		exchange, err = dex.NewExchangeWithDB(exchangeAddr, assets, bank, db, sugar)
		if err != nil {
			sugar.Fatalw("exchange_init_failed", "err", err)
		}
		sugar.Infow("exchange_loaded",
			"db", cfg.Storage.DBPath,
			"orders", exchange.Orders().Count(),
			"escrow_held", exchange.Escrow().TotalHeld())
	} else {
		exchange = dex.NewExchange(exchangeAddr, assets, bank, sugar)
		sugar.Warn("running without persistence, state is lost on restart")
	}

	gate := dex.NewGate(operators, exchange)

	// ---- API server ----
	server := api.NewServer(exchange, gate, tokens, bank, sugar)
	server.SetAllowedOrigins(cfg.API.AllowedOrigins)
	if cfg.Dex.DevFaucet {
		server.EnableDevFaucet()
		sugar.Info("dev faucet endpoints enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.API.Addr)
	}()

	select {
	case <-ctx.Done():
		sugar.Info("shutting down")
	case err := <-errCh:
		sugar.Fatalw("api_server_failed", "err", err)
	}
}
