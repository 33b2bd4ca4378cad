package params

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Storage struct {
	// DBPath is the Pebble directory holding orders and escrow.
	// Empty = memory only (state is lost on restart).
	DBPath string
}

type Dex struct {
	// ExchangeAddr is the custody address holding escrowed value.
	ExchangeAddr string
	// TokenAddr is the devnet token ledger's registry address.
	TokenAddr string
	// Operators are the addresses allowed to trigger settlement.
	Operators []string
	// DevFaucet enables the faucet/mint/approve admin endpoints.
	DevFaucet bool
}

type Config struct {
	API     API
	Storage Storage
	Dex     Dex
	LogFile string
}

func Default() Config {
	return Config{
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Storage: Storage{
			DBPath: "data/tokendex.db",
		},
		Dex: Dex{
			ExchangeAddr: "0xDE30000000000000000000000000000000000001",
			TokenAddr:    "0xDE30000000000000000000000000000000000002",
			DevFaucet:    true,
		},
		LogFile: "data/tokendex.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.API.Addr = addr
	}
	if origins := os.Getenv("API_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = strings.Split(origins, ",")
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
	if path := os.Getenv("LOG_FILE"); path != "" {
		cfg.LogFile = path
	}
	if addr := os.Getenv("EXCHANGE_ADDR"); addr != "" {
		cfg.Dex.ExchangeAddr = addr
	}
	if addr := os.Getenv("TOKEN_ADDR"); addr != "" {
		cfg.Dex.TokenAddr = addr
	}
	if ops := os.Getenv("OPERATORS"); ops != "" {
		cfg.Dex.Operators = strings.Split(ops, ",")
	}
	if faucet := os.Getenv("DEV_FAUCET"); faucet != "" {
		cfg.Dex.DevFaucet = faucet == "true"
	}

	return cfg
}
