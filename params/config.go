package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Exchange holds the immutable trading parameters fixed at construction.
type Exchange struct {
	// FeeAccount receives the taker fee of every settled trade.
	FeeAccount common.Address
	// FeePercent is an integer percentage (10 means 10%). The fee is
	// floor(amountGet * FeePercent / 100), charged in the get-asset.
	FeePercent uint64
	// AllowSelfFill permits a maker to fill their own order. Nothing in the
	// reference behavior forbids it, so it defaults to true; set to false to
	// reject self-trades outright.
	AllowSelfFill bool
	// Custody is the exchange's own identity on external token ledgers.
	// Deposits pull into it, withdrawals push out of it.
	Custody common.Address
}

type Node struct {
	// DBPath is the Pebble directory holding balances, orders and events.
	DBPath string
	// APIAddr is the listen address for the REST/WebSocket server.
	APIAddr string
	// LogFile receives the JSON log stream alongside stdout.
	LogFile string
}

type Config struct {
	Exchange Exchange
	Node     Node
}

// Devnet identities shared by the node's bootstrap token and the seeder.
var (
	DevTokenAsset    = common.HexToAddress("0x0000000000000000000000000000000000Da0001")
	DevTokenDeployer = common.HexToAddress("0xDD00000000000000000000000000000000000000")
)

func Default() Config {
	return Config{
		Exchange: Exchange{
			FeeAccount:    common.HexToAddress("0x00000000000000000000000000000000000Fee00"),
			FeePercent:    10,
			AllowSelfFill: true,
			Custody:       common.HexToAddress("0x00000000000000000000000000000000C0570d1a"),
		},
		Node: Node{
			DBPath:  "data/exchange.db",
			APIAddr: ":8080",
			LogFile: "data/node.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if acct := os.Getenv("FEE_ACCOUNT"); acct != "" && common.IsHexAddress(acct) {
		cfg.Exchange.FeeAccount = common.HexToAddress(acct)
	}

	if pct := os.Getenv("FEE_PERCENT"); pct != "" {
		if p, err := strconv.ParseUint(pct, 10, 64); err == nil && p <= 100 {
			cfg.Exchange.FeePercent = p
		}
	}

	if selfFill := os.Getenv("ALLOW_SELF_FILL"); selfFill != "" {
		cfg.Exchange.AllowSelfFill = selfFill == "true"
	}

	if custody := os.Getenv("EXCHANGE_CUSTODY"); custody != "" && common.IsHexAddress(custody) {
		cfg.Exchange.Custody = common.HexToAddress(custody)
	}

	if db := os.Getenv("EXCHANGE_DB"); db != "" {
		cfg.Node.DBPath = db
	}
	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.Node.APIAddr = addr
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.Node.LogFile = logFile
	}

	return cfg
}
