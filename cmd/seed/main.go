// Seeder: populates a fresh exchange database with the canonical demo
// activity — funded users, one cancelled order, three settled trades and
// twenty resting orders. Run it against the node's data directory while the
// node is stopped, then start the node to serve the seeded state.
package main

import (
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/custodex/custodex/params"
	"github.com/custodex/custodex/pkg/exchange"
	"github.com/custodex/custodex/pkg/token"
	"github.com/custodex/custodex/pkg/util"
)

var (
	user1 = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	user2 = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	store, err := exchange.OpenStore(cfg.Node.DBPath)
	if err != nil {
		logger.Fatal("open_store", zap.Error(err))
	}
	defer store.Close()

	registry := token.NewRegistry()
	supply := new(uint256.Int).Mul(uint256.NewInt(1_000_000), e18())
	tok := token.New("DApp Token", "DAPP", 18, supply, params.DevTokenDeployer)
	registry.Register(params.DevTokenAsset, tok)

	ex, err := exchange.New(cfg.Exchange, registry, store, util.RealClock{}, logger)
	if err != nil {
		logger.Fatal("exchange_init", zap.Error(err))
	}

	must := func(step string, err error) {
		if err != nil {
			logger.Fatal("seed_failed", zap.String("step", step), zap.Error(err))
		}
	}

	// Fund user2 with tokens
	must("fund_user2", tok.Transfer(params.DevTokenDeployer, user2, tokens(10_000)))

	// User 1 deposits 1 native unit
	must("deposit_native", ex.DepositNative(user1, ether(1)))

	// User 2 approves and deposits 10,000 tokens
	must("approve", tok.Approve(user2, cfg.Exchange.Custody, tokens(10_000)))
	must("deposit_token", ex.DepositToken(user2, params.DevTokenAsset, tokens(10_000)))

	// One made-then-cancelled order
	id, err := ex.MakeOrder(user1, params.DevTokenAsset, tokens(100), exchange.NativeAsset, div(ether(1), 10))
	must("make_order", err)
	must("cancel_order", ex.CancelOrder(user1, id))
	logger.Info("seeded_cancelled_order", zap.Uint64("id", id))

	// Three made-then-filled orders
	fills := []struct {
		get  *uint256.Int
		give *uint256.Int
	}{
		{tokens(100), div(ether(1), 10)},
		{tokens(50), div(ether(1), 100)},
		{tokens(200), div(ether(3), 20)},
	}
	for _, f := range fills {
		id, err := ex.MakeOrder(user1, params.DevTokenAsset, f.get, exchange.NativeAsset, f.give)
		must("make_order", err)
		must("fill_order", ex.FillOrder(user2, id))
		logger.Info("seeded_trade", zap.Uint64("id", id))

		// Separate the trade timestamps
		time.Sleep(100 * time.Millisecond)
	}

	// Ten resting orders per side
	for i := 1; i <= 10; i++ {
		id, err := ex.MakeOrder(user1, params.DevTokenAsset, tokens(uint64(10*i)), exchange.NativeAsset, div(ether(1), 100))
		must("make_order", err)
		logger.Info("seeded_open_order", zap.Uint64("id", id), zap.String("maker", user1.Hex()))
		time.Sleep(100 * time.Millisecond)
	}
	for i := 1; i <= 10; i++ {
		id, err := ex.MakeOrder(user2, exchange.NativeAsset, div(ether(1), 100), params.DevTokenAsset, tokens(uint64(10*i)))
		must("make_order", err)
		logger.Info("seeded_open_order", zap.Uint64("id", id), zap.String("maker", user2.Hex()))
		time.Sleep(100 * time.Millisecond)
	}

	logger.Info("seed_complete", zap.Uint64("orders", ex.OrderCount()))
}

func e18() *uint256.Int {
	return uint256.MustFromDecimal("1000000000000000000")
}

// ether converts whole native units to the smallest unit.
func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), e18())
}

// tokens is the same scale as ether, 18 decimals.
func tokens(n uint64) *uint256.Int {
	return ether(n)
}

func div(a *uint256.Int, n uint64) *uint256.Int {
	return new(uint256.Int).Div(a, uint256.NewInt(n))
}
