package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/custodex/custodex/params"
	"github.com/custodex/custodex/pkg/api"
	"github.com/custodex/custodex/pkg/exchange"
	"github.com/custodex/custodex/pkg/token"
	"github.com/custodex/custodex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger_initialized", zap.String("log_file", cfg.Node.LogFile))

	store, err := exchange.OpenStore(cfg.Node.DBPath)
	if err != nil {
		logger.Fatal("open_store", zap.Error(err))
	}
	defer store.Close()

	// Devnet token ledger: full supply to the dev deployer. The registry is
	// where real external asset ledgers would be bound.
	registry := token.NewRegistry()
	supply := new(uint256.Int).Mul(uint256.NewInt(1_000_000), e18())
	registry.Register(params.DevTokenAsset, token.New("DApp Token", "DAPP", 18, supply, params.DevTokenDeployer))
	logger.Info("token_registered",
		zap.String("asset", params.DevTokenAsset.Hex()),
		zap.String("deployer", params.DevTokenDeployer.Hex()),
	)

	ex, err := exchange.New(cfg.Exchange, registry, store, util.RealClock{}, logger)
	if err != nil {
		logger.Fatal("exchange_init", zap.Error(err))
	}

	server := api.NewServer(ex, store, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Node.APIAddr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("shutdown", zap.String("signal", s.String()))
	case err := <-errCh:
		logger.Error("api_server_exit", zap.Error(err))
	}
}

func e18() *uint256.Int {
	return uint256.MustFromDecimal("1000000000000000000")
}
