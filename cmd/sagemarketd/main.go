package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"sagemarket/config"
	"sagemarket/core/epoch"
	"sagemarket/core/events"
	"sagemarket/core/state"
	"sagemarket/gateway"
	gatewaycfg "sagemarket/gateway/config"
	"sagemarket/gateway/idempotency"
	"sagemarket/native/bank"
	"sagemarket/native/collateral"
	"sagemarket/native/common"
	"sagemarket/native/escrow"
	"sagemarket/native/fees"
	"sagemarket/native/mining"
	"sagemarket/native/orderbook"
	"sagemarket/native/vesting"
	"sagemarket/observability/logging"
	"sagemarket/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("daemon exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("sagemarketd", cfg.Environment)
	logger.Info("starting settlement daemon",
		slog.String("network", cfg.NetworkName),
		slog.String("data_dir", cfg.DataDir))

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	manager := state.NewManager(db)

	admin, err := optionalAddress(cfg.Admin, "admin")
	if err != nil {
		return err
	}
	treasury, err := optionalAddress(cfg.Treasury, "treasury")
	if err != nil {
		return err
	}
	stakerPool, err := optionalAddress(cfg.StakerPool, "staker-pool")
	if err != nil {
		return err
	}
	collateralVault, err := optionalAddress(cfg.Collateral.Vault, "collateral-vault")
	if err != nil {
		return err
	}
	vestingVault, err := optionalAddress(cfg.Vesting.Vault, "vesting-vault")
	if err != nil {
		return err
	}
	bookVault, err := optionalAddress(cfg.Orderbook.Vault, "orderbook-vault")
	if err != nil {
		return err
	}
	escrowVault := moduleAddress("escrow-vault")

	feed := events.NewFeed(cfg.EventFeedLimit)
	pauses := common.NewPauseRegistry()
	pauses.SetPaused(fees.ModuleName, cfg.Pauses.Fees)
	pauses.SetPaused(collateral.ModuleName, cfg.Pauses.Collateral)
	pauses.SetPaused(mining.ModuleName, cfg.Pauses.Mining)
	pauses.SetPaused(vesting.ModuleName, cfg.Pauses.Vesting)
	pauses.SetPaused(escrow.ModuleName, cfg.Pauses.Escrow)
	pauses.SetPaused(orderbook.ModuleName, cfg.Pauses.Orderbook)

	tracker, err := epoch.NewTracker(manager)
	if err != nil {
		return fmt.Errorf("epoch tracker: %w", err)
	}
	tracker.SetOperator(admin, true)
	for _, raw := range cfg.EpochOperators {
		operator, err := config.ParseAddress(raw)
		if err != nil {
			return err
		}
		tracker.SetOperator(operator, true)
	}

	transfers := bank.NewEngine(manager)

	feeEngine := fees.NewEngine()
	feeEngine.SetState(manager)
	feeEngine.SetTransferor(transfers)
	feeEngine.SetEpochSource(tracker)
	feeEngine.SetPauses(pauses)
	feeEngine.SetOwner(admin)
	feeEngine.SetTreasury(treasury)
	feeEngine.SetStakerPoolAddress(stakerPool)
	feeEngine.SetAuthorizedCaller(admin, true)
	feeEngine.SetAuthorizedCaller(escrowVault, true)
	feeEngine.SetEmitter(feed)
	if err := feeEngine.SetConfig(admin, cfg.Fees.EngineConfig()); err != nil {
		return fmt.Errorf("fees config: %w", err)
	}

	collateralEngine := collateral.NewEngine()
	collateralEngine.SetState(manager)
	collateralEngine.SetTransferor(transfers)
	collateralEngine.SetEpochSource(tracker)
	collateralEngine.SetPauses(pauses)
	collateralEngine.SetOwner(admin)
	collateralEngine.SetVault(collateralVault)
	collateralEngine.SetSlasher(admin, true)
	collateralEngine.SetEmitter(feed)
	for _, raw := range cfg.Collateral.Slashers {
		slasher, err := config.ParseAddress(raw)
		if err != nil {
			return err
		}
		collateralEngine.SetSlasher(slasher, true)
	}
	collateralParams, err := cfg.Collateral.EngineParams()
	if err != nil {
		return err
	}
	if err := collateralEngine.SetParams(admin, collateralParams); err != nil {
		return fmt.Errorf("collateral params: %w", err)
	}

	miningEngine := mining.NewEngine()
	miningEngine.SetState(manager)
	miningEngine.SetMinter(transfers)
	miningEngine.SetStakeSource(transfers)
	miningEngine.SetPauses(pauses)
	miningEngine.SetOwner(admin)
	miningEngine.SetAuthorizedCaller(admin, true)
	miningEngine.SetEmitter(feed)
	for _, raw := range cfg.Mining.AuthorizedCallers {
		caller, err := config.ParseAddress(raw)
		if err != nil {
			return err
		}
		miningEngine.SetAuthorizedCaller(caller, true)
	}
	schedule, err := cfg.Mining.Schedule()
	if err != nil {
		return fmt.Errorf("mining schedule: %w", err)
	}
	miningEngine.SetSchedule(schedule)
	miningConfig, err := cfg.Mining.EngineConfig()
	if err != nil {
		return err
	}
	if err := miningEngine.SetConfig(admin, miningConfig); err != nil {
		return fmt.Errorf("mining config: %w", err)
	}

	vestingEngine := vesting.NewEngine()
	vestingEngine.SetState(manager)
	vestingEngine.SetTransferor(transfers)
	vestingEngine.SetEpochSource(tracker)
	vestingEngine.SetPauses(pauses)
	vestingEngine.SetOwner(admin)
	vestingEngine.SetVault(vestingVault)
	vestingEngine.SetAuthorizedCaller(admin, true)
	vestingEngine.SetEmitter(feed)
	for _, raw := range cfg.Vesting.AuthorizedGranters {
		granter, err := config.ParseAddress(raw)
		if err != nil {
			return err
		}
		vestingEngine.SetAuthorizedCaller(granter, true)
	}
	vestingParams, err := cfg.Vesting.EngineParams()
	if err != nil {
		return err
	}
	if err := vestingEngine.SetParams(admin, vestingParams); err != nil {
		return fmt.Errorf("vesting params: %w", err)
	}

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(manager)
	escrowEngine.SetTransferor(transfers)
	escrowEngine.SetFeeProcessor(feeEngine)
	escrowEngine.SetPauses(pauses)
	escrowEngine.SetOwner(admin)
	escrowEngine.SetVault(escrowVault)
	escrowEngine.SetEmitter(feed)

	bookEngine := orderbook.NewEngine()
	bookEngine.SetState(manager)
	bookEngine.SetTransferor(transfers)
	bookEngine.SetPauses(pauses)
	bookEngine.SetOwner(admin)
	bookEngine.SetVault(bookVault)
	bookEngine.SetEmitter(feed)
	bookParams, err := cfg.Orderbook.EngineParams()
	if err != nil {
		return err
	}
	if err := bookEngine.SetParams(admin, bookParams); err != nil {
		return fmt.Errorf("orderbook params: %w", err)
	}

	gwCfg := gatewaycfg.Default()
	if path := cfg.GatewayConfigPath; path != "" {
		if gwCfg, err = gatewaycfg.Load(path); err != nil {
			return err
		}
	}
	gwCfg.ListenAddress = cfg.ListenAddress

	var idem *idempotency.Store
	if gwCfg.Idempotency.Enabled {
		idem, err = idempotency.NewStore(gwCfg.Idempotency.Path, gwCfg.Idempotency.TTL)
		if err != nil {
			return fmt.Errorf("idempotency store: %w", err)
		}
		defer idem.Close()
	}

	server := gateway.NewServer(gwCfg, logging.Module(logger, "gateway"), gateway.Engines{
		Bank:       transfers,
		Fees:       feeEngine,
		Collateral: collateralEngine,
		Mining:     miningEngine,
		Vesting:    vestingEngine,
		Escrow:     escrowEngine,
		Orderbook:  bookEngine,
		Epochs:     tracker,
		Pauses:     pauses,
		Feed:       feed,
	}, admin, idem)

	httpServer := &http.Server{
		Addr:         gwCfg.ListenAddress,
		Handler:      server.Handler(),
		ReadTimeout:  gwCfg.ReadTimeout,
		WriteTimeout: gwCfg.WriteTimeout,
		IdleTimeout:  gwCfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// optionalAddress parses a configured address, deriving a stable module
// address when the field is left empty.
func optionalAddress(raw, fallback string) ([20]byte, error) {
	if raw == "" {
		return moduleAddress(fallback), nil
	}
	return config.ParseAddress(raw)
}

// moduleAddress derives a deterministic address for module-owned vaults so a
// default deployment has distinct, collision-free fund buckets.
func moduleAddress(name string) [20]byte {
	digest := ethcrypto.Keccak256([]byte("sagemarket/module/" + name))
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}
