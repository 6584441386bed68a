package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"stakeledger/config"
	"stakeledger/core"
	"stakeledger/core/state"
	"stakeledger/crypto"
	"stakeledger/journal"
	"stakeledger/native/staking"
	"stakeledger/observability"
	"stakeledger/observability/logging"
	telemetry "stakeledger/observability/otel"
	"stakeledger/rpc"
	"stakeledger/storage"
)

func main() {
	configFile := flag.String("config", "./stakingd.toml", "Path to the configuration file")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched snapshot schema (manual migrations only)")
	flag.Parse()

	if err := run(*configFile, *allowMigrateFlag); err != nil {
		fmt.Fprintf(os.Stderr, "stakingd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, allowMigrate bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "stakingd",
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	module := staking.DefaultModuleAddress()
	if trimmed := strings.TrimSpace(cfg.ModuleAddress); trimmed != "" {
		addr, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			return fmt.Errorf("module address: %w", err)
		}
		module = addr.Raw()
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "stakingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Ledger: telemetry.Ledger{
			TokenSymbol:   cfg.TokenSymbol,
			ModuleAddress: crypto.AddressFromRaw(module).String(),
			Database:      cfg.Database,
		},
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	dsn, err := journal.FileDSN(cfg.JournalPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	jrnl, err := journal.Open(dsn)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jrnl.Close()

	node, err := core.NewNode(core.NodeConfig{
		TokenSymbol:    cfg.TokenSymbol,
		ModuleAddress:  module,
		RewardDuration: cfg.RewardDuration(),
		Store:          state.NewStore(db),
		AllowMigrate:   allowMigrate,
		Journal:        jrnl,
		Metrics:        observability.Ledger(),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("start ledger: %w", err)
	}

	allocs, err := cfg.GenesisAllocations()
	if err != nil {
		return err
	}
	genesis := make([]core.Allocation, 0, len(allocs))
	for _, alloc := range allocs {
		genesis = append(genesis, core.Allocation{Account: alloc.Account.Raw(), Amount: alloc.Amount})
	}
	if err := node.ApplyGenesis(context.Background(), genesis); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}

	logger.Info("staking ledger ready",
		slog.String("module", crypto.AddressFromRaw(node.ModuleAddress()).String()),
		slog.String("token", node.TokenSymbol()),
		slog.String("database", cfg.Database),
		slog.String("root", node.Root().Hex()))

	server := rpc.NewServer(node, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddress)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	return nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Database {
	case config.DatabaseMemory:
		return storage.NewMemDB(), nil
	default:
		db, err := storage.NewLevelDB(cfg.SnapshotPath())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	}
}
