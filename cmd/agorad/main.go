package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"agorachain/config"
	"agorachain/core"
	"agorachain/crypto"
	"agorachain/native/cpi"
	"agorachain/native/oracle"
	"agorachain/native/stable"
	"agorachain/observability/logging"
	"agorachain/rpc"
	"agorachain/storage"
)

const adminAddressEnv = "AGORA_ADMIN_ADDRESS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("agorad", cfg.Environment, logging.Options{
		Level:    logging.ParseLevel(cfg.LogLevel),
		FilePath: cfg.LogFile,
	})

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	nodeCfg, err := buildNodeConfig(cfg, logger)
	if err != nil {
		logger.Error("invalid ledger configuration", slog.Any("error", err))
		os.Exit(1)
	}

	node, err := core.NewNode(db, nodeCfg)
	if err != nil {
		logger.Error("failed to construct node", slog.Any("error", err))
		os.Exit(1)
	}

	if feed := buildFeed(cfg, logger); feed != nil {
		node.SetIndexFeed(feed)
		if cfg.Index.FeedBase != "" && cfg.Index.FeedQuote != "" {
			node.SetIndexFeedPair(cfg.Index.FeedBase, cfg.Index.FeedQuote)
		}
	}

	if err := seedAdmin(node, logger); err != nil {
		logger.Error("failed to seed admin role", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(node, rpc.Options{
		BearerToken:    cfg.BearerToken(),
		AdminJWTSecret: cfg.AdminJWTSecretValue(),
		RatePerSec:     cfg.RPC.RateLimitPerSec,
		RateBurst:      cfg.RPC.RateLimitBurst,
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx, cfg.RPCAddress); err != nil {
		logger.Error("rpc server failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func buildNodeConfig(cfg *config.Config, logger *slog.Logger) (core.Config, error) {
	feeVault, err := parseVault(cfg.Market.FeeVault, "fee-vault")
	if err != nil {
		return core.Config{}, err
	}
	collateralVault, err := parseVault(cfg.Stable.CollateralVault, "collateral-vault")
	if err != nil {
		return core.Config{}, err
	}
	risk := stable.DefaultRiskParameters()
	if cfg.Stable.LiquidationThreshold != 0 {
		risk.LiquidationThreshold = cfg.Stable.LiquidationThreshold
	}
	risk.LiquidationBonus = cfg.Stable.LiquidationBonusBps
	risk.MaxIndexDeviationBps = cfg.Stable.MaxIndexDeviationBps
	return core.Config{
		FeeVault:        feeVault,
		CollateralVault: collateralVault,
		MarketFeeBps:    cfg.Market.FeeBps,
		Risk:            risk,
		IndexWindow:     cpi.WindowMonthly,
		BucketWidth:     cfg.Index.BucketWidthSeconds,
		Logger:          logger,
	}, nil
}

// parseVault accepts an explicit bech32 address or derives a deterministic
// module address when the config leaves the field empty.
func parseVault(raw, module string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.ModuleAddress(module), nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", module, err)
	}
	return addr, nil
}

func buildFeed(cfg *config.Config, logger *slog.Logger) oracle.PriceOracle {
	if len(cfg.Index.FeedEndpoints) == 0 {
		return nil
	}
	maxAge := time.Duration(cfg.Index.FeedMaxAgeSeconds) * time.Second
	client := &http.Client{Timeout: 10 * time.Second}
	names := make([]string, 0, len(cfg.Index.FeedEndpoints))
	for i := range cfg.Index.FeedEndpoints {
		names = append(names, fmt.Sprintf("feed-%d", i))
	}
	aggregator := oracle.NewAggregator(names, maxAge)
	for i, endpoint := range cfg.Index.FeedEndpoints {
		aggregator.Register(names[i], oracle.NewHTTPOracle(client, endpoint, names[i]))
	}
	logger.Info("independent index feeds configured", "count", len(names))
	return aggregator
}

// seedAdmin grants the administrative role to the address named in the
// environment, bootstrapping a fresh ledger.
func seedAdmin(node *core.Node, logger *slog.Logger) error {
	raw := strings.TrimSpace(os.Getenv(adminAddressEnv))
	if raw == "" {
		return nil
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", adminAddressEnv, err)
	}
	if err := node.State().SetRole(core.RoleAdmin, addr.Bytes()); err != nil {
		return err
	}
	node.State().Commit()
	logger.Info("admin role granted", "address", addr.String())
	return nil
}
