package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"launchpilot/internal/chain"
	"launchpilot/internal/config"
	"launchpilot/internal/keys"
	"launchpilot/internal/trade"
	"launchpilot/internal/txbuilder"
)

//nolint:gochecknoglobals // Cobra boilerplate
var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "launchpilot",
		Short: "Buy tokens as the launchpad creates them, sell them after a cool-down",
		Long: `launchpilot watches a launchpad factory for token creation events, buys each
new token through the token manager and sells the whole balance back after a
fixed cool-down. "run" starts the pipeline with an operator console; the other
subcommands are one-shot manual trades against the same configuration.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// deps is everything a command needs to trade.
type deps struct {
	cfg    *config.Config
	logger *zap.Logger
	client *ethclient.Client
	auto   *txbuilder.AutoBuilder
	svc    *trade.Service
}

func setup(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	signer, err := keys.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := chain.DialHTTP(ctx, cfg.RPC.HTTP)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	if chainID.Uint64() != cfg.ChainID {
		client.Close()
		return nil, &config.Error{Field: "chain_id", Reason: fmt.Sprintf("node reports %s, config says %d", chainID, cfg.ChainID)}
	}

	auto, err := txbuilder.NewAutoBuilderFromConfig(client, cfg, logger.Named("txbuilder"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("auto builder: %w", err)
	}
	auto.Start(ctx)

	svc, err := trade.NewService(auto, client, signer, trade.OptionsFromConfig(cfg, logger.Named("trade")))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("trade service: %w", err)
	}
	logger.Info("wallet-loaded",
		zap.String("address", signer.Address().Hex()),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("token_manager", cfg.TokenManagerAddress().Hex()))

	return &deps{cfg: cfg, logger: logger, client: client, auto: auto, svc: svc}, nil
}

func (d *deps) Close() {
	d.svc.Close()
	d.client.Close()
	_ = d.logger.Sync()
}
