package txbuilder

import (
	"errors"
	"math/big"
	"time"

	"go.uber.org/zap"

	"launchpilot/internal/config"
)

// NewAutoBuilderFromConfig wires a fee oracle and nonce manager for cfg's chain.
// Call Start on the result to keep fees fresh in the background.
func NewAutoBuilderFromConfig(client ChainClient, cfg *config.Config, logger *zap.Logger) (*AutoBuilder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	minTip, err := GweiToWei(cfg.Tx.MinPriorityFeeGwei)
	if err != nil {
		return nil, &config.Error{Field: "tx.min_priority_fee_gwei", Reason: err.Error()}
	}
	oracle := NewFeeOracle(client, FeeOracleConfig{
		RefreshInterval:   time.Duration(cfg.Tx.FeeRefreshSeconds) * time.Second,
		MaxFeeMultiplier:  cfg.Tx.MaxFeeMultiplier,
		MinPriorityFeeWei: minTip,
		Logger:            logger.Named("fees"),
	})
	auto := NewAutoBuilder(NewBuilder(new(big.Int).SetUint64(cfg.ChainID)), client, oracle, AutoBuilderConfig{
		GasLimitMultiplier: cfg.Tx.GasLimitMultiplier,
		Logger:             logger,
	})
	auto.SetNonceProvider(NewNonceManager(client))
	if auto.ChainID().Sign() == 0 {
		return nil, errors.New("chain_id must be set")
	}
	return auto, nil
}
