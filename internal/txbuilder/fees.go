package txbuilder

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"launchpilot/internal/metrics"
)

type FeeOracleConfig struct {
	RefreshInterval   time.Duration
	MaxFeeMultiplier  float64
	MinPriorityFeeWei *big.Int
	Logger            *zap.Logger
}

// feeQuote is one observation of the chain's fee market.
type feeQuote struct {
	floor *big.Int // base fee, or gas price on chains that report none
	tip   *big.Int
	at    time.Time
}

// FeeOracle keeps the latest fee quote warm in the background. Readers never
// block on the refresh loop; a quote older than three refresh intervals is
// re-fetched inline.
type FeeOracle struct {
	client ChainClient
	cfg    FeeOracleConfig
	now    func() time.Time

	quote     atomic.Pointer[feeQuote]
	refreshMu sync.Mutex
}

func NewFeeOracle(client ChainClient, cfg FeeOracleConfig) *FeeOracle {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.MaxFeeMultiplier <= 0 {
		cfg.MaxFeeMultiplier = 2.0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &FeeOracle{client: client, cfg: cfg, now: time.Now}
}

// Start refreshes until ctx is done.
func (o *FeeOracle) Start(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		if err := o.Refresh(ctx); err != nil && ctx.Err() == nil {
			o.cfg.Logger.Warn("fee-refresh-failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// LastSync reports when fees were last fetched successfully.
func (o *FeeOracle) LastSync() time.Time {
	if q := o.quote.Load(); q != nil {
		return q.at
	}
	return time.Time{}
}

// Refresh fetches a new quote.
func (o *FeeOracle) Refresh(ctx context.Context) error {
	_, err := o.refresh(ctx)
	return err
}

// refresh serializes fetches; concurrent callers share one round trip.
func (o *FeeOracle) refresh(ctx context.Context) (*feeQuote, error) {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if q := o.quote.Load(); q != nil && o.now().Sub(q.at) < o.cfg.RefreshInterval/2 {
		return q, nil
	}

	floor, err := o.feeFloor(ctx)
	if err != nil {
		return nil, fmt.Errorf("fee floor: %w", err)
	}
	tip, err := o.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip: %w", err)
	}
	if least := o.cfg.MinPriorityFeeWei; least != nil && tip.Cmp(least) < 0 {
		tip = new(big.Int).Set(least)
	}
	q := &feeQuote{floor: floor, tip: tip, at: o.now()}
	o.quote.Store(q)

	metrics.FeeFloorGwei.Set(weiToGwei(floor))
	metrics.PriorityFeeGwei.Set(weiToGwei(tip))
	o.cfg.Logger.Debug("fees-refreshed",
		zap.String("floor_wei", floor.String()),
		zap.String("tip_wei", tip.String()))
	return q, nil
}

// Fees returns EIP-1559 parameters: maxFee = floor*multiplier + tip.
func (o *FeeOracle) Fees(ctx context.Context) (FeeParams, error) {
	q := o.quote.Load()
	if q == nil || o.now().Sub(q.at) > 3*o.cfg.RefreshInterval {
		var err error
		if q, err = o.refresh(ctx); err != nil {
			return FeeParams{}, err
		}
	}
	maxFee := decimal.NewFromBigInt(q.floor, 0).
		Mul(decimal.NewFromFloat(o.cfg.MaxFeeMultiplier)).
		Truncate(0).
		BigInt()
	maxFee.Add(maxFee, q.tip)
	return FeeParams{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: new(big.Int).Set(q.tip),
	}, nil
}

func (o *FeeOracle) feeFloor(ctx context.Context) (*big.Int, error) {
	header, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if header.BaseFee != nil && header.BaseFee.Sign() > 0 {
		return new(big.Int).Set(header.BaseFee), nil
	}
	// BSC reports a zero base fee; the suggested gas price is the real floor there.
	return o.client.SuggestGasPrice(ctx)
}

func weiToGwei(wei *big.Int) float64 {
	return decimal.NewFromBigInt(wei, -9).InexactFloat64()
}
