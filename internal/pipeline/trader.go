package pipeline

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"launchpilot/internal/events"
	"launchpilot/internal/journal"
	"launchpilot/internal/metrics"
	"launchpilot/internal/trade"
)

// TradeService is the part of trade.Service the stages drive.
type TradeService interface {
	EnsureApproval(ctx context.Context, token common.Address, need *big.Int) error
	Buy(ctx context.Context, token common.Address, policy trade.BuyPolicy) (*events.BuyOutcome, error)
	SellAll(ctx context.Context, token common.Address, minFunds *big.Int) (*events.SellOutcome, error)
}

// Trader buys each created token once and hands successful buys to the seller.
type Trader struct {
	svc      TradeService
	policy   trade.BuyPolicy
	inflight *InFlight
	journal  *journal.Journal
	stats    *stats
	logger   *zap.Logger
}

func NewTrader(svc TradeService, policy trade.BuyPolicy, inflight *InFlight, j *journal.Journal, st *stats, logger *zap.Logger) *Trader {
	return &Trader{svc: svc, policy: policy, inflight: inflight, journal: j, stats: st, logger: logger}
}

func (t *Trader) Run(ctx context.Context, in <-chan events.TokenCreated, out chan<- events.SellRequest) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if err := t.handle(ctx, ev, out); err != nil {
				return err
			}
		}
	}
}

// handle only returns an error when ctx is done; trade failures are per item.
func (t *Trader) handle(ctx context.Context, ev events.TokenCreated, out chan<- events.SellRequest) error {
	token := ev.Token
	if !t.inflight.Acquire(token) {
		t.stats.duplicates.Add(1)
		metrics.BuysTotal.WithLabelValues(metrics.ResultDuplicate).Inc()
		t.logger.Info("buy-skipped-in-flight", zap.String("token", token.Hex()))
		return nil
	}

	outcome, err := t.buy(ctx, token)
	if err != nil {
		t.inflight.Release(token)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.stats.buyFailed.Add(1)
		metrics.BuysTotal.WithLabelValues(metrics.ResultFailure).Inc()
		stage := stageOf(err, trade.StageBuy)
		t.logger.Error("buy-failed",
			zap.String("token", token.Hex()),
			zap.String("stage", string(stage)),
			zap.Error(err))
		rec := journal.BuyRecord(token, outcome, err)
		rec.Stage = string(stage)
		t.writeJournal(rec)
		return nil
	}

	t.stats.bought.Add(1)
	metrics.BuysTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	t.writeJournal(journal.BuyRecord(token, outcome, nil))

	select {
	case out <- events.SellRequest{Token: token}:
		return nil
	case <-ctx.Done():
		t.inflight.Release(token)
		return ctx.Err()
	}
}

func (t *Trader) buy(ctx context.Context, token common.Address) (*events.BuyOutcome, error) {
	if err := t.svc.EnsureApproval(ctx, token, nil); err != nil {
		return nil, err
	}
	return t.svc.Buy(ctx, token, t.policy)
}

func (t *Trader) writeJournal(rec journal.Record) {
	if err := t.journal.Write(rec); err != nil {
		t.logger.Warn("journal-write-failed", zap.Error(err))
	}
}

func stageOf(err error, fallback trade.Stage) trade.Stage {
	var txErr *trade.TxError
	if errors.As(err, &txErr) {
		return txErr.Stage
	}
	return fallback
}
