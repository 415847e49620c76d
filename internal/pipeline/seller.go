package pipeline

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"launchpilot/internal/events"
	"launchpilot/internal/journal"
	"launchpilot/internal/metrics"
	"launchpilot/internal/trade"
	"launchpilot/internal/util"
)

type SellerConfig struct {
	Cooldown    time.Duration
	MaxInFlight int64
	MinFunds    *big.Int
}

// Seller liquidates each bought token after the cool-down, one goroutine per
// item, at most MaxInFlight at a time.
type Seller struct {
	cfg      SellerConfig
	svc      TradeService
	control  *Control
	inflight *InFlight
	journal  *journal.Journal
	stats    *stats
	logger   *zap.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewSeller(cfg SellerConfig, svc TradeService, control *Control, inflight *InFlight, j *journal.Journal, st *stats, logger *zap.Logger) *Seller {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	if cfg.MinFunds == nil {
		cfg.MinFunds = big.NewInt(0)
	}
	return &Seller{
		cfg:      cfg,
		svc:      svc,
		control:  control,
		inflight: inflight,
		journal:  j,
		stats:    st,
		logger:   logger,
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
	}
}

// Run only dispatches; it never waits on a sell itself.
func (s *Seller) Run(ctx context.Context, in <-chan events.SellRequest) error {
	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.inflight.Release(req.Token)
				return err
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.sem.Release(1)
				s.handle(ctx, req.Token)
			}()
		}
	}
}

func (s *Seller) handle(ctx context.Context, token common.Address) {
	defer s.inflight.Release(token)
	s.stats.sellsActive.Add(1)
	metrics.SellsInFlight.Inc()
	defer func() {
		s.stats.sellsActive.Add(-1)
		metrics.SellsInFlight.Dec()
	}()

	if err := s.waitUnpaused(ctx, token); err != nil {
		return
	}
	s.logger.Info("sell-scheduled", zap.String("token", token.Hex()), zap.Duration("cooldown", s.cfg.Cooldown))
	if err := util.Wait(ctx, s.cfg.Cooldown); err != nil {
		return
	}
	if err := s.waitUnpaused(ctx, token); err != nil {
		return
	}

	out, err := s.svc.SellAll(ctx, token, s.cfg.MinFunds)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.stats.sellFailed.Add(1)
		metrics.SellsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		stage := stageOf(err, trade.StageSell)
		s.logger.Error("sell-failed",
			zap.String("token", token.Hex()),
			zap.String("stage", string(stage)),
			zap.Error(err))
		rec := journal.SellRecord(token, out, err)
		rec.Stage = string(stage)
		s.writeJournal(rec)
		return
	}
	if out.Skipped {
		s.stats.sellSkipped.Add(1)
		metrics.SellsTotal.WithLabelValues(metrics.ResultSkipped).Inc()
	} else {
		s.stats.sold.Add(1)
		metrics.SellsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	}
	s.writeJournal(journal.SellRecord(token, out, nil))
}

// waitUnpaused parks the item until selling is resumed. Parked items keep
// their slot and are never dropped.
func (s *Seller) waitUnpaused(ctx context.Context, token common.Address) error {
	for s.control.Paused() {
		s.stats.sellsParked.Add(1)
		metrics.SellsParked.Inc()
		s.logger.Info("sell-parked", zap.String("token", token.Hex()))
		err := s.control.WaitResumed(ctx)
		s.stats.sellsParked.Add(-1)
		metrics.SellsParked.Dec()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Seller) writeJournal(rec journal.Record) {
	if err := s.journal.Write(rec); err != nil {
		s.logger.Warn("journal-write-failed", zap.Error(err))
	}
}
