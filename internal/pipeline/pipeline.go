// Package pipeline wires the listener, trader and seller stages together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"launchpilot/internal/chain"
	"launchpilot/internal/checkpoint"
	"launchpilot/internal/config"
	"launchpilot/internal/decoder"
	"launchpilot/internal/events"
	"launchpilot/internal/journal"
	"launchpilot/internal/metrics"
	"launchpilot/internal/trade"
	"launchpilot/internal/txbuilder"
	"launchpilot/internal/util"
)

const initialReconnectDelay = 500 * time.Millisecond

type Config struct {
	Factory   common.Address
	QueueSize int
	Policy    trade.BuyPolicy
	Listener  ListenerConfig
	Seller    SellerConfig
}

func ConfigFrom(cfg *config.Config) (Config, error) {
	minFunds := big.NewInt(0)
	if cfg.Seller.MinFunds != "" {
		var err error
		if minFunds, err = txbuilder.ParseUnits(cfg.Seller.MinFunds, txbuilder.QuoteDecimals); err != nil {
			return Config{}, &config.Error{Field: "seller.min_funds", Reason: err.Error()}
		}
	}
	factory := cfg.FactoryAddress()
	lc := ListenerConfig{
		Factory:           factory,
		ReconnectAttempts: cfg.Listener.ReconnectAttempts,
		Backoff: util.Backoff{
			Initial: initialReconnectDelay,
			Max:     cfg.Listener.ReconnectMaxDelay.Duration,
		},
		MaxResumeBlocks: cfg.Listener.MaxResumeBlocks,
	}
	if cfg.Listener.CheckpointPath != "" {
		lc.Checkpoint = checkpoint.Open(cfg.Listener.CheckpointPath)
	}
	return Config{
		Factory:   factory,
		QueueSize: cfg.Pipeline.QueueSize,
		Policy:    trade.BuyPolicyFromConfig(cfg),
		Listener:  lc,
		Seller: SellerConfig{
			Cooldown:    cfg.Seller.Cooldown.Duration,
			MaxInFlight: int64(cfg.Seller.MaxInFlight),
			MinFunds:    minFunds,
		},
	}, nil
}

type Pipeline struct {
	cfg      Config
	control  *Control
	inflight *InFlight
	stats    *stats
	started  time.Time
	logger   *zap.Logger

	queueA chan events.TokenCreated
	queueB chan events.SellRequest

	listener *Listener
	trader   *Trader
	seller   *Seller
}

func New(cfg Config, svc TradeService, dial chain.Dialer, dec *decoder.Decoder, j *journal.Journal, logger *zap.Logger) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Listener.Factory = cfg.Factory

	p := &Pipeline{
		cfg:      cfg,
		control:  NewControl(),
		inflight: NewInFlight(),
		stats:    newStats(),
		started:  time.Now(),
		logger:   logger,
		queueA:   make(chan events.TokenCreated, cfg.QueueSize),
		queueB:   make(chan events.SellRequest, cfg.QueueSize),
	}
	p.listener = NewListener(cfg.Listener, dial, dec, p.stats, logger.Named("listener"))
	p.trader = NewTrader(svc, cfg.Policy, p.inflight, j, p.stats, logger.Named("trader"))
	p.seller = NewSeller(cfg.Seller, svc, p.control, p.inflight, j, p.stats, logger.Named("seller"))
	return p
}

func (p *Pipeline) Control() *Control {
	return p.control
}

func (p *Pipeline) Status() Status {
	st := p.stats.snapshot(p.started)
	st.SellingPaused = p.control.Paused()
	st.TokensInFlight = p.inflight.Len()
	st.QueueA = len(p.queueA)
	st.QueueB = len(p.queueB)
	metrics.QueueDepth.WithLabelValues("a").Set(float64(st.QueueA))
	metrics.QueueDepth.WithLabelValues("b").Set(float64(st.QueueB))
	return st
}

// Run blocks until ctx is cancelled or a stage fails fatally. A clean
// cancellation returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.listener.Run(gctx, p.queueA)
	})
	g.Go(func() error {
		return p.trader.Run(gctx, p.queueA, p.queueB)
	})
	g.Go(func() error {
		return p.seller.Run(gctx, p.queueB)
	})

	p.logger.Info("pipeline-started",
		zap.String("factory", p.cfg.Factory.Hex()),
		zap.String("buy_mode", p.cfg.Policy.Mode),
		zap.Duration("cooldown", p.cfg.Seller.Cooldown),
		zap.Int64("max_in_flight", p.cfg.Seller.MaxInFlight))

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}
