package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"launchpilot/internal/chain"
	"launchpilot/internal/decoder"
	"launchpilot/internal/events"
	"launchpilot/internal/metrics"
	"launchpilot/internal/util"
)

// ConnectionError means the log subscription could not be restored within
// the reconnect budget. It stops the pipeline.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("log subscription lost after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Checkpoint persists the last block whose logs were all forwarded.
// *checkpoint.Store satisfies it.
type Checkpoint interface {
	Load() (uint64, error)
	Save(block uint64) error
}

type ListenerConfig struct {
	Factory           common.Address
	ReconnectAttempts int
	Backoff           util.Backoff
	// Checkpoint is optional. On startup the listener back-fills from the
	// saved block when the gap to head is at most MaxResumeBlocks.
	Checkpoint      Checkpoint
	MaxResumeBlocks uint64
}

// logKey identifies a log within its block.
type logKey struct {
	tx    common.Hash
	index uint
}

// Listener turns the factory's creation logs into TokenCreated events on out.
type Listener struct {
	cfg     ListenerConfig
	dial    chain.Dialer
	decoder *decoder.Decoder
	stats   *stats
	logger  *zap.Logger

	// lastSeen is the newest block with a forwarded log; seen holds the logs
	// of that block already forwarded. A back-fill after a reconnect starts
	// at lastSeen and seen filters the overlap.
	lastSeen uint64
	seen     map[logKey]struct{}
	// committed is the newest block saved to the checkpoint.
	committed  uint64
	resumeFrom uint64
	// floor is the highest block covered by the last back-fill; the new
	// subscription may redeliver logs up to it.
	floor uint64
}

func NewListener(cfg ListenerConfig, dial chain.Dialer, dec *decoder.Decoder, st *stats, logger *zap.Logger) *Listener {
	if cfg.ReconnectAttempts < 1 {
		cfg.ReconnectAttempts = 1
	}
	return &Listener{
		cfg:     cfg,
		dial:    dial,
		decoder: dec,
		stats:   st,
		logger:  logger,
		seen:    make(map[logKey]struct{}),
	}
}

type subscription struct {
	src  chain.LogSource
	sub  ethereum.Subscription
	logs chan types.Log
}

func (s *subscription) close() {
	s.sub.Unsubscribe()
	s.src.Close()
}

func (l *Listener) Run(ctx context.Context, out chan<- events.TokenCreated) error {
	defer l.stats.setListener(ListenerStopped)

	l.loadCheckpoint()
	cur, backlog, err := l.reconnect(ctx)
	if err != nil {
		return err
	}
	l.logger.Info("listener-subscribed",
		zap.String("factory", l.cfg.Factory.Hex()),
		zap.Uint64("from_block", l.lastSeen))

	for {
		for _, lg := range backlog {
			if err := l.forward(ctx, lg, out); err != nil {
				cur.close()
				return err
			}
		}
		backlog = nil
		l.reach(l.floor)
		l.commit(l.floor)

		select {
		case <-ctx.Done():
			cur.close()
			return ctx.Err()
		case err := <-cur.sub.Err():
			if ctx.Err() == nil {
				err = l.drain(ctx, cur, out, err)
			}
			cur.close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("listener-subscription-dropped", zap.Error(err), zap.Uint64("last_block", l.lastSeen))
			l.stats.setListener(ListenerDegraded)
			cur, backlog, err = l.reconnect(ctx)
			if err != nil {
				return err
			}
			l.logger.Info("listener-resubscribed", zap.Int("backfilled", len(backlog)))
		case lg := <-cur.logs:
			if err := l.live(ctx, lg, out); err != nil {
				cur.close()
				return err
			}
		}
	}
}

// drain forwards logs the dropped subscription had already buffered and
// returns cause for logging.
func (l *Listener) drain(ctx context.Context, cur *subscription, out chan<- events.TokenCreated, cause error) error {
	for {
		select {
		case lg := <-cur.logs:
			if err := l.live(ctx, lg, out); err != nil {
				return cause
			}
		default:
			return cause
		}
	}
}

// live forwards a subscription log unless a back-fill already covered its block.
func (l *Listener) live(ctx context.Context, lg types.Log, out chan<- events.TokenCreated) error {
	if lg.BlockNumber <= l.floor {
		return nil
	}
	return l.forward(ctx, lg, out)
}

// forward skips logs of lastSeen that were already forwarded.
func (l *Listener) forward(ctx context.Context, lg types.Log, out chan<- events.TokenCreated) error {
	if lg.BlockNumber == l.lastSeen {
		if _, dup := l.seen[logKey{tx: lg.TxHash, index: lg.Index}]; dup {
			return nil
		}
	}
	return l.handle(ctx, lg, out)
}

// reconnect dials, subscribes and back-fills the gap since lastSeen. Each
// attempt does all three or nothing.
func (l *Listener) reconnect(ctx context.Context) (*subscription, []types.Log, error) {
	var (
		cur     *subscription
		backlog []types.Log
	)
	err := util.Retry(ctx, l.cfg.ReconnectAttempts, l.cfg.Backoff, func(attempt int) error {
		if attempt > 0 {
			metrics.ListenerReconnectsTotal.Inc()
		}
		s, logs, err := l.connect(ctx)
		if err != nil {
			l.logger.Warn("listener-connect-failed", zap.Int("attempt", attempt+1), zap.Error(err))
			return err
		}
		cur, backlog = s, logs
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &ConnectionError{Attempts: l.cfg.ReconnectAttempts, Err: err}
	}
	l.stats.setListener(ListenerConnected)
	return cur, backlog, nil
}

func (l *Listener) connect(ctx context.Context) (*subscription, []types.Log, error) {
	src, err := l.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	logs := make(chan types.Log, 128)
	sub, err := src.SubscribeFilterLogs(ctx, l.query(), logs)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}
	s := &subscription{src: src, sub: sub, logs: logs}

	head, err := src.BlockNumber(ctx)
	if err != nil {
		s.close()
		return nil, nil, fmt.Errorf("block number: %w", err)
	}
	// lastSeen itself is re-read: some of its logs may not have been forwarded.
	from := l.lastSeen
	if l.lastSeen == 0 {
		if l.resumeFrom == 0 || head <= l.resumeFrom || head-l.resumeFrom > l.cfg.MaxResumeBlocks {
			if l.resumeFrom != 0 {
				l.logger.Info("checkpoint-skipped",
					zap.Uint64("checkpoint", l.resumeFrom),
					zap.Uint64("head", head),
					zap.Uint64("max_resume_blocks", l.cfg.MaxResumeBlocks))
			}
			// Logs of head itself may still arrive on the subscription.
			l.reach(head)
			if head > 0 {
				l.commit(head - 1)
			}
			return s, nil, nil
		}
		l.logger.Info("checkpoint-resume", zap.Uint64("from_block", l.resumeFrom+1), zap.Uint64("head", head))
		l.reach(l.resumeFrom)
		from = l.resumeFrom + 1
	}
	if head < from {
		return s, nil, nil
	}
	q := l.query()
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(head)
	backlog, err := src.FilterLogs(ctx, q)
	if err != nil {
		s.close()
		return nil, nil, fmt.Errorf("backfill %d-%d: %w", from, head, err)
	}
	metrics.BackfilledLogsTotal.Add(float64(len(backlog)))
	l.floor = head
	return s, backlog, nil
}

func (l *Listener) loadCheckpoint() {
	if l.cfg.Checkpoint == nil {
		return
	}
	last, err := l.cfg.Checkpoint.Load()
	if err != nil {
		l.logger.Warn("checkpoint-load-failed", zap.Error(err))
		return
	}
	l.resumeFrom = last
	l.committed = last
}

// reach moves lastSeen forward and starts an empty seen set for it.
func (l *Listener) reach(block uint64) {
	if block <= l.lastSeen {
		return
	}
	l.lastSeen = block
	clear(l.seen)
	l.stats.lastBlock.Store(block)
}

// commit persists block once every log up to it has been forwarded.
func (l *Listener) commit(block uint64) {
	if l.cfg.Checkpoint == nil || block <= l.committed {
		return
	}
	if err := l.cfg.Checkpoint.Save(block); err != nil {
		l.logger.Warn("checkpoint-save-failed", zap.Uint64("block", block), zap.Error(err))
		return
	}
	l.committed = block
}

// mark records lg as forwarded. Logs arrive in block order, so the first log
// of a newer block completes every block before it.
func (l *Listener) mark(lg types.Log) {
	if lg.BlockNumber > l.lastSeen {
		l.commit(lg.BlockNumber - 1)
		l.reach(lg.BlockNumber)
	}
	if lg.BlockNumber == l.lastSeen {
		l.seen[logKey{tx: lg.TxHash, index: lg.Index}] = struct{}{}
	}
}

func (l *Listener) query() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{l.cfg.Factory},
		Topics:    [][]common.Hash{{l.decoder.Topic()}},
	}
}

// handle decodes one log and forwards it. Only context cancellation is an error.
func (l *Listener) handle(ctx context.Context, lg types.Log, out chan<- events.TokenCreated) error {
	if lg.Removed {
		return nil
	}
	ev, err := l.decoder.Decode(lg)
	if err != nil {
		var decErr *decoder.DecodeError
		if !errors.As(err, &decErr) {
			return err
		}
		l.stats.decodeErrors.Add(1)
		metrics.DecodeErrorsTotal.Inc()
		l.logger.Warn("decode-failed", zap.String("log", decErr.Source.String()), zap.Error(err))
		l.mark(lg)
		return nil
	}
	l.stats.decoded.Add(1)
	metrics.EventsDecodedTotal.Inc()
	l.logger.Info("token-created",
		zap.String("token", ev.Token.Hex()),
		zap.String("creator", ev.Creator.Hex()),
		zap.String("name", ev.Name),
		zap.String("symbol", ev.Symbol),
		zap.Uint64("block", lg.BlockNumber))

	select {
	case out <- ev:
		l.mark(lg)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
