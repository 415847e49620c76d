package pipeline

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"launchpilot/internal/chain"
	"launchpilot/internal/config"
	"launchpilot/internal/events"
	"launchpilot/internal/journal"
	"launchpilot/internal/trade"
	"launchpilot/internal/util"
)

const waitFor = 2 * time.Second

func testConfig() Config {
	return Config{
		Factory:   factory,
		QueueSize: 4,
		Policy:    trade.BuyPolicy{Mode: "amap", Funds: "0.01"},
		Listener: ListenerConfig{
			ReconnectAttempts: 3,
			Backoff:           util.Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond},
		},
		Seller: SellerConfig{MaxInFlight: 4},
	}
}

func testAppConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Contracts.Factory = factory.Hex()
	cfg.Pipeline.QueueSize = 10
	cfg.Listener.ReconnectAttempts = 2
	cfg.Listener.ReconnectMaxDelay.Duration = time.Second
	cfg.Seller.MaxInFlight = 2
	cfg.Buy.Mode = "amap"
	cfg.Buy.Funds = "0.01"
	cfg.Seller.MinFunds = "0"
	return cfg
}

type running struct {
	stopped chan struct{}
	err     error
}

func start(t *testing.T, p *Pipeline) *running {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{stopped: make(chan struct{})}
	go func() {
		r.err = p.Run(ctx)
		close(r.stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.stopped:
		case <-time.After(waitFor):
			t.Error("pipeline did not stop")
		}
	})
	return r
}

func nextSub(t *testing.T, src *fakeSource) *fakeSub {
	t.Helper()
	select {
	case sub := <-src.subscribed:
		return sub
	case <-time.After(waitFor):
		t.Fatal("no subscription")
		return nil
	}
}

func TestSyntheticLogBuysOnceAndSellsOnce(t *testing.T) {
	dec := newTestDecoder(t)
	svc := newFakeTrade()
	src := newFakeSource(100)
	p := New(testConfig(), svc, sequenceDialer(src), dec, nil, zap.NewNop())
	start(t, p)

	sub := nextSub(t, src)
	tok := tokenN(1)
	sub.push(creationLog(t, dec, tok, 101, 0))

	require.Eventually(t, func() bool { return len(svc.sold()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []common.Address{tok}, svc.sold())
	assert.Equal(t, 1, svc.buyCount())
	assert.Equal(t, []common.Address{tok}, svc.approvals)

	require.Eventually(t, func() bool { return p.Status().Sold == 1 }, waitFor, 5*time.Millisecond)
	st := p.Status()
	assert.Equal(t, uint64(1), st.Decoded)
	assert.Equal(t, uint64(1), st.Bought)
	assert.Equal(t, uint64(101), st.LastBlock)
	assert.Equal(t, ListenerConnected, st.Listener)
}

func TestMalformedLogIsSkipped(t *testing.T) {
	dec := newTestDecoder(t)
	svc := newFakeTrade()
	src := newFakeSource(100)
	p := New(testConfig(), svc, sequenceDialer(src), dec, nil, zap.NewNop())
	start(t, p)

	sub := nextSub(t, src)
	bad := creationLog(t, dec, tokenN(1), 101, 0)
	bad.Topics = bad.Topics[:2]
	sub.push(bad)
	garbage := creationLog(t, dec, tokenN(2), 101, 1)
	garbage.Data = []byte{1, 2, 3}
	sub.push(garbage)
	sub.push(creationLog(t, dec, tokenN(3), 102, 0))

	require.Eventually(t, func() bool { return len(svc.sold()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []common.Address{tokenN(3)}, svc.sold())
	assert.Equal(t, uint64(2), p.Status().DecodeErrors)
}

func TestRemovedLogIsIgnored(t *testing.T) {
	dec := newTestDecoder(t)
	svc := newFakeTrade()
	src := newFakeSource(100)
	p := New(testConfig(), svc, sequenceDialer(src), dec, nil, zap.NewNop())
	start(t, p)

	sub := nextSub(t, src)
	removed := creationLog(t, dec, tokenN(1), 101, 0)
	removed.Removed = true
	sub.push(removed)
	sub.push(creationLog(t, dec, tokenN(2), 102, 0))

	require.Eventually(t, func() bool { return len(svc.sold()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []common.Address{tokenN(2)}, svc.sold())
}

func TestFailedBuyNeverSells(t *testing.T) {
	dec := newTestDecoder(t)
	svc := newFakeTrade()
	svc.buyErr[tokenN(1)] = trade.ErrReverted
	src := newFakeSource(100)
	buf := &lockedBuffer{}
	p := New(testConfig(), svc, sequenceDialer(src), dec, journal.New(buf), zap.NewNop())
	start(t, p)

	sub := nextSub(t, src)
	sub.push(creationLog(t, dec, tokenN(1), 101, 0))
	sub.push(creationLog(t, dec, tokenN(2), 101, 1))

	require.Eventually(t, func() bool { return len(svc.sold()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []common.Address{tokenN(2)}, svc.sold())
	assert.Equal(t, uint64(1), p.Status().BuyFailed)
	assert.Contains(t, buf.String(), `"stage":"buy"`)
	assert.Contains(t, buf.String(), "transaction reverted")

	// The failed token is no longer in flight, so a later event can retry it.
	svc.mu.Lock()
	delete(svc.buyErr, tokenN(1))
	svc.mu.Unlock()
	sub.push(creationLog(t, dec, tokenN(1), 103, 0))
	require.Eventually(t, func() bool { return len(svc.sold()) == 2 }, waitFor, 5*time.Millisecond)
}

func TestReconnectBackfillsGap(t *testing.T) {
	dec := newTestDecoder(t)
	svc := newFakeTrade()

	first := newFakeSource(100)
	second := newFakeSource(105)
	second.backfill = []types.Log{creationLog(t, dec, tokenN(2), 103, 0)}

	p := New(testConfig(), svc, sequenceDialer(first, nil, second), dec, nil, zap.NewNop())
	start(t, p)

	sub1 := nextSub(t, first)
	sub1.push(creationLog(t, dec, tokenN(1), 101, 0))
	require.Eventually(t, func() bool { return p.Status().Decoded == 1 }, waitFor, time.Millisecond)

	sub1.drop(errors.New("connection reset"))
	sub2 := nextSub(t, second)

	// Redelivery of a back-filled block is ignored; newer blocks flow.
	sub2.push(creationLog(t, dec, tokenN(2), 103, 0))
	sub2.push(creationLog(t, dec, tokenN(3), 106, 0))

	require.Eventually(t, func() bool { return len(svc.sold()) == 3 }, waitFor, 5*time.Millisecond)
	assert.ElementsMatch(t, []common.Address{tokenN(1), tokenN(2), tokenN(3)}, svc.sold())
	assert.Equal(t, uint64(3), p.Status().Decoded)

	second.mu.Lock()
	require.Len(t, second.queries, 1)
	q := second.queries[0]
	second.mu.Unlock()
	assert.Equal(t, big.NewInt(101), q.FromBlock, "the last seen block is re-read")
	assert.Equal(t, big.NewInt(105), q.ToBlock)
	assert.Equal(t, []common.Address{factory}, q.Addresses)
	assert.Equal(t, dec.Topic(), q.Topics[0][0])

	first.mu.Lock()
	assert.True(t, first.closed)
	first.mu.Unlock()
}

func TestReconnectRereadsLastSeenBlock(t *testing.T) {
	dec := newTestDecoder(t)
	svc := newFakeTrade()

	first := newFakeSource(100)
	second := newFakeSource(101)
	second.backfill = []types.Log{
		creationLog(t, dec, tokenN(1), 101, 0),
		creationLog(t, dec, tokenN(2), 101, 1),
	}

	p := New(testConfig(), svc, sequenceDialer(first, second), dec, nil, zap.NewNop())
	start(t, p)

	sub1 := nextSub(t, first)
	sub1.push(creationLog(t, dec, tokenN(1), 101, 0))
	require.Eventually(t, func() bool { return p.Status().Decoded == 1 }, waitFor, time.Millisecond)
	sub1.drop(errors.New("connection reset"))
	nextSub(t, second)

	require.Eventually(t, func() bool { return len(svc.sold()) == 2 }, waitFor, 5*time.Millisecond)
	assert.ElementsMatch(t, []common.Address{tokenN(1), tokenN(2)}, svc.sold())
	assert.Equal(t, 2, svc.buyCount(), "token 1 is not bought twice")

	second.mu.Lock()
	defer second.mu.Unlock()
	require.Len(t, second.queries, 1)
	assert.Equal(t, big.NewInt(101), second.queries[0].FromBlock)
	assert.Equal(t, big.NewInt(101), second.queries[0].ToBlock)
}

func TestBufferedLogsSurviveDrop(t *testing.T) {
	dec := newTestDecoder(t)
	svc := newFakeTrade()

	first := newFakeSource(100)
	second := newFakeSource(100)

	p := New(testConfig(), svc, sequenceDialer(first, second), dec, nil, zap.NewNop())
	start(t, p)

	sub1 := nextSub(t, first)
	sub1.push(creationLog(t, dec, tokenN(1), 101, 0))
	sub1.push(creationLog(t, dec, tokenN(2), 101, 1))
	sub1.drop(errors.New("connection reset"))
	nextSub(t, second)

	require.Eventually(t, func() bool { return len(svc.sold()) == 2 }, waitFor, 5*time.Millisecond)
	assert.ElementsMatch(t, []common.Address{tokenN(1), tokenN(2)}, svc.sold())
}

func TestCheckpointWaitsForDelivery(t *testing.T) {
	dec := newTestDecoder(t)
	src := newFakeSource(100)
	cp := &memCheckpoint{}

	cfg := testConfig()
	cfg.Listener.Checkpoint = cp
	p := New(cfg, newFakeTrade(), sequenceDialer(src), dec, nil, zap.NewNop())
	l := p.listener

	out := make(chan events.TokenCreated)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.handle(ctx, creationLog(t, dec, tokenN(1), 150, 0), out)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, cp.last())
	assert.Zero(t, l.lastSeen)

	go func() { <-out }()
	require.NoError(t, l.handle(context.Background(), creationLog(t, dec, tokenN(1), 150, 0), out))
	assert.Equal(t, uint64(149), cp.last())
	assert.Equal(t, uint64(150), l.lastSeen)
}

func TestReconnectBudgetExhaustedIsFatal(t *testing.T) {
	dec := newTestDecoder(t)
	p := New(testConfig(), newFakeTrade(), sequenceDialer(nil, nil, nil, nil), dec, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := p.Run(ctx)
	require.Error(t, err)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, 3, connErr.Attempts)
	assert.True(t, strings.Contains(err.Error(), "dial refused"))
	assert.Equal(t, ListenerStopped, p.Status().Listener)
}

func TestDegradedWhileReconnecting(t *testing.T) {
	dec := newTestDecoder(t)
	first := newFakeSource(100)
	block := make(chan struct{})
	dial := sequenceDialer(first)
	slow := func(ctx context.Context) (chain.LogSource, error) {
		src, err := dial(ctx)
		if err == nil {
			return src, nil
		}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, err
	}

	cfg := testConfig()
	cfg.Listener.ReconnectAttempts = 1
	p := New(cfg, newFakeTrade(), slow, dec, nil, zap.NewNop())
	r := start(t, p)

	sub := nextSub(t, first)
	sub.drop(errors.New("eof"))
	require.Eventually(t, func() bool { return p.Status().Listener == ListenerDegraded }, waitFor, time.Millisecond)

	close(block)
	select {
	case <-r.stopped:
		var connErr *ConnectionError
		assert.True(t, errors.As(r.err, &connErr))
	case <-time.After(waitFor):
		t.Fatal("pipeline kept running")
	}
}

func TestConfigFromParsesMinFunds(t *testing.T) {
	cfg := testAppConfig()
	cfg.Seller.MinFunds = "0.5"
	pc, err := ConfigFrom(cfg)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", pc.Seller.MinFunds.String())
	assert.Equal(t, 500*time.Millisecond, pc.Listener.Backoff.Initial)

	cfg.Seller.MinFunds = "lots"
	_, err = ConfigFrom(cfg)
	require.Error(t, err)

	cfg.Seller.MinFunds = ""
	pc, err = ConfigFrom(cfg)
	require.NoError(t, err)
	assert.Zero(t, pc.Seller.MinFunds.Sign())
}

func TestCheckpointResumeBackfills(t *testing.T) {
	dec := newTestDecoder(t)
	svc := newFakeTrade()
	src := newFakeSource(100)
	src.backfill = []types.Log{creationLog(t, dec, tokenN(1), 97, 0)}
	cp := &memCheckpoint{block: 95}

	cfg := testConfig()
	cfg.Listener.Checkpoint = cp
	cfg.Listener.MaxResumeBlocks = 10
	p := New(cfg, svc, sequenceDialer(src), dec, nil, zap.NewNop())
	start(t, p)

	sub := nextSub(t, src)
	require.Eventually(t, func() bool { return cp.last() == 100 }, waitFor, time.Millisecond)

	sub.push(creationLog(t, dec, tokenN(1), 97, 0))
	sub.push(creationLog(t, dec, tokenN(2), 101, 0))
	require.Eventually(t, func() bool { return len(svc.sold()) == 2 }, waitFor, 5*time.Millisecond)
	assert.ElementsMatch(t, []common.Address{tokenN(1), tokenN(2)}, svc.sold())
	assert.Equal(t, uint64(100), cp.last(), "block 101 is not known to be complete")

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Len(t, src.queries, 1)
	assert.Equal(t, big.NewInt(96), src.queries[0].FromBlock)
	assert.Equal(t, big.NewInt(100), src.queries[0].ToBlock)
}

func TestStaleCheckpointStartsAtHead(t *testing.T) {
	dec := newTestDecoder(t)
	src := newFakeSource(1000)
	src.backfill = []types.Log{creationLog(t, dec, tokenN(1), 50, 0)}
	cp := &memCheckpoint{block: 10}

	cfg := testConfig()
	cfg.Listener.Checkpoint = cp
	cfg.Listener.MaxResumeBlocks = 100
	svc := newFakeTrade()
	p := New(cfg, svc, sequenceDialer(src), dec, nil, zap.NewNop())
	start(t, p)

	nextSub(t, src)
	require.Eventually(t, func() bool { return cp.last() == 999 }, waitFor, time.Millisecond)
	assert.Zero(t, svc.buyCount())

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Empty(t, src.queries)
}

func TestConfigFromCheckpoint(t *testing.T) {
	cfg := testAppConfig()
	pc, err := ConfigFrom(cfg)
	require.NoError(t, err)
	assert.Nil(t, pc.Listener.Checkpoint)

	cfg.Listener.CheckpointPath = t.TempDir() + "/cp.json"
	cfg.Listener.MaxResumeBlocks = 42
	pc, err = ConfigFrom(cfg)
	require.NoError(t, err)
	assert.NotNil(t, pc.Listener.Checkpoint)
	assert.Equal(t, uint64(42), pc.Listener.MaxResumeBlocks)
}
