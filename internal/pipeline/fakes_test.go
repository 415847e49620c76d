package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"launchpilot/internal/chain"
	"launchpilot/internal/decoder"
	"launchpilot/internal/events"
	"launchpilot/internal/trade"
)

var factory = common.HexToAddress("0x5c952063c7fc8610FFDB798152D69F0B9550762b")

func tokenN(n byte) common.Address {
	return common.BytesToAddress([]byte{0xee, n})
}

type fakeTrade struct {
	mu        sync.Mutex
	approvals []common.Address
	buys      []common.Address
	sells     []common.Address
	buyErr    map[common.Address]error
	sellHook  func(ctx context.Context, token common.Address) (*events.SellOutcome, error)
}

func newFakeTrade() *fakeTrade {
	return &fakeTrade{buyErr: map[common.Address]error{}}
}

func (f *fakeTrade) EnsureApproval(ctx context.Context, token common.Address, need *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, token)
	return nil
}

func (f *fakeTrade) Buy(ctx context.Context, token common.Address, policy trade.BuyPolicy) (*events.BuyOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, token)
	if err := f.buyErr[token]; err != nil {
		return nil, &trade.TxError{Stage: trade.StageBuy, Token: token, Err: err}
	}
	return &events.BuyOutcome{Token: token, AmountBought: big.NewInt(1000), Success: true}, nil
}

func (f *fakeTrade) SellAll(ctx context.Context, token common.Address, minFunds *big.Int) (*events.SellOutcome, error) {
	f.mu.Lock()
	f.sells = append(f.sells, token)
	hook := f.sellHook
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, token)
	}
	return &events.SellOutcome{Token: token, AmountSold: big.NewInt(1000)}, nil
}

func (f *fakeTrade) buyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buys)
}

func (f *fakeTrade) sold() []common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.Address(nil), f.sells...)
}

type fakeSub struct {
	logs chan<- types.Log
	errc chan error
	once sync.Once
}

func (s *fakeSub) Err() <-chan error { return s.errc }

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.errc) })
}

func (s *fakeSub) push(l types.Log) { s.logs <- l }

func (s *fakeSub) drop(err error) { s.errc <- err }

type fakeSource struct {
	head       uint64
	backfill   []types.Log
	subscribed chan *fakeSub

	mu      sync.Mutex
	queries []ethereum.FilterQuery
	closed  bool
}

func newFakeSource(head uint64) *fakeSource {
	return &fakeSource{head: head, subscribed: make(chan *fakeSub, 1)}
}

func (s *fakeSource) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	sub := &fakeSub{logs: ch, errc: make(chan error, 1)}
	s.subscribed <- sub
	return sub, nil
}

func (s *fakeSource) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	return s.backfill, nil
}

func (s *fakeSource) BlockNumber(ctx context.Context) (uint64, error) { return s.head, nil }

func (s *fakeSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// sequenceDialer hands out sources in order; a nil entry is a failed dial.
func sequenceDialer(sources ...*fakeSource) chain.Dialer {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context) (chain.LogSource, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(sources) {
			return nil, errors.New("no more sources")
		}
		s := sources[i]
		i++
		if s == nil {
			return nil, errors.New("dial refused")
		}
		return s, nil
	}
}

func creationLog(t *testing.T, dec *decoder.Decoder, token common.Address, block uint64, index uint) types.Log {
	t.Helper()
	topics, data, err := dec.Encode(events.TokenCreated{
		Creator: common.HexToAddress("0xc0ffee"),
		Token:   token,
		Name:    "Test",
		Symbol:  "TST",
	})
	require.NoError(t, err)
	return types.Log{
		Address:     factory,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       index,
	}
}

func newTestDecoder(t *testing.T) *decoder.Decoder {
	t.Helper()
	dec, err := decoder.New()
	require.NoError(t, err)
	return dec
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type memCheckpoint struct {
	mu    sync.Mutex
	block uint64
	saves int
}

func (c *memCheckpoint) Load() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

func (c *memCheckpoint) Save(block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = block
	c.saves++
	return nil
}

func (c *memCheckpoint) last() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}
