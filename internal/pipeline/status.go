package pipeline

import (
	"sync/atomic"
	"time"
)

const (
	ListenerStarting  = "starting"
	ListenerConnected = "connected"
	ListenerDegraded  = "degraded"
	ListenerStopped   = "stopped"
)

// Status is a point-in-time view for the console and the API.
type Status struct {
	Listener      string `json:"listener"`
	SellingPaused bool   `json:"selling_paused"`
	LastBlock     uint64 `json:"last_block"`
	Uptime        string `json:"uptime"`

	Decoded      uint64 `json:"decoded"`
	DecodeErrors uint64 `json:"decode_errors"`
	Duplicates   uint64 `json:"duplicates"`
	Bought       uint64 `json:"bought"`
	BuyFailed    uint64 `json:"buy_failed"`
	Sold         uint64 `json:"sold"`
	SellSkipped  uint64 `json:"sell_skipped"`
	SellFailed   uint64 `json:"sell_failed"`

	TokensInFlight int   `json:"tokens_in_flight"`
	SellsActive    int64 `json:"sells_active"`
	SellsParked    int64 `json:"sells_parked"`
	QueueA         int   `json:"queue_a"`
	QueueB         int   `json:"queue_b"`
}

type stats struct {
	listener  atomic.Value
	lastBlock atomic.Uint64

	decoded      atomic.Uint64
	decodeErrors atomic.Uint64
	duplicates   atomic.Uint64
	bought       atomic.Uint64
	buyFailed    atomic.Uint64
	sold         atomic.Uint64
	sellSkipped  atomic.Uint64
	sellFailed   atomic.Uint64

	sellsActive atomic.Int64
	sellsParked atomic.Int64
}

func newStats() *stats {
	s := &stats{}
	s.listener.Store(ListenerStarting)
	return s
}

func (s *stats) setListener(state string) {
	s.listener.Store(state)
}

func (s *stats) snapshot(started time.Time) Status {
	return Status{
		Listener:     s.listener.Load().(string),
		LastBlock:    s.lastBlock.Load(),
		Uptime:       time.Since(started).Truncate(time.Second).String(),
		Decoded:      s.decoded.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Duplicates:   s.duplicates.Load(),
		Bought:       s.bought.Load(),
		BuyFailed:    s.buyFailed.Load(),
		Sold:         s.sold.Load(),
		SellSkipped:  s.sellSkipped.Load(),
		SellFailed:   s.sellFailed.Load(),
		SellsActive:  s.sellsActive.Load(),
		SellsParked:  s.sellsParked.Load(),
	}
}
