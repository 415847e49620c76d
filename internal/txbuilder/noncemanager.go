package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"launchpilot/internal/metrics"
)

type NonceProvider interface {
	Next(ctx context.Context, addr common.Address) (uint64, error)
	Release(addr common.Address, nonce uint64)
	Reset(addr common.Address)
}

// NonceManager hands out sequential nonces per sender. The trader and every
// concurrent sell sign from one wallet, so reading PendingNonceAt per
// transaction would hand the same nonce out twice.
type NonceManager struct {
	client ChainClient

	mu      sync.Mutex
	senders map[common.Address]uint64 // next nonce to hand out
}

func NewNonceManager(client ChainClient) *NonceManager {
	return &NonceManager{client: client, senders: make(map[common.Address]uint64)}
}

// Next returns the sender's next nonce, reading the pending nonce from the
// node the first time and after every Reset.
func (m *NonceManager) Next(ctx context.Context, addr common.Address) (uint64, error) {
	if m.client == nil {
		return 0, errors.New("nonce manager has no client")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next, tracked := m.senders[addr]
	if !tracked {
		pending, err := m.client.PendingNonceAt(ctx, addr)
		if err != nil {
			return 0, fmt.Errorf("pending nonce for %s: %w", addr.Hex(), err)
		}
		next = pending
	}
	m.senders[addr] = next + 1
	return next, nil
}

// Release hands back a nonce whose transaction never reached the node. Only
// the most recent nonce can be reused; releasing an older one leaves a gap,
// so the sender is re-read from the node instead.
func (m *NonceManager) Release(addr common.Address, nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, tracked := m.senders[addr]
	switch {
	case !tracked:
	case next == nonce+1:
		m.senders[addr] = nonce
	default:
		m.forget(addr)
	}
}

// Reset drops the local sequence, e.g. after the node rejected a nonce as too low.
func (m *NonceManager) Reset(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, tracked := m.senders[addr]; tracked {
		m.forget(addr)
	}
}

func (m *NonceManager) forget(addr common.Address) {
	delete(m.senders, addr)
	metrics.NonceResyncsTotal.Inc()
}
