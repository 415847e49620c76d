package pipeline

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// InFlight tracks tokens between their buy and the end of their sell.
type InFlight struct {
	mu     sync.Mutex
	tokens map[common.Address]struct{}
}

func NewInFlight() *InFlight {
	return &InFlight{tokens: make(map[common.Address]struct{})}
}

// Acquire returns false if token is already being worked on.
func (f *InFlight) Acquire(token common.Address) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[token]; ok {
		return false
	}
	f.tokens[token] = struct{}{}
	return true
}

func (f *InFlight) Release(token common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
}

func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}
