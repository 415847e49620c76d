package trade

import (
	"github.com/dgraph-io/ristretto"
	"github.com/ethereum/go-ethereum/common"
)

// approvalCache remembers tokens whose unlimited approval this process has
// seen confirmed. Eviction only costs an extra allowance read.
type approvalCache struct {
	cache *ristretto.Cache
}

func newApprovalCache(maxItems int64) (*approvalCache, error) {
	if maxItems <= 0 {
		maxItems = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &approvalCache{cache: cache}, nil
}

func (c *approvalCache) Has(token common.Address) bool {
	_, ok := c.cache.Get(token.Hex())
	return ok
}

func (c *approvalCache) Remember(token common.Address) {
	c.cache.Set(token.Hex(), struct{}{}, 1)
	// Sets are buffered; make the entry visible to the next Has.
	c.cache.Wait()
}

func (c *approvalCache) Close() {
	c.cache.Close()
}
