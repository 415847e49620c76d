// Package events holds the values that flow between pipeline stages.
package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LogRef identifies the chain log an event was decoded from.
type LogRef struct {
	TxHash      common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	Index       uint
}

func (r LogRef) String() string {
	return fmt.Sprintf("%s#%d", r.TxHash.Hex(), r.Index)
}

type TokenCreated struct {
	Creator common.Address
	Token   common.Address
	Name    string
	Symbol  string
	Source  LogRef
}

type BuyOutcome struct {
	Token        common.Address
	TxHash       common.Hash
	AmountBought *big.Int
	Success      bool
}

// SellRequest carries only the token; the amount sold is the live balance at sell time.
type SellRequest struct {
	Token common.Address
}

type SellOutcome struct {
	Token      common.Address
	TxHash     common.Hash
	AmountSold *big.Int
	Skipped    bool
	Reason     string
}

// WalletBalanceSnapshot is read on demand and must not be cached.
type WalletBalanceSnapshot struct {
	Raw      *big.Int
	Decimals uint8
	Human    float64
}

func (s WalletBalanceSnapshot) IsZero() bool {
	return s.Raw == nil || s.Raw.Sign() == 0
}
