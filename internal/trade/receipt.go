package trade

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// waitReceipt polls until the receipt shows up. Hitting the confirm timeout
// returns an error wrapping context.DeadlineExceeded.
func (s *Service) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.chain.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			s.logger.Debug("receipt-poll-failed", zap.String("tx", hash.Hex()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// transferredTo sums ERC-20 Transfer logs of token into owner.
func transferredTo(receipt *types.Receipt, token, owner common.Address) *big.Int {
	total := new(big.Int)
	if receipt == nil {
		return total
	}
	ownerTopic := common.BytesToHash(owner.Bytes())
	for _, l := range receipt.Logs {
		if l == nil || l.Address != token || len(l.Topics) != 3 || len(l.Data) != 32 {
			continue
		}
		if l.Topics[0] != transferTopic || l.Topics[2] != ownerTopic {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}
	return total
}
