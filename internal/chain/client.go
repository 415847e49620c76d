// Package chain dials the node endpoints and names the RPC surface the rest of
// the module depends on.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"launchpilot/internal/txbuilder"
)

const userAgent = "launchpilot"

// Client is everything the trade path needs from the HTTP endpoint.
// *ethclient.Client satisfies it.
type Client interface {
	txbuilder.ChainClient
	txbuilder.ContractCaller
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// LogSource is the subscription side, normally a WebSocket ethclient.
type LogSource interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens a fresh LogSource. The listener calls it again after a drop.
type Dialer func(ctx context.Context) (LogSource, error)

var (
	_ Client    = (*ethclient.Client)(nil)
	_ LogSource = (*ethclient.Client)(nil)
)

func DialHTTP(ctx context.Context, url string) (*ethclient.Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial http rpc: %w", err)
	}
	rpcClient.SetHeader("User-Agent", userAgent)
	return ethclient.NewClient(rpcClient), nil
}

func DialWS(ctx context.Context, url string) (*ethclient.Client, error) {
	rpcClient, err := rpc.DialWebsocket(ctx, url, "")
	if err != nil {
		return nil, fmt.Errorf("dial ws rpc: %w", err)
	}
	return ethclient.NewClient(rpcClient), nil
}

// WSDialer returns a Dialer bound to one WebSocket URL.
func WSDialer(url string) Dialer {
	return func(ctx context.Context) (LogSource, error) {
		return DialWS(ctx, url)
	}
}
