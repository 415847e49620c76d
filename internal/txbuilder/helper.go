package txbuilder

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const helperABI = `[
	{"type":"function","name":"tryBuy","stateMutability":"view",
	 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"funds","type":"uint256"}],
	 "outputs":[{"name":"tokenManager","type":"address"},{"name":"quote","type":"address"},
	            {"name":"estimatedAmount","type":"uint256"},{"name":"estimatedCost","type":"uint256"},
	            {"name":"estimatedFee","type":"uint256"},{"name":"amountMsgValue","type":"uint256"},
	            {"name":"amountApproval","type":"uint256"},{"name":"amountFunds","type":"uint256"}]},
	{"type":"function","name":"trySell","stateMutability":"view",
	 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"tokenManager","type":"address"},{"name":"quote","type":"address"},
	            {"name":"funds","type":"uint256"},{"name":"fee","type":"uint256"}]}
]`

var parsedHelperABI = mustParseABI(helperABI)

// BuyEstimate is the helper's best-effort view of a buy. Amount is set when
// quoting by funds, Cost when quoting by amount.
type BuyEstimate struct {
	TokenManager    common.Address
	Quote           common.Address
	EstimatedAmount *big.Int
	EstimatedCost   *big.Int
	EstimatedFee    *big.Int
	AmountMsgValue  *big.Int
	AmountApproval  *big.Int
	AmountFunds     *big.Int
}

type SellEstimate struct {
	TokenManager common.Address
	Quote        common.Address
	Funds        *big.Int
	Fee          *big.Int
}

// TryBuy asks the helper contract for an estimate. Pass amount=0 to quote a
// fixed spend, or funds=0 to quote a fixed token amount.
func TryBuy(ctx context.Context, caller ContractCaller, helper, token common.Address, amount, funds *big.Int) (*BuyEstimate, error) {
	data, err := parsedHelperABI.Pack("tryBuy", token, amount, funds)
	if err != nil {
		return nil, fmt.Errorf("pack tryBuy: %w", err)
	}
	out, err := call(ctx, caller, helper, data)
	if err != nil {
		return nil, fmt.Errorf("tryBuy: %w", err)
	}
	vals, err := parsedHelperABI.Unpack("tryBuy", out)
	if err != nil {
		return nil, fmt.Errorf("unpack tryBuy: %w", err)
	}
	if len(vals) != 8 {
		return nil, fmt.Errorf("tryBuy: unexpected %d outputs", len(vals))
	}
	return &BuyEstimate{
		TokenManager:    vals[0].(common.Address),
		Quote:           vals[1].(common.Address),
		EstimatedAmount: vals[2].(*big.Int),
		EstimatedCost:   vals[3].(*big.Int),
		EstimatedFee:    vals[4].(*big.Int),
		AmountMsgValue:  vals[5].(*big.Int),
		AmountApproval:  vals[6].(*big.Int),
		AmountFunds:     vals[7].(*big.Int),
	}, nil
}

func TrySell(ctx context.Context, caller ContractCaller, helper, token common.Address, amount *big.Int) (*SellEstimate, error) {
	data, err := parsedHelperABI.Pack("trySell", token, amount)
	if err != nil {
		return nil, fmt.Errorf("pack trySell: %w", err)
	}
	out, err := call(ctx, caller, helper, data)
	if err != nil {
		return nil, fmt.Errorf("trySell: %w", err)
	}
	vals, err := parsedHelperABI.Unpack("trySell", out)
	if err != nil {
		return nil, fmt.Errorf("unpack trySell: %w", err)
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("trySell: unexpected %d outputs", len(vals))
	}
	return &SellEstimate{
		TokenManager: vals[0].(common.Address),
		Quote:        vals[1].(common.Address),
		Funds:        vals[2].(*big.Int),
		Fee:          vals[3].(*big.Int),
	}, nil
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
