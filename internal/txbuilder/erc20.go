package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var (
	selectorBalanceOf = selector("balanceOf(address)")
	selectorDecimals  = selector("decimals()")
	selectorAllowance = selector("allowance(address,address)")
)

func BuildBalanceOfCallData(owner common.Address) []byte {
	data := append([]byte{}, selectorBalanceOf...)
	data = append(data, encodeAddress(owner)...)
	return data
}

func BuildDecimalsCallData() []byte {
	return append([]byte{}, selectorDecimals...)
}

func BuildAllowanceCallData(owner, spender common.Address) []byte {
	data := append([]byte{}, selectorAllowance...)
	data = append(data, encodeAddress(owner)...)
	data = append(data, encodeAddress(spender)...)
	return data
}

func ReadERC20Balance(ctx context.Context, caller ContractCaller, token common.Address, owner common.Address) (*big.Int, error) {
	out, err := call(ctx, caller, token, BuildBalanceOfCallData(owner))
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return decodeWord(out)
}

func ReadERC20Decimals(ctx context.Context, caller ContractCaller, token common.Address) (uint8, error) {
	out, err := call(ctx, caller, token, BuildDecimalsCallData())
	if err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	v, err := decodeWord(out)
	if err != nil {
		return 0, err
	}
	if v.BitLen() > 8 {
		return 0, fmt.Errorf("decimals out of range: %s", v.String())
	}
	return uint8(v.Uint64()), nil
}

func ReadERC20Allowance(ctx context.Context, caller ContractCaller, token, owner, spender common.Address) (*big.Int, error) {
	out, err := call(ctx, caller, token, BuildAllowanceCallData(owner, spender))
	if err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	return decodeWord(out)
}

func call(ctx context.Context, caller ContractCaller, to common.Address, data []byte) ([]byte, error) {
	if caller == nil {
		return nil, errors.New("contract caller is nil")
	}
	return caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func decodeWord(out []byte) (*big.Int, error) {
	if len(out) < 32 {
		return nil, fmt.Errorf("short return data: %d bytes", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}
