package txbuilder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	selectorBuyToken      = selector("buyToken(address,uint256,uint256)")
	selectorBuyTokenAMAP  = selector("buyTokenAMAP(address,uint256,uint256)")
	selectorSellToken     = selector("sellToken(address,uint256)")
	selectorSellTokenAMAP = selector("sellTokenAMAP(address,uint256,uint256)")
	selectorApprove       = selector("approve(address,uint256)")
)

// MaxUint256 is the allowance granted by approvals.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type FeeParams struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

type BuildParams struct {
	Nonce    uint64
	GasLimit uint64
	Fee      FeeParams
}

// Call is an unsigned contract call: destination, attached value and calldata.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

type Builder struct {
	ChainID *big.Int
}

func NewBuilder(chainID *big.Int) *Builder {
	return &Builder{ChainID: new(big.Int).Set(chainID)}
}

// BuyExactCall buys exactly amount tokens, paying at most maxFunds (sent as value).
func BuyExactCall(manager, token common.Address, amount, maxFunds *big.Int) (Call, error) {
	if amount == nil || maxFunds == nil {
		return Call{}, errors.New("amount and maxFunds are required")
	}
	data, err := pack(selectorBuyToken, encodeAddress(token), amount, maxFunds)
	if err != nil {
		return Call{}, err
	}
	return Call{To: manager, Value: new(big.Int).Set(maxFunds), Data: data}, nil
}

// BuyAMAPCall spends exactly funds (sent as value) and reverts below minAmount tokens.
func BuyAMAPCall(manager, token common.Address, funds, minAmount *big.Int) (Call, error) {
	if funds == nil || minAmount == nil {
		return Call{}, errors.New("funds and minAmount are required")
	}
	data, err := pack(selectorBuyTokenAMAP, encodeAddress(token), funds, minAmount)
	if err != nil {
		return Call{}, err
	}
	return Call{To: manager, Value: new(big.Int).Set(funds), Data: data}, nil
}

func SellExactCall(manager, token common.Address, amount *big.Int) (Call, error) {
	if amount == nil {
		return Call{}, errors.New("amount is required")
	}
	data, err := pack(selectorSellToken, encodeAddress(token), amount)
	if err != nil {
		return Call{}, err
	}
	return Call{To: manager, Value: big.NewInt(0), Data: data}, nil
}

// SellAMAPCall sells amount tokens and reverts if proceeds are below minFunds.
func SellAMAPCall(manager, token common.Address, amount, minFunds *big.Int) (Call, error) {
	if amount == nil || minFunds == nil {
		return Call{}, errors.New("amount and minFunds are required")
	}
	data, err := pack(selectorSellTokenAMAP, encodeAddress(token), amount, minFunds)
	if err != nil {
		return Call{}, err
	}
	return Call{To: manager, Value: big.NewInt(0), Data: data}, nil
}

func ApproveCall(token, spender common.Address, amount *big.Int) (Call, error) {
	if amount == nil {
		return Call{}, errors.New("amount is required")
	}
	data, err := pack(selectorApprove, encodeAddress(spender), amount)
	if err != nil {
		return Call{}, err
	}
	return Call{To: token, Value: big.NewInt(0), Data: data}, nil
}

func (b *Builder) Build(call Call, p BuildParams) (*types.Transaction, error) {
	return buildDynamicTx(b.ChainID, call.To, call.Value, call.Data, p)
}

// pack appends 32-byte words to sel. Words are either pre-encoded []byte or *big.Int.
func pack(sel []byte, words ...any) ([]byte, error) {
	data := append([]byte{}, sel...)
	for i, w := range words {
		switch v := w.(type) {
		case []byte:
			data = append(data, v...)
		case *big.Int:
			enc, err := encodeUint256(v)
			if err != nil {
				return nil, fmt.Errorf("arg %d: %w", i, err)
			}
			data = append(data, enc...)
		default:
			return nil, fmt.Errorf("arg %d: unsupported type %T", i, w)
		}
	}
	return data, nil
}

func buildDynamicTx(chainID *big.Int, to common.Address, value *big.Int, data []byte, p BuildParams) (*types.Transaction, error) {
	if chainID == nil {
		return nil, errors.New("chainID is required")
	}
	if value == nil {
		return nil, errors.New("value is required")
	}
	if p.GasLimit == 0 {
		return nil, errors.New("gasLimit is required")
	}
	if p.Fee.MaxFeePerGas == nil || p.Fee.MaxPriorityFeePerGas == nil {
		return nil, errors.New("maxFeePerGas and maxPriorityFeePerGas are required")
	}
	if p.Fee.MaxFeePerGas.Sign() < 0 || p.Fee.MaxPriorityFeePerGas.Sign() < 0 {
		return nil, errors.New("fee values must be non-negative")
	}
	if value.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     p.Nonce,
		Gas:       p.GasLimit,
		GasFeeCap: p.Fee.MaxFeePerGas,
		GasTipCap: p.Fee.MaxPriorityFeePerGas,
		To:        &to,
		Value:     value,
		Data:      data,
	}), nil
}

func encodeUint256(v *big.Int) ([]byte, error) {
	if v == nil {
		return nil, errors.New("value is nil")
	}
	if v.Sign() < 0 {
		return nil, errors.New("value must be non-negative")
	}
	if v.BitLen() > 256 {
		return nil, errors.New("value overflows uint256")
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}

func encodeAddress(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}
