package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeeSource prices new transactions. *FeeOracle satisfies it.
type FeeSource interface {
	Fees(ctx context.Context) (FeeParams, error)
}

type AutoBuilderConfig struct {
	GasLimitMultiplier float64
	Logger             *zap.Logger
}

// AutoBuilder fills nonce, fees and gas limit for a Call.
type AutoBuilder struct {
	builder *Builder
	client  ChainClient
	fees    FeeSource
	nonces  NonceProvider
	cfg     AutoBuilderConfig
}

func NewAutoBuilder(builder *Builder, client ChainClient, fees FeeSource, cfg AutoBuilderConfig) *AutoBuilder {
	if cfg.GasLimitMultiplier <= 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &AutoBuilder{builder: builder, client: client, fees: fees, cfg: cfg}
}

func (a *AutoBuilder) SetNonceProvider(provider NonceProvider) {
	a.nonces = provider
}

// Start launches the fee refresh loop when the fee source has one.
func (a *AutoBuilder) Start(ctx context.Context) {
	if o, ok := a.fees.(*FeeOracle); ok {
		go o.Start(ctx)
	}
}

// BuildTx prices call, estimates its gas and assigns a nonce. Gas is estimated
// before a nonce is taken so a reverting call never consumes one.
func (a *AutoBuilder) BuildTx(ctx context.Context, from common.Address, call Call) (*types.Transaction, error) {
	if a.builder == nil || a.client == nil || a.fees == nil {
		return nil, errors.New("auto builder is not fully configured")
	}
	if call.Value == nil {
		call.Value = new(big.Int)
	}
	fees, err := a.fees.Fees(ctx)
	if err != nil {
		return nil, fmt.Errorf("fees: %w", err)
	}
	gas, err := a.estimateGas(ctx, from, call, fees)
	if err != nil {
		return nil, err
	}
	nonce, err := a.nextNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	a.cfg.Logger.Debug("tx-built",
		zap.String("to", call.To.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas),
		zap.String("max_fee_wei", fees.MaxFeePerGas.String()))
	return a.builder.Build(call, BuildParams{Nonce: nonce, GasLimit: gas, Fee: fees})
}

func (a *AutoBuilder) nextNonce(ctx context.Context, from common.Address) (uint64, error) {
	if a.nonces == nil {
		return a.client.PendingNonceAt(ctx, from)
	}
	return a.nonces.Next(ctx, from)
}

// ReleaseNonce returns a nonce whose transaction was never accepted by the node.
func (a *AutoBuilder) ReleaseNonce(from common.Address, nonce uint64) {
	if a.nonces != nil {
		a.nonces.Release(from, nonce)
	}
}

// ResetNonce forces the next build to re-read the pending nonce.
func (a *AutoBuilder) ResetNonce(from common.Address) {
	if a.nonces != nil {
		a.nonces.Reset(from)
	}
}

func (a *AutoBuilder) ChainID() *big.Int {
	if a.builder == nil || a.builder.ChainID == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.builder.ChainID)
}

func (a *AutoBuilder) estimateGas(ctx context.Context, from common.Address, call Call, fees FeeParams) (uint64, error) {
	to := call.To
	msg := ethereum.CallMsg{
		From:      from,
		To:        &to,
		Value:     call.Value,
		Data:      call.Data,
		GasFeeCap: fees.MaxFeePerGas,
		GasTipCap: fees.MaxPriorityFeePerGas,
	}
	gas, err := a.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, &EstimateGasError{To: to, Reason: RevertReason(err), Err: err}
	}
	return scaleGas(gas, a.cfg.GasLimitMultiplier), nil
}

// scaleGas applies the headroom multiplier and never returns less than gas.
func scaleGas(gas uint64, mult float64) uint64 {
	if mult <= 1 {
		return gas
	}
	scaled := decimal.NewFromInt(int64(gas)).Mul(decimal.NewFromFloat(mult)).IntPart()
	if scaled < int64(gas) {
		return gas
	}
	return uint64(scaled)
}

// EstimateGasError usually means the call would revert. Reason is the decoded
// Error(string) payload when the node returned one.
type EstimateGasError struct {
	To     common.Address
	Reason string
	Err    error
}

func (e *EstimateGasError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("estimate gas for %s: execution reverted: %s", e.To.Hex(), e.Reason)
	}
	return fmt.Sprintf("estimate gas for %s: %v", e.To.Hex(), e.Err)
}

func (e *EstimateGasError) Unwrap() error {
	return e.Err
}

// RevertReason extracts the Error(string) message from a node error carrying
// revert data, or returns "".
func RevertReason(err error) string {
	var dataErr interface{ ErrorData() interface{} }
	if !errors.As(err, &dataErr) {
		return ""
	}
	var payload []byte
	switch v := dataErr.ErrorData().(type) {
	case string:
		b, derr := hexutil.Decode(v)
		if derr != nil {
			return ""
		}
		payload = b
	case []byte:
		payload = v
	default:
		return ""
	}
	reason, uerr := abi.UnpackRevert(payload)
	if uerr != nil {
		return ""
	}
	return reason
}
