package txbuilder

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feeClient struct {
	mu       sync.Mutex
	baseFee  *big.Int
	tip      *big.Int
	gasPrice *big.Int
	gas      uint64
	gasErr   error
	pending  uint64
	headers  int
}

func (c *feeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.pending, nil
}

func (c *feeClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.tip), nil
}

func (c *feeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *feeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers++
	return &types.Header{Number: big.NewInt(1), BaseFee: c.baseFee}, nil
}

func (c *feeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.gas, c.gasErr
}

func (c *feeClient) headerCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestFeeOracleUsesBaseFee(t *testing.T) {
	client := &feeClient{baseFee: gwei(10), tip: gwei(1), gasPrice: gwei(3)}
	o := NewFeeOracle(client, FeeOracleConfig{MaxFeeMultiplier: 2})

	fees, err := o.Fees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gwei(21), fees.MaxFeePerGas)
	assert.Equal(t, gwei(1), fees.MaxPriorityFeePerGas)
	assert.False(t, o.LastSync().IsZero())
}

func TestFeeOracleFallsBackToGasPrice(t *testing.T) {
	client := &feeClient{baseFee: big.NewInt(0), tip: big.NewInt(0), gasPrice: gwei(3)}
	o := NewFeeOracle(client, FeeOracleConfig{MaxFeeMultiplier: 1.5, MinPriorityFeeWei: gwei(1)})

	fees, err := o.Fees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gwei(1), fees.MaxPriorityFeePerGas, "tip is raised to the floor")
	assert.Equal(t, new(big.Int).Add(big.NewInt(4_500_000_000), gwei(1)), fees.MaxFeePerGas)
}

func TestFeeOracleReusesFreshQuote(t *testing.T) {
	client := &feeClient{baseFee: gwei(10), tip: gwei(1), gasPrice: gwei(3)}
	o := NewFeeOracle(client, FeeOracleConfig{RefreshInterval: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	o.now = func() time.Time { return now }

	_, err := o.Fees(context.Background())
	require.NoError(t, err)
	_, err = o.Fees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, client.headerCalls())

	now = now.Add(4 * time.Minute)
	_, err = o.Fees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, client.headerCalls(), "stale quote is refetched")
}

func TestAutoBuilderFillsTx(t *testing.T) {
	client := &feeClient{baseFee: gwei(1), tip: gwei(1), gasPrice: gwei(1), gas: 100_000, pending: 9}
	a := NewAutoBuilder(NewBuilder(big.NewInt(56)), client, NewFeeOracle(client, FeeOracleConfig{}), AutoBuilderConfig{GasLimitMultiplier: 1.5})
	a.SetNonceProvider(NewNonceManager(client))
	from := common.HexToAddress("0x7777777777777777777777777777777777777777")

	call, err := BuyAMAPCall(manager, token, big.NewInt(10), big.NewInt(0))
	require.NoError(t, err)
	tx, err := a.BuildTx(context.Background(), from, call)
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000), tx.Gas())
	assert.Equal(t, uint64(9), tx.Nonce())

	tx2, err := a.BuildTx(context.Background(), from, call)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), tx2.Nonce())

	a.ResetNonce(from)
	tx3, err := a.BuildTx(context.Background(), from, call)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), tx3.Nonce(), "reset re-reads the pending nonce")
}

type revertErr struct{ data string }

func (e revertErr) Error() string          { return "execution reverted" }
func (e revertErr) ErrorData() interface{} { return e.data }

func revertPayload(t *testing.T, reason string) string {
	t.Helper()
	str, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: str}}.Pack(reason)
	require.NoError(t, err)
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...))
}

func TestEstimateGasErrorCarriesRevertReason(t *testing.T) {
	client := &feeClient{
		baseFee: gwei(1), tip: gwei(1), gasPrice: gwei(1),
		gasErr: revertErr{data: revertPayload(t, "Trading not open")},
	}
	a := NewAutoBuilder(NewBuilder(big.NewInt(56)), client, NewFeeOracle(client, FeeOracleConfig{}), AutoBuilderConfig{})
	a.SetNonceProvider(NewNonceManager(client))

	call, err := SellExactCall(manager, token, big.NewInt(1))
	require.NoError(t, err)
	_, err = a.BuildTx(context.Background(), common.Address{}, call)
	require.Error(t, err)

	var gasErr *EstimateGasError
	require.True(t, errors.As(err, &gasErr))
	assert.Equal(t, "Trading not open", gasErr.Reason)
	assert.Equal(t, manager, gasErr.To)
	assert.Contains(t, err.Error(), "Trading not open")
}

func TestRevertReasonWithoutData(t *testing.T) {
	assert.Empty(t, RevertReason(errors.New("boom")))
	assert.Empty(t, RevertReason(revertErr{data: "0xzz"}))
}

func TestScaleGasAndGwei(t *testing.T) {
	assert.Equal(t, uint64(120_000), scaleGas(100_000, 1.2))
	assert.Equal(t, uint64(100_000), scaleGas(100_000, 0))

	wei, err := GweiToWei(1.5)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_500_000_000), wei)
	_, err = GweiToWei(-1)
	assert.Error(t, err)
}
