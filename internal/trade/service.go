package trade

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"launchpilot/internal/config"
	"launchpilot/internal/events"
	"launchpilot/internal/keys"
	"launchpilot/internal/txbuilder"
)

// Builder fills in and returns an unsigned transaction. *txbuilder.AutoBuilder satisfies it.
type Builder interface {
	BuildTx(ctx context.Context, from common.Address, call txbuilder.Call) (*types.Transaction, error)
	ReleaseNonce(from common.Address, nonce uint64)
	ResetNonce(from common.Address)
	ChainID() *big.Int
}

// Chain is the node surface used for reads, sends and receipts.
type Chain interface {
	txbuilder.ContractCaller
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Options struct {
	TokenManager      common.Address
	Helper            common.Address
	ConfirmTimeout    time.Duration
	PollInterval      time.Duration
	RequestTimeout    time.Duration
	ApprovalCacheSize int64
	Logger            *zap.Logger
}

func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) Options {
	helper, _ := cfg.HelperAddress()
	return Options{
		TokenManager:      cfg.TokenManagerAddress(),
		Helper:            helper,
		ConfirmTimeout:    cfg.Tx.ConfirmTimeout.Duration,
		PollInterval:      cfg.Tx.ReceiptPollInterval.Duration,
		RequestTimeout:    cfg.RPC.RequestTimeout.Duration,
		ApprovalCacheSize: cfg.Cache.Approvals,
		Logger:            logger,
	}
}

// Service turns trade intents into signed, sent and confirmed transactions
// against the token manager.
type Service struct {
	builder   Builder
	chain     Chain
	signer    keys.Signer
	approvals *approvalCache
	opts      Options
	logger    *zap.Logger
}

func NewService(builder Builder, chain Chain, signer keys.Signer, opts Options) (*Service, error) {
	if builder == nil || chain == nil || signer == nil {
		return nil, errors.New("builder, chain and signer are required")
	}
	if opts.TokenManager == (common.Address{}) {
		return nil, errors.New("token manager address is required")
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 90 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	approvals, err := newApprovalCache(opts.ApprovalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("approval cache: %w", err)
	}
	return &Service{
		builder:   builder,
		chain:     chain,
		signer:    signer,
		approvals: approvals,
		opts:      opts,
		logger:    opts.Logger,
	}, nil
}

func (s *Service) Close() {
	s.approvals.Close()
}

func (s *Service) Wallet() common.Address {
	return s.signer.Address()
}

// Buy submits one buy sized by policy and waits for it to be mined.
func (s *Service) Buy(ctx context.Context, token common.Address, policy BuyPolicy) (*events.BuyOutcome, error) {
	call, err := s.buyCall(ctx, token, policy)
	if err != nil {
		return nil, &TxError{Stage: StageBuy, Token: token, Err: err}
	}
	s.logEstimate(ctx, token, policy, call)

	receipt, err := s.submit(ctx, StageBuy, token, call)
	if err != nil {
		return nil, err
	}
	bought := transferredTo(receipt, token, s.Wallet())
	s.logger.Info("buy-confirmed",
		zap.String("token", token.Hex()),
		zap.String("tx", receipt.TxHash.Hex()),
		zap.String("amount", bought.String()))
	return &events.BuyOutcome{
		Token:        token,
		TxHash:       receipt.TxHash,
		AmountBought: bought,
		Success:      true,
	}, nil
}

func (s *Service) buyCall(ctx context.Context, token common.Address, policy BuyPolicy) (txbuilder.Call, error) {
	manager := s.opts.TokenManager
	switch strings.ToLower(policy.Mode) {
	case config.BuyModeExact:
		decimals, err := s.decimals(ctx, token)
		if err != nil {
			return txbuilder.Call{}, err
		}
		amount, err := txbuilder.ParseUnits(policy.Amount, decimals)
		if err != nil {
			return txbuilder.Call{}, fmt.Errorf("buy amount: %w", err)
		}
		maxFunds, err := txbuilder.ParseUnits(policy.MaxFunds, txbuilder.QuoteDecimals)
		if err != nil {
			return txbuilder.Call{}, fmt.Errorf("max funds: %w", err)
		}
		return txbuilder.BuyExactCall(manager, token, amount, maxFunds)
	case config.BuyModeAMAP, "":
		funds, err := txbuilder.ParseUnits(policy.Funds, txbuilder.QuoteDecimals)
		if err != nil {
			return txbuilder.Call{}, fmt.Errorf("buy funds: %w", err)
		}
		minAmount := big.NewInt(0)
		if strings.TrimSpace(policy.MinAmount) != "" {
			decimals, err := s.decimals(ctx, token)
			if err != nil {
				return txbuilder.Call{}, err
			}
			if minAmount, err = txbuilder.ParseUnits(policy.MinAmount, decimals); err != nil {
				return txbuilder.Call{}, fmt.Errorf("min amount: %w", err)
			}
		}
		return txbuilder.BuyAMAPCall(manager, token, funds, minAmount)
	default:
		return txbuilder.Call{}, fmt.Errorf("unknown buy mode %q", policy.Mode)
	}
}

// logEstimate is best effort; a failing helper never blocks the buy.
func (s *Service) logEstimate(ctx context.Context, token common.Address, policy BuyPolicy, call txbuilder.Call) {
	if s.opts.Helper == (common.Address{}) {
		return
	}
	amount, funds := big.NewInt(0), call.Value
	if strings.ToLower(policy.Mode) == config.BuyModeExact {
		// Exact buys quote by token amount; the second calldata word is the amount.
		amount, funds = new(big.Int).SetBytes(call.Data[36:68]), big.NewInt(0)
	}
	est, err := s.QuoteBuy(ctx, token, amount, funds)
	if err != nil {
		s.logger.Warn("buy-estimate-failed", zap.String("token", token.Hex()), zap.Error(err))
		return
	}
	s.logger.Info("buy-estimate",
		zap.String("token", token.Hex()),
		zap.String("amount", est.EstimatedAmount.String()),
		zap.String("cost", est.EstimatedCost.String()),
		zap.String("fee", est.EstimatedFee.String()))
}

// EnsureApproval makes sure the token manager may spend at least need of token.
// A nil need means an unlimited allowance is expected.
func (s *Service) EnsureApproval(ctx context.Context, token common.Address, need *big.Int) error {
	if s.approvals.Has(token) {
		return nil
	}
	if need == nil {
		need = new(big.Int).Rsh(txbuilder.MaxUint256, 1)
	}
	rctx, cancel := s.requestCtx(ctx)
	allowance, err := txbuilder.ReadERC20Allowance(rctx, s.chain, token, s.Wallet(), s.opts.TokenManager)
	cancel()
	if err != nil {
		return &TxError{Stage: StageApprove, Token: token, Err: err}
	}
	if allowance.Cmp(need) >= 0 {
		return nil
	}
	return s.Approve(ctx, token)
}

// Approve grants the token manager an unlimited allowance unconditionally.
func (s *Service) Approve(ctx context.Context, token common.Address) error {
	call, err := txbuilder.ApproveCall(token, s.opts.TokenManager, txbuilder.MaxUint256)
	if err != nil {
		return &TxError{Stage: StageApprove, Token: token, Err: err}
	}
	receipt, err := s.submit(ctx, StageApprove, token, call)
	if err != nil {
		return err
	}
	s.approvals.Remember(token)
	s.logger.Info("approval-confirmed",
		zap.String("token", token.Hex()),
		zap.String("tx", receipt.TxHash.Hex()))
	return nil
}

// Balance reads the wallet's live token balance. It is never cached.
func (s *Service) Balance(ctx context.Context, token common.Address) (events.WalletBalanceSnapshot, error) {
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	raw, err := txbuilder.ReadERC20Balance(rctx, s.chain, token, s.Wallet())
	if err != nil {
		return events.WalletBalanceSnapshot{}, &TxError{Stage: StageBalance, Token: token, Err: err}
	}
	decimals, err := txbuilder.ReadERC20Decimals(rctx, s.chain, token)
	if err != nil {
		return events.WalletBalanceSnapshot{}, &TxError{Stage: StageBalance, Token: token, Err: err}
	}
	return events.WalletBalanceSnapshot{
		Raw:      raw,
		Decimals: decimals,
		Human:    txbuilder.HumanFloat(raw, decimals),
	}, nil
}

// SellAll sells the whole live balance with sellTokenAMAP. A zero balance is
// reported as a skipped outcome and sends nothing.
func (s *Service) SellAll(ctx context.Context, token common.Address, minFunds *big.Int) (*events.SellOutcome, error) {
	bal, err := s.Balance(ctx, token)
	if err != nil {
		return nil, err
	}
	if bal.IsZero() {
		s.logger.Info("nothing-to-sell", zap.String("token", token.Hex()))
		return &events.SellOutcome{Token: token, AmountSold: big.NewInt(0), Skipped: true, Reason: "nothing to sell"}, nil
	}
	if minFunds == nil {
		minFunds = big.NewInt(0)
	}
	s.logger.Info("sell-balance",
		zap.String("token", token.Hex()),
		zap.String("raw", bal.Raw.String()),
		zap.Float64("human", bal.Human))

	if err := s.EnsureApproval(ctx, token, bal.Raw); err != nil {
		return nil, err
	}
	call, err := txbuilder.SellAMAPCall(s.opts.TokenManager, token, bal.Raw, minFunds)
	if err != nil {
		return nil, &TxError{Stage: StageSell, Token: token, Err: err}
	}
	return s.sell(ctx, token, bal.Raw, call)
}

// SellExact sells a fixed base-unit amount with sellToken.
func (s *Service) SellExact(ctx context.Context, token common.Address, amount *big.Int) (*events.SellOutcome, error) {
	if err := s.EnsureApproval(ctx, token, amount); err != nil {
		return nil, err
	}
	call, err := txbuilder.SellExactCall(s.opts.TokenManager, token, amount)
	if err != nil {
		return nil, &TxError{Stage: StageSell, Token: token, Err: err}
	}
	return s.sell(ctx, token, amount, call)
}

func (s *Service) sell(ctx context.Context, token common.Address, amount *big.Int, call txbuilder.Call) (*events.SellOutcome, error) {
	receipt, err := s.submit(ctx, StageSell, token, call)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sell-confirmed",
		zap.String("token", token.Hex()),
		zap.String("tx", receipt.TxHash.Hex()),
		zap.String("amount", amount.String()))
	return &events.SellOutcome{Token: token, TxHash: receipt.TxHash, AmountSold: new(big.Int).Set(amount)}, nil
}

func (s *Service) QuoteBuy(ctx context.Context, token common.Address, amount, funds *big.Int) (*txbuilder.BuyEstimate, error) {
	if s.opts.Helper == (common.Address{}) {
		return nil, &TxError{Stage: StageQuote, Token: token, Err: ErrNoHelper}
	}
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	est, err := txbuilder.TryBuy(rctx, s.chain, s.opts.Helper, token, amount, funds)
	if err != nil {
		return nil, &TxError{Stage: StageQuote, Token: token, Err: err}
	}
	return est, nil
}

func (s *Service) QuoteSell(ctx context.Context, token common.Address, amount *big.Int) (*txbuilder.SellEstimate, error) {
	if s.opts.Helper == (common.Address{}) {
		return nil, &TxError{Stage: StageQuote, Token: token, Err: ErrNoHelper}
	}
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	est, err := txbuilder.TrySell(rctx, s.chain, s.opts.Helper, token, amount)
	if err != nil {
		return nil, &TxError{Stage: StageQuote, Token: token, Err: err}
	}
	return est, nil
}

// submit builds, signs and sends call, then blocks until the receipt arrives
// or the confirm timeout passes.
func (s *Service) submit(ctx context.Context, stage Stage, token common.Address, call txbuilder.Call) (*types.Receipt, error) {
	from := s.Wallet()
	tx, err := s.builder.BuildTx(ctx, from, call)
	if err != nil {
		return nil, &TxError{Stage: stage, Token: token, Err: fmt.Errorf("build: %w", err)}
	}
	signed, err := s.signer.SignTx(tx, s.builder.ChainID())
	if err != nil {
		s.builder.ReleaseNonce(from, tx.Nonce())
		return nil, &TxError{Stage: stage, Token: token, Err: fmt.Errorf("sign: %w", err)}
	}
	rctx, cancel := s.requestCtx(ctx)
	err = s.chain.SendTransaction(rctx, signed)
	cancel()
	if err != nil {
		if nonceTooLow(err) {
			s.builder.ResetNonce(from)
		} else {
			s.builder.ReleaseNonce(from, tx.Nonce())
		}
		return nil, &TxError{Stage: stage, Token: token, Err: fmt.Errorf("send: %w", err)}
	}
	hash := signed.Hash()
	s.logger.Info("tx-sent",
		zap.String("stage", string(stage)),
		zap.String("token", token.Hex()),
		zap.String("tx", hash.Hex()),
		zap.Uint64("nonce", signed.Nonce()))

	receipt, err := s.waitReceipt(ctx, hash)
	if err != nil {
		return nil, &TxError{Stage: stage, Token: token, TxHash: hash, Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, &TxError{Stage: stage, Token: token, TxHash: hash, Err: ErrReverted}
	}
	return receipt, nil
}

// nonceTooLow matches the node's rejection of an already used nonce, which
// arrives as plain JSON-RPC error text.
func nonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

func (s *Service) decimals(ctx context.Context, token common.Address) (uint8, error) {
	rctx, cancel := s.requestCtx(ctx)
	defer cancel()
	d, err := txbuilder.ReadERC20Decimals(rctx, s.chain, token)
	if err != nil {
		return 0, fmt.Errorf("read decimals: %w", err)
	}
	return d, nil
}

func (s *Service) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.RequestTimeout)
}
