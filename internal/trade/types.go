package trade

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"launchpilot/internal/config"
)

type Stage string

const (
	StageApprove Stage = "approve"
	StageBuy     Stage = "buy"
	StageBalance Stage = "balance"
	StageSell    Stage = "sell"
	StageQuote   Stage = "quote"
)

// ErrReverted marks a mined transaction with receipt status 0.
var ErrReverted = errors.New("transaction reverted")

// ErrNoHelper is returned by quotes when no helper contract is configured.
var ErrNoHelper = errors.New("helper contract not configured")

// TxError is a per-item trade failure. TxHash is zero when nothing was sent.
type TxError struct {
	Stage  Stage
	Token  common.Address
	TxHash common.Hash
	Err    error
}

func (e *TxError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("%s %s (tx %s): %v", e.Stage, e.Token.Hex(), e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Token.Hex(), e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// BuyPolicy sizes a buy. Amounts are human decimal strings: token amounts use
// the token's decimals, funds use the 18-decimal quote currency.
type BuyPolicy struct {
	Mode      string
	Amount    string
	MaxFunds  string
	Funds     string
	MinAmount string
}

func BuyPolicyFromConfig(cfg *config.Config) BuyPolicy {
	return BuyPolicy{
		Mode:      cfg.Buy.Mode,
		Amount:    cfg.Buy.Amount,
		MaxFunds:  cfg.Buy.MaxFunds,
		Funds:     cfg.Buy.Funds,
		MinAmount: cfg.Buy.MinAmount,
	}
}
