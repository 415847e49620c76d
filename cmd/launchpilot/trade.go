package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"launchpilot/internal/config"
	"launchpilot/internal/events"
	"launchpilot/internal/trade"
	"launchpilot/internal/txbuilder"
)

//nolint:gochecknoglobals // Cobra boilerplate
var (
	tokenFlag     string
	amountFlag    string
	maxFundsFlag  string
	fundsFlag     string
	minAmountFlag string
	minFundsFlag  string
	sellAllFlag   bool
	quoteSellFlag bool

	buyCmd = &cobra.Command{
		Use:   "buy",
		Short: "Buy one token by hand",
		Long: `Buys a token through the token manager.

  --amount N --max-funds F   buy exactly N tokens, spending at most F
  --funds F [--min-amount N] spend F, accept at least N tokens

Without flags the buy policy from the config file is used.`,
		RunE: runBuy,
	}

	sellCmd = &cobra.Command{
		Use:   "sell",
		Short: "Sell a token by hand",
		Long: `Sells a token back to the token manager.

  --amount N              sell exactly N tokens
  --all [--min-funds F]   sell the whole live balance`,
		RunE: runSell,
	}

	approveCmd = &cobra.Command{
		Use:   "approve",
		Short: "Approve the token manager to spend a token",
		RunE:  runApprove,
	}

	balanceCmd = &cobra.Command{
		Use:   "balance",
		Short: "Show the wallet's native and token balance",
		RunE:  runBalance,
	}

	quoteCmd = &cobra.Command{
		Use:   "quote",
		Short: "Ask the helper contract for a buy or sell estimate",
		Long: `Quotes through the helper contract without sending anything.

  --funds F         estimate tokens received for F
  --amount N        estimate the cost of N tokens
  --sell --amount N estimate funds received for selling N tokens`,
		RunE: runQuote,
	}
)

func init() {
	for _, c := range []*cobra.Command{buyCmd, sellCmd, approveCmd, balanceCmd, quoteCmd} {
		c.Flags().StringVarP(&tokenFlag, "token", "t", "", "token address (required)")
		_ = c.MarkFlagRequired("token")
		rootCmd.AddCommand(c)
	}

	buyCmd.Flags().StringVar(&amountFlag, "amount", "", "exact token amount to buy")
	buyCmd.Flags().StringVar(&maxFundsFlag, "max-funds", "", "spend cap for an exact buy")
	buyCmd.Flags().StringVar(&fundsFlag, "funds", "", "amount to spend")
	buyCmd.Flags().StringVar(&minAmountFlag, "min-amount", "", "minimum tokens to accept")

	sellCmd.Flags().StringVar(&amountFlag, "amount", "", "exact token amount to sell")
	sellCmd.Flags().BoolVar(&sellAllFlag, "all", false, "sell the whole balance")
	sellCmd.Flags().StringVar(&minFundsFlag, "min-funds", "", "minimum funds to accept with --all")
	sellCmd.MarkFlagsMutuallyExclusive("amount", "all")

	quoteCmd.Flags().StringVar(&amountFlag, "amount", "", "token amount")
	quoteCmd.Flags().StringVar(&fundsFlag, "funds", "", "funds to spend")
	quoteCmd.Flags().BoolVar(&quoteSellFlag, "sell", false, "quote a sell instead of a buy")
	quoteCmd.MarkFlagsMutuallyExclusive("amount", "funds")
}

// withService runs fn against a freshly wired trade service and tears it down afterwards.
func withService(fn func(ctx context.Context, d *deps, token common.Address) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !common.IsHexAddress(tokenFlag) {
		return &config.Error{Field: "token", Reason: fmt.Sprintf("invalid address %q", tokenFlag)}
	}
	token := common.HexToAddress(tokenFlag)

	d, err := setup(ctx)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, d, token)
}

func runBuy(cmd *cobra.Command, args []string) error {
	return withService(func(ctx context.Context, d *deps, token common.Address) error {
		policy := trade.BuyPolicyFromConfig(d.cfg)
		switch {
		case amountFlag != "":
			if maxFundsFlag == "" {
				return errors.New("--max-funds is required with --amount")
			}
			policy = trade.BuyPolicy{Mode: config.BuyModeExact, Amount: amountFlag, MaxFunds: maxFundsFlag}
		case fundsFlag != "":
			policy = trade.BuyPolicy{Mode: config.BuyModeAMAP, Funds: fundsFlag, MinAmount: minAmountFlag}
		}

		if err := d.svc.EnsureApproval(ctx, token, nil); err != nil {
			return err
		}
		out, err := d.svc.Buy(ctx, token, policy)
		if err != nil {
			return err
		}
		printBuy(cmd.OutOrStdout(), out)
		return nil
	})
}

func runSell(cmd *cobra.Command, args []string) error {
	if amountFlag == "" && !sellAllFlag {
		return errors.New("one of --amount or --all is required")
	}
	return withService(func(ctx context.Context, d *deps, token common.Address) error {
		var (
			out *events.SellOutcome
			err error
		)
		if sellAllFlag {
			minFunds := big.NewInt(0)
			if minFundsFlag != "" {
				if minFunds, err = txbuilder.ParseUnits(minFundsFlag, txbuilder.QuoteDecimals); err != nil {
					return fmt.Errorf("parse --min-funds: %w", err)
				}
			}
			out, err = d.svc.SellAll(ctx, token, minFunds)
		} else {
			snap, berr := d.svc.Balance(ctx, token)
			if berr != nil {
				return berr
			}
			amount, perr := txbuilder.ParseUnits(amountFlag, snap.Decimals)
			if perr != nil {
				return fmt.Errorf("parse --amount: %w", perr)
			}
			if amount.Cmp(snap.Raw) > 0 {
				return fmt.Errorf("balance %s is below %s", txbuilder.FormatUnits(snap.Raw, snap.Decimals), amountFlag)
			}
			out, err = d.svc.SellExact(ctx, token, amount)
		}
		if err != nil {
			return err
		}
		printSell(cmd.OutOrStdout(), out)
		return nil
	})
}

func runApprove(cmd *cobra.Command, args []string) error {
	return withService(func(ctx context.Context, d *deps, token common.Address) error {
		if err := d.svc.Approve(ctx, token); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "approved %s for %s\n", d.cfg.TokenManagerAddress().Hex(), token.Hex())
		return nil
	})
}

func runBalance(cmd *cobra.Command, args []string) error {
	return withService(func(ctx context.Context, d *deps, token common.Address) error {
		native, err := d.client.BalanceAt(ctx, d.svc.Wallet(), nil)
		if err != nil {
			return fmt.Errorf("native balance: %w", err)
		}
		snap, err := d.svc.Balance(ctx, token)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "wallet   %s\n", d.svc.Wallet().Hex())
		fmt.Fprintf(w, "native   %s\n", txbuilder.FormatUnits(native, txbuilder.QuoteDecimals))
		fmt.Fprintf(w, "token    %s (raw %s, decimals %d)\n", txbuilder.FormatUnits(snap.Raw, snap.Decimals), snap.Raw, snap.Decimals)
		return nil
	})
}

func runQuote(cmd *cobra.Command, args []string) error {
	if quoteSellFlag && amountFlag == "" {
		return errors.New("--sell needs --amount")
	}
	if amountFlag == "" && fundsFlag == "" {
		return errors.New("one of --amount or --funds is required")
	}
	return withService(func(ctx context.Context, d *deps, token common.Address) error {
		w := cmd.OutOrStdout()
		var amount *big.Int
		if amountFlag != "" {
			snap, err := d.svc.Balance(ctx, token)
			if err != nil {
				return err
			}
			if amount, err = txbuilder.ParseUnits(amountFlag, snap.Decimals); err != nil {
				return fmt.Errorf("parse --amount: %w", err)
			}
		}

		if quoteSellFlag {
			est, err := d.svc.QuoteSell(ctx, token, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "funds    %s\n", txbuilder.FormatUnits(est.Funds, txbuilder.QuoteDecimals))
			fmt.Fprintf(w, "fee      %s\n", txbuilder.FormatUnits(est.Fee, txbuilder.QuoteDecimals))
			return nil
		}

		funds := big.NewInt(0)
		if fundsFlag != "" {
			var err error
			if funds, err = txbuilder.ParseUnits(fundsFlag, txbuilder.QuoteDecimals); err != nil {
				return fmt.Errorf("parse --funds: %w", err)
			}
		}
		if amount == nil {
			amount = big.NewInt(0)
		}
		est, err := d.svc.QuoteBuy(ctx, token, amount, funds)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "amount   %s (raw)\n", est.EstimatedAmount)
		fmt.Fprintf(w, "cost     %s\n", txbuilder.FormatUnits(est.EstimatedCost, txbuilder.QuoteDecimals))
		fmt.Fprintf(w, "fee      %s\n", txbuilder.FormatUnits(est.EstimatedFee, txbuilder.QuoteDecimals))
		fmt.Fprintf(w, "value    %s\n", txbuilder.FormatUnits(est.AmountMsgValue, txbuilder.QuoteDecimals))
		return nil
	})
}

func printBuy(w io.Writer, out *events.BuyOutcome) {
	fmt.Fprintf(w, "bought   %s\n", out.Token.Hex())
	fmt.Fprintf(w, "tx       %s\n", out.TxHash.Hex())
	if out.AmountBought != nil {
		fmt.Fprintf(w, "amount   %s (raw)\n", out.AmountBought)
	}
}

func printSell(w io.Writer, out *events.SellOutcome) {
	if out.Skipped {
		fmt.Fprintf(w, "skipped  %s: %s\n", out.Token.Hex(), out.Reason)
		return
	}
	fmt.Fprintf(w, "sold     %s\n", out.Token.Hex())
	fmt.Fprintf(w, "tx       %s\n", out.TxHash.Hex())
	fmt.Fprintf(w, "amount   %s (raw)\n", out.AmountSold)
}
