package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ineyio/metergate"
)

func newTopupCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "topup <user> <units>",
		Short:   "Credit units to a user's balance",
		Example: `  metergate topup user-42 50000`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || units <= 0 {
				return fmt.Errorf("units must be a positive integer, got %q", args[1])
			}
			return withLedger(cmd.Context(), root, func(ctx context.Context, l *metergate.Ledger) error {
				balance, err := l.Credit(ctx, args[0], units)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				goodColor.Fprintf(out, "credited %d units\n", units)
				labelColor.Fprint(out, "balance: ")
				fmt.Fprintln(out, balance)
				return nil
			})
		},
	}
}

func newBalanceCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user>",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), root, func(ctx context.Context, l *metergate.Ledger) error {
				out := cmd.OutOrStdout()
				balance, err := l.Balance(ctx, args[0])
				if errors.Is(err, metergate.ErrUserNotFound) {
					badColor.Fprintf(out, "user %s not found\n", args[0])
					return err
				}
				if err != nil {
					return err
				}
				labelColor.Fprint(out, "balance: ")
				fmt.Fprintln(out, balance)
				return nil
			})
		},
	}
}

func withLedger(ctx context.Context, root *rootOptions, fn func(context.Context, *metergate.Ledger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	st, err := openStores(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, metergate.NewLedger(st.balances, nil))
}

func newQuoteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "quote <model> <input_tokens> <output_tokens>",
		Short:   "Price a hypothetical request",
		Example: `  metergate quote gemini-2.0-flash 1200 400`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || in < 0 {
				return fmt.Errorf("input_tokens must be a non-negative integer, got %q", args[1])
			}
			outTokens, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil || outTokens < 0 {
				return fmt.Errorf("output_tokens must be a non-negative integer, got %q", args[2])
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			st, err := openStores(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer st.Close()

			logger := root.logger(cmd.ErrOrStderr())
			pricer := metergate.NewPricer(
				metergate.WithPricerStore(st.prices),
				metergate.WithPricerConfig(st.settings),
				metergate.WithPricerCatalog(metergate.NewCatalog(cfg.Catalog...)),
				metergate.WithMaxCost(cfg.Pricing.MaxCostUSD),
				metergate.WithDefaultMargin(cfg.Pricing.DefaultMargin),
				metergate.WithDefaultPrice(cfg.Pricing.DefaultPrice),
				metergate.WithPricerLogger(logger),
			)
			rates := metergate.NewRateResolver(st.settings,
				metergate.WithRateSource(&metergate.HTTPRateSource{URL: cfg.Exchange.URL, Currency: cfg.Exchange.Currency}),
				metergate.WithFallbackRate(cfg.Exchange.FallbackRate),
				metergate.WithRateLogger(logger),
			)

			q := pricer.Quote(ctx, args[0])
			cost, clamped := pricer.Cost(q, in, outTokens)
			rate := rates.Rate(ctx)

			out := cmd.OutOrStdout()
			headerColor.Fprintln(out, q.Model)
			printField(out, "source", string(q.Source))
			printField(out, "price", fmt.Sprintf("$%.4f in / $%.4f out per 1M", q.Price.Input, q.Price.Output))
			printField(out, "margin", fmt.Sprintf("%.1f%%", q.MarginPercent))
			printField(out, "cost", fmt.Sprintf("$%.6f", cost))
			if clamped {
				badColor.Fprintln(out, "  (clamped to ceiling)")
			}
			printField(out, "rate", strconv.FormatFloat(rate, 'f', -1, 64))
			printField(out, "units", strconv.FormatInt(metergate.Units(cost, rate), 10))
			return nil
		},
	}
}

func printField(w io.Writer, label, value string) {
	labelColor.Fprintf(w, "  %-7s ", label+":")
	fmt.Fprintln(w, value)
}
