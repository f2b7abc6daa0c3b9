package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	btbclient "github.com/btb-finance/btb-chain-client"
	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

type runFunc func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

// run wraps fn with signal handling, the --timeout deadline and app setup.
func (o *options) run(withWallet bool, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := o.context(cmd, true)
		defer stop()

		a, err := o.open(ctx, withWallet)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, cmd, args)
	}
}

func (o *options) context(cmd *cobra.Command, deadline bool) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	if !deadline || o.timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func newHuntersCmd(opts *options) *cobra.Command {
	var (
		account     string
		progressive bool
		offset      uint64
		limit       uint64
	)
	cmd := &cobra.Command{
		Use:   "hunters",
		Short: "List an account's hunters with their stats",
		Args:  cobra.NoArgs,
		RunE: opts.run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			owner, err := a.account(account)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch {
			case limit > 0:
				hunters, err := a.client.LoadMoreHunters(ctx, owner, offset, limit)
				if err != nil {
					return err
				}
				printHunters(out, hunters)
				return nil

			case progressive:
				stream, err := a.client.GetUserHuntersProgressive(ctx, owner)
				if err != nil {
					return err
				}
				started := time.Now()
				for {
					batch, err := stream.Next(ctx)
					if errors.Is(err, btbclient.ErrStreamDone) {
						break
					}
					if err != nil {
						return err
					}
					printHunters(out, batch.Hunters)
					fmt.Fprintf(cmd.ErrOrStderr(), "loaded %s of %s hunters (%.0f%%)\n",
						humanize.Comma(int64(batch.Loaded)), humanize.Comma(int64(batch.Total)),
						100*float64(batch.Loaded)/float64(batch.Total))
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s hunters in %s\n",
					humanize.Comma(int64(len(stream.Hunters()))), time.Since(started).Round(time.Millisecond))
				return nil

			default:
				hunters, err := a.client.GetUserHunters(ctx, owner)
				if err != nil {
					return err
				}
				printHunters(out, hunters)
				fmt.Fprintf(cmd.ErrOrStderr(), "%s hunters\n", humanize.Comma(int64(len(hunters))))
				return nil
			}
		}),
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to inspect (defaults to the BTB_PRIVATE_KEY address)")
	cmd.Flags().BoolVar(&progressive, "progressive", false, "Load and print hunters batch by batch")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "First enumeration position to load (with --limit)")
	cmd.Flags().Uint64Var(&limit, "limit", 0, "Load a single page of this many hunters")
	return cmd
}

func printHunters(w io.Writer, hunters []btbclient.TokenStats) {
	if len(hunters) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPOWER\tHUNTED\tACTIVE\tFED\tHUNTED AT\tFEED\tHUNT\tDAYS LEFT")
	for _, h := range hunters {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\t%s\t%s\t%d\n",
			h.TokenID, h.Power.StringFixed(2), h.TotalHunted.StringFixed(2), h.IsActive,
			humanize.Time(h.LastFeedTime), humanize.Time(h.LastHuntTime),
			eligibility(h.CanFeed), eligibility(h.CanHunt), h.DaysRemaining)
	}
	tw.Flush()
}

func eligibility(e btbclient.Eligibility) string {
	if e.Allowed {
		return "yes"
	}
	if e.Reason == "" {
		return "no"
	}
	return "no (" + e.Reason + ")"
}

func newBearsCmd(opts *options) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "bears",
		Short: "List an account's Bear NFTs",
		Args:  cobra.NoArgs,
		RunE: opts.run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			owner, err := a.account(account)
			if err != nil {
				return err
			}
			bears, err := a.client.GetUserBears(ctx, owner)
			if err != nil {
				return err
			}
			for _, b := range bears {
				fmt.Fprintln(cmd.OutOrStdout(), b.TokenID)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s bears\n", humanize.Comma(int64(len(bears))))
			return nil
		}),
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to inspect (defaults to the BTB_PRIVATE_KEY address)")
	return cmd
}

func newEconomicsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "economics",
		Short: "Show game prices, staking yield and the swap rate",
		Args:  cobra.NoArgs,
		RunE: opts.run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			contracts := a.client.Contracts()

			game, err := a.client.GetGameEconomics(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "feed cost:        %s MiMo per hunter\n", game.FeedCost)
			fmt.Fprintf(out, "redemption price: %s MiMo per bear\n", game.RedemptionPrice)

			if contracts.Staking != (common.Address{}) {
				staking, err := a.client.GetStakingEconomics(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "total staked:     %s BTB\n", humanize.CommafWithDigits(staking.TotalStaked.InexactFloat64(), 2))
				fmt.Fprintf(out, "reward rate:      %s BTB/s\n", staking.RewardRate)
				fmt.Fprintf(out, "staking APR:      %s%%\n", staking.APR.StringFixed(2))
			}
			if contracts.Swap != (common.Address{}) {
				swap, err := a.client.GetSwapEconomics(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "swap rate:        %s MiMo per BTB\n", swap.Rate)
				fmt.Fprintf(out, "swap fee:         %d bps\n", swap.FeeBps)
			}
			return nil
		}),
	}
}

func newBalancesCmd(opts *options) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Show an account's BTB, MiMo, LP and staked balances",
		Args:  cobra.NoArgs,
		RunE: opts.run(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			owner, err := a.account(account)
			if err != nil {
				return err
			}
			b, err := a.client.GetTokenBalances(ctx, owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "BTB:    %s\n", b.BTB)
			fmt.Fprintf(out, "MiMo:   %s\n", b.MiMo)
			if b.LP != "" {
				fmt.Fprintf(out, "LP:     %s\n", b.LP)
			}
			if b.Staked != "" {
				fmt.Fprintf(out, "Staked: %s\n", b.Staked)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to inspect (defaults to the BTB_PRIVATE_KEY address)")
	return cmd
}
