package main

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	btbclient "github.com/btb-finance/btb-chain-client"
	"github.com/btb-finance/btb-chain-client/scheduler"
	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
)

// tokenDecimals is the precision of BTB, the token every amount flag is in.
const tokenDecimals = 18

// await prints a submitted transaction and waits for it to be mined.
func (a *app) await(ctx context.Context, cmd *cobra.Command, p *btbclient.PendingTransaction) (*types.Receipt, error) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "submitted %s (%s)\n", p.Hash.Hex(), p.Signature)
	if url := a.txURL(p.Hash); url != "" {
		fmt.Fprintln(out, url)
	}
	receipt, err := p.Wait(ctx)
	if err != nil {
		return receipt, err
	}
	fmt.Fprintf(out, "mined in block %s, gas used %s\n",
		humanize.Comma(receipt.BlockNumber.Int64()), humanize.Comma(int64(receipt.GasUsed)))
	return receipt, nil
}

func newDepositCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <bear-id>...",
		Short: "Deposit Bears to mint hunters, approving the game when needed",
		Args:  cobra.MinimumNArgs(1),
		RunE: opts.run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			ids, err := parseTokenIDs(args)
			if err != nil {
				return err
			}
			pending, err := a.client.DepositBears(ctx, ids)
			if err != nil {
				return err
			}
			receipt, err := a.await(ctx, cmd, pending)
			if err != nil {
				return err
			}
			for _, id := range a.client.MintedHunters(receipt, a.wallet.Address()) {
				fmt.Fprintf(cmd.OutOrStdout(), "minted hunter %s\n", id)
			}
			return nil
		}),
	}
}

type idsOperation func(*btbclient.Client, context.Context, []*big.Int) (*btbclient.PendingTransaction, error)

func newIDsCmd(opts *options, use, short string, op idsOperation) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <hunter-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: opts.run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			ids, err := parseTokenIDs(args)
			if err != nil {
				return err
			}
			pending, err := op(a.client, ctx, ids)
			if err != nil {
				return err
			}
			_, err = a.await(ctx, cmd, pending)
			return err
		}),
	}
}

func newRedeemCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <count>",
		Short: "Buy Bears back from the game for MiMo",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			count, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid count %q: %w", args[0], err)
			}
			pending, err := a.client.RedeemBears(ctx, count)
			if err != nil {
				return err
			}
			_, err = a.await(ctx, cmd, pending)
			return err
		}),
	}
}

type amountOperation func(*btbclient.Client, context.Context, *big.Int) (*btbclient.PendingTransaction, error)

func newAmountCmd(opts *options, use, short string, op amountOperation) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <amount>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0], tokenDecimals)
			if err != nil {
				return err
			}
			pending, err := op(a.client, ctx, amount)
			if err != nil {
				return err
			}
			_, err = a.await(ctx, cmd, pending)
			return err
		}),
	}
}

func newSwapCmd(opts *options) *cobra.Command {
	var minOut string
	cmd := &cobra.Command{
		Use:   "swap <btb-amount>",
		Short: "Swap BTB for MiMo, approving the spend when needed",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0], tokenDecimals)
			if err != nil {
				return err
			}
			var floor *big.Int
			if minOut != "" {
				if floor, err = parseAmount(minOut, tokenDecimals); err != nil {
					return err
				}
			}
			pending, err := a.client.Swap(ctx, amount, floor)
			if err != nil {
				return err
			}
			_, err = a.await(ctx, cmd, pending)
			return err
		}),
	}
	cmd.Flags().StringVar(&minOut, "min-out", "", "Minimum MiMo to receive")
	return cmd
}

func newBatchCmd(opts *options) *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit the game's daily batch, once or on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := opts.context(cmd, !loop)
			defer stop()

			a, err := opts.open(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			sender, err := a.client.Connection().EnsureInitialized(ctx)
			if err != nil {
				return err
			}
			proc, err := scheduler.New(&scheduler.Config{
				Game:             a.client.Contracts().Game,
				Sender:           sender,
				Estimator:        a.eth,
				Interval:         a.cfg.Batch.Interval,
				EstimateTimeout:  a.cfg.Batch.EstimateTimeout,
				FallbackGasLimit: a.cfg.Batch.FallbackGasLimit,
				AwaitReceipt:     true,
				Logger:           zapLogger{a.log.Sugar()},
			})
			if err != nil {
				return err
			}

			if loop {
				a.log.Info("daily batch scheduler started")
				proc.Start(ctx)
				return nil
			}
			result, err := proc.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %s mined, gas limit %s (fallback: %t)\n",
				result.Tx.Hash().Hex(), humanize.Comma(int64(result.GasLimit)), result.EstimateTimedOut)
			return nil
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "Keep running, submitting a batch every configured interval")
	return cmd
}
