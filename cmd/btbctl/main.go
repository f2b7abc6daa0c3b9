// Command btbctl reads and plays the BTB hunt game from a terminal.
package main

import (
	"os"
	"time"

	btbclient "github.com/btb-finance/btb-chain-client"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "btbctl",
		Short:         "Query and play the BTB hunt game",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	defaultConfig := os.Getenv("BTB_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "btb.yaml"
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", defaultConfig, "Path to the YAML configuration (env BTB_CONFIG)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.jsonLogs, "json-logs", false, "Emit JSON logs instead of console output")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall deadline for the command")

	root.AddCommand(
		newHuntersCmd(opts),
		newBearsCmd(opts),
		newEconomicsCmd(opts),
		newBalancesCmd(opts),
		newDepositCmd(opts),
		newIDsCmd(opts, "feed", "Feed hunters, approving MiMo spend when needed", (*btbclient.Client).FeedHunters),
		newIDsCmd(opts, "hunt", "Send hunters hunting", (*btbclient.Client).Hunt),
		newRedeemCmd(opts),
		newAmountCmd(opts, "stake", "Stake BTB, approving the spend when needed", (*btbclient.Client).Stake),
		newAmountCmd(opts, "unstake", "Withdraw staked BTB", (*btbclient.Client).Unstake),
		newSwapCmd(opts),
		newBatchCmd(opts),
	)
	return root
}
