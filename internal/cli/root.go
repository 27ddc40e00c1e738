// Package cli holds the sentinel command tree.
package cli

import (
	"github.com/spf13/cobra"

	"cryptoSentinelBot/config"
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Single-process control plane for a spot crypto trading bot",
	Long: `sentinel drives one trading symbol end to end: a strategy proposes trades,
a risk rule set vets them, an idempotent execution pipeline places them, ATR
exits protect the position and reconcilers compare local state to the venue.

All settings come from the environment (optionally a .env file).

Examples:
  sentinel run
  sentinel pnl --symbol BTC/USDT
  sentinel reconcile
  sentinel klines --symbol ETH/USDT --interval 1h --limit 500 --out data/eth.csv`,
	SilenceUsage: true,
}

var envFiles []string

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(envFiles...)
}
