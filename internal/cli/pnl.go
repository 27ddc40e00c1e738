package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cryptoSentinelBot/internal/accounting"
	"cryptoSentinelBot/internal/adapters/sqlite"
	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/utils"
)

var pnlCmd = &cobra.Command{
	Use:   "pnl",
	Short: "Report FIFO realized PnL from the stored trades",
	Long: `Replay the stored trades of a symbol oldest-first and print realized PnL,
remaining inventory and its average cost. Buy fees are capitalized into the
lot cost; sell fees reduce realized PnL.

Examples:
  sentinel pnl --symbol BTC/USDT
  sentinel pnl --symbol BTC/USDT --csv out/trades.csv`,
	Args: cobra.NoArgs,
	RunE: runPnL,
}

var (
	pnlSymbol string
	pnlCSV    string
)

func init() {
	rootCmd.AddCommand(pnlCmd)
	pnlCmd.Flags().StringVarP(&pnlSymbol, "symbol", "s", "", "symbol in BASE/QUOTE form (default SYMBOL)")
	pnlCmd.Flags().StringVar(&pnlCSV, "csv", "", "also write the trades with per-sell PnL to this CSV file")
}

func runPnL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	symbol := cfg.Symbol
	if pnlSymbol != "" {
		symbol = pnlSymbol
	}
	appLogger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer repo.Close()

	trades, err := repo.Trades().ListBySymbol(context.Background(), symbol)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	printPnL(cmd.OutOrStdout(), symbol, trades)

	if pnlCSV != "" {
		f, err := os.Create(pnlCSV)
		if err != nil {
			return fmt.Errorf("create csv: %w", err)
		}
		defer f.Close()
		if err := utils.WriteTrades(f, trades); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	return nil
}

func printPnL(w io.Writer, symbol string, trades []*domain.Trade) {
	res := accounting.FIFO(trades)
	buys, sells := 0, 0
	for _, t := range trades {
		if t.Side == domain.Buy {
			buys++
		} else {
			sells++
		}
	}
	fmt.Fprintf(w, "symbol:          %s\n", symbol)
	fmt.Fprintf(w, "trades:          %d (%d buys, %d sells)\n", len(trades), buys, sells)
	fmt.Fprintf(w, "realized pnl:    %s\n", res.RealizedPnL.StringFixed(8))
	fmt.Fprintf(w, "remaining base:  %s\n", res.RemainingBase.String())
	fmt.Fprintf(w, "remaining cost:  %s\n", res.RemainingCost.StringFixed(8))
	fmt.Fprintf(w, "avg entry price: %s\n", res.AvgEntryPrice.StringFixed(8))
}
