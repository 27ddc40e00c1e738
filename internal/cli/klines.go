package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cryptoSentinelBot/internal/adapters/binanceclient"
	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/utils"
)

var klinesCmd = &cobra.Command{
	Use:   "klines",
	Short: "Export Binance bars to CSV",
	Long: `Download bars from Binance public market data and write them to CSV.

With --days the range is paged backwards from now; otherwise the last --limit
bars are fetched.

Examples:
  sentinel klines --symbol BTC/USDT --interval 1m --limit 500
  sentinel klines --symbol ETH/USDT --interval 1h --days 30 --out data/eth_1h.csv`,
	Args: cobra.NoArgs,
	RunE: runKlines,
}

var (
	klinesSymbol   string
	klinesInterval string
	klinesLimit    int
	klinesDays     int
	klinesOut      string
)

func init() {
	rootCmd.AddCommand(klinesCmd)
	klinesCmd.Flags().StringVarP(&klinesSymbol, "symbol", "s", "", "symbol in BASE/QUOTE form (default SYMBOL)")
	klinesCmd.Flags().StringVarP(&klinesInterval, "interval", "i", "1m", "bar interval")
	klinesCmd.Flags().IntVarP(&klinesLimit, "limit", "n", 500, "number of most recent bars (max 1000)")
	klinesCmd.Flags().IntVar(&klinesDays, "days", 0, "fetch this many days of history instead of --limit")
	klinesCmd.Flags().StringVarP(&klinesOut, "out", "o", "", "output file (default data/<SYMBOL>_<interval>.csv)")
}

func runKlines(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	symbol := cfg.Symbol
	if klinesSymbol != "" {
		symbol = klinesSymbol
	}
	if _, _, err := domain.SplitSymbol(symbol); err != nil {
		return err
	}
	appLogger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	var klines []*domain.Kline
	if klinesDays > 0 {
		end := time.Now().UTC()
		klines, err = client.FetchKlinesRange(ctx, symbol, klinesInterval, end.AddDate(0, 0, -klinesDays), end)
	} else {
		klines, err = client.FetchOHLCV(ctx, symbol, klinesInterval, klinesLimit)
	}
	if err != nil {
		return fmt.Errorf("fetch klines: %w", err)
	}

	out := klinesOut
	if out == "" {
		out = fmt.Sprintf("data/%s_%s.csv", binanceclient.VenueSymbol(symbol), klinesInterval)
	}
	if err := utils.WriteKlinesToCSV(klines, out); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bars to %s\n", len(klines), out)
	return nil
}
