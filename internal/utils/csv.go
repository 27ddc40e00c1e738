// Package utils holds CSV export helpers used by the CLI.
package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cryptoSentinelBot/internal/accounting"
	"cryptoSentinelBot/internal/domain"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteKlines writes bars as CSV, one row per bar, decimals in plain notation.
func WriteKlines(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(klineHeader); err != nil {
		return err
	}
	for _, k := range klines {
		if k == nil {
			continue
		}
		if err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			k.Open.String(),
			k.High.String(),
			k.Low.String(),
			k.Close.String(),
			k.Volume.String(),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteKlinesToCSV creates filename (and its directory) and writes the bars.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	return writeFile(filename, func(w io.Writer) error { return WriteKlines(w, klines) })
}

var tradeHeader = []string{"timestamp", "symbol", "side", "amount", "price", "cost", "fee", "client_order_id", "status", "realized_pnl"}

// WriteTrades writes the trade history with the FIFO realized PnL of each
// sell. Buys leave the last column empty.
func WriteTrades(w io.Writer, trades []*domain.Trade) error {
	sorted := accounting.SortChronological(trades)
	sells := accounting.RealizedBySell(sorted)

	writer := csv.NewWriter(w)
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	next := 0
	for _, t := range sorted {
		pnl := ""
		if t.Side == domain.Sell && t.Amount.IsPositive() && next < len(sells) {
			pnl = sells[next].PnL.String()
			next++
		}
		if err := writer.Write([]string{
			t.Timestamp.UTC().Format(time.RFC3339),
			t.Symbol,
			string(t.Side),
			t.Amount.String(),
			t.Price.String(),
			t.Cost.String(),
			t.Fee.String(),
			t.ClientOrderID,
			string(t.Status),
			pnl,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeFile(filename string, write func(io.Writer) error) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filename, err)
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
