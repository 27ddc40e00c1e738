package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"cryptoSentinelBot/internal/domain"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare local orders, balances and position with the venue once",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

var reconcileSymbol string

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVarP(&reconcileSymbol, "symbol", "s", "", "symbol in BASE/QUOTE form (default SYMBOL)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if reconcileSymbol != "" {
		cfg.Symbol = reconcileSymbol
	}
	s, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	reports, runErr := s.reconcileService().Run(context.Background(), cfg.Symbol)
	printReports(cmd.OutOrStdout(), reports)
	return runErr
}

func printReports(w io.Writer, reports []*domain.ReconciliationReport) {
	for _, rep := range reports {
		status := "ok"
		if !rep.OK() {
			status = fmt.Sprintf("%d discrepancies", len(rep.Discrepancies))
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", rep.Kind, rep.Symbol, status)

		keys := make([]string, 0, len(rep.Counts))
		for k := range rep.Counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s=%d\n", k, rep.Counts[k])
		}
		for _, d := range rep.Discrepancies {
			fmt.Fprintf(w, "  - %s client=%s broker=%s local=%q venue=%q\n",
				d.Kind, d.ClientOrderID, d.BrokerOrderID, d.Local, d.Venue)
		}
	}
}
