package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vol-alerts/internal/app"
)

var (
	backfillSymbol   string
	backfillLookback string
	backfillDryRun   bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical daily OHLC rows for a symbol",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillSymbol == "" {
			return fmt.Errorf("--symbol must be provided")
		}

		opts := app.BackfillOptions{
			Symbol:   backfillSymbol,
			Lookback: backfillLookback,
			DryRun:   backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillSymbol, "symbol", "", "Logical symbol name (e.g. VIX)")
	backfillCmd.Flags().StringVar(&backfillLookback, "range", "10y", "Provider lookback window (e.g. 1y, 10y, max)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Fetch without writing to storage")
}
