package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vol-alerts/internal/app"
)

var (
	showSymbol string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price rows for a symbol",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showSymbol == "" {
			return fmt.Errorf("--symbol must be provided")
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Symbol: showSymbol,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Display alert rules and their evaluation state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rules(cmd.Context())
	},
}

func init() {
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Logical symbol name (e.g. VIX)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
}
