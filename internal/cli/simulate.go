package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"vol-alerts/internal/app"
)

var (
	simulateSymbol    string
	simulatePrice     string
	simulateThreshold string
	simulateEmail     string
	simulateSeverity  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Evaluate a synthetic rule and send a real alert mail",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" || simulateEmail == "" {
			return fmt.Errorf("--symbol and --email must be provided")
		}

		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}

		threshold, err := decimal.NewFromString(simulateThreshold)
		if err != nil {
			return fmt.Errorf("invalid --threshold value: %w", err)
		}

		opts := app.SimulateOptions{
			Symbol:    simulateSymbol,
			Price:     price,
			Threshold: threshold,
			Email:     simulateEmail,
			Severity:  simulateSeverity,
		}

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "VIX", "Symbol name used in the message")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "25", "Simulated latest close")
	simulateCmd.Flags().StringVar(&simulateThreshold, "threshold", "20", "Rule threshold")
	simulateCmd.Flags().StringVar(&simulateEmail, "email", "", "Destination address")
	simulateCmd.Flags().StringVar(&simulateSeverity, "severity", "", "Severity label (defaults to config)")
}
