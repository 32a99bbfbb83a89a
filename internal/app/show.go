package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent price rows for one symbol.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := store.ListRecentPrices(ctx, opts.Symbol, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no price rows found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tOpen\tHigh\tLow\tClose")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			row.Date.Format("2006-01-02"),
			formatDecimal(row.Open, 2),
			formatDecimal(row.High, 2),
			formatDecimal(row.Low, 2),
			formatDecimal(row.Close, 2),
		)
	}

	writer.Flush()
	return nil
}

// Rules prints every alert rule with its evaluation state.
func (a *App) Rules(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rules, err := store.ListRules(ctx)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(os.Stdout, "no alert rules found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tCondition\tSeverity\tEmail\tEnabled\tLast Result\tLast Triggered (UTC)")

	for _, rule := range rules {
		lastResult := "-"
		if rule.LastResult != nil {
			lastResult = fmt.Sprintf("%t", *rule.LastResult)
		}
		lastTriggered := "-"
		if rule.LastTriggeredAt != nil {
			lastTriggered = rule.LastTriggeredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s %s\t%s\t%s\t%t\t%s\t%s\n",
			rule.ID,
			rule.SymbolCode,
			rule.Direction,
			rule.Threshold.String(),
			rule.Severity,
			rule.Email,
			rule.Enabled,
			lastResult,
			lastTriggered,
		)
	}

	writer.Flush()
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
