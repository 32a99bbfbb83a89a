package app

import (
	"context"
	"fmt"

	"vol-alerts/internal/config"
	"vol-alerts/internal/storage"
)

const backfillChunkSize = 200

// Backfill 拉取一段历史日线并分批入库。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	sym, err := a.resolveSymbol(opts.Symbol)
	if err != nil {
		return err
	}

	lookback := opts.Lookback
	if lookback == "" {
		lookback = "10y"
	}

	quotes, err := a.newSource().FetchHistory(ctx, sym.Ticker, lookback)
	if err != nil {
		return fmt.Errorf("fetch history for %s: %w", sym.Name, err)
	}

	a.Logger.Info().
		Str("symbol", sym.Name).
		Str("lookback", lookback).
		Int("rows", len(quotes)).
		Msg("history fetched")

	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run：不会写入数据库")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rows := make([]storage.PriceRow, 0, len(quotes))
	for _, quote := range quotes {
		rows = append(rows, storage.PriceRow{
			Symbol: sym.Name,
			Date:   quote.Date,
			Open:   quote.Open,
			High:   quote.High,
			Low:    quote.Low,
			Close:  quote.Close,
		})
	}

	batches := 0
	for start := 0; start < len(rows); start += backfillChunkSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := start + backfillChunkSize
		if end > len(rows) {
			end = len(rows)
		}

		if err := store.UpsertPriceBatch(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("backfill batch %d: %w", batches+1, err)
		}
		batches++
		a.Logger.Info().Int("batch", batches).Int("rows", end-start).Msg("batch upserted")
	}

	a.Logger.Info().Str("symbol", sym.Name).Int("rows", len(rows)).Int("batches", batches).Msg("backfill complete")
	return nil
}

func (a *App) resolveSymbol(name string) (config.Symbol, error) {
	for _, sym := range a.Config.Symbols {
		if sym.Name == name {
			return sym, nil
		}
	}
	return config.Symbol{}, fmt.Errorf("unknown symbol %q; configure it under symbols", name)
}
