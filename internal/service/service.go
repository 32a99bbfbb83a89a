package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vol-alerts/internal/config"
	"vol-alerts/internal/engine"
	"vol-alerts/internal/fetcher"
	"vol-alerts/internal/storage"
)

// Service orchestrates one pass: ingest every configured symbol, then run
// the alert evaluation engine over the collected closes.
type Service struct {
	symbols []config.Symbol
	source  fetcher.LatestQuoteFetcher
	prices  storage.PriceStore
	engine  *engine.Engine
	logger  zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// Options wire the service collaborators.
type Options struct {
	Symbols []config.Symbol
	Source  fetcher.LatestQuoteFetcher
	Prices  storage.PriceStore
	Engine  *engine.Engine
	Locker  storage.AdvisoryLocker
	LockKey int64
}

// New constructs the ingestion/evaluation service.
func New(opts Options, logger zerolog.Logger) *Service {
	return &Service{
		symbols: opts.Symbols,
		source:  opts.Source,
		prices:  opts.Prices,
		engine:  opts.Engine,
		logger:  logger.With().Str("component", "service").Logger(),
		locker:  opts.Locker,
		lockKey: opts.LockKey,
	}
}

// Ingest pulls the latest observation for each configured symbol in order,
// upserts it, and collects the close. One symbol failing never aborts the
// others; the returned map may be empty.
func (s *Service) Ingest(ctx context.Context) map[string]decimal.Decimal {
	closes := make(map[string]decimal.Decimal, len(s.symbols))

	for _, sym := range s.symbols {
		quote, err := s.source.FetchLatest(ctx, sym.Ticker)
		if err != nil {
			s.logger.Error().Err(err).
				Str("symbol", sym.Name).
				Str("ticker", sym.Ticker).
				Msg("failed to fetch latest quote")
			continue
		}

		row := storage.PriceRow{
			Symbol: sym.Name,
			Date:   quote.Date,
			Open:   quote.Open,
			High:   quote.High,
			Low:    quote.Low,
			Close:  quote.Close,
		}
		if s.prices != nil {
			if err := s.prices.UpsertPrice(ctx, row); err != nil {
				// 入库失败只记日志，收盘价照样参与本轮评估。
				s.logger.Error().Err(err).Str("symbol", sym.Name).Msg("failed to upsert price row")
			}
		}

		closes[sym.Name] = quote.Close
		s.logger.Info().
			Str("symbol", sym.Name).
			Str("date", quote.Date.Format("2006-01-02")).
			Str("close", quote.Close.StringFixed(2)).
			Msg("price ingested")
	}

	return closes
}

// ProcessRun executes a full pass for one scheduled run time.
func (s *Service) ProcessRun(ctx context.Context, runTime time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("run", runTime).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	closes := s.Ingest(ctx)

	outcomes, err := s.engine.Evaluate(ctx, closes)
	if err != nil {
		return err
	}

	notified := 0
	for _, outcome := range outcomes {
		if outcome.Notified {
			notified++
		}
	}

	s.logger.Info().
		Time("run", runTime).
		Int("symbols", len(closes)).
		Int("rules_evaluated", len(outcomes)).
		Int("notified", notified).
		Msg("run complete")
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
