package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData indicates the provider returned no usable bars for a ticker.
var ErrNoData = errors.New("fetcher: no data returned")

// Quote is one daily OHLC observation as returned by the provider.
type Quote struct {
	Date  time.Time
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// LatestQuoteFetcher retrieves the most recent daily observation for a ticker.
type LatestQuoteFetcher interface {
	FetchLatest(ctx context.Context, ticker string) (Quote, error)
}

// HistoryFetcher retrieves a daily OHLC series over a provider lookback
// window such as "10y" or "max".
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, ticker, lookback string) ([]Quote, error)
}
