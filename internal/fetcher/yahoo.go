package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const chartPathPrefix = "/v8/finance/chart/"

// YahooOptions parameterise the Yahoo Finance chart fetcher.
type YahooOptions struct {
	BaseURL   string
	Lookback  string
	Timeout   time.Duration
	UserAgent string
}

// Yahoo fetches daily OHLC bars from the Yahoo Finance chart API.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewYahoo constructs a chart API fetcher.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchLatest returns the most recent daily bar with a usable close.
// 取最近几天的数据，用最后一根有效 K 线。
func (y *Yahoo) FetchLatest(ctx context.Context, ticker string) (Quote, error) {
	lookback := y.opts.Lookback
	if lookback == "" {
		lookback = "5d"
	}

	bars, err := y.fetchBars(ctx, ticker, lookback)
	if err != nil {
		return Quote{}, err
	}
	if len(bars) == 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoData, ticker)
	}
	return bars[len(bars)-1], nil
}

// FetchHistory returns every usable daily bar in the lookback window.
func (y *Yahoo) FetchHistory(ctx context.Context, ticker, lookback string) ([]Quote, error) {
	if lookback == "" {
		return nil, fmt.Errorf("lookback must not be empty")
	}

	bars, err := y.fetchBars(ctx, ticker, lookback)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, ticker)
	}
	return bars, nil
}

func (y *Yahoo) fetchBars(ctx context.Context, ticker, lookback string) ([]Quote, error) {
	endpoint := fmt.Sprintf("%s%s%s?range=%s&interval=1d",
		y.baseURL, chartPathPrefix, url.PathEscape(ticker), url.QueryEscape(lookback))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "volwatcher/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var chartRes chartResponse
	if err := json.Unmarshal(payload, &chartRes); err != nil {
		return nil, fmt.Errorf("decode chart response: %w", err)
	}

	if chartRes.Chart.Error != nil {
		return nil, fmt.Errorf("chart api error: %s: %s",
			chartRes.Chart.Error.Code, chartRes.Chart.Error.Description)
	}
	if len(chartRes.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, ticker)
	}

	result := chartRes.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, ticker)
	}

	loc := y.exchangeLocation(result.Meta.ExchangeTimezoneName)
	quoteBars := result.Indicators.Quote[0]

	quotes := make([]Quote, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closePx, ok := barValue(quoteBars.Close, i)
		if !ok {
			continue
		}

		quote := Quote{
			Date:  tradingDate(ts, loc),
			Close: decimal.NewFromFloat(closePx),
		}
		// 盘中数据偶尔缺 O/H/L，用收盘价兜底。
		if open, ok := barValue(quoteBars.Open, i); ok {
			quote.Open = decimal.NewFromFloat(open)
		} else {
			quote.Open = quote.Close
		}
		if high, ok := barValue(quoteBars.High, i); ok {
			quote.High = decimal.NewFromFloat(high)
		} else {
			quote.High = quote.Close
		}
		if low, ok := barValue(quoteBars.Low, i); ok {
			quote.Low = decimal.NewFromFloat(low)
		} else {
			quote.Low = quote.Close
		}

		quotes = append(quotes, quote)
	}

	return quotes, nil
}

func (y *Yahoo) exchangeLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		y.logger.Warn().Str("timezone", name).Msg("unknown exchange timezone; falling back to UTC")
		return time.UTC
	}
	return loc
}

// tradingDate resolves the bar timestamp to its calendar date in the
// exchange timezone, stored as UTC midnight.
func tradingDate(ts int64, loc *time.Location) time.Time {
	year, month, day := time.Unix(ts, 0).In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func barValue(values []*float64, i int) (float64, bool) {
	if i >= len(values) || values[i] == nil {
		return 0, false
	}
	return *values[i], true
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string `json:"symbol"`
				ExchangeTimezoneName string `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open  []*float64 `json:"open"`
					High  []*float64 `json:"high"`
					Low   []*float64 `json:"low"`
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func parseHTTPError(status int, payload []byte) error {
	var chartRes chartResponse
	if err := json.Unmarshal(payload, &chartRes); err == nil && chartRes.Chart.Error != nil {
		return fmt.Errorf("chart api error (%d): %s: %s",
			status, chartRes.Chart.Error.Code, chartRes.Chart.Error.Description)
	}
	if len(payload) > 0 {
		return fmt.Errorf("chart api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("chart api error (%d)", status)
}

var _ LatestQuoteFetcher = (*Yahoo)(nil)
var _ HistoryFetcher = (*Yahoo)(nil)
