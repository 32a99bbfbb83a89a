package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func chartPayload(timezone string, timestamps []int64, closes []*float64) map[string]any {
	return map[string]any{
		"chart": map[string]any{
			"result": []map[string]any{{
				"meta": map[string]any{
					"symbol":               "^VIX",
					"exchangeTimezoneName": timezone,
				},
				"timestamp": timestamps,
				"indicators": map[string]any{
					"quote": []map[string]any{{
						"open":  closes,
						"high":  closes,
						"low":   closes,
						"close": closes,
					}},
				},
			}},
			"error": nil,
		},
	}
}

func floatPtr(v float64) *float64 {
	return &v
}

func TestFetchLatestPicksLastValidBar(t *testing.T) {
	// 2024-03-14 与 2024-03-15 两根日线，最后一根 close 为 null。
	ts1 := time.Date(2024, 3, 14, 14, 30, 0, 0, time.UTC).Unix()
	ts2 := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC).Unix()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") != "1d" {
			t.Fatalf("interval 应为 1d, 实际 %s", r.URL.Query().Get("interval"))
		}
		_ = json.NewEncoder(w).Encode(chartPayload("UTC",
			[]int64{ts1, ts2},
			[]*float64{floatPtr(21.5), nil},
		))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Lookback: "5d", Timeout: time.Second}, noopLogger())

	quote, err := y.FetchLatest(context.Background(), "^VIX")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !quote.Close.Equal(decimal.NewFromFloat(21.5)) {
		t.Fatalf("应取最后一根有效 K 线, 实际 close=%s", quote.Close.String())
	}
	want := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	if !quote.Date.Equal(want) {
		t.Fatalf("交易日不正确: %v", quote.Date)
	}
}

func TestFetchLatestEmptyResultIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chart": map[string]any{"result": []any{}, "error": nil},
		})
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	if _, err := y.FetchLatest(context.Background(), "^VIX"); !errors.Is(err, ErrNoData) {
		t.Fatalf("空结果应返回 ErrNoData, 实际 %v", err)
	}
}

func TestFetchLatestAllBarsNullIsNoData(t *testing.T) {
	ts := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chartPayload("UTC", []int64{ts}, []*float64{nil}))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	if _, err := y.FetchLatest(context.Background(), "^VIX"); !errors.Is(err, ErrNoData) {
		t.Fatalf("全 null 的序列应返回 ErrNoData, 实际 %v", err)
	}
}

func TestFetchLatestHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chart": map[string]any{
				"result": nil,
				"error": map[string]string{
					"code":        "Not Found",
					"description": "No data found, symbol may be delisted",
				},
			},
		})
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	if _, err := y.FetchLatest(context.Background(), "^BOGUS"); err == nil {
		t.Fatal("HTTP 404 应返回错误")
	}
}

func TestFetchHistoryReturnsAllValidBars(t *testing.T) {
	base := time.Date(2024, 3, 11, 14, 30, 0, 0, time.UTC)
	timestamps := make([]int64, 5)
	values := make([]*float64, 5)
	for i := range timestamps {
		timestamps[i] = base.AddDate(0, 0, i).Unix()
		values[i] = floatPtr(20 + float64(i))
	}
	values[2] = nil // 停牌日

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("range") != "10y" {
			t.Fatalf("range 应透传, 实际 %s", r.URL.Query().Get("range"))
		}
		_ = json.NewEncoder(w).Encode(chartPayload("UTC", timestamps, values))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	quotes, err := y.FetchHistory(context.Background(), "^VIX", "10y")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(quotes) != 4 {
		t.Fatalf("应跳过 null K 线, 期望 4 根, 实际 %d", len(quotes))
	}
	if !quotes[0].Close.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("首根 close 不正确: %s", quotes[0].Close.String())
	}
}

func TestFetchHistoryEmptyLookbackRejected(t *testing.T) {
	y := NewYahoo(YahooOptions{Timeout: time.Second}, noopLogger())
	if _, err := y.FetchHistory(context.Background(), "^VIX", ""); err == nil {
		t.Fatal("空 lookback 应报错")
	}
}
