package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertPriceSQL = `INSERT INTO volatility_prices (
        symbol,
        date,
        open,
        high,
        low,
        close
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (symbol, date) DO UPDATE
    SET
        open  = EXCLUDED.open,
        high  = EXCLUDED.high,
        low   = EXCLUDED.low,
        close = EXCLUDED.close;`

	listRecentPricesSQL = `SELECT
        symbol,
        date,
        open,
        high,
        low,
        close,
        created_at
    FROM volatility_prices
    WHERE symbol = $1
    ORDER BY date DESC
    LIMIT $2;`

	listPricesBetweenSQL = `SELECT
        symbol,
        date,
        open,
        high,
        low,
        close,
        created_at
    FROM volatility_prices
    WHERE symbol = $1
      AND date >= $2
      AND date < $3
    ORDER BY date;`

	countPricesSQL = `SELECT COUNT(*) FROM volatility_prices WHERE symbol = $1;`

	listEnabledRulesSQL = `SELECT
        id,
        symbol_code,
        direction,
        threshold,
        severity,
        email,
        enabled,
        last_result,
        last_triggered_at,
        created_at
    FROM alert_rules
    WHERE enabled = TRUE;`

	listRulesSQL = `SELECT
        id,
        symbol_code,
        direction,
        threshold,
        severity,
        email,
        enabled,
        last_result,
        last_triggered_at,
        created_at
    FROM alert_rules
    ORDER BY id;`

	updateRuleResultSQL = `UPDATE alert_rules
    SET last_result = $2
    WHERE id = $1;`

	updateRuleTriggeredSQL = `UPDATE alert_rules
    SET last_result = $2, last_triggered_at = $3
    WHERE id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceStore defines operations for OHLC row persistence.
type PriceStore interface {
	UpsertPrice(ctx context.Context, row PriceRow) error
	UpsertPriceBatch(ctx context.Context, rows []PriceRow) error
	ListRecentPrices(ctx context.Context, symbol string, limit int) ([]PriceRow, error)
	ListPricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceRow, error)
	CountPrices(ctx context.Context, symbol string) (int64, error)
}

// RuleStore defines the alert-rule operations the evaluation engine needs.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]AlertRule, error)
	UpdateRuleState(ctx context.Context, id int64, update RuleStateUpdate) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price rows and alert rules.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertPrice persists or replaces one (symbol, date) OHLC row.
func (s *Store) UpsertPrice(ctx context.Context, row PriceRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertPriceSQL,
		row.Symbol,
		DateOnly(row.Date),
		row.Open.String(),
		row.High.String(),
		row.Low.String(),
		row.Close.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert price row: %w", execErr)
	}
	return nil
}

// UpsertPriceBatch upserts rows in a single round trip. Used by backfill.
func (s *Store) UpsertPriceBatch(ctx context.Context, rows []PriceRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(upsertPriceSQL,
			row.Symbol,
			DateOnly(row.Date),
			row.Open.String(),
			row.High.String(),
			row.Low.String(),
			row.Close.String(),
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("batch upsert price rows: %w", execErr)
		}
	}
	return nil
}

// ListRecentPrices lists the most recent rows for a symbol, newest first.
func (s *Store) ListRecentPrices(ctx context.Context, symbol string, limit int) ([]PriceRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPricesSQL, symbol, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent prices: %w", queryErr)
	}
	defer rows.Close()

	prices := make([]PriceRow, 0, limit)
	for rows.Next() {
		price, scanErr := scanPriceRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		prices = append(prices, price)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prices, nil
}

// ListPricesBetween lists rows for a symbol within [from, to).
func (s *Store) ListPricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricesBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list prices between: %w", queryErr)
	}
	defer rows.Close()

	prices := make([]PriceRow, 0)
	for rows.Next() {
		price, scanErr := scanPriceRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		prices = append(prices, price)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prices, nil
}

// CountPrices counts stored rows for a symbol.
func (s *Store) CountPrices(ctx context.Context, symbol string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPricesSQL, symbol).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count prices: %w", scanErr)
	}
	return count, nil
}

// ListEnabledRules loads every rule with enabled = TRUE. No ordering guarantee.
func (s *Store) ListEnabledRules(ctx context.Context) ([]AlertRule, error) {
	return s.listRules(ctx, listEnabledRulesSQL)
}

// ListRules loads all rules for diagnostics.
func (s *Store) ListRules(ctx context.Context) ([]AlertRule, error) {
	return s.listRules(ctx, listRulesSQL)
}

func (s *Store) listRules(ctx context.Context, query string) ([]AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query)
	if queryErr != nil {
		return nil, fmt.Errorf("list alert rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		rule, scanErr := scanAlertRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// UpdateRuleState writes back last_result, plus last_triggered_at when the
// update carries a confirmed notification time.
func (s *Store) UpdateRuleState(ctx context.Context, id int64, update RuleStateUpdate) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var cmdTag pgconn.CommandTag
	var execErr error
	if update.LastTriggeredAt != nil {
		cmdTag, execErr = pool.Exec(ctx, updateRuleTriggeredSQL, id, update.LastResult, update.LastTriggeredAt.UTC())
	} else {
		cmdTag, execErr = pool.Exec(ctx, updateRuleResultSQL, id, update.LastResult)
	}
	if execErr != nil {
		return fmt.Errorf("update rule state: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanPriceRow(rows pgx.Rows) (PriceRow, error) {
	var (
		symbol    string
		date      time.Time
		openStr   string
		highStr   string
		lowStr    string
		closeStr  string
		createdAt time.Time
	)

	if err := rows.Scan(&symbol, &date, &openStr, &highStr, &lowStr, &closeStr, &createdAt); err != nil {
		return PriceRow{}, err
	}

	open, err := decimal.NewFromString(openStr)
	if err != nil {
		return PriceRow{}, fmt.Errorf("parse open: %w", err)
	}
	high, err := decimal.NewFromString(highStr)
	if err != nil {
		return PriceRow{}, fmt.Errorf("parse high: %w", err)
	}
	low, err := decimal.NewFromString(lowStr)
	if err != nil {
		return PriceRow{}, fmt.Errorf("parse low: %w", err)
	}
	closePx, err := decimal.NewFromString(closeStr)
	if err != nil {
		return PriceRow{}, fmt.Errorf("parse close: %w", err)
	}

	return PriceRow{
		Symbol:    symbol,
		Date:      date,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		CreatedAt: createdAt,
	}, nil
}

func scanAlertRule(rows pgx.Rows) (AlertRule, error) {
	var (
		rule         AlertRule
		thresholdStr string
		severity     sql.NullString
		lastResult   sql.NullBool
		triggeredAt  sql.NullTime
	)

	if err := rows.Scan(
		&rule.ID,
		&rule.SymbolCode,
		&rule.Direction,
		&thresholdStr,
		&severity,
		&rule.Email,
		&rule.Enabled,
		&lastResult,
		&triggeredAt,
		&rule.CreatedAt,
	); err != nil {
		return AlertRule{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return AlertRule{}, fmt.Errorf("parse threshold: %w", err)
	}
	rule.Threshold = threshold

	if severity.Valid {
		rule.Severity = severity.String
	}
	if lastResult.Valid {
		value := lastResult.Bool
		rule.LastResult = &value
	}
	if triggeredAt.Valid {
		value := triggeredAt.Time
		rule.LastTriggeredAt = &value
	}

	return rule, nil
}
