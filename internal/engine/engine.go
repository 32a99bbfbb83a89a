package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vol-alerts/internal/alerting"
	"vol-alerts/internal/storage"
)

// DirectionGTE is the only comparison operator supported for now. Rules
// carrying anything else are skipped, not failed.
const DirectionGTE = ">="

const fallbackSeverity = "notice"

// Outcome captures one rule evaluation. Used for logging and tests; it is
// never persisted as its own entity.
type Outcome struct {
	RuleID   int64
	Symbol   string
	Price    decimal.Decimal
	Previous *bool
	Current  bool
	Notified bool
}

// Engine turns the latest closes of an ingestion pass into edge-triggered
// notifications. A rule notifies only on the false→true transition of its
// condition; the previous outcome is read back from the rule store, so the
// engine itself is stateless between passes.
type Engine struct {
	rules           storage.RuleStore
	notifier        alerting.Notifier
	defaultSeverity string
	logger          zerolog.Logger
	now             func() time.Time
}

// New constructs the evaluation engine. notifier may be nil, in which case
// notifications are suppressed but rule state still advances.
func New(rules storage.RuleStore, notifier alerting.Notifier, defaultSeverity string, logger zerolog.Logger) *Engine {
	if defaultSeverity == "" {
		defaultSeverity = fallbackSeverity
	}
	return &Engine{
		rules:           rules,
		notifier:        notifier,
		defaultSeverity: defaultSeverity,
		logger:          logger.With().Str("component", "engine").Logger(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate runs one pass over every enabled rule. Rules are independent:
// a failure on one never aborts the others, and no ordering is assumed.
func (e *Engine) Evaluate(ctx context.Context, closes map[string]decimal.Decimal) ([]Outcome, error) {
	rules, err := e.rules.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load enabled rules: %w", err)
	}
	if len(rules) == 0 {
		e.logger.Info().Msg("no enabled alert rules")
		return nil, nil
	}

	outcomes := make([]Outcome, 0, len(rules))
	for _, rule := range rules {
		outcome, evaluated := e.evaluateRule(ctx, rule, closes)
		if evaluated {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes, nil
}

// evaluateRule runs steps price-lookup → comparison → edge detection →
// notification → state write-back for a single rule. The second return
// value is false when the rule was skipped without touching its state.
func (e *Engine) evaluateRule(ctx context.Context, rule storage.AlertRule, closes map[string]decimal.Decimal) (Outcome, bool) {
	logger := e.logger.With().Int64("rule_id", rule.ID).Str("symbol", rule.SymbolCode).Logger()

	price, ok := closes[rule.SymbolCode]
	if !ok {
		// The only skip path that leaves last_result untouched by contract;
		// the unsupported-direction skip below never reaches the store either.
		logger.Debug().Msg("skipped: no price for symbol this pass")
		return Outcome{}, false
	}

	if rule.Direction != DirectionGTE {
		logger.Warn().Str("direction", rule.Direction).Msg("skipped: unsupported direction")
		return Outcome{}, false
	}

	current := price.GreaterThanOrEqual(rule.Threshold)
	previous := rule.LastResult != nil && *rule.LastResult

	logger.Info().
		Str("price", price.StringFixed(2)).
		Str("threshold", rule.Threshold.String()).
		Bool("previous", previous).
		Bool("current", current).
		Msg("rule evaluated")

	notified := false
	var triggeredAt time.Time
	if current && !previous {
		triggeredAt = e.now().UTC()
		notified = e.sendAlert(ctx, rule, price, triggeredAt, logger)
	}

	update := storage.RuleStateUpdate{LastResult: current}
	if notified {
		update.LastTriggeredAt = &triggeredAt
	}
	if err := e.rules.UpdateRuleState(ctx, rule.ID, update); err != nil {
		logger.Error().Err(err).Msg("failed to persist rule state")
	}

	return Outcome{
		RuleID:   rule.ID,
		Symbol:   rule.SymbolCode,
		Price:    price,
		Previous: rule.LastResult,
		Current:  current,
		Notified: notified,
	}, true
}

func (e *Engine) sendAlert(ctx context.Context, rule storage.AlertRule, price decimal.Decimal, triggeredAt time.Time, logger zerolog.Logger) bool {
	if e.notifier == nil {
		logger.Warn().Msg("rising edge detected but no notifier configured")
		return false
	}

	severity := rule.Severity
	if severity == "" {
		severity = e.defaultSeverity
	}

	msg := alerting.Message{
		Symbol:      rule.SymbolCode,
		Price:       price,
		Direction:   rule.Direction,
		Threshold:   rule.Threshold,
		Severity:    severity,
		TriggeredAt: triggeredAt,
	}

	if err := e.notifier.Notify(ctx, rule.Email, msg); err != nil {
		// No retry within the pass; the state update below still happens.
		logger.Error().Err(err).Str("to", rule.Email).Msg("alert notification failed")
		return false
	}

	logger.Info().Str("to", rule.Email).Str("severity", severity).Msg("alert notification sent")
	return true
}
