package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"vol-alerts/internal/engine"
	"vol-alerts/internal/storage"
)

// SimulateOptions describe one synthetic rule evaluation.
type SimulateOptions struct {
	Symbol    string
	Price     decimal.Decimal
	Threshold decimal.Decimal
	Email     string
	Severity  string
}

// Simulate 用一条内存规则走一遍真实的评估与邮件链路，不碰数据库。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled in config")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("smtp is not configured; cannot simulate delivery")
	}

	rules := &memoryRuleStore{
		rules: []storage.AlertRule{{
			ID:         1,
			SymbolCode: opts.Symbol,
			Direction:  engine.DirectionGTE,
			Threshold:  opts.Threshold,
			Severity:   opts.Severity,
			Email:      opts.Email,
			Enabled:    true,
		}},
	}

	eng := engine.New(rules, notifier, a.Config.Alerting.DefaultSeverity, a.Logger)

	outcomes, err := eng.Evaluate(ctx, map[string]decimal.Decimal{opts.Symbol: opts.Price})
	if err != nil {
		return err
	}

	for _, outcome := range outcomes {
		fmt.Fprintf(os.Stdout, "rule %d: %s price=%s current=%t notified=%t\n",
			outcome.RuleID, outcome.Symbol, outcome.Price.StringFixed(2), outcome.Current, outcome.Notified)
	}
	return nil
}

// memoryRuleStore keeps rules in memory so simulate never needs a database.
type memoryRuleStore struct {
	rules []storage.AlertRule
}

func (m *memoryRuleStore) ListEnabledRules(ctx context.Context) ([]storage.AlertRule, error) {
	enabled := make([]storage.AlertRule, 0, len(m.rules))
	for _, rule := range m.rules {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	return enabled, nil
}

func (m *memoryRuleStore) UpdateRuleState(ctx context.Context, id int64, update storage.RuleStateUpdate) error {
	for i := range m.rules {
		if m.rules[i].ID == id {
			result := update.LastResult
			m.rules[i].LastResult = &result
			if update.LastTriggeredAt != nil {
				m.rules[i].LastTriggeredAt = update.LastTriggeredAt
			}
			return nil
		}
	}
	return fmt.Errorf("rule %d not found", id)
}

var _ storage.RuleStore = (*memoryRuleStore)(nil)
