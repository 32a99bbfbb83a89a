package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vol-alerts/internal/alerting"
	"vol-alerts/internal/storage"
)

type fakeRuleStore struct {
	rules      []storage.AlertRule
	updates    map[int64]storage.RuleStateUpdate
	listErr    error
	updateErrs map[int64]error
}

func newFakeRuleStore(rules ...storage.AlertRule) *fakeRuleStore {
	return &fakeRuleStore{
		rules:      rules,
		updates:    make(map[int64]storage.RuleStateUpdate),
		updateErrs: make(map[int64]error),
	}
}

func (f *fakeRuleStore) ListEnabledRules(ctx context.Context) ([]storage.AlertRule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.rules, nil
}

func (f *fakeRuleStore) UpdateRuleState(ctx context.Context, id int64, update storage.RuleStateUpdate) error {
	if err := f.updateErrs[id]; err != nil {
		return err
	}
	f.updates[id] = update
	return nil
}

type notifyCall struct {
	to  string
	msg alerting.Message
}

type fakeNotifier struct {
	calls []notifyCall
	err   error
}

func (f *fakeNotifier) Notify(ctx context.Context, to string, msg alerting.Message) error {
	f.calls = append(f.calls, notifyCall{to: to, msg: msg})
	return f.err
}

func boolPtr(v bool) *bool {
	return &v
}

func testRule(lastResult *bool) storage.AlertRule {
	return storage.AlertRule{
		ID:         1,
		SymbolCode: "VIX",
		Direction:  DirectionGTE,
		Threshold:  decimal.NewFromInt(20),
		Severity:   "warning",
		Email:      "trader@example.com",
		Enabled:    true,
		LastResult: lastResult,
	}
}

func newTestEngine(rules *fakeRuleStore, notifier alerting.Notifier) *Engine {
	eng := New(rules, notifier, "", zerolog.Nop())
	eng.now = func() time.Time {
		return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	}
	return eng
}

func closes(price float64) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{"VIX": decimal.NewFromFloat(price)}
}

func TestRisingEdgeNotifies(t *testing.T) {
	rules := newFakeRuleStore(testRule(boolPtr(false)))
	notifier := &fakeNotifier{}
	eng := newTestEngine(rules, notifier)

	outcomes, err := eng.Evaluate(context.Background(), closes(25))
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("期望 1 条评估结果, 实际 %d", len(outcomes))
	}
	if !outcomes[0].Current || !outcomes[0].Notified {
		t.Fatalf("false→true 应触发通知: %+v", outcomes[0])
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("应发送 1 封邮件, 实际 %d", len(notifier.calls))
	}
	if notifier.calls[0].to != "trader@example.com" {
		t.Fatalf("收件人不正确: %s", notifier.calls[0].to)
	}

	update, ok := rules.updates[1]
	if !ok {
		t.Fatal("应回写规则状态")
	}
	if !update.LastResult {
		t.Fatal("last_result 应更新为 true")
	}
	if update.LastTriggeredAt == nil {
		t.Fatal("发送成功后应记录 last_triggered_at")
	}
	want := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	if !update.LastTriggeredAt.Equal(want) {
		t.Fatalf("last_triggered_at 不正确: %v", update.LastTriggeredAt)
	}
}

func TestSustainedConditionStaysSilent(t *testing.T) {
	rules := newFakeRuleStore(testRule(boolPtr(true)))
	notifier := &fakeNotifier{}
	eng := newTestEngine(rules, notifier)

	outcomes, err := eng.Evaluate(context.Background(), closes(26))
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if outcomes[0].Notified {
		t.Fatal("true→true 不应重复通知")
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("不应发送邮件, 实际 %d 封", len(notifier.calls))
	}

	update := rules.updates[1]
	if !update.LastResult {
		t.Fatal("last_result 应保持 true")
	}
	if update.LastTriggeredAt != nil {
		t.Fatal("未发送邮件时不应更新 last_triggered_at")
	}
}

func TestRearmAfterClearing(t *testing.T) {
	rules := newFakeRuleStore(testRule(boolPtr(true)))
	notifier := &fakeNotifier{}
	eng := newTestEngine(rules, notifier)

	// 跌破阈值：状态清零，无通知。
	if _, err := eng.Evaluate(context.Background(), closes(15)); err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if len(notifier.calls) != 0 {
		t.Fatal("true→false 不应通知")
	}
	if rules.updates[1].LastResult {
		t.Fatal("last_result 应更新为 false")
	}

	// 再次突破：重新触发。
	rules.rules[0].LastResult = boolPtr(false)
	if _, err := eng.Evaluate(context.Background(), closes(22)); err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("清零后再次突破应通知, 实际 %d 封", len(notifier.calls))
	}
}

func TestUnsetLastResultTreatedAsFalse(t *testing.T) {
	rules := newFakeRuleStore(testRule(nil))
	notifier := &fakeNotifier{}
	eng := newTestEngine(rules, notifier)

	outcomes, err := eng.Evaluate(context.Background(), closes(30))
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if !outcomes[0].Notified {
		t.Fatal("首次评估即满足条件时应通知")
	}
	if outcomes[0].Previous != nil {
		t.Fatal("Outcome 应保留未评估过的 nil 状态")
	}
}

func TestMissingPriceLeavesStateUntouched(t *testing.T) {
	rules := newFakeRuleStore(testRule(boolPtr(false)))
	notifier := &fakeNotifier{}
	eng := newTestEngine(rules, notifier)

	outcomes, err := eng.Evaluate(context.Background(), map[string]decimal.Decimal{})
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("无价格时不应产生评估结果: %+v", outcomes)
	}
	if len(rules.updates) != 0 {
		t.Fatal("无价格时不应回写任何状态")
	}
	if len(notifier.calls) != 0 {
		t.Fatal("无价格时不应通知")
	}
}

func TestUnsupportedDirectionSkipped(t *testing.T) {
	rule := testRule(boolPtr(false))
	rule.Direction = "<="
	rules := newFakeRuleStore(rule)
	notifier := &fakeNotifier{}
	eng := newTestEngine(rules, notifier)

	outcomes, err := eng.Evaluate(context.Background(), closes(25))
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatal("未支持的 direction 应跳过")
	}
	if len(rules.updates) != 0 {
		t.Fatal("跳过的规则不应回写状态")
	}
}

func TestNotifierFailureStillPersistsResult(t *testing.T) {
	rules := newFakeRuleStore(testRule(boolPtr(false)))
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	eng := newTestEngine(rules, notifier)

	outcomes, err := eng.Evaluate(context.Background(), closes(25))
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if outcomes[0].Notified {
		t.Fatal("发送失败时 Notified 应为 false")
	}

	update, ok := rules.updates[1]
	if !ok {
		t.Fatal("发送失败也应回写 last_result")
	}
	if !update.LastResult {
		t.Fatal("last_result 应更新为 true")
	}
	if update.LastTriggeredAt != nil {
		t.Fatal("发送失败时不应更新 last_triggered_at")
	}
}

func TestExactThresholdCountsAsMet(t *testing.T) {
	rules := newFakeRuleStore(testRule(boolPtr(false)))
	notifier := &fakeNotifier{}
	eng := newTestEngine(rules, notifier)

	outcomes, err := eng.Evaluate(context.Background(), closes(20))
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if !outcomes[0].Current {
		t.Fatal("price == threshold 应判定为满足")
	}
}

func TestUpdateFailureDoesNotAbortOtherRules(t *testing.T) {
	first := testRule(boolPtr(false))
	second := testRule(boolPtr(false))
	second.ID = 2
	second.SymbolCode = "NIKKEI_VI"
	second.Email = "desk@example.com"

	rules := newFakeRuleStore(first, second)
	rules.updateErrs[1] = errors.New("connection reset")
	notifier := &fakeNotifier{}
	eng := newTestEngine(rules, notifier)

	prices := map[string]decimal.Decimal{
		"VIX":       decimal.NewFromInt(25),
		"NIKKEI_VI": decimal.NewFromInt(40),
	}
	outcomes, err := eng.Evaluate(context.Background(), prices)
	if err != nil {
		t.Fatalf("单条规则回写失败不应让整轮失败: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("两条规则都应完成评估, 实际 %d", len(outcomes))
	}
	if _, ok := rules.updates[2]; !ok {
		t.Fatal("第二条规则应正常回写")
	}
}

func TestSeverityDefaultApplied(t *testing.T) {
	rule := testRule(nil)
	rule.Severity = ""
	rules := newFakeRuleStore(rule)
	notifier := &fakeNotifier{}
	eng := newTestEngine(rules, notifier)

	if _, err := eng.Evaluate(context.Background(), closes(25)); err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("应发送 1 封邮件, 实际 %d", len(notifier.calls))
	}
	if notifier.calls[0].msg.Severity != "notice" {
		t.Fatalf("severity 缺省值应为 notice, 实际 %s", notifier.calls[0].msg.Severity)
	}
}

func TestNilNotifierSuppressesDelivery(t *testing.T) {
	rules := newFakeRuleStore(testRule(boolPtr(false)))
	eng := newTestEngine(rules, nil)

	outcomes, err := eng.Evaluate(context.Background(), closes(25))
	if err != nil {
		t.Fatalf("Evaluate 不应报错: %v", err)
	}
	if outcomes[0].Notified {
		t.Fatal("无 notifier 时 Notified 应为 false")
	}
	if rules.updates[1].LastTriggeredAt != nil {
		t.Fatal("无 notifier 时不应更新 last_triggered_at")
	}
}

func TestListRulesFailurePropagates(t *testing.T) {
	rules := newFakeRuleStore()
	rules.listErr = errors.New("relation does not exist")
	eng := newTestEngine(rules, &fakeNotifier{})

	if _, err := eng.Evaluate(context.Background(), closes(25)); err == nil {
		t.Fatal("规则加载失败应返回错误")
	}
}
