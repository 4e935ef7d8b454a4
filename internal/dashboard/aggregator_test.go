package dashboard

import (
	"context"
	"testing"
	"time"

	"topstepx-engine/internal/accounts"
	"topstepx-engine/internal/bot"
	"topstepx-engine/internal/broker/stream"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/events"
	"topstepx-engine/internal/result"
	"topstepx-engine/internal/risk"
)

type fakeRegistry struct {
	statuses []accounts.StatusResult
}

func (f fakeRegistry) Snapshot() []accounts.StatusResult { return f.statuses }

type fakePositions struct {
	byAccount map[int64][]domain.EnrichedPosition
}

func (f fakePositions) EnrichedPositions(ctx context.Context, accountID int64) []domain.EnrichedPosition {
	return f.byAccount[accountID]
}

type fakeRisk struct {
	states map[int64]*risk.EvaluationState
}

func (f fakeRisk) State(accountID int64) *risk.EvaluationState { return f.states[accountID] }

type fakeBroker struct {
	accountsErr bool
	accounts    []domain.Account
	openOrders  map[int64][]domain.Order
	openErrAccount int64
}

func (f fakeBroker) SearchAccounts(ctx context.Context, onlyActive bool) result.Result[[]domain.Account] {
	if f.accountsErr {
		return result.Fail[[]domain.Account](result.Err(result.KindNetwork, "broker unreachable"))
	}
	return result.Ok(f.accounts)
}

func (f fakeBroker) SearchOpenOrders(ctx context.Context, accountID int64) result.Result[[]domain.Order] {
	if accountID == f.openErrAccount {
		return result.Fail[[]domain.Order](result.Err(result.KindTimeout, "timed out"))
	}
	return result.Ok(f.openOrders[accountID])
}

func TestStateAggregatesHealthySections(t *testing.T) {
	registry := fakeRegistry{statuses: []accounts.StatusResult{
		{AccountID: 1, Code: accounts.StatusManaged, BotManaged: true, Bot: &bot.Status{AccountID: 1, Running: true}},
	}}
	positions := fakePositions{byAccount: map[int64][]domain.EnrichedPosition{
		1: {{Position: domain.Position{AccountID: 1, Symbol: "ES", Quantity: 2}}},
	}}
	riskStates := fakeRisk{states: map[int64]*risk.EvaluationState{
		1: {AccountID: 1, StartingEquity: 50000, CumulativeProfit: 500, PeakEquity: 50500, RealizedPnLToday: 200},
	}}
	broker := fakeBroker{
		accounts:   []domain.Account{{ID: 1, Name: "Acct1", Balance: 50500}},
		openOrders: map[int64][]domain.Order{1: {{OrderID: "o1", AccountID: 1}}},
	}

	agg := New(registry, positions, riskStates, broker)
	st := agg.State(context.Background())

	if st.ProjectX.AccountsError != "" {
		t.Fatalf("unexpected accounts error: %s", st.ProjectX.AccountsError)
	}
	if len(st.ProjectX.Accounts) != 1 || st.ProjectX.Accounts[0].ID != 1 {
		t.Fatalf("unexpected projectx accounts: %+v", st.ProjectX.Accounts)
	}
	if len(st.ProjectX.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(st.ProjectX.Positions))
	}
	if st.ProjectX.Orders.OpenError != "" || len(st.ProjectX.Orders.Open) != 1 {
		t.Fatalf("unexpected open orders section: %+v", st.ProjectX.Orders)
	}
	if st.Metrics.OpenPositions != 1 || st.Metrics.PendingOrders != 1 || st.Metrics.RunningAccounts != 1 {
		t.Fatalf("unexpected metrics: %+v", st.Metrics)
	}
	if st.Metrics.DailyPnL != 200 {
		t.Fatalf("expected daily pnl 200, got %v", st.Metrics.DailyPnL)
	}
	if st.Metrics.Drawdown != 0 {
		t.Fatalf("expected zero drawdown when equity is at peak, got %v", st.Metrics.Drawdown)
	}
	if !st.AnySectionSucceeded() {
		t.Fatal("expected at least one section to have succeeded")
	}
}

func TestStateDegradesGracefullyOnBrokerFailure(t *testing.T) {
	registry := fakeRegistry{statuses: []accounts.StatusResult{
		{AccountID: 1, Code: accounts.StatusUnmanaged},
	}}
	broker := fakeBroker{accountsErr: true}

	agg := New(registry, fakePositions{}, fakeRisk{}, broker)
	st := agg.State(context.Background())

	if st.ProjectX.AccountsError == "" {
		t.Fatal("expected accounts_error to be populated")
	}
	if st.ProjectX.Accounts != nil {
		t.Fatalf("expected nil projectx accounts on failure, got %+v", st.ProjectX.Accounts)
	}
	if st.Metrics.RunningAccounts != 0 {
		t.Fatalf("expected 0 running accounts, got %d", st.Metrics.RunningAccounts)
	}
}

func TestStatePartialOrderFailureIsIsolatedPerAccount(t *testing.T) {
	registry := fakeRegistry{statuses: []accounts.StatusResult{
		{AccountID: 1, Code: accounts.StatusManaged},
		{AccountID: 2, Code: accounts.StatusManaged},
	}}
	broker := fakeBroker{
		openOrders:     map[int64][]domain.Order{1: {{OrderID: "o1", AccountID: 1}}},
		openErrAccount: 2,
	}

	agg := New(registry, fakePositions{}, fakeRisk{}, broker)
	st := agg.State(context.Background())

	if len(st.ProjectX.Orders.Open) != 1 {
		t.Fatalf("expected account 1's order to still be present, got %+v", st.ProjectX.Orders.Open)
	}
	if st.ProjectX.Orders.OpenError == "" {
		t.Fatal("expected open_error to report account 2's failure")
	}
}

func TestRecentOrdersAndTradesFedFromBus(t *testing.T) {
	bus := events.NewBus()
	agg := New(fakeRegistry{}, fakePositions{}, fakeRisk{}, fakeBroker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agg.Start(ctx, bus)
	defer agg.Stop()

	pubCtx, pubCancel := context.WithTimeout(context.Background(), time.Second)
	defer pubCancel()
	if err := bus.PublishCritical(pubCtx, events.TopicOrderUpdate, stream.OrderEvent{ID: 1, AccountID: 1, ContractID: "CON.ES", Status: 2}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if err := bus.PublishCritical(pubCtx, events.TopicTradeUpdate, stream.TradeEvent{ID: 1, AccountID: 1, ContractID: "CON.ES", Price: 5000, Size: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		orders := agg.recentOrdersSnapshot(10)
		trades := agg.recentTradesSnapshot(10)
		if len(orders) == 1 && len(trades) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for recent orders/trades: orders=%d trades=%d", len(orders), len(trades))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRecentOrdersFiltersByAccount(t *testing.T) {
	bus := events.NewBus()
	agg := New(fakeRegistry{}, fakePositions{}, fakeRisk{}, fakeBroker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agg.Start(ctx, bus)
	defer agg.Stop()

	pubCtx, pubCancel := context.WithTimeout(context.Background(), time.Second)
	defer pubCancel()
	_ = bus.PublishCritical(pubCtx, events.TopicOrderUpdate, stream.OrderEvent{ID: 1, AccountID: 1, Status: 2})
	_ = bus.PublishCritical(pubCtx, events.TopicOrderUpdate, stream.OrderEvent{ID: 2, AccountID: 2, Status: 2})

	deadline := time.After(2 * time.Second)
	for len(agg.RecentOrders(0, 10)) < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both orders to land")
		case <-time.After(10 * time.Millisecond):
		}
	}

	got := agg.RecentOrders(2, 10)
	if len(got) != 1 || got[0].AccountID != 2 {
		t.Fatalf("expected only account 2's order, got %+v", got)
	}
}

func TestAccountingDateUsesChicagoBoundary(t *testing.T) {
	utcNoon := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	got := accountingDate(utcNoon)
	want := utcNoon.In(chicagoLocation).Format("2006-01-02")
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
