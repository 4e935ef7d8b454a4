package bot

import (
	"context"
	"testing"
	"time"

	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/events"
	"topstepx-engine/internal/orders"
	"topstepx-engine/internal/result"
	"topstepx-engine/internal/risk"
	"topstepx-engine/internal/strategy"
)

type stubBroker struct {
	orderID string
}

func (s *stubBroker) PlaceOrder(ctx context.Context, accountID int64, o domain.Order) result.Result[string] {
	return result.Ok(s.orderID)
}
func (s *stubBroker) CancelOrder(ctx context.Context, accountID int64, orderID string) result.Result[struct{}] {
	return result.Ok(struct{}{})
}
func (s *stubBroker) ModifyOrder(ctx context.Context, accountID int64, orderID string, limitPrice, stopPrice *float64) result.Result[struct{}] {
	return result.Ok(struct{}{})
}
func (s *stubBroker) SearchOpenPositions(ctx context.Context, accountID int64) result.Result[[]domain.Position] {
	return result.Ok[[]domain.Position](nil)
}
func (s *stubBroker) CloseContract(ctx context.Context, accountID int64, contractID string) result.Result[struct{}] {
	return result.Ok(struct{}{})
}

type stubResolver struct{}

func (stubResolver) GetBySymbol(ctx context.Context, symbol string) result.Result[domain.Contract] {
	return result.Ok(domain.Contract{ID: "CON." + symbol})
}

func newTestBot(t *testing.T, accountID int64) *Bot {
	t.Helper()
	bus := events.NewBus()
	engine := strategy.NewEngine(bus, nil)
	riskMgr := risk.NewManager()
	riskMgr.Register(accountID, domain.StageCombine, domain.Size50k, 50000)
	ordersMgr := orders.NewManager(&stubBroker{orderID: "order-1"}, stubResolver{})

	strat := strategy.NewMACrossStrategy("ma-1", "ES", 2, 4, 0.6)
	b := New(accountID, domain.AccountBotConfig{AccountID: accountID}, []string{"ES"}, []strategy.Strategy{strat}, nil, Deps{
		Bus:    bus,
		Engine: engine,
		Risk:   riskMgr,
		Orders: ordersMgr,
	})
	return b
}

func TestStartIsIdempotent(t *testing.T) {
	b := newTestBot(t, 1)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got error: %v", err)
	}
	if !b.Status().Running {
		t.Fatal("expected bot to be running after start")
	}
	_ = b.Stop()
}

func TestStopTransitionsToStopped(t *testing.T) {
	b := newTestBot(t, 2)
	_ = b.Start(context.Background())
	if err := b.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	st := b.Status()
	if st.Running {
		t.Fatal("expected bot to be stopped")
	}
	if st.State != StateStopped {
		t.Fatalf("expected STOPPED, got %s", st.State)
	}
}

func TestHandleSignalPlacesOrderWhenRiskAllows(t *testing.T) {
	b := newTestBot(t, 3)
	b.HandleSignal(context.Background(), events.StrategySignal{
		AccountID:  3,
		StrategyID: "ma-1",
		Signal:     domain.Signal{Symbol: "ES", Side: domain.SideLong, Confidence: 0.8},
	})

	activity := b.Activity(10)
	found := false
	for _, a := range activity {
		if a.Type == domain.ActivityOrderSubmitted {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an order_submitted activity entry, got %+v", activity)
	}
}

func TestHandleSignalBlockedByRiskRecordsActivity(t *testing.T) {
	b := newTestBot(t, 4)
	b.risk.RecordFill(4, -1200, time.Now())

	b.HandleSignal(context.Background(), events.StrategySignal{
		AccountID:  4,
		StrategyID: "ma-1",
		Signal:     domain.Signal{Symbol: "ES", Side: domain.SideLong, Confidence: 0.8},
	})

	activity := b.Activity(10)
	found := false
	for _, a := range activity {
		if a.Type == domain.ActivityBlockedByRisk {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a blocked_by_risk activity entry, got %+v", activity)
	}
}

type fakeActivitySink struct {
	recorded []domain.BotActivity
	seed     []domain.BotActivity
}

func (f *fakeActivitySink) RecordActivity(accountID int64, a domain.BotActivity) {
	f.recorded = append(f.recorded, a)
}

func (f *fakeActivitySink) LoadRecentActivity(accountID int64, limit int) ([]domain.BotActivity, error) {
	return f.seed, nil
}

func TestStartForwardsActivityToSink(t *testing.T) {
	sink := &fakeActivitySink{}
	bus := events.NewBus()
	engine := strategy.NewEngine(bus, nil)
	riskMgr := risk.NewManager()
	riskMgr.Register(5, domain.StageCombine, domain.Size50k, 50000)
	ordersMgr := orders.NewManager(&stubBroker{orderID: "order-1"}, stubResolver{})

	b := New(5, domain.AccountBotConfig{AccountID: 5}, []string{"ES"}, nil, nil, Deps{
		Bus:      bus,
		Engine:   engine,
		Risk:     riskMgr,
		Orders:   ordersMgr,
		Activity: sink,
	})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	found := false
	for _, a := range sink.recorded {
		if a.Type == domain.ActivityBotStarted {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bot_started activity forwarded to sink, got %+v", sink.recorded)
	}
}

func TestNewSeedsActivityFromLoader(t *testing.T) {
	seed := []domain.BotActivity{
		{Type: domain.ActivityBotStopped, Message: "previous run stopped"},
	}
	sink := &fakeActivitySink{seed: seed}
	bus := events.NewBus()
	engine := strategy.NewEngine(bus, nil)
	riskMgr := risk.NewManager()
	riskMgr.Register(6, domain.StageCombine, domain.Size50k, 50000)
	ordersMgr := orders.NewManager(&stubBroker{orderID: "order-1"}, stubResolver{})

	b := New(6, domain.AccountBotConfig{AccountID: 6}, []string{"ES"}, nil, nil, Deps{
		Bus:      bus,
		Engine:   engine,
		Risk:     riskMgr,
		Orders:   ordersMgr,
		Activity: sink,
	})

	activity := b.Activity(10)
	if len(activity) != 1 || activity[0].Message != "previous run stopped" {
		t.Fatalf("expected ring seeded from loader, got %+v", activity)
	}
}

func TestBarAggregatorClosesOnIntervalRoll(t *testing.T) {
	agg := NewBarAggregator(time.Minute)
	t0 := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)

	if _, closed := agg.Ingest(domain.Quote{Symbol: "ES", LastPrice: 100, Timestamp: t0}); closed {
		t.Fatal("first tick should not close a bar")
	}
	if _, closed := agg.Ingest(domain.Quote{Symbol: "ES", LastPrice: 101, Timestamp: t0.Add(10 * time.Second)}); closed {
		t.Fatal("tick within the same minute should not close a bar")
	}

	bar, closed := agg.Ingest(domain.Quote{Symbol: "ES", LastPrice: 102, Timestamp: t0.Add(time.Minute)})
	if !closed {
		t.Fatal("tick in the next minute bucket should close the prior bar")
	}
	if bar.Open != 100 || bar.Close != 101 || bar.High != 101 {
		t.Fatalf("unexpected closed bar: %+v", bar)
	}
}

func TestStatusReflectsFailedState(t *testing.T) {
	b := newTestBot(t, 5)
	b.setFailed("synthetic failure")
	st := b.Status()
	if st.State != StateFailed {
		t.Fatalf("expected FAILED, got %s", st.State)
	}
	if st.BotHealth.Components["run_loop"] != "degraded" {
		t.Fatal("expected run_loop marked degraded in bot health")
	}
}
