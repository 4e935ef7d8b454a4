package strategy

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/events"
)

type memStateStore struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
}

func newMemStateStore() *memStateStore {
	return &memStateStore{data: make(map[string]json.RawMessage)}
}

func (m *memStateStore) LoadState(_ context.Context, id string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[id]
	return data, ok, nil
}

func (m *memStateStore) SaveState(_ context.Context, id string, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
	return nil
}

func TestEngineEmitsSignalOnCross(t *testing.T) {
	bus := events.NewBus()
	sub, _ := bus.Subscribe(events.TopicSignal, 4)

	e := NewEngine(bus, nil)
	e.Register(1001, []Strategy{NewMACrossStrategy("s1", "MES", 2, 4, 0.7)}, RuleBasedGate{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i, c := range []float64{100, 100, 100, 100, 105, 110} {
		e.OnBar(ctx, 1001, domain.Bar{Symbol: "MES", Close: c, Timestamp: time.Now().Add(time.Duration(i) * time.Minute)})
	}

	select {
	case msg := <-sub:
		signal, ok := msg.(events.StrategySignal)
		if !ok {
			t.Fatalf("unexpected payload type %T", msg)
		}
		if signal.AccountID != 1001 {
			t.Fatalf("expected account 1001, got %d", signal.AccountID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a strategy signal to be published")
	}
}

func TestEnginePausedStrategyEmitsNothing(t *testing.T) {
	bus := events.NewBus()
	sub, _ := bus.Subscribe(events.TopicSignal, 4)

	e := NewEngine(bus, nil)
	e.Register(1001, []Strategy{NewMACrossStrategy("s1", "MES", 2, 4, 0.7)}, RuleBasedGate{})
	e.PauseStrategy(1001, "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	for i, c := range []float64{100, 100, 100, 100, 105, 110} {
		e.OnBar(ctx, 1001, domain.Bar{Symbol: "MES", Close: c, Timestamp: time.Now().Add(time.Duration(i) * time.Minute)})
	}

	select {
	case <-sub:
		t.Fatal("expected no signal from a paused strategy")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineWarmupRestoresState(t *testing.T) {
	bus := events.NewBus()
	store := newMemStateStore()

	seed := NewMACrossStrategy("s1", "MES", 2, 4, 0.7)
	for i, c := range []float64{100, 100, 100, 100, 105, 110} {
		_, _ = seed.OnBar(domain.Bar{Symbol: "MES", Close: c, Timestamp: time.Now().Add(time.Duration(i) * time.Minute)})
	}
	data, err := seed.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if err := store.SaveState(context.Background(), "s1", data); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	restored := NewMACrossStrategy("s1", "MES", 2, 4, 0.7)
	e := NewEngine(bus, store)
	e.Register(1001, []Strategy{restored}, RuleBasedGate{})
	e.Warmup(context.Background(), 1001)

	if restored.prevAction != seed.prevAction {
		t.Fatalf("expected warmup to restore prevAction, got %s want %s", restored.prevAction, seed.prevAction)
	}
}

func TestEngineUnregisterStopsDelivery(t *testing.T) {
	bus := events.NewBus()
	sub, _ := bus.Subscribe(events.TopicSignal, 4)

	e := NewEngine(bus, nil)
	e.Register(1001, []Strategy{NewMACrossStrategy("s1", "MES", 2, 4, 0.7)}, RuleBasedGate{})
	e.Unregister(1001)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	e.OnBar(ctx, 1001, domain.Bar{Symbol: "MES", Close: 100})

	select {
	case <-sub:
		t.Fatal("expected no delivery to an unregistered account")
	case <-time.After(100 * time.Millisecond):
	}
}
