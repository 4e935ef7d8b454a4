package hub

import (
	"context"
	"testing"
	"time"

	"topstepx-engine/internal/broker/stream"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/events"
	"topstepx-engine/internal/result"
)

type fakeResolver struct {
	contracts map[string]domain.Contract
}

func (f fakeResolver) GetBySymbol(ctx context.Context, symbol string) result.Result[domain.Contract] {
	c, ok := f.contracts[symbol]
	if !ok {
		return result.Fail[domain.Contract](result.Err(result.KindNotFound, "no contract for %s", symbol))
	}
	return result.Ok(c)
}

func newTestHub(t *testing.T) (*Hub, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	resolver := fakeResolver{contracts: map[string]domain.Contract{
		"ES": {ID: "CON.ES", Symbol: "ES", TickSize: 0.25, TickValue: 12.5},
	}}
	h := New(bus, resolver)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		h.Stop()
	})
	h.Start(ctx)
	return h, bus
}

func recvWithin(t *testing.T, ch <-chan Message, d time.Duration) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return msg
	case <-time.After(d):
		t.Fatal("timed out waiting for broadcast message")
	}
	return Message{}
}

func TestQuoteUpdateBroadcastsAndCachesLastPrice(t *testing.T) {
	h, bus := newTestHub(t)
	sub, unsub := h.Subscribe()
	defer unsub()

	bus.PublishDroppable(events.TopicQuote, stream.QuoteEvent{Symbol: "ES", LastPrice: 5001.25, Timestamp: time.Now()})

	msg := recvWithin(t, sub, time.Second)
	if msg.Type != MsgQuoteUpdate || msg.Symbol != "ES" || msg.Price != 5001.25 {
		t.Fatalf("unexpected message: %+v", msg)
	}

	price, ok := h.LastPrice("ES")
	if !ok || price != 5001.25 {
		t.Fatalf("expected last price cached, got %v ok=%v", price, ok)
	}
}

func TestPositionUpdateEnrichesAndRecomputesOnQuote(t *testing.T) {
	h, bus := newTestHub(t)
	sub, unsub := h.Subscribe()
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bus.PublishCritical(ctx, events.TopicPositionUpdate, stream.PositionEvent{
		ID: "p1", AccountID: 1, ContractID: "CON.ES", Type: 1, Size: 2, AveragePrice: 5000,
	}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	msg := recvWithin(t, sub, time.Second)
	if msg.Type != MsgPositionUpdate || msg.Position == nil {
		t.Fatalf("expected an enriched position_update, got %+v", msg)
	}
	if msg.Position.UnrealizedPnL != nil {
		t.Fatal("expected nil unrealized PnL before any quote has been observed")
	}

	bus.PublishDroppable(events.TopicQuote, stream.QuoteEvent{Symbol: "ES", LastPrice: 5010, Timestamp: time.Now()})

	quoteMsg := recvWithin(t, sub, time.Second)
	if quoteMsg.Type != MsgQuoteUpdate {
		t.Fatalf("expected quote_update first, got %+v", quoteMsg)
	}
	posMsg := recvWithin(t, sub, time.Second)
	if posMsg.Type != MsgPositionUpdate || posMsg.Position == nil || posMsg.Position.UnrealizedPnL == nil {
		t.Fatalf("expected re-enriched position_update after quote, got %+v", posMsg)
	}
	want := (5010.0 - 5000.0) * (12.5 / 0.25) * 2
	if *posMsg.Position.UnrealizedPnL != want {
		t.Fatalf("expected unrealized pnl %.2f, got %.2f", want, *posMsg.Position.UnrealizedPnL)
	}
}

func TestOrderAndTradeUpdatesBroadcast(t *testing.T) {
	h, bus := newTestHub(t)
	sub, unsub := h.Subscribe()
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bus.PublishCritical(ctx, events.TopicOrderUpdate, stream.OrderEvent{ID: 1, AccountID: 1, ContractID: "CON.ES", Side: 0, Type: 2, Size: 1, Status: 2}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	msg := recvWithin(t, sub, time.Second)
	if msg.Type != MsgOrderUpdate || msg.Order == nil || msg.Order.AccountID != 1 {
		t.Fatalf("unexpected order message: %+v", msg)
	}

	if err := bus.PublishCritical(ctx, events.TopicTradeUpdate, stream.TradeEvent{ID: 1, AccountID: 1, ContractID: "CON.ES", Price: 5010, Size: 1}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	msg = recvWithin(t, sub, time.Second)
	if msg.Type != MsgTradeUpdate || msg.Trade == nil || msg.Trade.AccountID != 1 {
		t.Fatalf("unexpected trade message: %+v", msg)
	}
}

func TestSubscriberOverflowIsDisconnected(t *testing.T) {
	h, _ := newTestHub(t)
	sub, unsub := h.Subscribe()
	defer unsub()

	// Flood the broadcaster directly (same package), bypassing the bus, so
	// the subscriber's own queue is guaranteed to be the bottleneck rather
	// than any upstream bus buffer.
	for i := 0; i < subscriberBuffer+10; i++ {
		h.broadcast(Message{Type: MsgHeartbeat, Timestamp: time.Now()})
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub:
			if !ok {
				return // closed due to overflow, as expected
			}
		case <-deadline:
			t.Fatal("expected subscriber channel to eventually close on overflow")
		}
	}
}

func TestEnrichedPositionsMatchesBroadcastValuation(t *testing.T) {
	h, bus := newTestHub(t)
	sub, unsub := h.Subscribe()
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bus.PublishCritical(ctx, events.TopicPositionUpdate, stream.PositionEvent{
		ID: "p1", AccountID: 3, ContractID: "CON.ES", Type: 1, Size: 2, AveragePrice: 5000,
	}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	recvWithin(t, sub, time.Second)

	bus.PublishDroppable(events.TopicQuote, stream.QuoteEvent{Symbol: "ES", LastPrice: 5010, Timestamp: time.Now()})
	recvWithin(t, sub, time.Second) // quote_update
	recvWithin(t, sub, time.Second) // re-enriched position_update

	enriched := h.EnrichedPositions(context.Background(), 3)
	if len(enriched) != 1 {
		t.Fatalf("expected 1 enriched position, got %d", len(enriched))
	}
	if enriched[0].UnrealizedPnL == nil {
		t.Fatal("expected unrealized pnl to be populated after a quote was observed")
	}
	want := (5010.0 - 5000.0) * (12.5 / 0.25) * 2
	if *enriched[0].UnrealizedPnL != want {
		t.Fatalf("expected unrealized pnl %.2f, got %.2f", want, *enriched[0].UnrealizedPnL)
	}

	if got := h.EnrichedPositions(context.Background(), 999); len(got) != 0 {
		t.Fatalf("expected no positions for unknown account, got %d", len(got))
	}
}

func TestPositionClosedRemovesFromTracker(t *testing.T) {
	h, bus := newTestHub(t)
	sub, unsub := h.Subscribe()
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = bus.PublishCritical(ctx, events.TopicPositionUpdate, stream.PositionEvent{ID: "p1", AccountID: 2, ContractID: "CON.ES", Type: 1, Size: 1, AveragePrice: 5000})
	recvWithin(t, sub, time.Second)

	if got := h.Positions(2); len(got) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(got))
	}

	_ = bus.PublishCritical(ctx, events.TopicPositionUpdate, stream.PositionEvent{ID: "p1", AccountID: 2, ContractID: "CON.ES", Type: 1, Size: 0, AveragePrice: 5000})
	recvWithin(t, sub, time.Second)

	if got := h.Positions(2); len(got) != 0 {
		t.Fatalf("expected position removed after flat, got %d", len(got))
	}
}
