package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"topstepx-engine/internal/events"
	"topstepx-engine/internal/result"
)

func testToken(ctx context.Context) result.Result[string] {
	return result.Ok("test-token")
}

func TestDispatchQuoteIsDroppable(t *testing.T) {
	bus := events.NewBus()
	h := NewHub(events.HubMarket, "wss://example.invalid", testToken, bus)

	// No subscriber at all: PublishDroppable must not block or error.
	args, _ := json.Marshal([]any{QuoteEvent{Symbol: "MESZ25", LastPrice: 5001}})
	raw := rawMessage{Type: msgTypeInvocation, Target: "GatewayQuote", Arguments: args}
	if err := h.dispatchInvocation(context.Background(), raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDispatchQuoteDeliversToSubscriber(t *testing.T) {
	bus := events.NewBus()
	h := NewHub(events.HubMarket, "wss://example.invalid", testToken, bus)

	ch, unsub := bus.Subscribe(events.TopicQuote, 1)
	defer unsub()

	args, _ := json.Marshal([]any{QuoteEvent{Symbol: "MESZ25", LastPrice: 5001}})
	raw := rawMessage{Type: msgTypeInvocation, Target: "GatewayQuote", Arguments: args}
	if err := h.dispatchInvocation(context.Background(), raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-ch:
		q, ok := got.(QuoteEvent)
		if !ok || q.Symbol != "MESZ25" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected quote to be delivered")
	}
}

func TestDispatchCriticalEventSaturatedDisconnects(t *testing.T) {
	bus := events.NewBus()
	h := NewHub(events.HubUser, "wss://example.invalid", testToken, bus)

	// Subscribe with a zero-buffer channel and never drain it.
	_, unsub := bus.Subscribe(events.TopicOrderUpdate, 0)
	defer unsub()

	args, _ := json.Marshal([]any{map[string]any{"id": 1}})
	raw := rawMessage{Type: msgTypeInvocation, Target: "GatewayUserOrder", Arguments: args}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.dispatchInvocation(ctx, raw)
	if err == nil {
		t.Fatal("expected saturation to surface as an error forcing a reconnect")
	}
}

func TestPingIsIgnored(t *testing.T) {
	bus := events.NewBus()
	h := NewHub(events.HubUser, "wss://example.invalid", testToken, bus)

	if err := h.dispatch(context.Background(), []byte(`{"type":6}`)); err != nil {
		t.Fatalf("ping should be a no-op, got %v", err)
	}
}
