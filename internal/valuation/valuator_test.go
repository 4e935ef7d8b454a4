package valuation

import (
	"testing"

	"topstepx-engine/internal/domain"
)

func TestEnrichLongWithMultiplier(t *testing.T) {
	pos := domain.Position{Side: domain.SideLong, Quantity: 2, EntryPrice: 5000}
	current := 5001.0

	out := Enrich(pos, 5, true, &current, BrokerReported{})

	if out.UnrealizedPnL == nil {
		t.Fatal("expected resolved unrealized pnl")
	}
	if got := *out.UnrealizedPnL; got < 9.999999 || got > 10.000001 {
		t.Fatalf("got %v, want ~10.0", got)
	}
}

func TestEnrichShortDirection(t *testing.T) {
	pos := domain.Position{Side: domain.SideShort, Quantity: 1, EntryPrice: 100}
	current := 95.0

	out := Enrich(pos, 2, true, &current, BrokerReported{})
	if got := *out.UnrealizedPnL; got != 10.0 {
		t.Fatalf("short position profiting on a price drop: got %v, want 10.0", got)
	}
}

func TestEnrichUnresolvableMultiplierIsNilNotZero(t *testing.T) {
	pos := domain.Position{Side: domain.SideLong, Quantity: 1, EntryPrice: 100}
	current := 110.0

	out := Enrich(pos, 0, false, &current, BrokerReported{})
	if out.UnrealizedPnL != nil {
		t.Fatalf("expected nil pnl when multiplier unresolved, got %v", *out.UnrealizedPnL)
	}
	if out.PnLPercent != nil {
		t.Fatal("expected nil pnl percent when multiplier unresolved")
	}
}

func TestEnrichPrefersBrokerReported(t *testing.T) {
	pos := domain.Position{Side: domain.SideLong, Quantity: 1, EntryPrice: 100}
	current := 105.0
	brokerPnL := 999.0

	out := Enrich(pos, 5, true, &current, BrokerReported{UnrealizedPnL: &brokerPnL})
	if *out.UnrealizedPnL != 999.0 {
		t.Fatalf("expected broker-reported value to win, got %v", *out.UnrealizedPnL)
	}
}

func TestEnrichPnLPercent(t *testing.T) {
	pos := domain.Position{Side: domain.SideLong, Quantity: 1, EntryPrice: 100}
	current := 110.0

	out := Enrich(pos, 1, true, &current, BrokerReported{})
	if out.PnLPercent == nil {
		t.Fatal("expected pnl percent")
	}
	if got := *out.PnLPercent; got != 10.0 {
		t.Fatalf("got %v, want 10.0", got)
	}
}
