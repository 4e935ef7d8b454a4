package common

import (
	"testing"

	"topstepx-engine/internal/domain"
)

func TestSideRoundTrip(t *testing.T) {
	if SideToWire(domain.SideBuy) != WireSideBuy {
		t.Fatal("BUY should map to 0")
	}
	if SideToWire(domain.SideSell) != WireSideSell {
		t.Fatal("SELL should map to 1")
	}
	if SideFromWire(WireSideBuy) != domain.SideBuy {
		t.Fatal("0 should map to BUY")
	}
	if SideFromWire(WireSideSell) != domain.SideSell {
		t.Fatal("1 should map to SELL")
	}
}

func TestOrderTypeRoundTrip(t *testing.T) {
	cases := []struct {
		name domain.OrderType
		wire WireOrderType
	}{
		{domain.OrderTypeLimit, WireTypeLimit},
		{domain.OrderTypeMarket, WireTypeMarket},
		{domain.OrderTypeStop, WireTypeStop},
		{domain.OrderTypeTrail, WireTypeTrail},
	}
	for _, c := range cases {
		if OrderTypeToWire(c.name) != c.wire {
			t.Errorf("%s -> wire: got %d want %d", c.name, OrderTypeToWire(c.name), c.wire)
		}
		if OrderTypeFromWire(c.wire) != c.name {
			t.Errorf("wire %d -> name: got %s want %s", c.wire, OrderTypeFromWire(c.wire), c.name)
		}
	}
}

func TestOrderStatusFromWire(t *testing.T) {
	cases := []struct {
		wire WireOrderStatus
		want domain.OrderStatus
	}{
		{WireStatusWorking, domain.OrderWorking},
		{WireStatusFilled, domain.OrderFilled},
		{WireStatusCancelled, domain.OrderCancelled},
		{WireStatusRejected, domain.OrderRejected},
		{WireOrderStatus(99), domain.OrderPending},
	}
	for _, c := range cases {
		if got := OrderStatusFromWire(c.wire); got != c.want {
			t.Errorf("wire %d -> status: got %s want %s", c.wire, got, c.want)
		}
	}
}

func TestWireEnumValues(t *testing.T) {
	if WireSideBuy != 0 || WireSideSell != 1 {
		t.Fatal("side enum values must match broker wire contract")
	}
	if WireTypeLimit != 1 || WireTypeMarket != 2 || WireTypeStop != 4 || WireTypeTrail != 5 {
		t.Fatal("order type enum values must match broker wire contract")
	}
}
