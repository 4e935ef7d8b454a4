// Package common holds the broker's wire-level quirks: numeric side/type
// enums, the dotted contract-id shape, and the shared OrderPayload/OrderAck
// types the REST and stream clients translate at the boundary. Grounded in
// the teacher's pkg/exchanges/common/types.go, which plays the same role
// for its own multi-venue gateway abstraction.
package common

import "topstepx-engine/internal/domain"

// WireSide is the broker's numeric order side: BUY=0, SELL=1.
type WireSide int

const (
	WireSideBuy  WireSide = 0
	WireSideSell WireSide = 1
)

// WireOrderType is the broker's numeric order type: LIMIT=1, MARKET=2,
// STOP=4, TRAIL=5.
type WireOrderType int

const (
	WireTypeLimit  WireOrderType = 1
	WireTypeMarket WireOrderType = 2
	WireTypeStop   WireOrderType = 4
	WireTypeTrail  WireOrderType = 5
)

// SideToWire translates the internal Side into the broker's numeric enum.
func SideToWire(s domain.Side) WireSide {
	if s == domain.SideSell || s == domain.SideShort {
		return WireSideSell
	}
	return WireSideBuy
}

// SideFromWire translates the broker's numeric enum into BUY/SELL.
func SideFromWire(w WireSide) domain.Side {
	if w == WireSideSell {
		return domain.SideSell
	}
	return domain.SideBuy
}

// OrderTypeToWire translates the internal OrderType into the broker's
// numeric enum.
func OrderTypeToWire(t domain.OrderType) WireOrderType {
	switch t {
	case domain.OrderTypeMarket:
		return WireTypeMarket
	case domain.OrderTypeStop:
		return WireTypeStop
	case domain.OrderTypeTrail:
		return WireTypeTrail
	default:
		return WireTypeLimit
	}
}

// OrderTypeFromWire translates the broker's numeric enum into a name.
func OrderTypeFromWire(w WireOrderType) domain.OrderType {
	switch w {
	case WireTypeMarket:
		return domain.OrderTypeMarket
	case WireTypeStop:
		return domain.OrderTypeStop
	case WireTypeTrail:
		return domain.OrderTypeTrail
	default:
		return domain.OrderTypeLimit
	}
}

// WireOrderStatus is the broker's numeric order lifecycle status.
type WireOrderStatus int

const (
	WireStatusWorking   WireOrderStatus = 1
	WireStatusFilled    WireOrderStatus = 2
	WireStatusCancelled WireOrderStatus = 3
	WireStatusRejected  WireOrderStatus = 4
)

// OrderStatusFromWire maps the broker's numeric order status to the
// internal name-based status.
func OrderStatusFromWire(w WireOrderStatus) domain.OrderStatus {
	switch w {
	case WireStatusWorking:
		return domain.OrderWorking
	case WireStatusFilled:
		return domain.OrderFilled
	case WireStatusCancelled:
		return domain.OrderCancelled
	case WireStatusRejected:
		return domain.OrderRejected
	default:
		return domain.OrderPending
	}
}

// SymbolFromContractID returns the last dotted segment of a contract id
// (e.g. "F.US.MES.Z25" -> "Z25", the contract-month token); an id with no
// dot is returned unchanged.
func SymbolFromContractID(contractID string) string {
	last := contractID
	for i := len(contractID) - 1; i >= 0; i-- {
		if contractID[i] == '.' {
			last = contractID[i+1:]
			break
		}
	}
	return last
}
