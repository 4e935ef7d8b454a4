// Package valuation computes position P&L with tick/point multipliers
// (C8). Grounded in the teacher's risk.Position (which carries a plain
// UnrealizedPnL float) generalized so an unresolvable multiplier reports
// null rather than a silently-wrong zero, per spec invariant.
package valuation

import (
	"math"

	"topstepx-engine/internal/domain"
)

// BrokerReported optionally carries the broker's own unrealized PnL figure,
// preferred over local computation when present and finite.
type BrokerReported struct {
	UnrealizedPnL *float64
}

// Enrich returns pos with derived valuation fields populated per §4.8.
//
//   - Prefers broker.UnrealizedPnL when present and finite.
//   - Otherwise computes from pointValue, if resolvable.
//   - When no multiplier is resolvable, UnrealizedPnL and PnLPercent are
//     nil, never a substituted zero.
func Enrich(pos domain.Position, pointValue float64, pointValueResolved bool, current *float64, broker BrokerReported) domain.EnrichedPosition {
	out := domain.EnrichedPosition{Position: pos}
	if current != nil {
		out.CurrentPrice = current
	}

	var unrealized *float64
	switch {
	case broker.UnrealizedPnL != nil && isFinite(*broker.UnrealizedPnL):
		v := *broker.UnrealizedPnL
		unrealized = &v
	case pointValueResolved && out.CurrentPrice != nil:
		dir := 1.0
		if pos.Side == domain.SideShort {
			dir = -1.0
		}
		v := (*out.CurrentPrice - pos.EntryPrice) * pointValue * pos.Quantity * dir
		unrealized = &v
	}
	out.UnrealizedPnL = unrealized

	if pointValueResolved {
		ev := pos.EntryPrice * pos.Quantity * pointValue
		out.EntryValue = &ev

		if out.CurrentPrice != nil {
			cv := *out.CurrentPrice * pos.Quantity * pointValue
			out.CurrentValue = &cv
		}

		if unrealized != nil && ev != 0 {
			pct := *unrealized / ev * 100
			out.PnLPercent = &pct
		}
	}

	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
