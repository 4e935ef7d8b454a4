// Package strategy implements the strategy set + ML gate (C9): a
// polymorphic Strategy interface over bars and quotes, and the three gate
// behaviors (rule_based, ml_confirmation, rl_agent) a bot composes with
// its strategies. Grounded in the teacher's internal/strategy package
// (Strategy interface, MA-cross/RSI implementations, GetState/SetState
// persistence), generalized from a crypto ticker-only OnTick to the
// spec's bar-and-quote capability set.
package strategy

import (
	"encoding/json"

	"topstepx-engine/internal/domain"
)

// Strategy is a polymorphic signal source. A strategy need not act on
// every bar or quote; returning a nil Signal means no opinion this tick.
type Strategy interface {
	ID() string
	Name() string
	WarmupBars() int
	OnBar(bar domain.Bar) (*domain.Signal, error)
	OnQuote(q domain.Quote) (*domain.Signal, error)
	GetState() (json.RawMessage, error)
	SetState(data json.RawMessage) error
}
