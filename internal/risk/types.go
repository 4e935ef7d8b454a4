// Package risk implements the prop-firm evaluation risk manager (C10):
// per-account daily loss limit, trailing max drawdown, the post-pass
// consistency rule, the 3:10pm CT session cutoff, and per-trade sizing
// bounded by a scaling-plan table. Grounded in the teacher's
// internal/risk package (RiskConfig/RiskDecision shape, per-user manager
// registry), generalized from crypto spot/futures percentage-of-notional
// risk to Topstep's fixed-dollar evaluation rules.
package risk

import (
	"time"

	"topstepx-engine/internal/domain"
)

// SizeTier is the bounds one account-size tier trades under, per
// Topstep's published combine parameters.
type SizeTier struct {
	MaxContracts    float64
	DLLUSD          float64 // Daily Loss Limit
	MDDUSD          float64 // trailing Max Drawdown
	ProfitTargetUSD float64
}

// ScalingPlan is the {50k,100k,150k} sizing table spec.md §4.10 names but
// leaves unvalued; these are Topstep's published combine figures.
var ScalingPlan = map[domain.AccountSize]SizeTier{
	domain.Size50k:  {MaxContracts: 5, DLLUSD: 1000, MDDUSD: 2000, ProfitTargetUSD: 3000},
	domain.Size100k: {MaxContracts: 10, DLLUSD: 2000, MDDUSD: 3000, ProfitTargetUSD: 6000},
	domain.Size150k: {MaxContracts: 15, DLLUSD: 3000, MDDUSD: 4500, ProfitTargetUSD: 9000},
}

// dllBuffer is subtracted from -DLL before the hard reject fires, giving
// the bot a margin to flatten before actually breaching the limit.
const dllBuffer = 50.0

// PerTradeSizePct is the per-trade sizing rule: 1.5% of account size,
// rounded down to contract granularity and bounded by the scaling table.
const PerTradeSizePct = 0.015

// sessionLocation anchors all session/cutoff math to the futures trading
// day, per spec.md §4.10.
var sessionLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// sessionCutoffHour/Minute is 3:10 PM CT: cancel all resting orders, close
// all positions.
const (
	sessionCutoffHour   = 15
	sessionCutoffMinute = 10
)

// sessionResetHour is 5:00 PM CT, the futures daily boundary.
const sessionResetHour = 17

// EvaluationState is one account's running risk state, reset at the
// session boundary (5pm CT) except for the fields explicitly marked
// cumulative across the whole evaluation.
type EvaluationState struct {
	AccountID int64
	Stage     domain.AccountStage
	Size      domain.AccountSize

	StartingEquity float64 // evaluation-start balance, never resets
	PeakEquity     float64 // cumulative all-time high, never resets

	SessionHighWaterEquity float64 // resets at session boundary
	RealizedPnLToday       float64 // resets at session boundary
	OpenRisk               float64 // sum of live stop-loss exposure
	ConsecutiveLosses      int

	CumulativeProfit float64            // realized, since evaluation start
	DailyPnLHistory  map[string]float64 // date (America/Chicago, YYYY-MM-DD) -> realized PnL that day

	Blocked      bool
	BlockedUntil time.Time // zero means blocked until explicit reset
	BlockReason  string

	LastResetDate string // YYYY-MM-DD, America/Chicago
}

// Equity returns starting equity plus cumulative realized PnL.
func (s *EvaluationState) Equity() float64 {
	return s.StartingEquity + s.CumulativeProfit
}

// Decision is the outcome of a risk evaluation for one proposed trade.
type Decision struct {
	Allowed      bool
	Reason       string
	AdjustedSize float64
}

// Tier returns the scaling-plan bounds for this account's size, or the
// zero value if the size is unrecognized (callers should treat that as
// "no sizing information available" rather than "unlimited").
func (s *EvaluationState) Tier() (SizeTier, bool) {
	t, ok := ScalingPlan[s.Size]
	return t, ok
}
