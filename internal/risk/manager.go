package risk

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"topstepx-engine/internal/domain"
)

// Manager holds one EvaluationState per account and evaluates proposed
// trades against it. Grounded in the teacher's MultiUserManager registry
// (userID -> *Manager map, lazy GetOrCreate), generalized from a per-user
// config registry to a per-account evaluation-state registry since this
// domain's risk rules are fixed by the prop-firm tier, not configurable
// per user.
type Manager struct {
	mu     sync.RWMutex
	states map[int64]*EvaluationState

	watermarks WatermarkSink // optional, may be nil
}

// Watermark is the subset of EvaluationState that must survive a
// restart: without it, a process restart mid-session silently resets an
// account's daily loss limit and trailing drawdown tracking.
type Watermark struct {
	SessionHighWaterEquity float64
	RealizedPnLToday       float64
	CumulativeProfit       float64
	PeakEquity             float64
	LastResetDate          string
}

// WatermarkSink durably persists an account's risk watermark whenever it
// changes. Satisfied by persistence.ActivityStore; optional.
type WatermarkSink interface {
	SaveWatermark(accountID int64, w Watermark)
}

// WatermarkLoader reads back a previously persisted watermark.
// Satisfied by persistence.ActivityStore; optional.
type WatermarkLoader interface {
	LoadWatermark(accountID int64) (Watermark, bool, error)
}

func NewManager() *Manager {
	return &Manager{states: make(map[int64]*EvaluationState)}
}

// SetWatermarkSink wires a durable store for the risk watermark. Call
// before Register so a restored watermark (via WatermarkLoader, if the
// sink implements it) is applied from the start rather than overwritten
// by Register's startingEquity seed.
func (m *Manager) SetWatermarkSink(sink WatermarkSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks = sink
}

// persistWatermarkLocked pushes st's current watermark fields to the
// sink, if one is wired. Caller holds m.mu.
func (m *Manager) persistWatermarkLocked(st *EvaluationState) {
	if m.watermarks == nil {
		return
	}
	m.watermarks.SaveWatermark(st.AccountID, Watermark{
		SessionHighWaterEquity: st.SessionHighWaterEquity,
		RealizedPnLToday:       st.RealizedPnLToday,
		CumulativeProfit:       st.CumulativeProfit,
		PeakEquity:             st.PeakEquity,
		LastResetDate:          st.LastResetDate,
	})
}

// Register seeds an account's evaluation state. startingEquity is the
// account balance at evaluation start (or at Register time, for an
// already-running account being adopted).
func (m *Manager) Register(accountID int64, stage domain.AccountStage, size domain.AccountSize, startingEquity float64) *EvaluationState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &EvaluationState{
		AccountID:              accountID,
		Stage:                  stage,
		Size:                   size,
		StartingEquity:         startingEquity,
		PeakEquity:             startingEquity,
		SessionHighWaterEquity: startingEquity,
		DailyPnLHistory:        make(map[string]float64),
		LastResetDate:          sessionDate(time.Now()),
	}
	m.states[accountID] = st

	if loader, ok := m.watermarks.(WatermarkLoader); ok {
		if w, found, err := loader.LoadWatermark(accountID); err == nil && found {
			st.SessionHighWaterEquity = w.SessionHighWaterEquity
			st.RealizedPnLToday = w.RealizedPnLToday
			st.CumulativeProfit = w.CumulativeProfit
			if w.PeakEquity > st.PeakEquity {
				st.PeakEquity = w.PeakEquity
			}
			if w.LastResetDate != "" {
				st.LastResetDate = w.LastResetDate
			}
		} else if err != nil {
			log.Printf("[risk] account %d load persisted watermark: %v", accountID, err)
		}
	}
	return st
}

// State returns the evaluation state for an account, or nil if unregistered.
func (m *Manager) State(accountID int64) *EvaluationState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[accountID]
}

// Unregister drops an account's evaluation state (bot stopped/removed).
func (m *Manager) Unregister(accountID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, accountID)
}

// sessionDate returns t's calendar date anchored to America/Chicago.
func sessionDate(t time.Time) string {
	return t.In(sessionLocation).Format("2006-01-02")
}

// MaybeRollSession resets an account's intraday counters if the futures
// daily boundary (5pm CT) has passed since the last reset. Call this
// ahead of every evaluation; it is a no-op within the same session.
func (m *Manager) MaybeRollSession(accountID int64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[accountID]
	if !ok {
		return
	}

	local := now.In(sessionLocation)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), sessionResetHour, 0, 0, 0, sessionLocation)
	if local.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	currentSession := boundary.Format("2006-01-02")
	if st.LastResetDate == currentSession {
		return
	}

	prevDate := sessionDate(now.Add(-12 * time.Hour))
	st.DailyPnLHistory[prevDate] = st.RealizedPnLToday

	log.Printf("[risk] account %d session reset: prev day PnL=%.2f", accountID, st.RealizedPnLToday)

	st.RealizedPnLToday = 0
	st.SessionHighWaterEquity = st.Equity()
	st.ConsecutiveLosses = 0
	st.LastResetDate = currentSession
	defer m.persistWatermarkLocked(st)

	if !st.Blocked {
		return
	}
	if st.BlockedUntil.IsZero() || now.Before(st.BlockedUntil) {
		return
	}
	st.Blocked = false
	st.BlockReason = ""
}

// IsSessionCutoff reports whether now is at or past the 3:10pm CT cutoff
// for the session that contains now.
func IsSessionCutoff(now time.Time) bool {
	local := now.In(sessionLocation)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), sessionCutoffHour, sessionCutoffMinute, 0, 0, sessionLocation)
	return !local.Before(cutoff)
}

// RecordFill updates an account's realized-PnL and drawdown bookkeeping
// after a trade closes, and evaluates the hard-reject rules. Call this
// immediately after every fill, not just before new entries: a DLL/MDD
// breach must flatten the account even with no new signal pending.
func (m *Manager) RecordFill(accountID int64, pnl float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[accountID]
	if !ok {
		return
	}
	defer m.persistWatermarkLocked(st)

	st.RealizedPnLToday += pnl
	st.CumulativeProfit += pnl
	if pnl < 0 {
		st.ConsecutiveLosses++
	} else if pnl > 0 {
		st.ConsecutiveLosses = 0
	}

	equity := st.Equity()
	if equity > st.PeakEquity {
		st.PeakEquity = equity
	}
	if equity > st.SessionHighWaterEquity {
		st.SessionHighWaterEquity = equity
	}

	m.checkHardRejectsLocked(st, now)
}

// checkHardRejectsLocked evaluates DLL and trailing MDD against current
// state and sets Blocked if either is breached. Caller holds m.mu.
func (m *Manager) checkHardRejectsLocked(st *EvaluationState, now time.Time) {
	tier, ok := st.Tier()
	if !ok {
		return
	}

	if st.RealizedPnLToday <= -(tier.DLLUSD - dllBuffer) {
		st.Blocked = true
		st.BlockReason = fmt.Sprintf("daily loss limit breached: %.2f <= -%.2f", st.RealizedPnLToday, tier.DLLUSD-dllBuffer)
		log.Printf("[risk] account %d blocked: %s", st.AccountID, st.BlockReason)
		return
	}

	equity := st.Equity()
	drawdown := st.PeakEquity - equity
	if drawdown >= tier.MDDUSD {
		st.Blocked = true
		st.BlockReason = fmt.Sprintf("trailing max drawdown breached: %.2f >= %.2f", drawdown, tier.MDDUSD)
		log.Printf("[risk] account %d blocked: %s", st.AccountID, st.BlockReason)
	}
}

// Evaluate decides whether a proposed order intent may proceed, applying
// (in order) the block flag, the session cutoff, the consistency rule,
// and per-trade sizing. A caller that gets Allowed=false for the cutoff
// or a hard block should flatten the account, not just reject this order.
func (m *Manager) Evaluate(accountID int64, requestedSize float64, now time.Time) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[accountID]
	if !ok {
		return Decision{Allowed: false, Reason: "account not registered with risk manager"}
	}

	if st.Blocked {
		return Decision{Allowed: false, Reason: st.BlockReason}
	}

	if IsSessionCutoff(now) {
		return Decision{Allowed: false, Reason: "past 3:10pm CT session cutoff; no new entries"}
	}

	if reason, blocked := m.checkConsistencyLocked(st); blocked {
		return Decision{Allowed: false, Reason: reason}
	}

	size := m.boundedSizeLocked(st, requestedSize)
	if size <= 0 {
		return Decision{Allowed: false, Reason: "sized-down order rounds to zero contracts"}
	}
	return Decision{Allowed: true, AdjustedSize: size}
}

// checkConsistencyLocked enforces the post-pass consistency rule: once
// cumulative profit has crossed the tier's profit target, no single day's
// PnL may exceed 50% of cumulative profit. Before the profit target is
// reached the rule is tracked but never blocks, since penalizing
// concentration during the combine (rather than at evaluation's finish
// line, where the rule's actual purpose lies) would reject valid trading.
func (m *Manager) checkConsistencyLocked(st *EvaluationState) (string, bool) {
	tier, ok := st.Tier()
	if !ok || st.CumulativeProfit < tier.ProfitTargetUSD {
		return "", false
	}

	bestDay := st.RealizedPnLToday
	for _, pnl := range st.DailyPnLHistory {
		if pnl > bestDay {
			bestDay = pnl
		}
	}
	if bestDay <= 0 || st.CumulativeProfit <= 0 {
		return "", false
	}
	if bestDay > 0.5*st.CumulativeProfit {
		return fmt.Sprintf("consistency rule: best day %.2f exceeds 50%% of cumulative profit %.2f", bestDay, st.CumulativeProfit), true
	}
	return "", false
}

// boundedSizeLocked applies the 1.5%-of-account-size sizing rule, rounds
// down to whole contracts, and bounds by the tier's max-contracts cap.
//
// PerTradeSizePct*StartingEquity is a dollar risk budget, not a contract
// count, so it has to be divided by a per-contract dollar risk before it
// means anything in contracts. Order intents don't carry a per-contract
// risk figure (no stop-distance/tick-value is plumbed this far), so this
// derives one from the tier's own published numbers: DLLUSD/MaxContracts
// is the per-contract risk the tier's max size already assumes a trader
// takes in one day. That keeps the rule self-contained in SizeTier and
// makes it bind below tier.MaxContracts at every size tier instead of
// dwarfing it (e.g. 50k: 1000/5=$200/contract, so the 1.5% budget caps at
// 3 contracts, not the 5 the tier alone would allow).
func (m *Manager) boundedSizeLocked(st *EvaluationState, requestedSize float64) float64 {
	tier, ok := st.Tier()
	if !ok {
		return math.Floor(requestedSize)
	}

	size := requestedSize
	if tier.MaxContracts > 0 {
		perContractRiskUSD := tier.DLLUSD / tier.MaxContracts
		maxBySizingRule := math.Floor(st.StartingEquity * PerTradeSizePct / perContractRiskUSD)
		if size > maxBySizingRule {
			size = maxBySizingRule
		}
	}
	if size > tier.MaxContracts {
		size = tier.MaxContracts
	}
	return math.Floor(size)
}
