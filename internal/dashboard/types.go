// Package dashboard implements the dashboard state aggregator (C15): the
// single read model that collapses managed accounts, broker-reported
// accounts, enriched positions, open/recent orders, recent trades, and a
// metrics roll-up into one response for UI polling. Grounded in the
// teacher's internal/monitor.SystemMetrics.GetSnapshot, which assembles a
// MetricsSnapshot from several independently-updated sub-sources (gateway
// pool stats, latency histograms, counters) and tolerates any one of them
// being stale rather than failing the whole snapshot.
package dashboard

import (
	"time"

	"topstepx-engine/internal/accounts"
	"topstepx-engine/internal/domain"
)

// State is the /api/dashboard/state response shape (spec.md §4.15).
type State struct {
	Accounts  []accounts.StatusResult `json:"accounts"`
	ProjectX  ProjectXSection         `json:"projectx"`
	Metrics   Metrics                 `json:"metrics"`
	Timestamp time.Time               `json:"timestamp"`
}

// ProjectXSection is the broker-facing half of the read model. Each
// sub-fetch degrades independently: a failed fetch leaves its data field
// empty (or nil) and sets the paired *_error string, rather than failing
// the whole response.
type ProjectXSection struct {
	Accounts      []domain.Account          `json:"accounts"`
	AccountsError string                    `json:"accounts_error,omitempty"`
	Positions     []domain.EnrichedPosition `json:"positions"`
	Orders        OrdersSection             `json:"orders"`
	Trades        []domain.Trade            `json:"trades"`
}

// OrdersSection splits currently-open orders (fetched live from the
// broker) from recently-terminal orders (no broker endpoint exists for
// this; sourced from the order_update bus topic, see Aggregator.recentOrders).
type OrdersSection struct {
	Open      []domain.Order `json:"open"`
	OpenError string         `json:"open_error,omitempty"`
	Recent    []domain.Order `json:"recent"`
}

// Metrics is the 7-field roll-up spec.md §4.15 names, plus the
// SPEC_FULL.md §3.5 bot_health.components roll-up is carried per-account
// inside Accounts[i].Bot.BotHealth rather than duplicated here.
type Metrics struct {
	DailyPnL        float64 `json:"daily_pnl"`
	WinRate         float64 `json:"win_rate"`
	Drawdown        float64 `json:"drawdown"`
	TradesToday     int     `json:"trades_today"`
	OpenPositions   int     `json:"open_positions"`
	PendingOrders   int     `json:"pending_orders"`
	RunningAccounts int     `json:"running_accounts"`
}

// AnySectionSucceeded reports whether at least one broker-facing
// sub-fetch produced data, the condition spec.md §4.15 ties the
// top-level 200 status to.
func (s State) AnySectionSucceeded() bool {
	return s.ProjectX.AccountsError == "" || s.ProjectX.Orders.OpenError == ""
}
