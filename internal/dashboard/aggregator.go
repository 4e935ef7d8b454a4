package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"topstepx-engine/internal/accounts"
	"topstepx-engine/internal/broker/stream"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/events"
	"topstepx-engine/internal/result"
	"topstepx-engine/internal/risk"
)

// recentRingSize bounds the in-memory recent-orders/recent-trades
// buffers, which use the same ring indexing as bot.Bot's activity buffer
// (sized separately, by activityRingSize) — there is no broker
// endpoint for "recent terminal orders", so this ring, fed from the bus,
// is the only source for it.
const recentRingSize = 200

// chicagoLocation anchors the "trades today" metric to the America/Chicago
// calendar date, the same date risk.sessionDate computes (the day turns
// at midnight CT, not at the 5pm CT session roll).
var chicagoLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		return time.UTC
	}
	return loc
}()

func accountingDate(t time.Time) string {
	return t.In(chicagoLocation).Format("2006-01-02")
}

// AccountRegistry is the account roster source, implemented by
// accounts.Manager.
type AccountRegistry interface {
	Snapshot() []accounts.StatusResult
}

// PositionSource supplies an account's currently enriched positions,
// implemented by hub.Hub.
type PositionSource interface {
	EnrichedPositions(ctx context.Context, accountID int64) []domain.EnrichedPosition
}

// RiskSource exposes an account's running risk state, implemented by
// risk.Manager.
type RiskSource interface {
	State(accountID int64) *risk.EvaluationState
}

// BrokerSource is the subset of rest.Client the dashboard reads live,
// kept as an interface so this package can be tested without a live
// broker connection.
type BrokerSource interface {
	SearchAccounts(ctx context.Context, onlyActive bool) result.Result[[]domain.Account]
	SearchOpenOrders(ctx context.Context, accountID int64) result.Result[[]domain.Order]
}

// Aggregator builds the dashboard read model (C15) by fanning out to the
// account registry, the hub's position cache, the risk manager, and the
// broker REST client, tolerating any one section failing independently.
// It also subscribes to the bus's order_update/trade_update topics as a
// third independent consumer, following the precedent set by bot.Bot and
// hub.Hub each subscribing to the topics they need directly.
type Aggregator struct {
	accounts  AccountRegistry
	positions PositionSource
	risk      RiskSource
	broker    BrokerSource

	mu            sync.Mutex
	recentOrders  []domain.Order
	recentOrdersN int
	recentTrades  []domain.Trade
	recentTradesN int

	cancel context.CancelFunc
	done   chan struct{}
}

func New(registry AccountRegistry, positions PositionSource, riskSrc RiskSource, broker BrokerSource) *Aggregator {
	return &Aggregator{
		accounts:     registry,
		positions:    positions,
		risk:         riskSrc,
		broker:       broker,
		recentOrders: make([]domain.Order, recentRingSize),
		recentTrades: make([]domain.Trade, recentRingSize),
		done:         make(chan struct{}),
	}
}

// Start subscribes to the order/trade update topics and begins filling
// the recent-activity rings.
func (a *Aggregator) Start(ctx context.Context, bus *events.Bus) {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	orderCh, unsubOrder := bus.Subscribe(events.TopicOrderUpdate, 256)
	tradeCh, unsubTrade := bus.Subscribe(events.TopicTradeUpdate, 256)

	go a.run(runCtx, orderCh, tradeCh, unsubOrder, unsubTrade)
}

// Stop cancels the subscriptions and waits for the run loop to exit.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	<-a.done
}

func (a *Aggregator) run(ctx context.Context, orderCh, tradeCh <-chan any, unsubOrder, unsubTrade func()) {
	defer close(a.done)
	defer unsubOrder()
	defer unsubTrade()

	for {
		select {
		case <-ctx.Done():
			return

		case payload, ok := <-orderCh:
			if !ok {
				return
			}
			if o, isOrder := payload.(stream.OrderEvent); isOrder {
				order := o.ToDomain()
				switch order.Status {
				case domain.OrderFilled, domain.OrderCancelled, domain.OrderRejected:
					a.recordOrder(order)
				}
			}

		case payload, ok := <-tradeCh:
			if !ok {
				return
			}
			if t, isTrade := payload.(stream.TradeEvent); isTrade {
				a.recordTrade(t.ToDomain())
			}
		}
	}
}

func (a *Aggregator) recordOrder(o domain.Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recentOrders[a.recentOrdersN%recentRingSize] = o
	a.recentOrdersN++
}

func (a *Aggregator) recordTrade(t domain.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recentTrades[a.recentTradesN%recentRingSize] = t
	a.recentTradesN++
}

// RecentOrders returns up to limit most-recent terminal orders, newest
// first, optionally filtered to one account (accountID == 0 means all
// accounts). Exposed for C16's GET /api/trading/previous-orders/{id},
// since no broker endpoint serves this.
func (a *Aggregator) RecentOrders(accountID int64, limit int) []domain.Order {
	all := a.recentOrdersSnapshot(0)
	out := make([]domain.Order, 0, len(all))
	for _, o := range all {
		if accountID != 0 && o.AccountID != accountID {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// RecentTrades returns up to limit most-recent trades, newest first,
// optionally filtered to one account (accountID == 0 means all accounts).
func (a *Aggregator) RecentTrades(accountID int64, limit int) []domain.Trade {
	all := a.recentTradesSnapshot(0)
	out := make([]domain.Trade, 0, len(all))
	for _, t := range all {
		if accountID != 0 && t.AccountID != accountID {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// recentOrdersSnapshot returns up to limit most-recent orders, newest first.
func (a *Aggregator) recentOrdersSnapshot(limit int) []domain.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.recentOrdersN
	if n > recentRingSize {
		n = recentRingSize
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Order, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (a.recentOrdersN - 1 - i + recentRingSize) % recentRingSize
		out = append(out, a.recentOrders[idx])
	}
	return out
}

// recentTradesSnapshot returns up to limit most-recent trades, newest first.
func (a *Aggregator) recentTradesSnapshot(limit int) []domain.Trade {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.recentTradesN
	if n > recentRingSize {
		n = recentRingSize
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Trade, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (a.recentTradesN - 1 - i + recentRingSize) % recentRingSize
		out = append(out, a.recentTrades[idx])
	}
	return out
}

// State builds the dashboard read model. Every broker-facing sub-fetch
// degrades independently per spec.md §4.15: a failed fetch leaves its
// data empty and records an error string rather than failing the whole
// response.
func (a *Aggregator) State(ctx context.Context) State {
	managed := a.accounts.Snapshot()

	var px ProjectXSection
	accountIDs := make(map[int64]bool, len(managed))
	for _, s := range managed {
		accountIDs[s.AccountID] = true
	}

	if a.broker != nil {
		res := a.broker.SearchAccounts(ctx, false)
		if res.IsOk() {
			px.Accounts = res.Value()
			for _, acct := range px.Accounts {
				accountIDs[acct.ID] = true
			}
		} else {
			px.AccountsError = res.Err().Error()
		}
	}

	var positions []domain.EnrichedPosition
	if a.positions != nil {
		for id := range accountIDs {
			positions = append(positions, a.positions.EnrichedPositions(ctx, id)...)
		}
	}
	px.Positions = positions

	var openOrders []domain.Order
	var openErrs []string
	if a.broker != nil {
		for id := range accountIDs {
			res := a.broker.SearchOpenOrders(ctx, id)
			if res.IsOk() {
				openOrders = append(openOrders, res.Value()...)
			} else {
				openErrs = append(openErrs, fmt.Sprintf("account %d: %s", id, res.Err()))
			}
		}
	}
	px.Orders.Open = openOrders
	if len(openErrs) > 0 {
		px.Orders.OpenError = strings.Join(openErrs, "; ")
	}
	px.Orders.Recent = a.RecentOrders(0, 50)
	px.Trades = a.RecentTrades(0, 50)

	return State{
		Accounts:  managed,
		ProjectX:  px,
		Metrics:   a.computeMetrics(managed, positions, openOrders, px.Trades),
		Timestamp: time.Now(),
	}
}

func (a *Aggregator) computeMetrics(managed []accounts.StatusResult, positions []domain.EnrichedPosition, openOrders []domain.Order, trades []domain.Trade) Metrics {
	var dailyPnL, drawdown float64
	var running int
	for _, s := range managed {
		if s.Code == accounts.StatusManaged && s.Bot != nil && s.Bot.Running {
			running++
		}
		if a.risk == nil {
			continue
		}
		st := a.risk.State(s.AccountID)
		if st == nil {
			continue
		}
		dailyPnL += st.RealizedPnLToday
		if dd := st.PeakEquity - st.Equity(); dd > 0 {
			drawdown += dd
		}
	}

	today := accountingDate(time.Now())
	var tradesToday, wins int
	for _, t := range trades {
		if accountingDate(t.Timestamp) != today {
			continue
		}
		tradesToday++
		if t.ProfitLoss > 0 {
			wins++
		}
	}
	var winRate float64
	if tradesToday > 0 {
		winRate = float64(wins) / float64(tradesToday)
	}

	return Metrics{
		DailyPnL:        dailyPnL,
		WinRate:         winRate,
		Drawdown:        drawdown,
		TradesToday:     tradesToday,
		OpenPositions:   len(positions),
		PendingOrders:   len(openOrders),
		RunningAccounts: running,
	}
}
