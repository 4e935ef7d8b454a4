// Package bot implements the per-account bot supervisor (C12): a state
// machine that, while RUNNING, feeds quotes and synthesized bars through
// the strategy set (C9), the risk manager (C10), and the order manager
// (C11), recording a BotActivity entry at every step. Grounded in the
// teacher's internal/engine.Impl (single struct composing strategy engine
// + risk manager + order queue + bus), generalized from one global
// composition to one instance per account, and in
// broker/stream.Hub's ConnState-style lifecycle enum for the state
// machine shape itself.
package bot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"topstepx-engine/internal/broker/stream"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/events"
	"topstepx-engine/internal/orders"
	"topstepx-engine/internal/risk"
	"topstepx-engine/internal/strategy"
)

// State is the bot's lifecycle state.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateFailed   State = "FAILED"
)

// activityRingSize bounds the in-memory recent-activity buffer; older
// entries are overwritten rather than grown without bound.
const activityRingSize = 500

// stopDrainTimeout is how long stop() waits for the run loop to notice
// cancellation and exit before the caller gives up waiting on it.
const stopDrainTimeout = 10 * time.Second

// Status is the bot's externally observable snapshot.
type Status struct {
	AccountID      int64
	Running        bool
	BotManaged     bool
	ActiveStrategy string
	State          State
	FailReason     string
	BotHealth      Health
}

// Health is the bot_health snapshot in Status.
type Health struct {
	Verified            bool
	Components          map[string]string // sub-system name -> "ok"/"degraded"
	RecentActivityCount int
}

// Bot supervises one account's strategy/risk/order pipeline.
type Bot struct {
	accountID int64
	config    domain.AccountBotConfig
	symbols   []string

	bus    *events.Bus
	engine *strategy.Engine
	risk   *risk.Manager
	orders *orders.Manager
	agg    *BarAggregator

	mu         sync.RWMutex
	state      State
	failErr    string
	strategies []strategy.Strategy

	activity     []domain.BotActivity
	activityN    int
	activitySink ActivitySink

	cancel context.CancelFunc
	done   chan struct{}
}

// ActivitySink durably records a bot's activity ring entries as they
// occur, so the dashboard's activity feed survives a process restart.
// Satisfied by persistence.ActivityStore; optional (may be nil in Deps).
type ActivitySink interface {
	RecordActivity(accountID int64, a domain.BotActivity)
}

// ActivityLoader seeds a freshly constructed Bot's in-memory ring from
// durable storage, so a restarted bot's Activity() isn't empty until new
// activity accrues. Satisfied by persistence.ActivityStore; optional.
type ActivityLoader interface {
	LoadRecentActivity(accountID int64, limit int) ([]domain.BotActivity, error)
}

// Deps bundles the collaborators a Bot composes, so New's signature stays
// short as the pipeline grows.
type Deps struct {
	Bus      *events.Bus
	Engine   *strategy.Engine
	Risk     *risk.Manager
	Orders   *orders.Manager
	Activity ActivitySink // optional
}

// New builds a Bot and registers its strategy set with the shared
// strategy engine under accountID. gate may be nil, in which case the
// engine defaults to a rule-based (pass-through) gate.
func New(accountID int64, config domain.AccountBotConfig, symbols []string, strategies []strategy.Strategy, gate strategy.Gate, deps Deps) *Bot {
	deps.Engine.Register(accountID, strategies, gate)
	b := &Bot{
		accountID:    accountID,
		config:       config,
		symbols:      symbols,
		strategies:   strategies,
		bus:          deps.Bus,
		engine:       deps.Engine,
		risk:         deps.Risk,
		orders:       deps.Orders,
		agg:          NewBarAggregator(DefaultBarInterval),
		state:        StateStopped,
		activity:     make([]domain.BotActivity, activityRingSize),
		activitySink: deps.Activity,
		done:         make(chan struct{}),
	}
	if loader, ok := deps.Activity.(ActivityLoader); ok {
		if past, err := loader.LoadRecentActivity(accountID, activityRingSize); err == nil {
			b.seedActivity(past)
		} else {
			log.Printf("[bot %d] load persisted activity: %v", accountID, err)
		}
	}
	return b
}

// seedActivity populates the ring from persisted entries (newest first,
// as LoadRecentActivity returns them) so Activity() has history
// immediately after a restart.
func (b *Bot) seedActivity(past []domain.BotActivity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(past) - 1; i >= 0; i-- {
		b.activity[b.activityN%activityRingSize] = past[i]
		b.activityN++
	}
}

// Start transitions STOPPED -> STARTING -> RUNNING and launches the run
// loop. Calling Start while already RUNNING or STARTING is a no-op
// (idempotent), per spec.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateRunning || b.state == StateStarting {
		b.mu.Unlock()
		return nil
	}
	b.state = StateStarting
	b.failErr = ""
	b.done = make(chan struct{})
	b.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	b.engine.Warmup(runCtx, b.accountID)

	quoteCh, unsubscribe := b.bus.Subscribe(events.TopicQuote, 256)

	b.mu.Lock()
	b.state = StateRunning
	b.mu.Unlock()
	b.recordActivity(domain.ActivityBotStarted, "bot started", nil)

	go b.run(runCtx, quoteCh, unsubscribe)
	return nil
}

// Stop transitions RUNNING -> STOPPING -> STOPPED, waiting up to
// stopDrainTimeout for the run loop to drain before returning. Orders
// in-flight at the deadline are neither cancelled nor acked; the caller
// is told via the returned error.
func (b *Bot) Stop() error {
	b.mu.Lock()
	if b.state != StateRunning {
		b.mu.Unlock()
		return nil
	}
	b.state = StateStopping
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
	case <-time.After(stopDrainTimeout):
		b.mu.Lock()
		b.state = StateStopped
		b.mu.Unlock()
		b.recordActivity(domain.ActivityBotStopped, "forced stop after drain timeout; in-flight orders not confirmed", nil)
		return fmt.Errorf("bot %d: forced stop after %s drain timeout", b.accountID, stopDrainTimeout)
	}

	b.mu.Lock()
	b.state = StateStopped
	b.mu.Unlock()
	b.recordActivity(domain.ActivityBotStopped, "bot stopped", nil)
	return nil
}

func (b *Bot) setFailed(reason string) {
	b.mu.Lock()
	b.state = StateFailed
	b.failErr = reason
	b.mu.Unlock()
	log.Printf("[bot %d] FAILED: %s", b.accountID, reason)
}

func (b *Bot) run(ctx context.Context, quoteCh <-chan any, unsubscribe func()) {
	defer close(b.done)
	defer unsubscribe()
	defer b.engine.Shutdown(context.Background())
	defer func() {
		if r := recover(); r != nil {
			b.setFailed(fmt.Sprintf("run loop panic: %v", r))
		}
	}()

	watched := make(map[string]bool, len(b.symbols))
	for _, s := range b.symbols {
		watched[s] = true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-quoteCh:
			if !ok {
				return
			}
			quote, ok := toDomainQuote(payload)
			if !ok || !watched[quote.Symbol] {
				continue
			}
			b.onQuote(ctx, quote)
		}
	}
}

func (b *Bot) onQuote(ctx context.Context, q domain.Quote) {
	b.engine.OnQuote(ctx, b.accountID, q)

	bar, closed := b.agg.Ingest(q)
	if !closed {
		return
	}
	b.engine.OnBar(ctx, b.accountID, *bar)
}

// HandleSignal is the pipeline step from strategy/gate output into risk and
// order submission; called by whoever subscribes to events.TopicSignal for
// this account (main.go's dispatchSignals loop). Kept as an
// exported entry point rather than an internal subscription so a single
// TopicSignal subscriber can fan signals out to the right Bot.
func (b *Bot) HandleSignal(ctx context.Context, sig events.StrategySignal) {
	b.recordActivity(domain.ActivitySignalEmitted, fmt.Sprintf("%s %s confidence=%.2f", sig.Signal.Side, sig.Signal.Symbol, sig.Signal.Confidence), map[string]any{"strategy_id": sig.StrategyID})

	b.risk.MaybeRollSession(b.accountID, time.Now())
	requestedSize := 1.0
	if sizeVal, ok := sig.Signal.Metadata["size"]; ok {
		if f, ok := sizeVal.(float64); ok {
			requestedSize = f
		}
	}

	decision := b.risk.Evaluate(b.accountID, requestedSize, time.Now())
	if !decision.Allowed {
		b.recordActivity(domain.ActivityBlockedByRisk, decision.Reason, nil)
		return
	}
	b.recordActivity(domain.ActivitySignalAccepted, fmt.Sprintf("sized to %.0f contracts", decision.AdjustedSize), nil)

	intent := domain.OrderIntent{
		AccountID:   b.accountID,
		Symbol:      sig.Signal.Symbol,
		Side:        sig.Signal.Side,
		Type:        domain.OrderTypeMarket,
		Qty:         decision.AdjustedSize,
		TIF:         domain.TIFDay,
		ClientNonce: fmt.Sprintf("%d-%s-%d", b.accountID, sig.StrategyID, time.Now().UnixNano()),
	}
	res := b.orders.Place(ctx, intent)
	if !res.IsOk() {
		b.recordActivity(domain.ActivitySignalRejected, res.Err().Error(), nil)
		return
	}
	b.recordActivity(domain.ActivityOrderSubmitted, fmt.Sprintf("order %s submitted", res.Value()), map[string]any{"order_id": res.Value()})
}

func (b *Bot) recordActivity(t domain.ActivityType, msg string, payload map[string]any) {
	entry := domain.BotActivity{
		Type:      t,
		Timestamp: time.Now(),
		Message:   msg,
		Payload:   payload,
	}

	b.mu.Lock()
	b.activity[b.activityN%activityRingSize] = entry
	b.activityN++
	sink := b.activitySink
	b.mu.Unlock()

	if sink != nil {
		sink.RecordActivity(b.accountID, entry)
	}
}

// Activity returns up to limit most-recent activity entries, newest first.
func (b *Bot) Activity(limit int) []domain.BotActivity {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.activityN
	if n > activityRingSize {
		n = activityRingSize
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]domain.BotActivity, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (b.activityN - 1 - i + activityRingSize) % activityRingSize
		out = append(out, b.activity[idx])
	}
	return out
}

// Status returns the bot's current externally observable snapshot.
func (b *Bot) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	active := ""
	if len(b.strategies) > 0 {
		active = b.strategies[0].Name()
	}

	components := map[string]string{
		"strategy_engine": "ok",
		"risk_manager":    "ok",
		"order_manager":   "ok",
	}
	if b.state == StateFailed {
		components["run_loop"] = "degraded"
	}

	n := b.activityN
	if n > activityRingSize {
		n = activityRingSize
	}

	return Status{
		AccountID:      b.accountID,
		Running:        b.state == StateRunning,
		BotManaged:     true,
		ActiveStrategy: active,
		State:          b.state,
		FailReason:     b.failErr,
		BotHealth: Health{
			Verified:            b.state == StateRunning,
			Components:          components,
			RecentActivityCount: n,
		},
	}
}

// toDomainQuote converts the bus's TopicQuote payload (the stream layer's
// wire-shaped stream.QuoteEvent) into the domain type strategies consume.
// A plain domain.Quote is also accepted, for tests that publish one
// directly rather than going through the broker stream client.
func toDomainQuote(payload any) (domain.Quote, bool) {
	switch v := payload.(type) {
	case domain.Quote:
		return v, true
	case stream.QuoteEvent:
		return domain.Quote{
			Symbol:    v.Symbol,
			LastPrice: v.LastPrice,
			Bid:       v.Bid,
			Ask:       v.Ask,
			Timestamp: v.Timestamp,
		}, true
	default:
		return domain.Quote{}, false
	}
}
