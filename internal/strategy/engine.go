package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/events"
)

// StateStore persists a strategy's serialized state across restarts, keyed
// by strategy ID. Implementations are expected to be safe for concurrent use.
type StateStore interface {
	LoadState(ctx context.Context, strategyID string) (json.RawMessage, bool, error)
	SaveState(ctx context.Context, strategyID string, data json.RawMessage) error
}

// botSet is one account's composed strategies and gate.
type botSet struct {
	accountID  int64
	strategies []Strategy
	gate       Gate
	paused     map[string]bool
}

// Engine fans bars and quotes out to every enabled bot's strategy set,
// applies that bot's gate, and publishes surviving signals onto the bus.
// Grounded in the teacher's single global strategy-list engine, generalized
// from one shared list to a per-account composition since each bot carries
// its own ai_agent_type and enabled_strategies.
type Engine struct {
	mu    sync.RWMutex
	sets  map[int64]*botSet
	bus   *events.Bus
	store StateStore
}

func NewEngine(bus *events.Bus, store StateStore) *Engine {
	return &Engine{
		sets:  make(map[int64]*botSet),
		bus:   bus,
		store: store,
	}
}

// Register composes a bot's strategy set and gate. Replaces any prior
// composition for the same account.
func (e *Engine) Register(accountID int64, strategies []Strategy, gate Gate) {
	if gate == nil {
		gate = RuleBasedGate{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sets[accountID] = &botSet{
		accountID:  accountID,
		strategies: strategies,
		gate:       gate,
		paused:     make(map[string]bool),
	}
}

// Unregister removes a bot's strategy set entirely (bot stopped).
func (e *Engine) Unregister(accountID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sets, accountID)
}

// Warmup restores persisted state for every strategy in a bot's set, ahead
// of feeding it live bars. A missing or corrupt state entry is not fatal:
// the strategy just starts cold.
func (e *Engine) Warmup(ctx context.Context, accountID int64) {
	if e.store == nil {
		return
	}
	e.mu.RLock()
	set, ok := e.sets[accountID]
	e.mu.RUnlock()
	if !ok {
		return
	}
	for _, s := range set.strategies {
		data, found, err := e.store.LoadState(ctx, s.ID())
		if err != nil {
			log.Printf("strategy %s: state load error: %v", s.ID(), err)
			continue
		}
		if !found {
			continue
		}
		if err := s.SetState(data); err != nil {
			log.Printf("strategy %s: state restore error: %v", s.ID(), err)
		}
	}
}

// PauseStrategy stops a single strategy from emitting signals without
// removing it from the set (state keeps updating on OnBar/OnQuote).
func (e *Engine) PauseStrategy(accountID int64, strategyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set, ok := e.sets[accountID]; ok {
		set.paused[strategyID] = true
	}
}

func (e *Engine) ResumeStrategy(accountID int64, strategyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set, ok := e.sets[accountID]; ok {
		delete(set.paused, strategyID)
	}
}

// StrategyIDs returns the ids of every strategy registered for accountID,
// regardless of pause state.
func (e *Engine) StrategyIDs(accountID int64) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set, ok := e.sets[accountID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set.strategies))
	for _, s := range set.strategies {
		ids = append(ids, s.ID())
	}
	return ids
}

// ActivateOnly resumes target and pauses every other strategy registered
// for accountID, implementing the single-active-strategy semantics POST
// /api/strategies/{id}/activate exposes. Returns an error if target is not
// one of accountID's registered strategies.
func (e *Engine) ActivateOnly(accountID int64, target string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.sets[accountID]
	if !ok {
		return fmt.Errorf("account %d has no registered strategy set", accountID)
	}
	found := false
	for _, s := range set.strategies {
		if s.ID() == target {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("strategy %q is not registered for account %d", target, accountID)
	}
	for _, s := range set.strategies {
		if s.ID() == target {
			delete(set.paused, s.ID())
		} else {
			set.paused[s.ID()] = true
		}
	}
	return nil
}

// OnBar feeds one bar to every strategy registered for accountID, applies
// the bot's gate to any emitted signal, and publishes survivors. Signals
// are critical events: a bot that cannot place its own trades is worse than
// a disconnected market-data feed, so publication blocks rather than drops.
func (e *Engine) OnBar(ctx context.Context, accountID int64, bar domain.Bar) {
	e.mu.RLock()
	set, ok := e.sets[accountID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	for _, s := range set.strategies {
		if set.paused[s.ID()] {
			continue
		}
		sig, err := s.OnBar(bar)
		if err != nil {
			log.Printf("strategy %s error: %v", s.Name(), err)
			continue
		}
		e.emit(ctx, set, s, sig)
	}
}

// OnQuote feeds one quote to every strategy registered for accountID.
func (e *Engine) OnQuote(ctx context.Context, accountID int64, quote domain.Quote) {
	e.mu.RLock()
	set, ok := e.sets[accountID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	for _, s := range set.strategies {
		if set.paused[s.ID()] {
			continue
		}
		sig, err := s.OnQuote(quote)
		if err != nil {
			log.Printf("strategy %s error: %v", s.Name(), err)
			continue
		}
		e.emit(ctx, set, s, sig)
	}
}

func (e *Engine) emit(ctx context.Context, set *botSet, s Strategy, sig *domain.Signal) {
	if sig == nil {
		return
	}
	gated, err := set.gate.Apply(ctx, sig)
	if err != nil {
		log.Printf("strategy %s: gate error: %v", s.Name(), err)
		return
	}
	if gated == nil {
		return
	}
	if err := e.bus.PublishCritical(ctx, events.TopicSignal, events.StrategySignal{
		AccountID:  set.accountID,
		StrategyID: s.ID(),
		Signal:     *gated,
	}); err != nil {
		log.Printf("strategy %s: signal publish failed: %v", s.Name(), err)
	}
}

// Shutdown persists every registered strategy's state. Call on graceful exit.
func (e *Engine) Shutdown(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, set := range e.sets {
		for _, s := range set.strategies {
			data, err := s.GetState()
			if err != nil {
				log.Printf("strategy %s: state save error: %v", s.ID(), err)
				continue
			}
			if err := e.store.SaveState(ctx, s.ID(), data); err != nil {
				log.Printf("strategy %s: state persist error: %v", s.ID(), err)
			}
		}
	}
}
