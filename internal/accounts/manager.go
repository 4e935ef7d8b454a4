package accounts

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"topstepx-engine/internal/bot"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/strategy"
)

// StrategyFactory builds the strategy set, watched symbols, and gate a
// bot runs with from its operator-authored config. Kept as an injected
// function, following the teacher's GatewayFactory pattern in
// internal/gateway.Manager, so this package stays ignorant of concrete
// strategy implementations (MACrossStrategy, RSIStrategy, ...).
type StrategyFactory func(config domain.AccountBotConfig) ([]strategy.Strategy, []string, strategy.Gate, error)

type entry struct {
	config domain.AccountBotConfig
	bot    *bot.Bot
}

// Manager holds the account_id -> Bot mapping and the broker-known
// account set. Mutations are serialized by a single RWMutex, mirroring
// gateway.Manager's registry lock rather than per-account sharding —
// bot lifecycle operations are infrequent (operator-driven), so a single
// lock is sufficient and simpler.
type Manager struct {
	mu          sync.RWMutex
	bots        map[int64]*entry
	brokerKnown map[int64]bool

	deps    bot.Deps
	factory StrategyFactory
	store   ConfigStore
}

func NewManager(deps bot.Deps, factory StrategyFactory, store ConfigStore) *Manager {
	return &Manager{
		bots:        make(map[int64]*entry),
		brokerKnown: make(map[int64]bool),
		deps:        deps,
		factory:     factory,
		store:       store,
	}
}

// SetBrokerAccounts replaces the set of accounts the broker reports under
// this API key (refreshed periodically from Account/search, C4).
func (m *Manager) SetBrokerAccounts(accounts []domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brokerKnown = make(map[int64]bool, len(accounts))
	for _, a := range accounts {
		m.brokerKnown[a.ID] = true
	}
}

// Add writes config and creates a Bot without starting it. Calling Add
// again for an account_id already configured replaces its bot with a
// freshly constructed one (the prior bot is stopped first).
func (m *Manager) Add(config domain.AccountBotConfig) error {
	strategies, symbols, gate, err := m.factory(config)
	if err != nil {
		return fmt.Errorf("account %d: build strategy set: %w", config.AccountID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.bots[config.AccountID]; ok {
		_ = prior.bot.Stop()
	}

	b := bot.New(config.AccountID, config, symbols, strategies, gate, m.deps)
	m.bots[config.AccountID] = &entry{config: config, bot: b}

	if m.store != nil {
		data, err := yaml.Marshal(config)
		if err != nil {
			return fmt.Errorf("account %d: marshal config: %w", config.AccountID, err)
		}
		if err := m.store.SaveConfig(config.AccountID, data); err != nil {
			return fmt.Errorf("account %d: persist config: %w", config.AccountID, err)
		}
	}
	return nil
}

// Remove stops and drops an account's bot entirely.
func (m *Manager) Remove(accountID int64) error {
	m.mu.Lock()
	e, ok := m.bots[accountID]
	if ok {
		delete(m.bots, accountID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return e.bot.Stop()
}

// Start starts a configured account's bot.
func (m *Manager) Start(ctx context.Context, accountID int64) error {
	m.mu.RLock()
	e, ok := m.bots[accountID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("account %d: not configured", accountID)
	}
	return e.bot.Start(ctx)
}

// Stop stops a configured account's bot.
func (m *Manager) Stop(accountID int64) error {
	m.mu.RLock()
	e, ok := m.bots[accountID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("account %d: not configured", accountID)
	}
	return e.bot.Stop()
}

// Status implements the three-way /status distinction spec.md §4.13 names.
func (m *Manager) Status(accountID int64) StatusResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked(accountID)
}

func (m *Manager) statusLocked(accountID int64) StatusResult {
	if !m.brokerKnown[accountID] {
		return StatusResult{AccountID: accountID, Code: StatusNotFound}
	}
	e, ok := m.bots[accountID]
	if !ok {
		return StatusResult{AccountID: accountID, Code: StatusUnmanaged, BotManaged: false}
	}
	st := e.bot.Status()
	return StatusResult{AccountID: accountID, Code: StatusManaged, BotManaged: true, Bot: &st}
}

// Snapshot returns a StatusResult for every account known to either the
// broker or the configured-bot registry, for the dashboard aggregator
// (C15) to roll up without querying one account_id at a time.
func (m *Manager) Snapshot() []StatusResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[int64]bool, len(m.brokerKnown)+len(m.bots))
	for id := range m.brokerKnown {
		seen[id] = true
	}
	for id := range m.bots {
		seen[id] = true
	}

	out := make([]StatusResult, 0, len(seen))
	for id := range seen {
		out = append(out, m.statusLocked(id))
	}
	return out
}

// Activity returns the configured account's recent bot activity, or nil
// if the account has no bot.
func (m *Manager) Activity(accountID int64, limit int) []domain.BotActivity {
	m.mu.RLock()
	e, ok := m.bots[accountID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return e.bot.Activity(limit)
}

// LoadConfigs hydrates the registry from the ConfigStore at startup,
// calling Add for every persisted config. A per-account build error is
// collected and returned rather than aborting the remaining accounts, so
// one malformed config does not block the rest of the fleet from coming
// up managed.
func (m *Manager) LoadConfigs() error {
	if m.store == nil {
		return nil
	}
	raw, err := m.store.LoadAllConfigs()
	if err != nil {
		return fmt.Errorf("load account configs: %w", err)
	}

	var errs []error
	for accountID, data := range raw {
		var config domain.AccountBotConfig
		if err := yaml.Unmarshal(data, &config); err != nil {
			errs = append(errs, fmt.Errorf("account %d: unmarshal config: %w", accountID, err))
			continue
		}
		if err := m.Add(config); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("load account configs: %d of %d failed: %w", len(errs), len(raw), errs[0])
	}
	return nil
}

// Bot returns the account's Bot, or nil if unconfigured. Exposed so the
// events.TopicSignal dispatch loop (main.go) can route a signal straight
// into Bot.HandleSignal by AccountID, per spec.md §5's per-account
// serial ordering guarantee, without this package taking its own bus
// dependency.
func (m *Manager) Bot(accountID int64) *bot.Bot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.bots[accountID]
	if !ok {
		return nil
	}
	return e.bot
}
