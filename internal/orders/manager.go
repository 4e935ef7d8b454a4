// Package orders implements the order manager (C11): translates a
// normalized OrderIntent into broker payloads, resolves symbols via the
// contract registry, and provides a place/cancel/modify/flatten surface
// over the REST client, with Place idempotent per client nonce. Grounded in the teacher's
// internal/order.Executor (persist-then-submit shape, event publication
// on submit/accept/reject), generalized from Binance's multi-gateway
// routing (spot/usdt-fut/coin-fut) to this engine's single broker gateway
// plus the idempotency-nonce requirement spec.md §4.11 adds.
package orders

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/result"
)

// idempotencyWindow is how long a (accountID, nonce) pair is remembered;
// a duplicate place() within this window returns the original result
// instead of submitting a second order.
const idempotencyWindow = 2 * time.Second

// BrokerClient is the subset of broker/rest.Client the order manager calls.
// Kept as an interface, following the contracts.Fetcher pattern, so tests
// can exercise Manager without a live broker connection.
type BrokerClient interface {
	PlaceOrder(ctx context.Context, accountID int64, o domain.Order) result.Result[string]
	CancelOrder(ctx context.Context, accountID int64, orderID string) result.Result[struct{}]
	ModifyOrder(ctx context.Context, accountID int64, orderID string, limitPrice, stopPrice *float64) result.Result[struct{}]
	SearchOpenPositions(ctx context.Context, accountID int64) result.Result[[]domain.Position]
	CloseContract(ctx context.Context, accountID int64, contractID string) result.Result[struct{}]
}

// ContractResolver resolves a trading symbol to its broker contract, per
// the contract registry (C7).
type ContractResolver interface {
	GetBySymbol(ctx context.Context, symbol string) result.Result[domain.Contract]
}

// FlattenOutcome is one contract's result from a flatten(account) call.
type FlattenOutcome struct {
	ContractID string
	OrderID    string
	Err        error
}

type nonceEntry struct {
	orderID   string
	err       *result.Error
	expiresAt time.Time
}

// Manager is the order manager surface.
type Manager struct {
	rest      BrokerClient
	contracts ContractResolver

	mu     sync.Mutex
	nonces map[string]nonceEntry // "accountID:nonce" -> cached result
}

func NewManager(restClient BrokerClient, registry ContractResolver) *Manager {
	return &Manager{
		rest:      restClient,
		contracts: registry,
		nonces:    make(map[string]nonceEntry),
	}
}

// Place resolves intent.Symbol to a contract, builds the broker order, and
// submits it. Duplicate submissions with the same ClientNonce within the
// idempotency window return the original result rather than resubmitting.
func (m *Manager) Place(ctx context.Context, intent domain.OrderIntent) result.Result[string] {
	if intent.ClientNonce != "" {
		if cached, ok := m.cachedResult(intent.AccountID, intent.ClientNonce); ok {
			return cached
		}
	}

	contractRes := m.contracts.GetBySymbol(ctx, intent.Symbol)
	if !contractRes.IsOk() {
		return result.Fail[string](contractRes.Err())
	}
	contract := contractRes.Value()

	order := domain.Order{
		AccountID:   intent.AccountID,
		ContractID:  contract.ID,
		Side:        intent.Side,
		Type:        intent.Type,
		Size:        intent.Qty,
		LimitPrice:  intent.Limit,
		StopPrice:   intent.Stop,
		TimeInForce: intent.TIF,
		ClientNonce: intent.ClientNonce,
	}
	if intent.StopLossTicks != nil {
		order.StopLossBracket = &domain.BracketSpec{Ticks: *intent.StopLossTicks}
	}
	if intent.TakeProfitTicks != nil {
		order.TakeProfitBracket = &domain.BracketSpec{Ticks: *intent.TakeProfitTicks}
	}

	res := m.rest.PlaceOrder(ctx, intent.AccountID, order)

	if intent.ClientNonce != "" {
		m.cacheResult(intent.AccountID, intent.ClientNonce, res)
	}

	if res.IsOk() {
		log.Printf("orders: placed %s %s x%.0f on %s -> order %s", intent.Side, intent.Type, intent.Qty, intent.Symbol, res.Value())
	} else {
		log.Printf("orders: place failed for %s %s x%.0f on %s: %v", intent.Side, intent.Type, intent.Qty, intent.Symbol, res.Err())
	}
	return res
}

// Cancel cancels a resting order.
func (m *Manager) Cancel(ctx context.Context, accountID int64, orderID string) *result.Error {
	res := m.rest.CancelOrder(ctx, accountID, orderID)
	return res.Err()
}

// Modify changes a resting order's limit/stop price.
func (m *Manager) Modify(ctx context.Context, accountID int64, orderID string, limitPrice, stopPrice *float64) *result.Error {
	res := m.rest.ModifyOrder(ctx, accountID, orderID, limitPrice, stopPrice)
	return res.Err()
}

// Flatten lists an account's open positions and asks the broker to close
// each one through the REST client's CloseContract, returning a
// per-contract outcome. It submits no offsetting orders of its own, so an
// outcome's OrderID is left empty. A failure on one contract does not stop
// the others from being attempted.
func (m *Manager) Flatten(ctx context.Context, accountID int64) []FlattenOutcome {
	positionsRes := m.rest.SearchOpenPositions(ctx, accountID)
	if !positionsRes.IsOk() {
		return []FlattenOutcome{{Err: positionsRes.Err()}}
	}

	positions := positionsRes.Value()
	outcomes := make([]FlattenOutcome, 0, len(positions))
	for _, p := range positions {
		closeRes := m.rest.CloseContract(ctx, accountID, p.ContractID)
		outcome := FlattenOutcome{ContractID: p.ContractID}
		if !closeRes.IsOk() {
			outcome.Err = closeRes.Err()
			log.Printf("orders: flatten failed for account %d contract %s: %v", accountID, p.ContractID, closeRes.Err())
		} else {
			log.Printf("orders: flattened account %d contract %s", accountID, p.ContractID)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (m *Manager) nonceKey(accountID int64, nonce string) string {
	return strconv.FormatInt(accountID, 10) + ":" + nonce
}

func (m *Manager) cachedResult(accountID int64, nonce string) (result.Result[string], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.nonceKey(accountID, nonce)
	entry, ok := m.nonces[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return result.Result[string]{}, false
	}
	if entry.err != nil {
		return result.Fail[string](entry.err), true
	}
	return result.Ok(entry.orderID), true
}

func (m *Manager) cacheResult(accountID int64, nonce string, res result.Result[string]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpiredLocked()
	m.nonces[m.nonceKey(accountID, nonce)] = nonceEntry{
		orderID:   res.Value(),
		err:       res.Err(),
		expiresAt: time.Now().Add(idempotencyWindow),
	}
}

func (m *Manager) evictExpiredLocked() {
	now := time.Now()
	for k, v := range m.nonces {
		if now.After(v.expiresAt) {
			delete(m.nonces, k)
		}
	}
}
