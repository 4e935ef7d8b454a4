// Package hub implements the real-time fan-out hub (C14): it consumes the
// broker stream client's (C5) quote/order/position/trade events from the
// bus and is the sole producer feeding the WebSocket surface (C17). Grounded in the teacher's internal/api.websocket.go,
// which has every browser connection Subscribe directly against a shared
// events.Bus topic; Hub generalizes that single-topic fanout into a
// typed, multi-topic broadcaster that also recomputes position valuation
// (C8) on every quote tick.
package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"topstepx-engine/internal/broker/stream"
	"topstepx-engine/internal/contracts"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/events"
	"topstepx-engine/internal/result"
	"topstepx-engine/internal/valuation"
)

// HeartbeatInterval is how often the hub emits a heartbeat message.
const HeartbeatInterval = 30 * time.Second

// subscriberBuffer bounds each C17 subscriber's inbound queue. A
// subscriber that falls behind by this many messages is disconnected
// rather than allowed to stall the broadcaster.
const subscriberBuffer = 1024

// ContractResolver resolves a canonical symbol to its contract metadata,
// used to derive the point-value multiplier for position valuation.
// Implemented by contracts.Registry; kept as an interface so this package
// doesn't need contracts.Registry's Refresh/fetcher machinery.
type ContractResolver interface {
	GetBySymbol(ctx context.Context, symbol string) result.Result[domain.Contract]
}

// MessageType tags the kind of payload a broadcast Message carries.
type MessageType string

const (
	MsgQuoteUpdate    MessageType = "quote_update"
	MsgPositionUpdate MessageType = "position_update"
	MsgOrderUpdate    MessageType = "order_update"
	MsgTradeUpdate    MessageType = "trade_update"
	MsgHeartbeat      MessageType = "heartbeat"
)

// Message is the typed envelope broadcast to every C17 subscriber.
type Message struct {
	Type      MessageType            `json:"type"`
	Timestamp time.Time              `json:"ts"`
	AccountID int64                  `json:"accountId,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Price     float64                `json:"price,omitempty"`
	Position  *domain.EnrichedPosition `json:"position,omitempty"`
	Order     *domain.Order          `json:"order,omitempty"`
	Trade     *domain.Trade          `json:"trade,omitempty"`
}

// Hub merges the broker stream's event topics into a single enriched
// broadcast, maintaining the last-price cache and per-account position
// cache spec.md §4.14 calls the "Position Tracker" view C14 shares read
// access to.
type Hub struct {
	bus       *events.Bus
	contracts ContractResolver

	mu        sync.RWMutex
	lastPrice map[string]float64                  // canonical symbol -> last price
	positions map[int64]map[string]domain.Position // accountID -> contractID -> position

	subMu sync.RWMutex
	subs  []chan Message

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Hub. Start must be called to begin consuming the bus.
func New(bus *events.Bus, resolver ContractResolver) *Hub {
	return &Hub{
		bus:       bus,
		contracts: resolver,
		lastPrice: make(map[string]float64),
		positions: make(map[int64]map[string]domain.Position),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the bus's quote/order/position/trade topics and
// launches the merge loop.
func (h *Hub) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	quoteCh, unsubQuote := h.bus.Subscribe(events.TopicQuote, 512)
	orderCh, unsubOrder := h.bus.Subscribe(events.TopicOrderUpdate, 256)
	posCh, unsubPos := h.bus.Subscribe(events.TopicPositionUpdate, 256)
	tradeCh, unsubTrade := h.bus.Subscribe(events.TopicTradeUpdate, 256)

	go h.run(runCtx, quoteCh, orderCh, posCh, tradeCh, unsubQuote, unsubOrder, unsubPos, unsubTrade)
}

// Stop cancels the merge loop and waits for it to exit.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done
}

func (h *Hub) run(ctx context.Context, quoteCh, orderCh, posCh, tradeCh <-chan any, unsubQuote, unsubOrder, unsubPos, unsubTrade func()) {
	defer close(h.done)
	defer unsubQuote()
	defer unsubOrder()
	defer unsubPos()
	defer unsubTrade()

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			h.broadcast(Message{Type: MsgHeartbeat, Timestamp: time.Now()})

		case payload, ok := <-quoteCh:
			if !ok {
				return
			}
			if q, isQuote := payload.(stream.QuoteEvent); isQuote {
				h.onQuote(ctx, q)
			}

		case payload, ok := <-orderCh:
			if !ok {
				return
			}
			if o, isOrder := payload.(stream.OrderEvent); isOrder {
				h.onOrder(o)
			}

		case payload, ok := <-posCh:
			if !ok {
				return
			}
			if p, isPos := payload.(stream.PositionEvent); isPos {
				h.onPosition(ctx, p)
			}

		case payload, ok := <-tradeCh:
			if !ok {
				return
			}
			if t, isTrade := payload.(stream.TradeEvent); isTrade {
				h.onTrade(t)
			}
		}
	}
}

// onQuote normalizes the symbol via the contract registry (C7), updates
// the last-price cache, and re-enriches every open position on that
// symbol across all accounts, broadcasting the refreshed valuation.
func (h *Hub) onQuote(ctx context.Context, q stream.QuoteEvent) {
	symbol := contracts.NormalizeSymbol(q.Symbol)

	h.mu.Lock()
	h.lastPrice[symbol] = q.LastPrice
	affected := h.positionsForSymbolLocked(symbol)
	h.mu.Unlock()

	h.broadcast(Message{
		Type:      MsgQuoteUpdate,
		Timestamp: time.Now(),
		Symbol:    symbol,
		Price:     q.LastPrice,
	})

	for _, pos := range affected {
		h.broadcastEnriched(ctx, pos)
	}
}

// positionsForSymbolLocked must be called with h.mu held.
func (h *Hub) positionsForSymbolLocked(symbol string) []domain.Position {
	var out []domain.Position
	for _, byContract := range h.positions {
		for _, pos := range byContract {
			if contracts.NormalizeSymbol(pos.Symbol) == symbol {
				out = append(out, pos)
			}
		}
	}
	return out
}

func (h *Hub) onPosition(ctx context.Context, p stream.PositionEvent) {
	pos := p.ToDomain()

	h.mu.Lock()
	byContract, ok := h.positions[pos.AccountID]
	if !ok {
		byContract = make(map[string]domain.Position)
		h.positions[pos.AccountID] = byContract
	}
	if pos.Quantity == 0 {
		delete(byContract, pos.ContractID)
	} else {
		byContract[pos.ContractID] = pos
	}
	h.mu.Unlock()

	h.broadcastEnriched(ctx, pos)
}

func (h *Hub) onOrder(o stream.OrderEvent) {
	order := o.ToDomain()
	h.broadcast(Message{
		Type:      MsgOrderUpdate,
		Timestamp: time.Now(),
		AccountID: order.AccountID,
		Order:     &order,
	})
}

func (h *Hub) onTrade(t stream.TradeEvent) {
	trade := t.ToDomain()
	h.broadcast(Message{
		Type:      MsgTradeUpdate,
		Timestamp: time.Now(),
		AccountID: trade.AccountID,
		Trade:     &trade,
	})
}

// broadcastEnriched resolves pos's contract, enriches it via the
// valuator (C8), and broadcasts the result. A position whose contract
// cannot be resolved is still broadcast, with nil valuation fields rather
// than a silently-wrong zero.
func (h *Hub) broadcastEnriched(ctx context.Context, pos domain.Position) {
	enriched := h.enrich(ctx, pos)
	h.broadcast(Message{
		Type:      MsgPositionUpdate,
		Timestamp: time.Now(),
		AccountID: pos.AccountID,
		Symbol:    contracts.NormalizeSymbol(pos.Symbol),
		Position:  &enriched,
	})
}

func (h *Hub) enrich(ctx context.Context, pos domain.Position) domain.EnrichedPosition {
	var pointValue float64
	var resolved bool
	if h.contracts != nil {
		res := h.contracts.GetBySymbol(ctx, pos.Symbol)
		if res.IsOk() {
			pointValue, resolved = res.Value().PointValue()
		}
	}

	symbol := contracts.NormalizeSymbol(pos.Symbol)
	h.mu.RLock()
	price, havePrice := h.lastPrice[symbol]
	h.mu.RUnlock()

	var current *float64
	if havePrice {
		current = &price
	}

	return valuation.Enrich(pos, pointValue, resolved, current, valuation.BrokerReported{})
}

// EnrichedPositions returns a snapshot of an account's open positions with
// current valuation applied, for the dashboard aggregator (C15) to read
// without re-deriving the enrichment logic itself.
func (h *Hub) EnrichedPositions(ctx context.Context, accountID int64) []domain.EnrichedPosition {
	positions := h.Positions(accountID)
	out := make([]domain.EnrichedPosition, 0, len(positions))
	for _, pos := range positions {
		out = append(out, h.enrich(ctx, pos))
	}
	return out
}

// Subscribe registers a C17 WebSocket connection as a broadcast recipient.
// A subscriber that falls subscriberBuffer messages behind is closed and
// dropped rather than allowed to stall the rest of the fanout; the caller
// observes this as the returned channel closing.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)

	h.subMu.Lock()
	h.subs = append(h.subs, ch)
	h.subMu.Unlock()

	unsub := func() {
		h.subMu.Lock()
		defer h.subMu.Unlock()
		for i, c := range h.subs {
			if c == ch {
				close(c)
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

func (h *Hub) broadcast(msg Message) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	for i := 0; i < len(h.subs); i++ {
		ch := h.subs[i]
		select {
		case ch <- msg:
		default:
			log.Printf("[hub] subscriber queue saturated; disconnecting")
			close(ch)
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			i--
		}
	}
}

// LastPrice returns the cached last price for a canonical symbol.
func (h *Hub) LastPrice(symbol string) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.lastPrice[contracts.NormalizeSymbol(symbol)]
	return p, ok
}

// Positions returns a snapshot of an account's open positions.
func (h *Hub) Positions(accountID int64) []domain.Position {
	h.mu.RLock()
	defer h.mu.RUnlock()
	byContract, ok := h.positions[accountID]
	if !ok {
		return nil
	}
	out := make([]domain.Position, 0, len(byContract))
	for _, pos := range byContract {
		out = append(out, pos)
	}
	return out
}
