// Package stream implements the broker stream client (C5): two long-lived
// SignalR-over-WebSocket hubs (user and market) with auto-reconnect,
// re-subscription on reconnect, and the never-drop-critical-events
// invariant from spec §4.5. Grounded in the teacher's
// pkg/market/binance/websocket.go exponential-backoff reconnect loop,
// adapted from Binance's raw JSON kline stream to SignalR's handshake +
// record-separated invocation framing.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"topstepx-engine/internal/events"
	"topstepx-engine/internal/result"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// TokenFunc supplies a valid bearer token for the connection URL, wired to
// the auth manager's EnsureValid.
type TokenFunc func(ctx context.Context) result.Result[string]

// Hub manages one SignalR connection (user or market) through its full
// IDLE -> CONNECTING -> OPEN -> RECONNECTING -> CLOSED lifecycle.
type Hub struct {
	kind    events.HubKind
	baseURL string
	token   TokenFunc
	bus     *events.Bus
	dialer  *websocket.Dialer

	mu                  sync.Mutex
	state               events.ConnState
	conn                *websocket.Conn
	subscribedContracts map[string]struct{}
	joinedAccounts      map[int64]struct{}
}

// NewHub builds a Hub. baseURL is the wss:// endpoint without a token
// query parameter; the token is appended fresh on every (re)connect.
func NewHub(kind events.HubKind, baseURL string, token TokenFunc, bus *events.Bus) *Hub {
	return &Hub{
		kind:                kind,
		baseURL:             baseURL,
		token:               token,
		bus:                 bus,
		dialer:              websocket.DefaultDialer,
		state:               events.ConnIdle,
		subscribedContracts: make(map[string]struct{}),
		joinedAccounts:      make(map[int64]struct{}),
	}
}

// SubscribeContract records a market-hub contract subscription and, if
// currently connected, sends the invocation immediately. On reconnect all
// recorded subscriptions are replayed.
func (h *Hub) SubscribeContract(contractID string) {
	h.mu.Lock()
	h.subscribedContracts[contractID] = struct{}{}
	conn := h.conn
	h.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.TextMessage, encodeInvocation("SubscribeContractQuotes", contractID))
	}
}

// JoinAccount records a user-hub account group membership, replayed on
// reconnect the same way SubscribeContract is.
func (h *Hub) JoinAccount(accountID int64) {
	h.mu.Lock()
	h.joinedAccounts[accountID] = struct{}{}
	conn := h.conn
	h.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.TextMessage, encodeInvocation("SubscribeAccount", accountID))
	}
}

// State returns the hub's current connection state.
func (h *Hub) State() events.ConnState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Hub) setState(state events.ConnState) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
	h.bus.PublishDroppable(events.TopicConnectionState, events.ConnectionStateChanged{Hub: h.kind, State: state})
}

// Run drives the hub's full lifecycle until ctx is cancelled: connect,
// handshake, replay subscriptions, read until failure, then reconnect with
// exponential backoff (capped at 30s, jittered) unless ctx is done.
func (h *Hub) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			h.setState(events.ConnClosed)
			return
		}

		if attempt == 0 {
			h.setState(events.ConnConnecting)
		} else {
			h.setState(events.ConnReconnecting)
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-ctx.Done():
				h.setState(events.ConnClosed)
				return
			}
		}

		if err := h.connectAndServe(ctx); err != nil {
			attempt++
			continue
		}
		attempt = 0
	}
}

func (h *Hub) connectAndServe(ctx context.Context) error {
	tokRes := h.token(ctx)
	if !tokRes.IsOk() {
		return tokRes.Err()
	}

	u, err := url.Parse(h.baseURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("access_token", tokRes.Value())
	u.RawQuery = q.Encode()

	conn, _, err := h.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, encodeHandshake()); err != nil {
		return err
	}
	_, hsResp, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	if len(splitRecords(hsResp)) == 0 {
		return fmt.Errorf("empty signalr handshake response")
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	h.setState(events.ConnOpen)

	h.replaySubscriptions(conn)

	defer func() {
		h.mu.Lock()
		h.conn = nil
		h.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		for _, rec := range splitRecords(data) {
			if err := h.dispatch(ctx, rec); err != nil {
				return err
			}
		}
	}
}

// replaySubscriptions re-sends every previously recorded subscription/join
// after a (re)connect, per spec §4.5.
func (h *Hub) replaySubscriptions(conn *websocket.Conn) {
	h.mu.Lock()
	contracts := make([]string, 0, len(h.subscribedContracts))
	for c := range h.subscribedContracts {
		contracts = append(contracts, c)
	}
	accounts := make([]int64, 0, len(h.joinedAccounts))
	for a := range h.joinedAccounts {
		accounts = append(accounts, a)
	}
	h.mu.Unlock()

	for _, c := range contracts {
		_ = conn.WriteMessage(websocket.TextMessage, encodeInvocation("SubscribeContractQuotes", c))
	}
	for _, a := range accounts {
		_ = conn.WriteMessage(websocket.TextMessage, encodeInvocation("SubscribeAccount", a))
	}
}

// dispatch decodes one SignalR record and publishes the corresponding
// typed event. Quote-like targets use the droppable path; everything else
// is critical and a saturated consumer forces a disconnect (returned as an
// error so connectAndServe's caller triggers the normal reconnect path).
func (h *Hub) dispatch(ctx context.Context, rec []byte) error {
	var raw rawMessage
	if err := json.Unmarshal(rec, &raw); err != nil {
		return nil // ignore malformed records rather than tearing down the hub
	}

	switch raw.Type {
	case msgTypePing:
		return nil
	case msgTypeInvocation:
		return h.dispatchInvocation(ctx, raw)
	default:
		return nil
	}
}

func (h *Hub) dispatchInvocation(ctx context.Context, raw rawMessage) error {
	switch raw.Target {
	case "GatewayQuote":
		var quote QuoteEvent
		if err := DecodeArg(raw.Arguments, &quote); err != nil {
			return nil
		}
		h.bus.PublishDroppable(events.TopicQuote, quote)
		return nil

	case "GatewayUserOrder":
		var ev OrderEvent
		if err := DecodeArg(raw.Arguments, &ev); err != nil {
			return nil
		}
		return h.publishCritical(ctx, events.TopicOrderUpdate, ev)
	case "GatewayUserAccount":
		var ev AccountEvent
		if err := DecodeArg(raw.Arguments, &ev); err != nil {
			return nil
		}
		return h.publishCritical(ctx, events.TopicAccountUpdate, ev)
	case "GatewayUserPosition":
		var ev PositionEvent
		if err := DecodeArg(raw.Arguments, &ev); err != nil {
			return nil
		}
		return h.publishCritical(ctx, events.TopicPositionUpdate, ev)
	case "GatewayUserTrade":
		var ev TradeEvent
		if err := DecodeArg(raw.Arguments, &ev); err != nil {
			return nil
		}
		return h.publishCritical(ctx, events.TopicTradeUpdate, ev)
	default:
		return nil
	}
}

func (h *Hub) publishCritical(ctx context.Context, topic events.Topic, payload any) error {
	deadline, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.bus.PublishCritical(deadline, topic, payload); err != nil {
		return err
	}
	return nil
}

func backoffDelay(attempt int) time.Duration {
	delay := minBackoff * time.Duration(1<<uint(attempt-1))
	if delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := 1 + (rand.Float64()*2-1)*0.2
	d := time.Duration(float64(delay) * jitter)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
