package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"topstepx-engine/internal/accounts"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/hub"
)

type fakeWSHub struct {
	messages chan hub.Message
}

func (f *fakeWSHub) EnrichedPositions(ctx context.Context, accountID int64) []domain.EnrichedPosition {
	return nil
}

func (f *fakeWSHub) Subscribe() (<-chan hub.Message, func()) {
	return f.messages, func() {}
}

func TestWebsocketForwardsBroadcastMessages(t *testing.T) {
	wsHub := &fakeWSHub{messages: make(chan hub.Message, 1)}
	acc := &fakeAccounts{status: make(map[int64]accounts.StatusResult)}
	s := NewServer(acc, &fakeDashboard{}, wsHub, fakeMarket{}, fakeTrading{},
		fakeHealth{authOK: true}, &fakeConfig{}, fakeActivator{}, fakeBacktest{}, CORSConfig{})

	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	wsHub.messages <- hub.Message{Type: hub.MessageType("position_update"), Symbol: "MES"}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got hub.Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Symbol != "MES" {
		t.Errorf("symbol = %q, want MES", got.Symbol)
	}
}

func TestWebsocketClosesOnHubOverflow(t *testing.T) {
	wsHub := &fakeWSHub{messages: make(chan hub.Message)}
	close(wsHub.messages)

	acc := &fakeAccounts{status: make(map[int64]accounts.StatusResult)}
	s := NewServer(acc, &fakeDashboard{}, wsHub, fakeMarket{}, fakeTrading{},
		fakeHealth{authOK: true}, &fakeConfig{}, fakeActivator{}, fakeBacktest{}, CORSConfig{})

	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection close, got nil error")
	}
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected *websocket.CloseError, got %T: %v", err, err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", closeErr.Code, websocket.ClosePolicyViolation)
	}
}
