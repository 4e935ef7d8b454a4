package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"topstepx-engine/internal/broker/auth"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/ratelimit"
	"topstepx-engine/internal/result"
)

func fakeJWT(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("building fake jwt: %v", err)
	}
	return signed
}

func TestLoginSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "token": fakeJWT(t)})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "u", APIKey: "k"}, ratelimit.New())
	res := c.Login(context.Background())
	if !res.IsOk() {
		t.Fatalf("expected login success, got %v", res.Err())
	}
	if res.Value().Token == "" {
		t.Fatal("expected non-empty token")
	}
	if res.Value().ExpiresAt.Before(time.Now()) {
		t.Fatal("expected future expiry")
	}
}

func TestLoginRejectedSurfacesAuthFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "u", APIKey: "k"}, ratelimit.New())
	res := c.Login(context.Background())
	if res.IsOk() {
		t.Fatal("expected failure")
	}
}

func TestLoginFailsFastWithoutCredentials(t *testing.T) {
	c := New(Config{BaseURL: "http://unused.invalid"}, ratelimit.New())
	res := c.Login(context.Background())
	if res.IsOk() {
		t.Fatal("expected failure for missing credentials")
	}
	if res.Err().Kind != result.KindAuthFailed {
		t.Fatalf("got kind %s, want AUTH_FAILED", res.Err().Kind)
	}
}

func withAuthedClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(Config{BaseURL: srv.URL, Username: "u", APIKey: "k"}, ratelimit.New())
	c.SetAuthManager(auth.New(func(ctx context.Context) result.Result[auth.TokenInfo] {
		return result.Ok(auth.TokenInfo{Token: "test-token", ExpiresAt: time.Now().Add(time.Hour)})
	}, 0))
	return c, srv
}

func TestPlaceOrderOmitsUnsetOptionalFields(t *testing.T) {
	var captured map[string]any
	c, srv := withAuthedClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "orderId": "999"})
	})
	defer srv.Close()

	res := c.PlaceOrder(context.Background(), 1, domain.Order{
		ContractID: "F.US.MES.Z25",
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeMarket,
		Size:       2,
	})
	if !res.IsOk() {
		t.Fatalf("expected place order success, got %v", res.Err())
	}
	if res.Value() != "999" {
		t.Fatalf("got order id %q", res.Value())
	}
	if _, present := captured["limitPrice"]; present {
		t.Fatal("limitPrice should be omitted when unset")
	}
	if _, present := captured["customTag"]; present {
		t.Fatal("customTag must never be sent")
	}
	if got := captured["side"].(float64); got != 0 {
		t.Fatalf("expected BUY=0 on the wire, got %v", got)
	}
	if got := captured["type"].(float64); got != 2 {
		t.Fatalf("expected MARKET=2 on the wire, got %v", got)
	}
}

func TestUnauthorizedTriggersExactlyOneRefresh(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, ratelimit.New())
	refreshCalls := 0
	c.SetAuthManager(auth.New(func(ctx context.Context) result.Result[auth.TokenInfo] {
		refreshCalls++
		return result.Ok(auth.TokenInfo{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)})
	}, 0))

	res := c.ValidateToken(context.Background())
	if !res.IsOk() {
		t.Fatalf("expected eventual success after refresh, got %v", res.Err())
	}
	if calls != 2 {
		t.Fatalf("expected exactly one retry after 401, got %d total calls", calls)
	}
}
