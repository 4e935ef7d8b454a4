// Package rest implements the broker REST client (C4): one synchronous
// method per endpoint, all Result-wrapped, with retry/backoff, rate
// limiting, and the auth manager's refresh-on-401 wired in. Grounded in the
// teacher's futures_usdt.Client (http.Client + doSigned helper pattern),
// generalized from query-string HMAC signing to bearer-token JSON calls.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"topstepx-engine/internal/broker/auth"
	"topstepx-engine/internal/broker/common"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/ratelimit"
	"topstepx-engine/internal/result"
)

const (
	maxAttempts  = 3
	backoffBase  = 500 * time.Millisecond
	backoffJitter = 0.20
)

// Client is the broker REST API surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	authMgr    *auth.Manager

	username, apiKey string
}

// Config configures the REST client.
type Config struct {
	BaseURL  string
	Username string
	APIKey   string
	Timeout  time.Duration
}

// New builds a Client. The auth manager is attached after construction via
// SetAuthManager since the manager's login func closes over this client.
func New(cfg Config, limiter *ratelimit.Limiter) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		username:   cfg.Username,
		apiKey:     cfg.APIKey,
	}
}

// SetAuthManager wires the auth manager used to stamp bearer tokens and to
// drive the refresh-on-401 cycle.
func (c *Client) SetAuthManager(m *auth.Manager) { c.authMgr = m }

// Login calls Auth/loginKey and returns the issued token and its expiry,
// decoded from the JWT's exp claim since the endpoint itself does not echo
// an expiry field.
func (c *Client) Login(ctx context.Context) result.Result[auth.TokenInfo] {
	if c.username == "" || c.apiKey == "" {
		return result.Fail[auth.TokenInfo](result.Err(result.KindAuthFailed, "broker credentials not configured"))
	}

	var body struct {
		UserName string `json:"userName"`
		APIKey   string `json:"apiKey"`
	}
	body.UserName = c.username
	body.APIKey = c.apiKey

	var out struct {
		Token   string `json:"token"`
		Success bool   `json:"success"`
	}
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Auth/loginKey", body, &out, false)
	if !res.IsOk() {
		return result.Fail[auth.TokenInfo](res.Err())
	}
	if !out.Success || out.Token == "" {
		return result.Fail[auth.TokenInfo](result.Err(result.KindAuthFailed, "login rejected"))
	}
	expiry, err := auth.ExpiryFromJWT(out.Token)
	if err != nil || expiry.IsZero() {
		expiry = time.Now().Add(23 * time.Hour) // broker tokens are typically 24h-lived
	}
	return result.Ok(auth.TokenInfo{Token: out.Token, ExpiresAt: expiry})
}

// ValidateToken calls Auth/validate.
func (c *Client) ValidateToken(ctx context.Context) result.Result[bool] {
	var out struct {
		Success bool `json:"success"`
	}
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Auth/validate", struct{}{}, &out, true)
	if !res.IsOk() {
		return result.Fail[bool](res.Err())
	}
	return result.Ok(out.Success)
}

// SearchAccounts calls Account/search.
func (c *Client) SearchAccounts(ctx context.Context, onlyActive bool) result.Result[[]domain.Account] {
	req := struct {
		OnlyActiveAccounts bool `json:"onlyActiveAccounts"`
	}{onlyActive}
	var out struct {
		Accounts []wireAccount `json:"accounts"`
		Success  bool          `json:"success"`
	}
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Account/search", req, &out, true)
	if !res.IsOk() {
		return result.Fail[[]domain.Account](res.Err())
	}
	accounts := make([]domain.Account, 0, len(out.Accounts))
	for _, a := range out.Accounts {
		accounts = append(accounts, a.toDomain())
	}
	return result.Ok(accounts)
}

// ListContracts calls Contract/available.
func (c *Client) ListContracts(ctx context.Context, live bool) result.Result[[]domain.Contract] {
	req := struct {
		Live bool `json:"live"`
	}{live}
	var out struct {
		Contracts []wireContract `json:"contracts"`
		Success   bool           `json:"success"`
	}
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Contract/available", req, &out, true)
	if !res.IsOk() {
		return result.Fail[[]domain.Contract](res.Err())
	}
	return result.Ok(wireContracts(out.Contracts))
}

// SearchContracts calls Contract/search.
func (c *Client) SearchContracts(ctx context.Context, query string) result.Result[[]domain.Contract] {
	req := struct {
		SearchText string `json:"searchText"`
	}{query}
	var out struct {
		Contracts []wireContract `json:"contracts"`
		Success   bool           `json:"success"`
	}
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Contract/search", req, &out, true)
	if !res.IsOk() {
		return result.Fail[[]domain.Contract](res.Err())
	}
	return result.Ok(wireContracts(out.Contracts))
}

// ContractByID calls Contract/searchById.
func (c *Client) ContractByID(ctx context.Context, id string) result.Result[domain.Contract] {
	req := struct {
		ContractID string `json:"contractId"`
	}{id}
	var out struct {
		Contract wireContract `json:"contract"`
		Success  bool         `json:"success"`
	}
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Contract/searchById", req, &out, true)
	if !res.IsOk() {
		return result.Fail[domain.Contract](res.Err())
	}
	if !out.Success {
		return result.Fail[domain.Contract](result.Err(result.KindNotFound, "contract %s not found", id))
	}
	return result.Ok(out.Contract.toDomain())
}

// PlaceOrder calls Order/place, translating the domain order into the
// broker's numeric wire enums and omitting unset optional price fields.
func (c *Client) PlaceOrder(ctx context.Context, accountID int64, o domain.Order) result.Result[string] {
	payload := common.OrderPayload{
		AccountID:  accountID,
		ContractID: o.ContractID,
		Type:       int(common.OrderTypeToWire(o.Type)),
		Side:       int(common.SideToWire(o.Side)),
		Size:       o.Size,
	}
	if o.LimitPrice != nil {
		payload.LimitPrice = o.LimitPrice
	}
	if o.StopPrice != nil {
		payload.StopPrice = o.StopPrice
	}
	payload.ClientNonce = o.ClientNonce

	var out common.OrderAck
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Order/place", payload, &out, true)
	if !res.IsOk() {
		return result.Fail[string](res.Err())
	}
	if !out.Success {
		return result.Fail[string](result.Err(result.KindBrokerError, "order rejected: %s", out.ErrorMessage))
	}
	return result.Ok(out.OrderID)
}

// CancelOrder calls Order/cancel.
func (c *Client) CancelOrder(ctx context.Context, accountID int64, orderID string) result.Result[struct{}] {
	id, _ := strconv.ParseInt(orderID, 10, 64)
	req := struct {
		AccountID int64 `json:"accountId"`
		OrderID   int64 `json:"orderId"`
	}{accountID, id}
	var out common.OrderAck
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Order/cancel", req, &out, true)
	if !res.IsOk() {
		return result.Fail[struct{}](res.Err())
	}
	if !out.Success {
		return result.Fail[struct{}](result.Err(result.KindBrokerError, "cancel rejected: %s", out.ErrorMessage))
	}
	return result.Ok(struct{}{})
}

// ModifyOrder calls Order/modify.
func (c *Client) ModifyOrder(ctx context.Context, accountID int64, orderID string, limitPrice, stopPrice *float64) result.Result[struct{}] {
	id, _ := strconv.ParseInt(orderID, 10, 64)
	req := struct {
		AccountID  int64    `json:"accountId"`
		OrderID    int64    `json:"orderId"`
		LimitPrice *float64 `json:"limitPrice,omitempty"`
		StopPrice  *float64 `json:"stopPrice,omitempty"`
	}{accountID, id, limitPrice, stopPrice}
	var out common.OrderAck
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Order/modify", req, &out, true)
	if !res.IsOk() {
		return result.Fail[struct{}](res.Err())
	}
	if !out.Success {
		return result.Fail[struct{}](result.Err(result.KindBrokerError, "modify rejected: %s", out.ErrorMessage))
	}
	return result.Ok(struct{}{})
}

// SearchOpenOrders calls Order/searchOpen.
func (c *Client) SearchOpenOrders(ctx context.Context, accountID int64) result.Result[[]domain.Order] {
	req := struct {
		AccountID int64 `json:"accountId"`
	}{accountID}
	var out struct {
		Orders  []wireOrder `json:"orders"`
		Success bool        `json:"success"`
	}
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Order/searchOpen", req, &out, true)
	if !res.IsOk() {
		return result.Fail[[]domain.Order](res.Err())
	}
	orders := make([]domain.Order, 0, len(out.Orders))
	for _, o := range out.Orders {
		orders = append(orders, o.toDomain())
	}
	return result.Ok(orders)
}

// SearchOpenPositions calls Position/searchOpen.
func (c *Client) SearchOpenPositions(ctx context.Context, accountID int64) result.Result[[]domain.Position] {
	req := struct {
		AccountID int64 `json:"accountId"`
	}{accountID}
	var out struct {
		Positions []wirePosition `json:"positions"`
		Success   bool           `json:"success"`
	}
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Position/searchOpen", req, &out, true)
	if !res.IsOk() {
		return result.Fail[[]domain.Position](res.Err())
	}
	positions := make([]domain.Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		positions = append(positions, p.toDomain())
	}
	return result.Ok(positions)
}

// CloseContract calls Position/closeContract (flatten).
func (c *Client) CloseContract(ctx context.Context, accountID int64, contractID string) result.Result[struct{}] {
	req := struct {
		AccountID  int64  `json:"accountId"`
		ContractID string `json:"contractId"`
	}{accountID, contractID}
	var out common.OrderAck
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Position/closeContract", req, &out, true)
	if !res.IsOk() {
		return result.Fail[struct{}](res.Err())
	}
	if !out.Success {
		return result.Fail[struct{}](result.Err(result.KindBrokerError, "close rejected: %s", out.ErrorMessage))
	}
	return result.Ok(struct{}{})
}

// PartialCloseContract calls Position/partialCloseContract.
func (c *Client) PartialCloseContract(ctx context.Context, accountID int64, contractID string, size int64) result.Result[struct{}] {
	req := struct {
		AccountID  int64  `json:"accountId"`
		ContractID string `json:"contractId"`
		Size       int64  `json:"size"`
	}{accountID, contractID, size}
	var out common.OrderAck
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Position/partialCloseContract", req, &out, true)
	if !res.IsOk() {
		return result.Fail[struct{}](res.Err())
	}
	if !out.Success {
		return result.Fail[struct{}](result.Err(result.KindBrokerError, "partial close rejected: %s", out.ErrorMessage))
	}
	return result.Ok(struct{}{})
}

// SearchTrades calls Trade/search.
func (c *Client) SearchTrades(ctx context.Context, accountID int64, startTime time.Time) result.Result[[]domain.Trade] {
	req := struct {
		AccountID int64     `json:"accountId"`
		StartTime time.Time `json:"startTimestamp"`
	}{accountID, startTime}
	var out struct {
		Trades  []wireTrade `json:"trades"`
		Success bool        `json:"success"`
	}
	res := c.call(ctx, ratelimit.ClassGeneral, http.MethodPost, "/api/Trade/search", req, &out, true)
	if !res.IsOk() {
		return result.Fail[[]domain.Trade](res.Err())
	}
	trades := make([]domain.Trade, len(out.Trades))
	for i, t := range out.Trades {
		trades[i] = t.toDomain()
	}
	return result.Ok(trades)
}

// RetrieveBars calls History/retrieveBars. This endpoint belongs to the
// stricter history rate-limit class (50/30s vs general's 200/60s).
func (c *Client) RetrieveBars(ctx context.Context, contractID string, startTime, endTime time.Time, unit string, unitNumber int) result.Result[[]domain.Quote] {
	req := struct {
		ContractID string    `json:"contractId"`
		StartTime  time.Time `json:"startTime"`
		EndTime    time.Time `json:"endTime"`
		Unit       string    `json:"unit"`
		UnitNumber int       `json:"unitNumber"`
	}{contractID, startTime, endTime, unit, unitNumber}
	var out struct {
		Bars    []wireBar `json:"bars"`
		Success bool      `json:"success"`
	}
	res := c.call(ctx, ratelimit.ClassHistory, http.MethodPost, "/api/History/retrieveBars", req, &out, true)
	if !res.IsOk() {
		return result.Fail[[]domain.Quote](res.Err())
	}
	quotes := make([]domain.Quote, 0, len(out.Bars))
	for _, b := range out.Bars {
		quotes = append(quotes, b.toQuote())
	}
	return result.Ok(quotes)
}

// call performs one rate-limited, retried, optionally authenticated request
// and decodes the JSON response body into out.
func (c *Client) call(ctx context.Context, class ratelimit.Class, method, path string, body, out any, authenticated bool) result.Result[struct{}] {
	var lastErr *result.Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx, class); err != nil {
			return result.Fail[struct{}](err.(*result.Error))
		}

		res := c.attempt(ctx, method, path, body, out, authenticated)
		if res.IsOk() {
			return res
		}
		lastErr = res.Err()

		if !lastErr.Retriable || attempt == maxAttempts {
			break
		}
		wait := backoffDelay(attempt)
		if lastErr.RetryAfter > 0 {
			wait = lastErr.RetryAfter
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return result.Fail[struct{}](result.Err(result.KindCancelled, "context cancelled during retry backoff"))
		}
	}
	return result.Fail[struct{}](lastErr)
}

func (c *Client) attempt(ctx context.Context, method, path string, body, out any, authenticated bool) result.Result[struct{}] {
	var token string
	if authenticated {
		if c.authMgr == nil {
			return result.Fail[struct{}](result.Err(result.KindAuthFailed, "no auth manager configured"))
		}
		tokRes := c.authMgr.EnsureValid(ctx)
		if !tokRes.IsOk() {
			return result.Fail[struct{}](tokRes.Err())
		}
		token = tokRes.Value()
	}

	status, respBody, retryAfter, err := c.doHTTP(ctx, method, path, body, token)
	if err != nil {
		return result.Fail[struct{}](result.Err(result.KindNetwork, "request to %s failed: %v", path, err))
	}

	if status == http.StatusUnauthorized && authenticated {
		refreshed := c.authMgr.ForceRefresh(ctx)
		if !refreshed.IsOk() {
			return result.Fail[struct{}](result.Err(result.KindAuthFailed, "token refresh failed after 401"))
		}
		status, respBody, retryAfter, err = c.doHTTP(ctx, method, path, body, refreshed.Value())
		if err != nil {
			return result.Fail[struct{}](result.Err(result.KindNetwork, "retry after refresh failed: %v", err))
		}
		if status == http.StatusUnauthorized {
			return result.Fail[struct{}](result.Err(result.KindAuthFailed, "authentication failed after refresh"))
		}
	}

	if status == http.StatusTooManyRequests {
		e := result.ErrFromStatus(result.KindRateLimited, status, "rate limited by broker")
		e.RetryAfter = retryAfter
		return result.Fail[struct{}](e)
	}
	if status == http.StatusRequestTimeout {
		return result.Fail[struct{}](result.ErrFromStatus(result.KindTimeout, status, "broker request timeout"))
	}
	if status >= 500 {
		return result.Fail[struct{}](result.ErrFromStatus(result.KindNetwork, status, "broker server error"))
	}
	if status >= 400 {
		return result.Fail[struct{}](result.ErrFromStatus(result.KindBadRequest, status, "broker rejected request: %s", string(respBody)))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return result.Fail[struct{}](result.Err(result.KindBrokerError, "decode response from %s: %v", path, err))
		}
	}
	return result.Ok(struct{}{})
}

func (c *Client) doHTTP(ctx context.Context, method, path string, body any, token string) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer res.Body.Close()

	retryAfter := parseRetryAfter(res.Header.Get("Retry-After"))

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, retryAfter, err
	}
	return res.StatusCode, respBody, retryAfter, nil
}

// parseRetryAfter understands the delta-seconds form of Retry-After; the
// broker does not send the HTTP-date form.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func backoffDelay(attempt int) time.Duration {
	base := backoffBase * time.Duration(1<<(attempt-1))
	jitter := 1 + (rand.Float64()*2-1)*backoffJitter
	return time.Duration(float64(base) * jitter)
}
