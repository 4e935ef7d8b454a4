// Package api implements the HTTP surface (C16): a gin router exposing
// the account/market/trading/dashboard endpoints spec.md §6 enumerates,
// behind a CORS response-envelope middleware chain. Grounded in the
// teacher's internal/api/handler.go (Server struct composing the
// engine/bus/metrics collaborators, middleware chain ordering, routes()
// method), generalized from the teacher's single-engine composition to
// this engine's account manager / dashboard aggregator / hub / order
// manager collaborators, and with CORS rebuilt as a response envelope
// (spec.md §9's "ad-hoc per-endpoint CORS" redesign note) instead of the
// teacher's single blanket "*" header.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"topstepx-engine/internal/accounts"
	"topstepx-engine/internal/dashboard"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/events"
	"topstepx-engine/internal/hub"
	"topstepx-engine/internal/orders"
	"topstepx-engine/internal/result"
)

// AccountService is the subset of accounts.Manager the HTTP surface calls.
type AccountService interface {
	Add(config domain.AccountBotConfig) error
	Start(ctx context.Context, accountID int64) error
	Stop(accountID int64) error
	Status(accountID int64) accounts.StatusResult
	Activity(accountID int64, limit int) []domain.BotActivity
}

// DashboardService builds the C15 read model.
type DashboardService interface {
	State(ctx context.Context) dashboard.State
	RecentOrders(accountID int64, limit int) []domain.Order
}

// HubService is the subset of hub.Hub the HTTP surface reads.
type HubService interface {
	EnrichedPositions(ctx context.Context, accountID int64) []domain.EnrichedPosition
	Subscribe() (<-chan hub.Message, func())
}

// MarketService is the subset of rest.Client used for historical/contract
// lookups.
type MarketService interface {
	RetrieveBars(ctx context.Context, contractID string, startTime, endTime time.Time, unit string, unitNumber int) result.Result[[]domain.Quote]
	ListContracts(ctx context.Context, live bool) result.Result[[]domain.Contract]
	SearchContracts(ctx context.Context, query string) result.Result[[]domain.Contract]
	ContractByID(ctx context.Context, id string) result.Result[domain.Contract]
}

// TradingService is the subset of rest.Client plus orders.Manager used by
// the trading endpoints.
type TradingService interface {
	SearchOpenPositions(ctx context.Context, accountID int64) result.Result[[]domain.Position]
	SearchOpenOrders(ctx context.Context, accountID int64) result.Result[[]domain.Order]
	Place(ctx context.Context, intent domain.OrderIntent) result.Result[string]
	Flatten(ctx context.Context, accountID int64) []orders.FlattenOutcome
}

// HealthService reports C6/C5's live connectivity for GET /health.
type HealthService interface {
	AuthHealthy(ctx context.Context) bool
	StreamState() events.ConnState
}

// ConfigService persists an operator-submitted config snapshot, per
// POST /api/config/save.
type ConfigService interface {
	SaveConfig(accountID int64, data []byte) error
}

// StrategyActivator switches an account's active strategy by id, per
// POST /api/strategies/{id}/activate.
type StrategyActivator interface {
	Activate(accountID int64, strategyID string) error
}

// BacktestRunner accepts a backtest job and returns a stub job id
// synchronously, per SPEC_FULL.md §5(a): full execution is out of scope,
// only the acceptance contract is specified here.
type BacktestRunner interface {
	Submit(ctx context.Context, req BacktestRequest) (string, error)
}

// BacktestRequest is the POST /api/backtest/run request body.
type BacktestRequest struct {
	StrategyID string    `json:"strategy_id" binding:"required"`
	Symbol     string    `json:"symbol" binding:"required"`
	Start      time.Time `json:"start" binding:"required"`
	End        time.Time `json:"end" binding:"required"`
}

// CORSConfig is the configured allow list for the response-envelope
// middleware.
type CORSConfig struct {
	AllowedOrigins []string
}

// Server wires the C16 HTTP surface around this engine's services.
type Server struct {
	Router *gin.Engine

	Accounts  AccountService
	Dashboard DashboardService
	Hub       HubService
	Market    MarketService
	Trading   TradingService
	Health    HealthService
	Config    ConfigService
	Strategy  StrategyActivator
	Backtest  BacktestRunner

	cors CORSConfig
}

// NewServer builds the router and registers the middleware chain and
// routes. ResponseEnvelope must be outermost: RateLimitMiddleware and
// TimeoutMiddleware both abort the chain directly with
// AbortWithStatusJSON before returning to their caller, so any
// middleware registered after them never runs on those paths. Wrapping
// them in ResponseEnvelope instead of following it guarantees every
// response this server ever writes, including a 429 or a 504, carries
// the CORS headers (SPEC_FULL.md §1/§9).
func NewServer(accounts AccountService, dash DashboardService, hub HubService, market MarketService, trading TradingService, health HealthService, cfg ConfigService, strategy StrategyActivator, backtest BacktestRunner, cors CORSConfig) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(ResponseEnvelope(cors))
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))

	s := &Server{
		Router:    r,
		Accounts:  accounts,
		Dashboard: dash,
		Hub:       hub,
		Market:    market,
		Trading:   trading,
		Health:    health,
		Config:    cfg,
		Strategy:  strategy,
		Backtest:  backtest,
		cors:      cors,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/api/cors-ok", s.corsOK)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/dashboard/state", s.dashboardState)

		api.GET("/accounts", s.listAccounts)
		api.GET("/accounts/:id", s.accountDetail)
		api.GET("/accounts/:id/status", s.accountStatus)
		api.POST("/accounts/:id/start", s.startAccount)
		api.POST("/accounts/:id/stop", s.stopAccount)
		api.GET("/accounts/:id/activity", s.accountActivity)
		api.POST("/accounts/add", s.addAccount)

		api.GET("/market/candles", s.marketCandles)
		api.GET("/market/contracts", s.marketContracts)
		api.GET("/market/search", s.marketSearch)

		api.GET("/trading/positions/:id", s.tradingPositions)
		api.GET("/trading/pending-orders/:id", s.tradingPendingOrders)
		api.GET("/trading/previous-orders/:id", s.tradingPreviousOrders)
		api.POST("/trading/place-order", s.placeOrder)
		api.POST("/trading/accounts/:id/flatten", s.flattenAccount)

		api.POST("/strategies/:id/activate", s.activateStrategy)
		api.POST("/backtest/run", s.runBacktest)
		api.POST("/config/save", s.saveConfig)
	}
}

func (s *Server) corsOK(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
