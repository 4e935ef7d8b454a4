package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"topstepx-engine/internal/accounts"
	"topstepx-engine/internal/api"
	"topstepx-engine/internal/bot"
	"topstepx-engine/internal/broker/auth"
	"topstepx-engine/internal/broker/rest"
	"topstepx-engine/internal/broker/stream"
	"topstepx-engine/internal/config"
	"topstepx-engine/internal/contracts"
	"topstepx-engine/internal/dashboard"
	"topstepx-engine/internal/domain"
	"topstepx-engine/internal/events"
	"topstepx-engine/internal/hub"
	"topstepx-engine/internal/orders"
	"topstepx-engine/internal/persistence"
	"topstepx-engine/internal/ratelimit"
	"topstepx-engine/internal/result"
	"topstepx-engine/internal/risk"
	"topstepx-engine/internal/strategy"
	"topstepx-engine/pkg/mlpb"
)

// defaultWatchSymbol is the contract every built-in strategy watches when
// an account's config doesn't narrow it further. MES (Micro E-mini S&P) is
// the cheapest-margin instrument Topstep combines are usually sized around.
const defaultWatchSymbol = "MES"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	limiter := ratelimit.New()

	restClient := rest.New(rest.Config{
		BaseURL:  cfg.BrokerBaseURL,
		Username: cfg.BrokerUsername,
		APIKey:   cfg.BrokerAPIKey,
	}, limiter)

	authMgr := auth.New(restClient.Login, cfg.RefreshMargin)
	restClient.SetAuthManager(authMgr)

	streamClient := stream.New(stream.Config{
		UserHubURL:   cfg.BrokerWSURL + "/hubs/user",
		MarketHubURL: cfg.BrokerWSURL + "/hubs/market",
	}, authMgr.EnsureValid, bus)

	registry := contracts.New(restClient, nil)

	positionHub := hub.New(bus, registry)
	positionHub.Start(ctx)
	defer positionHub.Stop()

	riskMgr := risk.NewManager()
	orderMgr := orders.NewManager(restClient, registry)
	stateStore := &strategyStateStore{store: make(map[string]json.RawMessage)}
	engine := strategy.NewEngine(bus, stateStore)

	gateClient := buildGateClient(cfg.MLWorkerAddr)

	configStore, err := persistence.NewConfigStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("config store: %v", err)
	}
	defer configStore.Close()

	activityStore, err := persistence.NewActivityStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("activity store: %v", err)
	}
	defer activityStore.Close()
	riskMgr.SetWatermarkSink(activityStore)

	deps := bot.Deps{Bus: bus, Engine: engine, Risk: riskMgr, Orders: orderMgr, Activity: activityStore}
	factory := newStrategyFactory(gateClient)
	accountMgr := accounts.NewManager(deps, factory, configStore)

	if err := accountMgr.LoadConfigs(); err != nil {
		log.Printf("load persisted account configs: %v", err)
	}

	dash := dashboard.New(accountMgr, positionHub, riskMgr, restClient)
	dash.Start(ctx, bus)
	defer dash.Stop()

	server := api.NewServer(
		accountMgr,
		dash,
		positionHub,
		restClient,
		&tradingAdapter{rest: restClient, orders: orderMgr},
		&healthAdapter{auth: authMgr, stream: streamClient},
		configStore,
		&strategyActivator{engine: engine},
		&stubBacktestRunner{},
		api.CORSConfig{AllowedOrigins: cfg.AllowedOrigins},
	)

	// The background services run under one errgroup and share its
	// context; none of them returns an error, so they all stop together
	// when ctx is cancelled at shutdown.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		refreshBrokerAccounts(gctx, restClient, accountMgr)
		return nil
	})
	g.Go(func() error {
		// A bot only proposes trades; placing them happens off the bus so a
		// slow broker call never blocks the strategy engine's hot path.
		dispatchSignals(gctx, bus, accountMgr)
		return nil
	})
	g.Go(func() error {
		streamClient.Run(gctx)
		return nil
	})
	go func() {
		if err := g.Wait(); err != nil && gctx.Err() == nil {
			log.Printf("background service exited: %v", err)
		}
	}()

	// gin's Run blocks on a plain net/http server with no context shutdown
	// hook, so it runs outside the errgroup; the process exit below is what
	// actually reclaims it.
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

// refreshBrokerAccounts periodically re-fetches the broker's known account
// set, keeping accounts.Manager's NOT_FOUND/UNMANAGED distinction current.
func refreshBrokerAccounts(ctx context.Context, client *rest.Client, mgr *accounts.Manager) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	fetch := func() {
		res := client.SearchAccounts(ctx, true)
		if res.IsOk() {
			mgr.SetBrokerAccounts(res.Value())
		}
	}
	fetch()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fetch()
		}
	}
}

// dispatchSignals feeds every strategy_signal onto its account's Bot.
func dispatchSignals(ctx context.Context, bus *events.Bus, mgr *accounts.Manager) {
	signals, unsub := bus.Subscribe(events.TopicSignal, 256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-signals:
			if !ok {
				return
			}
			sig, ok := payload.(events.StrategySignal)
			if !ok {
				continue
			}
			if b := mgr.Bot(sig.AccountID); b != nil {
				b.HandleSignal(ctx, sig)
			}
		}
	}
}

// newStrategyFactory builds an accounts.StrategyFactory recognizing the two
// built-in strategies by name, gating them per the account's ai_agent_type.
func newStrategyFactory(gateClient mlpb.StrategyServiceClient) accounts.StrategyFactory {
	return func(cfg domain.AccountBotConfig) ([]strategy.Strategy, []string, strategy.Gate, error) {
		strategies := make([]strategy.Strategy, 0, len(cfg.EnabledStrategies))
		for _, name := range cfg.EnabledStrategies {
			switch name {
			case "ma_cross":
				strategies = append(strategies, strategy.NewMACrossStrategy("ma_cross", defaultWatchSymbol, 9, 21, 0.6))
			case "rsi":
				strategies = append(strategies, strategy.NewRSIStrategy("rsi", defaultWatchSymbol, 14, 30, 70, 0.6))
			default:
				return nil, nil, nil, fmt.Errorf("unknown strategy %q", name)
			}
		}

		var gate strategy.Gate
		switch cfg.AIAgentType {
		case domain.AgentMLConfirmation:
			gate = strategy.NewMLConfirmationGate(gateClient, 0.55)
		case domain.AgentRLAgent:
			gate = strategy.NewRLAgentGate(gateClient, 5)
		default:
			gate = strategy.RuleBasedGate{}
		}

		return strategies, []string{defaultWatchSymbol}, gate, nil
	}
}

// buildGateClient dials the optional ML inference worker. A nil client is
// valid: MLConfirmationGate/RLAgentGate both pass signals through unchanged
// when Client is nil, so an engine with no worker configured still runs
// every ai_agent_type, just degraded to rule-based behavior.
func buildGateClient(addr string) mlpb.StrategyServiceClient {
	if addr == "" {
		return nil
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Printf("ml worker dial %s: %v", addr, err)
		return nil
	}
	return mlpb.NewStrategyServiceClient(conn)
}

// strategyStateStore is an in-memory strategy.StateStore. Strategy warm-up
// state (moving averages, RSI windows) is cheap to rebuild from historical
// bars on restart, so durability here is a non-goal; the store exists to
// satisfy strategy.Engine's dependency, not to survive process restarts.
type strategyStateStore struct {
	store map[string]json.RawMessage
}

func (s *strategyStateStore) LoadState(_ context.Context, id string) (json.RawMessage, bool, error) {
	data, ok := s.store[id]
	return data, ok, nil
}

func (s *strategyStateStore) SaveState(_ context.Context, id string, data json.RawMessage) error {
	s.store[id] = data
	return nil
}

// tradingAdapter composes rest.Client's read surface with orders.Manager's
// write surface into the single api.TradingService interface; no one
// concrete type in this engine implements both halves.
type tradingAdapter struct {
	rest   *rest.Client
	orders *orders.Manager
}

func (t *tradingAdapter) SearchOpenPositions(ctx context.Context, accountID int64) result.Result[[]domain.Position] {
	return t.rest.SearchOpenPositions(ctx, accountID)
}

func (t *tradingAdapter) SearchOpenOrders(ctx context.Context, accountID int64) result.Result[[]domain.Order] {
	return t.rest.SearchOpenOrders(ctx, accountID)
}

func (t *tradingAdapter) Place(ctx context.Context, intent domain.OrderIntent) result.Result[string] {
	return t.orders.Place(ctx, intent)
}

func (t *tradingAdapter) Flatten(ctx context.Context, accountID int64) []orders.FlattenOutcome {
	return t.orders.Flatten(ctx, accountID)
}

// healthAdapter reports GET /health's two signals: broker auth reachability
// and the user-stream connection state.
type healthAdapter struct {
	auth   *auth.Manager
	stream *stream.Client
}

func (h *healthAdapter) AuthHealthy(ctx context.Context) bool {
	return h.auth.EnsureValid(ctx).IsOk()
}

func (h *healthAdapter) StreamState() events.ConnState {
	return h.stream.User.State()
}

// strategyActivator implements api.StrategyActivator over the shared
// strategy engine's pause/resume primitives.
type strategyActivator struct {
	engine *strategy.Engine
}

func (a *strategyActivator) Activate(accountID int64, strategyID string) error {
	return a.engine.ActivateOnly(accountID, strategyID)
}

// stubBacktestRunner accepts a backtest submission and returns a
// synchronous job id. Backtesting execution itself is an explicit
// Non-goal (spec.md "out of scope: backtesting, a separate offline
// component"); only the acceptance contract lives here.
type stubBacktestRunner struct {
	n int
}

func (r *stubBacktestRunner) Submit(_ context.Context, req api.BacktestRequest) (string, error) {
	r.n++
	return fmt.Sprintf("backtest-%s-%d", req.StrategyID, r.n), nil
}
