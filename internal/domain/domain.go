// Package domain holds the core entities shared across the engine's
// components (§3 of the spec): Contract, Account, Position, Order,
// AccountBotConfig, BotActivity, and Quote. Layers that touch the broker
// wire format translate into and out of these at the boundary.
package domain

import "time"

// Side is the internal (name-based) order side. The broker wire format
// uses BUY=0/SELL=1 integers; translation happens in broker/common, which
// both the REST and the stream clients use.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
)

// OrderType is the internal (name-based) order type.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeStop   OrderType = "STOP"
	OrderTypeTrail  OrderType = "TRAIL"
)

// OrderStatus is the lifecycle of an Order, observed from the broker, never
// inferred locally.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderWorking   OrderStatus = "WORKING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// TimeInForce is the order's time-in-force.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
)

// Contract is broker-assigned instrument metadata, cached with a TTL.
type Contract struct {
	ID          string // e.g. "F.US.MES.Z25"
	Symbol      string // e.g. "MESZ25"
	BaseSymbol  string // e.g. "MES"
	Description string
	TickSize    float64
	TickValue   float64
	PointValueField float64 // 0 means "derive from TickValue/TickSize"
	Live        bool
	FetchedAt   time.Time
}

// PointValue returns TickValue/TickSize when PointValueField is unset, per
// the derivation rule in the spec's Contract invariant.
func (c Contract) PointValue() (float64, bool) {
	if c.PointValueField > 0 {
		return c.PointValueField, true
	}
	if c.TickSize > 0 && c.TickValue > 0 {
		return c.TickValue / c.TickSize, true
	}
	return 0, false
}

// Account is a broker account, optionally bound to a managed Bot.
type Account struct {
	ID         int64
	Name       string
	Balance    float64
	CanTrade   bool
	Simulated  bool
	BotManaged bool
}

// Position is an open futures position on one account/contract.
type Position struct {
	PositionID string
	AccountID  int64
	Symbol     string
	ContractID string
	Side       Side // SideLong or SideShort
	Quantity   float64
	EntryPrice float64
	EntryTime  time.Time

	// CurrentPrice is nil until a quote has been observed for the symbol.
	CurrentPrice *float64
}

// EnrichedPosition is a Position plus valuation fields derived by the
// Position Valuator (C8). Pointer fields are nil rather than a
// silently-wrong zero when the multiplier cannot be resolved.
type EnrichedPosition struct {
	Position
	UnrealizedPnL *float64
	EntryValue    *float64
	CurrentValue  *float64
	PnLPercent    *float64
}

// Order is a broker order in the engine's internal (name-based) shape.
type Order struct {
	OrderID    string
	AccountID  int64
	ContractID string
	Side       Side
	Type       OrderType
	Size       float64

	LimitPrice *float64
	StopPrice  *float64
	TrailPrice *float64

	StopLossBracket   *BracketSpec
	TakeProfitBracket *BracketSpec

	Status      OrderStatus
	TimeInForce TimeInForce
	ClientNonce string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BracketSpec describes an attached stop-loss or take-profit child order.
type BracketSpec struct {
	Ticks     float64
	AbsPrice  *float64
}

// Trade is a single broker fill, as returned by Trade/search and as
// broadcast on a trade_update event.
type Trade struct {
	ID         int64
	AccountID  int64
	ContractID string
	Price      float64
	Size       float64
	Side       Side
	ProfitLoss float64
	Timestamp  time.Time
}

// AccountStage is the prop-firm evaluation lifecycle stage.
type AccountStage string

const (
	StagePractice      AccountStage = "practice"
	StageCombine       AccountStage = "combine"
	StageExpressFunded AccountStage = "express_funded"
)

// AccountSize is the evaluation/funded account size tier.
type AccountSize string

const (
	Size50k  AccountSize = "50k"
	Size100k AccountSize = "100k"
	Size150k AccountSize = "150k"
)

// AIAgentType selects the bot's signal-gating behavior (C9).
type AIAgentType string

const (
	AgentRuleBased      AIAgentType = "rule_based"
	AgentMLConfirmation AIAgentType = "ml_confirmation"
	AgentRLAgent        AIAgentType = "rl_agent"
)

// ValidAIAgentType reports whether v is one of the closed set of agent
// types; unknown values must be rejected at config load (REDESIGN: sum
// type instead of a free-form dictionary).
func ValidAIAgentType(v string) bool {
	switch AIAgentType(v) {
	case AgentRuleBased, AgentMLConfirmation, AgentRLAgent:
		return true
	default:
		return false
	}
}

// ValidAccountStage reports whether v is a known stage.
func ValidAccountStage(v string) bool {
	switch AccountStage(v) {
	case StagePractice, StageCombine, StageExpressFunded:
		return true
	default:
		return false
	}
}

// ValidAccountSize reports whether v is a known size tier.
func ValidAccountSize(v string) bool {
	switch AccountSize(v) {
	case Size50k, Size100k, Size150k:
		return true
	default:
		return false
	}
}

// AccountBotConfig is the operator-authored config for one bot.
type AccountBotConfig struct {
	AccountID         int64        `yaml:"account_id" json:"account_id"`
	Name              string       `yaml:"name" json:"name"`
	Stage             AccountStage `yaml:"stage" json:"stage"`
	Size              AccountSize  `yaml:"size" json:"size"`
	EnabledStrategies []string     `yaml:"enabled_strategies" json:"enabled_strategies"`
	AIAgentType       AIAgentType  `yaml:"ai_agent_type" json:"ai_agent_type"`
	PaperTrading      bool         `yaml:"paper_trading" json:"paper_trading"`
	Enabled           bool         `yaml:"enabled" json:"enabled"`
}

// Validate rejects unknown enum values at load time rather than letting
// them flow silently into the engine.
func (c AccountBotConfig) Validate() error {
	if !ValidAccountStage(string(c.Stage)) {
		return &ValidationError{Field: "stage", Value: string(c.Stage)}
	}
	if !ValidAccountSize(string(c.Size)) {
		return &ValidationError{Field: "size", Value: string(c.Size)}
	}
	if !ValidAIAgentType(string(c.AIAgentType)) {
		return &ValidationError{Field: "ai_agent_type", Value: string(c.AIAgentType)}
	}
	return nil
}

// ValidationError reports an unknown enum value encountered at config load.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Value
}

// ActivityType enumerates BotActivity event kinds.
type ActivityType string

const (
	ActivityBotStarted      ActivityType = "bot_started"
	ActivityBotStopped      ActivityType = "bot_stopped"
	ActivitySignalEmitted   ActivityType = "signal_emitted"
	ActivitySignalAccepted  ActivityType = "signal_accepted"
	ActivitySignalRejected  ActivityType = "signal_rejected"
	ActivityOrderSubmitted  ActivityType = "order_submitted"
	ActivityOrderFilled     ActivityType = "order_filled"
	ActivityBlockedByRisk   ActivityType = "blocked_by_risk"
)

// BotActivity is one entry in a bot's activity ring buffer.
type BotActivity struct {
	Type      ActivityType
	Timestamp time.Time
	Message   string
	Payload   map[string]any
}

// Quote is a normalized, streamed market-data event.
type Quote struct {
	Symbol    string
	LastPrice float64
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// Bar is one OHLC candle, from History/retrieveBars or synthesized by
// aggregating the quote stream.
type Bar struct {
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// Signal is a strategy's proposed trade.
type Signal struct {
	Symbol     string
	Side       Side // SideBuy or SideSell
	Confidence float64
	Metadata   map[string]any
}

// OrderIntent is the normalized request passed to the Order Manager (C11).
type OrderIntent struct {
	AccountID int64
	Symbol    string
	Side      Side
	Type      OrderType
	Qty       float64
	TIF       TimeInForce

	Limit *float64
	Stop  *float64

	StopLossTicks   *float64
	TakeProfitTicks *float64

	// ClientNonce de-duplicates identical submissions within the
	// idempotency window (2s).
	ClientNonce string
}
