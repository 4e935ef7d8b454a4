package stream

import (
	"encoding/json"
	"strconv"
	"time"

	"topstepx-engine/internal/broker/common"
	"topstepx-engine/internal/domain"
)

// QuoteEvent is the broker's GatewayQuote payload shape on the market hub.
type QuoteEvent struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"lastPrice"`
	Bid       float64   `json:"bestBid"`
	Ask       float64   `json:"bestAsk"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is the broker's GatewayUserOrder payload shape on the user hub.
type OrderEvent struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"accountId"`
	ContractID  string    `json:"contractId"`
	Side        int       `json:"side"`
	Type        int       `json:"type"`
	Size        float64   `json:"size"`
	LimitPrice  *float64  `json:"limitPrice"`
	StopPrice   *float64  `json:"stopPrice"`
	Status      int       `json:"status"`
	CreatedAt   time.Time `json:"creationTimestamp"`
	UpdatedAt   time.Time `json:"updateTimestamp"`
}

func (o OrderEvent) ToDomain() domain.Order {
	return domain.Order{
		OrderID:    strconv.FormatInt(o.ID, 10),
		AccountID:  o.AccountID,
		ContractID: o.ContractID,
		Side:       common.SideFromWire(common.WireSide(o.Side)),
		Type:       common.OrderTypeFromWire(common.WireOrderType(o.Type)),
		Size:       o.Size,
		LimitPrice: o.LimitPrice,
		StopPrice:  o.StopPrice,
		Status:     common.OrderStatusFromWire(common.WireOrderStatus(o.Status)),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

// PositionEvent is the broker's GatewayUserPosition payload shape.
type PositionEvent struct {
	ID           string    `json:"id"`
	AccountID    int64     `json:"accountId"`
	ContractID   string    `json:"contractId"`
	Type         int       `json:"type"` // 1 = long, 2 = short
	Size         float64   `json:"size"`
	AveragePrice float64   `json:"averagePrice"`
	CreationTime time.Time `json:"creationTimestamp"`
}

func (p PositionEvent) ToDomain() domain.Position {
	side := domain.SideLong
	if p.Type == 2 {
		side = domain.SideShort
	}
	return domain.Position{
		PositionID: p.ID,
		AccountID:  p.AccountID,
		ContractID: p.ContractID,
		Symbol:     common.SymbolFromContractID(p.ContractID),
		Side:       side,
		Quantity:   p.Size,
		EntryPrice: p.AveragePrice,
		EntryTime:  p.CreationTime,
	}
}

// AccountEvent is the broker's GatewayUserAccount payload shape.
type AccountEvent struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Balance   float64 `json:"balance"`
	CanTrade  bool    `json:"canTrade"`
	Simulated bool    `json:"simulated"`
}

func (a AccountEvent) ToDomain() domain.Account {
	return domain.Account{
		ID:        a.ID,
		Name:      a.Name,
		Balance:   a.Balance,
		CanTrade:  a.CanTrade,
		Simulated: a.Simulated,
	}
}

// TradeEvent is the broker's GatewayUserTrade payload shape.
type TradeEvent struct {
	ID         int64     `json:"id"`
	AccountID  int64     `json:"accountId"`
	ContractID string    `json:"contractId"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Side       int       `json:"side"`
	ProfitLoss float64   `json:"profitAndLoss"`
	Timestamp  time.Time `json:"creationTimestamp"`
}

func (t TradeEvent) ToDomain() domain.Trade {
	side := domain.SideBuy
	if t.Side == 1 {
		side = domain.SideSell
	}
	return domain.Trade{
		ID:         t.ID,
		AccountID:  t.AccountID,
		ContractID: t.ContractID,
		Price:      t.Price,
		Size:       t.Size,
		Side:       side,
		ProfitLoss: t.ProfitLoss,
		Timestamp:  t.Timestamp,
	}
}

// DecodeArg unmarshals the first element of a SignalR invocation's argument
// array into dst. GatewayUser* targets invoke with a single payload object
// as arguments[0], same shape GatewayQuote uses.
func DecodeArg(raw json.RawMessage, dst any) error {
	var args []json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil || len(args) == 0 {
		return err
	}
	return json.Unmarshal(args[0], dst)
}
