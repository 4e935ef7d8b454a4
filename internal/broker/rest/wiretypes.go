package rest

import (
	"strconv"
	"strings"
	"time"

	"topstepx-engine/internal/broker/common"
	"topstepx-engine/internal/domain"
)

// wireAccount is the Account/search response shape.
type wireAccount struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Balance   float64 `json:"balance"`
	CanTrade  bool    `json:"canTrade"`
	Simulated bool    `json:"simulated"`
}

func (a wireAccount) toDomain() domain.Account {
	return domain.Account{
		ID:        a.ID,
		Name:      a.Name,
		Balance:   a.Balance,
		CanTrade:  a.CanTrade,
		Simulated: a.Simulated,
	}
}

// wireContract is the Contract/* response shape. Symbol is the broker's
// contract name; BaseSymbol is the instrument root, the id's second-to-last
// dotted segment (e.g. "F.US.MES.Z25" -> "MES").
type wireContract struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	TickSize    float64 `json:"tickSize"`
	TickValue   float64 `json:"tickValue"`
	ActiveContract bool `json:"activeContract"`
}

func (c wireContract) toDomain() domain.Contract {
	root := c.ID
	if i := strings.LastIndexByte(root, '.'); i >= 0 {
		root = root[:i]
	}
	symbol := common.SymbolFromContractID(root)
	return domain.Contract{
		ID:          c.ID,
		Symbol:      c.Name,
		BaseSymbol:  symbol,
		Description: c.Description,
		TickSize:    c.TickSize,
		TickValue:   c.TickValue,
		Live:        c.ActiveContract,
		FetchedAt:   time.Now(),
	}
}

func wireContracts(in []wireContract) []domain.Contract {
	out := make([]domain.Contract, 0, len(in))
	for _, c := range in {
		out = append(out, c.toDomain())
	}
	return out
}

// wireOrder is the Order/search* response shape.
type wireOrder struct {
	ID          int64    `json:"id"`
	AccountID   int64    `json:"accountId"`
	ContractID  string   `json:"contractId"`
	Side        int      `json:"side"`
	Type        int      `json:"type"`
	Size        float64  `json:"size"`
	LimitPrice  *float64 `json:"limitPrice"`
	StopPrice   *float64 `json:"stopPrice"`
	Status      int      `json:"status"`
	CreatedAt   time.Time `json:"creationTimestamp"`
	UpdatedAt   time.Time `json:"updateTimestamp"`
}

func (o wireOrder) toDomain() domain.Order {
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

// wirePosition is the Position/searchOpen response shape.
type wirePosition struct {
	ID            string    `json:"id"`
	AccountID     int64     `json:"accountId"`
	ContractID    string    `json:"contractId"`
	Type          int       `json:"type"` // 1 = long, 2 = short
	Size          float64   `json:"size"`
	AveragePrice  float64   `json:"averagePrice"`
	CreationTime  time.Time `json:"creationTimestamp"`
}

func (p wirePosition) toDomain() domain.Position {
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

// wireTrade is the Trade/search response shape.
type wireTrade struct {
	ID         int64     `json:"id"`
	AccountID  int64     `json:"accountId"`
	ContractID string    `json:"contractId"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Side       int       `json:"side"`
	ProfitLoss float64   `json:"profitAndLoss"`
	Timestamp  time.Time `json:"creationTimestamp"`
}

func (t wireTrade) toDomain() domain.Trade {
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

// wireBar is one History/retrieveBars candle.
type wireBar struct {
	Timestamp time.Time `json:"t"`
	Close     float64   `json:"c"`
	Bid       float64   `json:"-"`
	Ask       float64   `json:"-"`
}

func (b wireBar) toQuote() domain.Quote {
	return domain.Quote{LastPrice: b.Close, Timestamp: b.Timestamp}
}
