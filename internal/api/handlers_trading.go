package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"topstepx-engine/internal/domain"
)

func (s *Server) tradingPositions(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}
	res := s.Trading.SearchOpenPositions(c.Request.Context(), id)
	if !res.IsOk() {
		respondError(c, res.Err().Kind.HTTPStatus(), string(res.Err().Kind), res.Err().Error())
		return
	}
	c.JSON(http.StatusOK, res.Value())
}

func (s *Server) tradingPendingOrders(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}
	res := s.Trading.SearchOpenOrders(c.Request.Context(), id)
	if !res.IsOk() {
		respondError(c, res.Err().Kind.HTTPStatus(), string(res.Err().Kind), res.Err().Error())
		return
	}
	c.JSON(http.StatusOK, res.Value())
}

// tradingPreviousOrders serves recently-terminal orders from the
// dashboard aggregator's bus-fed ring, since no broker endpoint returns
// order history.
func (s *Server) tradingPreviousOrders(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}
	limit := 50
	c.JSON(http.StatusOK, s.Dashboard.RecentOrders(id, limit))
}

type placeOrderRequest struct {
	AccountID     int64    `json:"account_id" binding:"required"`
	Symbol        string   `json:"symbol" binding:"required"`
	Side          string   `json:"side" binding:"required,oneof=BUY SELL"`
	OrderType     string   `json:"order_type" binding:"required,oneof=MARKET LIMIT STOP"`
	Quantity      float64  `json:"quantity" binding:"required,gt=0"`
	TimeInForce   string   `json:"time_in_force" binding:"required,oneof=DAY GTC IOC"`
	Price         *float64 `json:"price"`
	StopLossTicks *float64 `json:"stop_loss"`
	TakeProfitTicks *float64 `json:"take_profit"`
}

// placeOrder implements POST /api/trading/place-order, including the
// trading-hours gate (spec.md §4.16): the order is forwarded to the
// broker regardless of session state, and the response carries
// market_open/market_warning alongside the broker result. This is a UX
// advisory, never a block.
func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid place-order request")
		return
	}

	marketOpen := isTradingHours(time.Now())

	intent := domain.OrderIntent{
		AccountID:       req.AccountID,
		Symbol:          req.Symbol,
		Side:            domain.Side(req.Side),
		Type:            domain.OrderType(req.OrderType),
		Qty:             req.Quantity,
		TIF:             domain.TimeInForce(req.TimeInForce),
		Limit:           req.Price,
		StopLossTicks:   req.StopLossTicks,
		TakeProfitTicks: req.TakeProfitTicks,
	}

	res := s.Trading.Place(c.Request.Context(), intent)

	resp := gin.H{"market_open": marketOpen}
	if !marketOpen {
		resp["market_warning"] = "outside the 17:00-15:10 CT futures session; order still forwarded"
	}
	if res.IsOk() {
		resp["order_id"] = res.Value()
		c.JSON(http.StatusOK, resp)
		return
	}
	resp["error"] = res.Err().Error()
	resp["detail"] = res.Err().Error()
	resp["code"] = string(res.Err().Kind)
	c.JSON(res.Err().Kind.HTTPStatus(), resp)
}

func (s *Server) flattenAccount(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}
	outcomes := s.Trading.Flatten(c.Request.Context(), id)
	c.JSON(http.StatusOK, outcomes)
}
