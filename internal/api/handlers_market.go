package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// marketCandles implements GET /api/market/candles?symbol=&timeframe=&bars=,
// translating the UI's bar-count request into RetrieveBars' explicit
// time range: `bars` lookback windows of `timeframe` ending now.
func (s *Server) marketCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", "symbol is required")
		return
	}
	timeframe := c.DefaultQuery("timeframe", "1m")
	bars, _ := strconv.Atoi(c.DefaultQuery("bars", "100"))
	if bars <= 0 {
		bars = 100
	}

	unit, unitNumber := parseTimeframe(timeframe)
	now := time.Now()
	lookback := time.Duration(bars) * unitDuration(unit, unitNumber)
	start := now.Add(-lookback)

	contractRes := s.Market.ContractByID(c.Request.Context(), symbol)
	contractID := symbol
	if contractRes.IsOk() {
		contractID = contractRes.Value().ID
	}

	res := s.Market.RetrieveBars(c.Request.Context(), contractID, start, now, unit, unitNumber)
	if !res.IsOk() {
		respondError(c, res.Err().Kind.HTTPStatus(), string(res.Err().Kind), res.Err().Error())
		return
	}
	c.JSON(http.StatusOK, res.Value())
}

// parseTimeframe splits a UI timeframe like "5m"/"1h"/"1d" into the
// broker's (unit, unitNumber) bar-request shape.
func parseTimeframe(tf string) (unit string, unitNumber int) {
	if tf == "" {
		return "Minute", 1
	}
	n := 0
	i := 0
	for i < len(tf) && tf[i] >= '0' && tf[i] <= '9' {
		n = n*10 + int(tf[i]-'0')
		i++
	}
	if n == 0 {
		n = 1
	}
	switch tf[i:] {
	case "h":
		return "Hour", n
	case "d":
		return "Day", n
	default:
		return "Minute", n
	}
}

func unitDuration(unit string, unitNumber int) time.Duration {
	switch unit {
	case "Hour":
		return time.Duration(unitNumber) * time.Hour
	case "Day":
		return time.Duration(unitNumber) * 24 * time.Hour
	default:
		return time.Duration(unitNumber) * time.Minute
	}
}

func (s *Server) marketContracts(c *gin.Context) {
	live := c.Query("live") == "true"
	res := s.Market.ListContracts(c.Request.Context(), live)
	if !res.IsOk() {
		respondError(c, res.Err().Kind.HTTPStatus(), string(res.Err().Kind), res.Err().Error())
		return
	}
	c.JSON(http.StatusOK, res.Value())
}

func (s *Server) marketSearch(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", "query is required")
		return
	}
	res := s.Market.SearchContracts(c.Request.Context(), query)
	if !res.IsOk() {
		respondError(c, res.Err().Kind.HTTPStatus(), string(res.Err().Kind), res.Err().Error())
		return
	}
	c.JSON(http.StatusOK, res.Value())
}
