package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// activateStrategy implements POST /api/strategies/{id}/activate. The
// path id is the target account_id (strategies are scoped per-account
// bot, see C9/C12), the request body names which configured strategy to
// make active.
func (s *Server) activateStrategy(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}
	var req struct {
		StrategyID string `json:"strategy_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", "strategy_id is required")
		return
	}
	if s.Strategy == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "strategy activation not configured")
		return
	}
	if err := s.Strategy.Activate(id, req.StrategyID); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"activated": req.StrategyID})
}

// runBacktest implements POST /api/backtest/run. Per SPEC_FULL.md §5(a),
// full backtest execution is out of scope; only the acceptance contract
// (accept a strategy/range, return a job id synchronously) is specified.
func (s *Server) runBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid backtest request")
		return
	}
	if s.Backtest == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "backtesting not configured")
		return
	}
	jobID, err := s.Backtest.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// saveConfig implements POST /api/config/save: persists the request's raw
// JSON config for one account in the same ConfigStore table that
// accounts.Manager.Add writes YAML into (LoadConfigs' YAML decoder reads
// both, since JSON parses as YAML) — this endpoint lets an operator
// push a config without going through /api/accounts/add's strategy-build
// step, e.g. to save a draft.
func (s *Server) saveConfig(c *gin.Context) {
	var req struct {
		AccountID int64           `json:"account_id" binding:"required"`
		Config    json.RawMessage `json:"config" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid config payload")
		return
	}
	if s.Config == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "config store not configured")
		return
	}
	if err := s.Config.SaveConfig(req.AccountID, req.Config); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}
