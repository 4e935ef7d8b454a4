package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"topstepx-engine/internal/accounts"
	"topstepx-engine/internal/domain"
)

func parseAccountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid account id")
		return 0, false
	}
	return id, true
}

// listAccounts returns the status of every account the broker or the bot
// registry knows, managed or not, per GET /api/accounts. accounts.Manager itself doesn't expose a plain list
// separate from Snapshot (C13/C15 share the same roster call), so this
// reuses the dashboard's account section rather than adding a second
// enumeration path to accounts.Manager.
func (s *Server) listAccounts(c *gin.Context) {
	state := s.Dashboard.State(c.Request.Context())
	c.JSON(http.StatusOK, state.Accounts)
}

// accountDetail returns one account's status, per GET /api/accounts/{id}.
func (s *Server) accountDetail(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}
	status := s.Accounts.Status(id)
	if status.Code == accounts.StatusNotFound {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "account not found")
		return
	}
	c.JSON(http.StatusOK, status)
}

// accountStatus implements C13's three-case distinction verbatim, per
// GET /api/accounts/{id}/status.
func (s *Server) accountStatus(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Accounts.Status(id))
}

func (s *Server) startAccount(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}
	if err := s.Accounts.Start(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true})
}

func (s *Server) stopAccount(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}
	if err := s.Accounts.Stop(id); err != nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (s *Server) accountActivity(c *gin.Context) {
	id, ok := parseAccountID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	c.JSON(http.StatusOK, s.Accounts.Activity(id, limit))
}

func (s *Server) addAccount(c *gin.Context) {
	var config domain.AccountBotConfig
	if err := c.ShouldBindJSON(&config); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid account config")
		return
	}
	if err := config.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.Accounts.Add(config); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": config.AccountID, "added": true})
}
