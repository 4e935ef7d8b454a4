package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"topstepx-engine/internal/events"
)

// health implements GET /health: reports auth + stream status, per
// spec.md §6. The UI's WebSocket connector gates on this call succeeding
// before it ever opens /ws (spec.md §4.17).
func (s *Server) health(c *gin.Context) {
	authOK := s.Health == nil || s.Health.AuthHealthy(c.Request.Context())
	streamState := events.ConnClosed
	if s.Health != nil {
		streamState = s.Health.StreamState()
	}

	status := http.StatusOK
	body := gin.H{
		"status":       map[bool]string{true: "ok", false: "degraded"}[authOK],
		"auth":         authOK,
		"stream_state": streamState,
	}
	if !authOK {
		status = http.StatusServiceUnavailable
		body["detail"] = "broker authentication unavailable"
		body["code"] = "UNAVAILABLE"
	}
	c.JSON(status, body)
}

func (s *Server) dashboardState(c *gin.Context) {
	state := s.Dashboard.State(c.Request.Context())
	status := http.StatusOK
	if !state.AnySectionSucceeded() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, state)
}
