package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/aidekit/scribe/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
	Store          string `json:"store,omitempty"`
}

// pinger is implemented by the Postgres store; the memory store has no
// connectivity to check.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler handles GET /healthz. It checks only this process and its
// store; the LLM provider is deliberately excluded so a provider outage does
// not get the service restarted.
func (s *Server) healthHandler(c *echo.Context) error {
	resp := &HealthResponse{
		Status:         healthStatusHealthy,
		Version:        version.GitCommit,
		ActiveSessions: s.hub.ActiveSessions(),
	}

	if p, ok := s.reader.(pinger); ok {
		reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := p.Ping(reqCtx); err != nil {
			resp.Status = healthStatusUnhealthy
			resp.Store = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		resp.Store = healthStatusHealthy
	}

	return c.JSON(http.StatusOK, resp)
}
