package api

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/aidekit/scribe/pkg/store"
)

const (
	defaultTurnsLimit = 20
	maxTurnsLimit     = 100
)

// TurnsResponse is returned by GET /api/v1/aides/:id/turns.
type TurnsResponse struct {
	AideID string       `json:"aide_id"`
	Turns  []store.Turn `json:"turns"`
}

// snapshotHandler handles GET /api/v1/aides/:id/snapshot. The body is the
// canonical snapshot serialization, the same bytes the prompt builder and the
// store use.
func (s *Server) snapshotHandler(c *echo.Context) error {
	aideID := c.Param("id")
	if aideID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "aide id is required")
	}
	if _, err := s.authorize(c, aideID); err != nil {
		return err
	}

	snap, err := s.reader.Snapshot(c.Request().Context(), aideID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "aide not found")
	}
	if err != nil {
		s.logger.Error("Snapshot read failed", "aide_id", aideID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}

	data, err := snap.MarshalCanonical()
	if err != nil {
		s.logger.Error("Snapshot serialization failed", "aide_id", aideID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	c.Response().Header().Set("Content-Type", "application/json")
	c.Response().WriteHeader(http.StatusOK)
	_, err = c.Response().Write(data)
	return err
}

// turnsHandler handles GET /api/v1/aides/:id/turns. Turns arrive newest
// first; direct edits are not part of the history view.
func (s *Server) turnsHandler(c *echo.Context) error {
	aideID := c.Param("id")
	if aideID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "aide id is required")
	}
	if _, err := s.authorize(c, aideID); err != nil {
		return err
	}

	limit := defaultTurnsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a positive integer")
		}
		if n > maxTurnsLimit {
			n = maxTurnsLimit
		}
		limit = n
	}

	turns, err := s.reader.RecentTurns(c.Request().Context(), aideID, limit)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "aide not found")
	}
	if err != nil {
		s.logger.Error("Turns read failed", "aide_id", aideID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}

	return c.JSON(http.StatusOK, &TurnsResponse{AideID: aideID, Turns: turns})
}
