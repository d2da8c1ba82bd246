package api

import (
	"net/http"
	"strings"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/aidekit/scribe/pkg/session"
)

// wsHandler handles GET /ws/aides/:id. Auth runs before the upgrade so a bad
// token gets a proper HTTP status instead of a dropped socket. After the
// upgrade the session owns the connection until it closes.
func (s *Server) wsHandler(c *echo.Context) error {
	aideID := c.Param("id")
	if aideID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "aide id is required")
	}
	userID, err := s.authorize(c, aideID)
	if err != nil {
		return err
	}

	opts := &websocket.AcceptOptions{}
	if len(s.cfg.AllowedOrigins) > 0 {
		opts.OriginPatterns = originPatterns(s.cfg.AllowedOrigins)
	} else {
		// Dev mode: no origin allow-list configured.
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	sess := session.New(aideID, userID, conn, s.hub, s.runner, s.profiles, s.logger)
	sess.Run(c.Request().Context())
	return nil
}

// originPatterns converts configured origins ("https://app.example.com") to
// the host patterns websocket.AcceptOptions matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
