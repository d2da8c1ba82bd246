package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echo "github.com/labstack/echo/v5"
)

// devUserID attributes requests when auth is disabled and no proxy header
// names the caller.
const devUserID = "dev-user"

// sessionClaims is the token payload minted by the external auth service.
// The subject is the user id; aide_id scopes the token to one page.
type sessionClaims struct {
	AideID string `json:"aide_id"`
	jwt.RegisteredClaims
}

// bearerToken pulls the JWT from the Authorization header, falling back to
// the token query parameter for browser WebSocket clients, which cannot set
// headers on the upgrade request.
func bearerToken(c *echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.QueryParam("token")
}

// authorize verifies the caller may act on aideID and returns the user id.
// With no JWT secret configured (dev mode) every request passes and the user
// is taken from proxy headers.
func (s *Server) authorize(c *echo.Context, aideID string) (string, error) {
	if s.cfg.JWTSecret == "" {
		return extractUser(c), nil
	}

	raw := bearerToken(c)
	if raw == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	if claims.Subject == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
	}
	if claims.AideID != aideID {
		return "", echo.NewHTTPError(http.StatusForbidden, "token is not scoped to this aide")
	}
	return claims.Subject, nil
}

// extractUser names the caller from proxy headers in dev mode.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email > devUserID.
func extractUser(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return devUserID
}
