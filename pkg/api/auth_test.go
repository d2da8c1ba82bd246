package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidekit/scribe/pkg/config"
)

func mintToken(t *testing.T, secret, sub, aideID string) string {
	t.Helper()
	claims := &sessionClaims{
		AideID: aideID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func testContext(target string, headers map[string]string) *echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		headers  map[string]string
		expected string
	}{
		{
			name:     "authorization header",
			target:   "/",
			headers:  map[string]string{"Authorization": "Bearer abc123"},
			expected: "abc123",
		},
		{
			name:     "query parameter fallback",
			target:   "/?token=qp456",
			expected: "qp456",
		},
		{
			name:     "header wins over query parameter",
			target:   "/?token=qp456",
			headers:  map[string]string{"Authorization": "Bearer abc123"},
			expected: "abc123",
		},
		{
			name:     "no token",
			target:   "/",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, bearerToken(testContext(tt.target, tt.headers)))
		})
	}
}

func TestAuthorize(t *testing.T) {
	const secret = "test-secret"

	secured := func() *Server {
		cfg := config.DefaultConfig()
		cfg.JWTSecret = secret
		s, _, _ := newTestServer(t, cfg)
		return s
	}

	t.Run("dev mode passes without a token", func(t *testing.T) {
		s, _, _ := newTestServer(t, config.DefaultConfig())

		user, err := s.authorize(testContext("/", nil), "aide-1")
		require.NoError(t, err)
		assert.Equal(t, devUserID, user)
	})

	t.Run("dev mode reads proxy headers", func(t *testing.T) {
		s, _, _ := newTestServer(t, config.DefaultConfig())

		user, err := s.authorize(testContext("/", map[string]string{"X-Forwarded-User": "alice"}), "aide-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", user)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := secured().authorize(testContext("/", nil), "aide-1")
		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, he.Code)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		token := mintToken(t, "other-secret", "user-7", "aide-1")
		_, err := secured().authorize(testContext("/?token="+token, nil), "aide-1")
		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, he.Code)
	})

	t.Run("token scoped to a different aide", func(t *testing.T) {
		token := mintToken(t, secret, "user-7", "aide-2")
		_, err := secured().authorize(testContext("/?token="+token, nil), "aide-1")
		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusForbidden, he.Code)
	})

	t.Run("token without subject", func(t *testing.T) {
		token := mintToken(t, secret, "", "aide-1")
		_, err := secured().authorize(testContext("/?token="+token, nil), "aide-1")
		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, he.Code)
	})

	t.Run("valid token yields the subject", func(t *testing.T) {
		token := mintToken(t, secret, "user-7", "aide-1")
		user, err := secured().authorize(testContext("/", map[string]string{"Authorization": "Bearer " + token}), "aide-1")
		require.NoError(t, err)
		assert.Equal(t, "user-7", user)
	})
}
