package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidekit/scribe/pkg/config"
)

func wsURL(server *httptest.Server, path string) string {
	return "ws" + server.URL[len("http"):] + path
}

func dialSession(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(server, path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readWSFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWSHandler(t *testing.T) {
	t.Run("upgrades and establishes a session", func(t *testing.T) {
		s, _, _ := newTestServer(t, config.DefaultConfig())
		server := httptest.NewServer(s.Handler())
		t.Cleanup(server.Close)

		conn := dialSession(t, server, "/ws/aides/aide-1")

		hello := readWSFrame(t, conn)
		assert.Equal(t, "session.established", hello["type"])
		assert.Equal(t, "aide-1", hello["aide_id"])
	})

	t.Run("rejects a missing token before the upgrade", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.JWTSecret = "test-secret"
		s, _, _ := newTestServer(t, cfg)
		server := httptest.NewServer(s.Handler())
		t.Cleanup(server.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, resp, err := websocket.Dial(ctx, wsURL(server, "/ws/aides/aide-1"), nil)
		require.Error(t, err)
		require.Nil(t, conn)
		require.NotNil(t, resp)
		assert.Equal(t, 401, resp.StatusCode)
	})

	t.Run("token identity flows into turn requests", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.JWTSecret = "test-secret"
		s, _, runner := newTestServer(t, cfg)
		server := httptest.NewServer(s.Handler())
		t.Cleanup(server.Close)

		token := mintToken(t, "test-secret", "user-7", "aide-1")
		conn := dialSession(t, server, "/ws/aides/aide-1?token="+token)
		readWSFrame(t, conn) // session.established

		data, err := json.Marshal(map[string]string{"type": "message", "content": "Add a bed for tomatoes", "message_id": "m1"})
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, conn.Write(ctx, websocket.MessageText, data))

		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if reqs := runner.requests(); len(reqs) == 1 {
				assert.Equal(t, "aide-1", reqs[0].AideID)
				assert.Equal(t, "user-7", reqs[0].UserID)
				assert.Equal(t, "m1", reqs[0].MessageID)
				assert.Equal(t, "Add a bed for tomatoes", reqs[0].Message)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatal("turn request never reached the runner")
	})
}
