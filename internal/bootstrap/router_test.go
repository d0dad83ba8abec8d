package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/intelliexo/intelliexo-backend/internal/auth"
	"github.com/intelliexo/intelliexo-backend/internal/logging"
	"github.com/intelliexo/intelliexo-backend/internal/session"
	sessionhttp "github.com/intelliexo/intelliexo-backend/internal/session/http"
)

type closedSessions struct{ uids []string }

func (c *closedSessions) Get(_ context.Context, uid string) (sessionhttp.Session, error) {
	c.uids = append(c.uids, uid)
	return nil, session.ErrClosed
}

func newTestRouter(t *testing.T, ping func(context.Context) error) (*gin.Engine, *closedSessions) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	metrics := session.NewMetrics(reg)
	metrics.TurnsStarted.Inc()

	sessions := &closedSessions{}
	r := BuildRouter(RouterDeps{
		ServiceName:    "intelliexo-backend",
		Version:        "test",
		AllowedOrigins: []string{"http://localhost:3000"},
		Logger:         zap.NewNop(),
		Auth:           auth.DevUser(),
		Sessions:       sessions,
		Gatherer:       reg,
		Ping:           ping,
	})
	return r, sessions
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name string
		ping func(context.Context) error
		want string
	}{
		{name: "no store", ping: nil, want: `"store":"disabled"`},
		{name: "store up", ping: func(context.Context) error { return nil }, want: `"store":"up"`},
		{name: "store down", ping: func(context.Context) error { return errors.New("down") }, want: `"store":"down"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t, tt.ping)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
			assert.NotEmpty(t, w.Header().Get(logging.HeaderRequestID))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "intelliexo_session_turns_started_total 1")
}

func TestSessionRoutesRequireAuth(t *testing.T) {
	r, sessions := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, sessions.uids)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("X-User-Id", "U1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, []string{"U1"}, sessions.uids)
}
