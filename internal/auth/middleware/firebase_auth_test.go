package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/intelliexo/intelliexo-backend/internal/auth"
)

type fakeVerifier map[string]string

func (f fakeVerifier) VerifyIDToken(_ context.Context, token string) (string, error) {
	uid, ok := f[token]
	if !ok {
		return "", errors.New("token rejected")
	}
	return uid, nil
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(FirebaseAuthMiddleware(fakeVerifier{"good": "U1"}))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, auth.UserFirebaseUID(c))
	})
	return r
}

func TestFirebaseAuthMiddleware(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name     string
		header   string
		query    string
		wantCode int
		wantBody string
	}{
		{name: "bearer token", header: "Bearer good", wantCode: http.StatusOK, wantBody: "U1"},
		{name: "query token", query: "?access_token=good", wantCode: http.StatusOK, wantBody: "U1"},
		{name: "missing token", wantCode: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer bad", wantCode: http.StatusUnauthorized},
		{name: "malformed header", header: "Token good", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}
