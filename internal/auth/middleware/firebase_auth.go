package middleware

import (
	"context"
	"net/http"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"

	"github.com/intelliexo/intelliexo-backend/internal/auth"
)

// TokenVerifier is the part of *firebase auth.Client the middleware needs.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (string, error)
}

// FirebaseAuthMiddleware validates Firebase ID tokens and stores the uid.
func FirebaseAuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing authorization token"})
			c.Abort()
			return
		}

		uid, err := verifier.VerifyIDToken(c.Request.Context(), token)
		if err != nil || strings.TrimSpace(uid) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(auth.CtxFirebaseUID, uid)
		c.Next()
	}
}

// extractToken extracts the Bearer token from the Authorization header.
// EventSource cannot set headers, so the SSE route may pass ?access_token=.
func extractToken(c *gin.Context) string {
	bearerToken := c.GetHeader("Authorization")
	if len(bearerToken) > 7 && strings.HasPrefix(bearerToken, "Bearer ") {
		return bearerToken[7:]
	}
	return c.Query("access_token")
}

// FirebaseVerifier adapts the Firebase Admin auth client to TokenVerifier.
type FirebaseVerifier struct {
	Client *fbauth.Client
}

func (v FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (string, error) {
	token, err := v.Client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", err
	}
	return token.UID, nil
}
