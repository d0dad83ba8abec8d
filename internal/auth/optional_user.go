package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DevUser sets the firebase uid from the X-User-Id header without verifying
// anything. Requests without the header are rejected as signed out.
// Use this ONLY for development/testing.
func DevUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if uid == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing X-User-Id"})
			c.Abort()
			return
		}

		c.Set(CtxFirebaseUID, uid)
		c.Next()
	}
}
