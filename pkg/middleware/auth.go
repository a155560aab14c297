package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenSet is the set of valid bearer tokens, built once at startup and
// never mutated afterwards.
type TokenSet map[string]struct{}

func NewTokenSet(tokens []string) TokenSet {
	set := make(TokenSet, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// BearerAuthMiddleware rejects requests that do not carry a valid bearer
// token. An empty token set rejects everything with a configuration error.
func BearerAuthMiddleware(tokens TokenSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(tokens) == 0 {
			slog.Error("no valid tokens configured")
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication not properly configured"})
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		if _, ok := tokens[token]; !ok {
			slog.Warn("invalid token attempt", "token_prefix", tokenPrefix(token))
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication token"})
			return
		}

		c.Next()
	}
}

func tokenPrefix(token string) string {
	if len(token) > 10 {
		return token[:10]
	}
	return token
}
