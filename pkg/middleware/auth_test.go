package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func authRouter(tokens TokenSet) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BearerAuthMiddleware(tokens))
	r.GET("/probe", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func probe(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBearerAuth(t *testing.T) {
	tokens := NewTokenSet([]string{"secret-1", " secret-2 ", ""})
	r := authRouter(tokens)

	if w := probe(r, "Bearer secret-1"); w.Code != http.StatusOK {
		t.Fatalf("valid token rejected: %d", w.Code)
	}
	if w := probe(r, "Bearer secret-2"); w.Code != http.StatusOK {
		t.Fatalf("token not trimmed on load: %d", w.Code)
	}
	if w := probe(r, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing header must be 401, got %d", w.Code)
	}
	if w := probe(r, "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token must be 401, got %d", w.Code)
	}
	if w := probe(r, "secret-1"); w.Code != http.StatusUnauthorized {
		t.Fatalf("non-bearer header must be 401, got %d", w.Code)
	}

	if w := probe(r, "Bearer wrong"); w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("missing WWW-Authenticate header: %v", w.Header())
	}
}

func TestBearerAuthUnconfigured(t *testing.T) {
	r := authRouter(NewTokenSet(nil))

	w := probe(r, "Bearer anything")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("empty token set must reject with 500, got %d", w.Code)
	}
}
