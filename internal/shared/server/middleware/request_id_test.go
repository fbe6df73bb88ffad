package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func requestIDRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/id", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFromContext(c)) })
	return r
}

func TestRequestIDReusesCallerHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set("X-Request-Id", "upload-42:retry.1")
	resp := httptest.NewRecorder()
	requestIDRouter().ServeHTTP(resp, req)

	if resp.Body.String() != "upload-42:retry.1" {
		t.Fatalf("expected caller id, got %q", resp.Body.String())
	}
	if got := resp.Header().Get("X-Request-Id"); got != "upload-42:retry.1" {
		t.Fatalf("expected echoed header, got %q", got)
	}
}

func TestRequestIDReplacesUnsafeHeader(t *testing.T) {
	for _, bad := range []string{"", "has space", "line\nbreak", strings.Repeat("a", 200)} {
		req := httptest.NewRequest(http.MethodGet, "/id", nil)
		if bad != "" {
			req.Header.Set("X-Request-Id", bad)
		}
		resp := httptest.NewRecorder()
		requestIDRouter().ServeHTTP(resp, req)

		if _, err := uuid.Parse(resp.Body.String()); err != nil {
			t.Fatalf("header %q: expected generated uuid, got %q", bad, resp.Body.String())
		}
	}
}
