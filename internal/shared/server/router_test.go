package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"resume-ingest/internal/services/health"
	"resume-ingest/internal/shared/auth"
	"resume-ingest/internal/shared/config"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier, err := auth.NewVerifier("test-secret", "test")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return NewRouter(RouterDeps{Config: config.Config{Env: "test"}, Verifier: verifier})
}

func TestPublicEndpoints(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		path     string
		contains string
	}{
		{path: "/health", contains: `"ok":true`},
		{path: "/api/v1/health", contains: `"ok":true`},
		{path: "/metrics", contains: "ingest_batches_submitted_total"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if resp.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.Code)
			}
			if !strings.Contains(resp.Body.String(), tt.contains) {
				t.Fatalf("expected %q in body %s", tt.contains, resp.Body.String())
			}
		})
	}
}

func TestMeReportsGuestIdentity(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("X-Guest-Id", "g-1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		UserID string `json:"userId"`
		Guest  bool   `json:"guest"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != "guest:g-1" || !body.Guest {
		t.Fatalf("unexpected identity %+v", body)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", resp.Code)
	}
}

func TestAddr(t *testing.T) {
	for in, want := range map[string]string{"": ":8080", "9090": ":9090", ":7000": ":7000"} {
		if got := Addr(in); got != want {
			t.Fatalf("Addr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHealthReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier, _ := auth.NewVerifier("test-secret", "test")
	svc := health.NewService(time.Second)
	svc.Register("redis", health.CheckFunc(func(context.Context) error { return errors.New("down") }))
	router := NewRouter(RouterDeps{Config: config.Config{Env: "test"}, Verifier: verifier, Health: svc})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"redis":"down"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}
