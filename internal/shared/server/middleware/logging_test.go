package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"resume-ingest/internal/shared/auth"
	"resume-ingest/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier, _ := auth.NewVerifier("", "dev")

	router := gin.New()
	router.Use(RequestID(), Auth(verifier), Logging())
	router.GET("/api/v1/batches/:batchId", func(c *gin.Context) {
		c.Set(BatchIDKey, c.Param("batchId"))
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	var buf bytes.Buffer
	restore := telemetry.SetOutput(&buf)
	defer restore()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches/batch-9", nil)
	req.Header.Set("X-Guest-Id", "guest1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	var payload map[string]any
	if err := json.Unmarshal([]byte(last), &payload); err != nil {
		t.Fatalf("decode log json %q: %v", last, err)
	}

	required := []string{"request_id", "user_id", "batch_id", "duration_ms", "status", "route"}
	for _, key := range required {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing %s in log payload: %v", key, payload)
		}
	}
	if payload["batch_id"] != "batch-9" {
		t.Fatalf("expected batch_id batch-9, got %v", payload["batch_id"])
	}
	if payload["user_id"] != "guest:guest1" {
		t.Fatalf("expected guest user id, got %v", payload["user_id"])
	}
	if payload["msg"] != "request.complete" {
		t.Fatalf("unexpected msg %v", payload["msg"])
	}
}
