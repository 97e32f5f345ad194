package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"resume-ingest/internal/adapters"
)

func TestIsGPT5(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  bool
	}{
		{name: "gpt5", model: "gpt-5", want: true},
		{name: "gpt5 variant", model: "gpt-5-mini", want: true},
		{name: "gpt5 uppercase", model: " GPT-5o ", want: true},
		{name: "gpt4", model: "gpt-4o", want: false},
		{name: "empty", model: "", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := isGPT5(tt.model); got != tt.want {
				t.Fatalf("isGPT5(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, model string) *Client {
	t.Helper()
	c, err := NewClient(Options{Adapter: "extraction", Endpoint: srv.URL, Model: model, APIKey: "cfg-key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestCompleteSendsImagesAsDataURLParts(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" page text "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "gpt-4o-mini")
	out, err := c.Complete(context.Background(), Request{
		APIKey: "batch-key",
		Messages: []Message{{
			Role:   "user",
			Text:   "transcribe",
			Images: []Image{{MimeType: "image/png", Data: []byte("png")}},
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Content != "page text" {
		t.Fatalf("content = %q", out.Content)
	}
	if auth != "Bearer batch-key" {
		t.Fatalf("authorization = %q", auth)
	}
	msgs := got["messages"].([]any)
	parts := msgs[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected text and image parts, got %d", len(parts))
	}
	url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("unexpected image url %q", url)
	}
	if _, ok := got["temperature"]; !ok {
		t.Fatalf("expected temperature for non gpt-5 model")
	}
}

func TestCompleteRetriesWithoutTemperature(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if n == 1 {
			if _, ok := body["temperature"]; !ok {
				t.Errorf("first call should carry temperature")
			}
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Unsupported value: 'temperature'","type":"invalid_request_error"}}`))
			return
		}
		if _, ok := body["temperature"]; ok {
			t.Errorf("retry should omit temperature")
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "o3-mini")
	if _, err := c.Complete(context.Background(), Request{JSON: true, Messages: []Message{{Role: "user", Text: "x"}}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestCompleteClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		code      string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`, transient: true, code: adapters.CodeRateLimited},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, transient: true, code: adapters.CodeUnavailable},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key"}}`, transient: false, code: adapters.CodeRejected},
		{name: "error in 200 body", status: http.StatusOK, body: `{"error":{"message":"policy","type":"content_filter"}}`, transient: false, code: adapters.CodeRejected},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv, "gpt-5-mini")
			_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Text: "x"}}})
			if err == nil {
				t.Fatalf("expected error")
			}
			if adapters.IsTransient(err) != tt.transient {
				t.Fatalf("transient = %v, want %v (%v)", adapters.IsTransient(err), tt.transient, err)
			}
			if code := adapters.CodeOf(err); code != tt.code {
				t.Fatalf("code = %q, want %q", code, tt.code)
			}
		})
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "gpt-4o")
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Text: "x"}}})
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestCompleteRequiresKey(t *testing.T) {
	c, err := NewClient(Options{Adapter: "structuring", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Complete(context.Background(), Request{})
	if adapters.KindOf(err) != adapters.KindPermanent {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
