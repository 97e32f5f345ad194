package structuring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/credentials"
	"resume-ingest/internal/llm/openai"
)

func newClient(t *testing.T, content string, finish string) *LLMClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if rf, _ := body["response_format"].(map[string]any); rf["type"] != "json_object" {
			t.Errorf("expected json_object response format, got %v", body["response_format"])
		}
		resp := map[string]any{
			"choices": []any{map[string]any{
				"message":       map[string]any{"content": content},
				"finish_reason": finish,
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	llm, err := openai.NewClient(openai.Options{Adapter: adapterName, Endpoint: srv.URL, Model: "gpt-4o-mini", APIKey: "cfg"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return NewLLMClient(llm)
}

func TestStructure(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		finish   string
		wantJSON string
		wantCode string
	}{
		{name: "plain json", content: `{"name":"Jane"}`, finish: "stop", wantJSON: `{"name":"Jane"}`},
		{name: "fenced json", content: "```json\n{\"name\":\"Jane\"}\n```", finish: "stop", wantJSON: `{"name":"Jane"}`},
		{name: "not json", content: "Jane Doe is an engineer", finish: "stop", wantCode: adapters.CodeMalformedOutput},
		{name: "truncated", content: `{"name":"Ja`, finish: "length", wantCode: adapters.CodeMalformedOutput},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, tt.content, tt.finish)
			ctx := credentials.WithCredentials(context.Background(), credentials.Credentials{StructuringKey: "k"})
			raw, err := c.Structure(ctx, "Jane Doe\nEngineer")
			if tt.wantCode != "" {
				if adapters.CodeOf(err) != tt.wantCode || adapters.IsTransient(err) {
					t.Fatalf("expected permanent %s, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Structure: %v", err)
			}
			if string(raw) != tt.wantJSON {
				t.Fatalf("raw = %s, want %s", raw, tt.wantJSON)
			}
		})
	}
}

func TestStructureRejectsEmptyText(t *testing.T) {
	c := newClient(t, "{}", "stop")
	_, err := c.Structure(context.Background(), "  ")
	if adapters.KindOf(err) != adapters.KindPermanent {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
