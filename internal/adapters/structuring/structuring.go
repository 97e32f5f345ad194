// Package structuring turns extracted resume text into the structured resume JSON.
package structuring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/credentials"
	"resume-ingest/internal/llm/openai"
)

const adapterName = "structuring"

// Prompt describes the exact JSON shape expected back.
const Prompt = `Convert the resume text into a single JSON object with exactly these keys:
{
  "name": string,
  "contact": {"email": string, "phone": string, "location": string, "links": [string]},
  "summary": string,
  "workHistory": [{"company": string, "title": string, "location": string, "startDate": string, "endDate": string, "description": string, "highlights": [string]}],
  "education": [{"institution": string, "degree": string, "field": string, "startDate": string, "endDate": string}],
  "skills": [string]
}
Rules:
- Every key must be present. Use "" for unknown strings and [] for empty lists.
- Dates are "YYYY", "YYYY-MM" or "YYYY-MM-DD". Use "present" for a current role's endDate.
- Only use facts from the text. Never invent employers, dates or skills.
- Respond with JSON only.`

// Structurer returns raw structured JSON for extracted text.
type Structurer interface {
	Structure(ctx context.Context, text string) (json.RawMessage, error)
}

// LLMClient structures text with an OpenAI-compatible chat model in JSON mode.
type LLMClient struct {
	llm       *openai.Client
	maxTokens int
}

// NewLLMClient wraps an OpenAI chat client.
func NewLLMClient(llm *openai.Client) *LLMClient {
	return &LLMClient{llm: llm, maxTokens: 4096}
}

func (c *LLMClient) Structure(ctx context.Context, text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, adapters.Permanent(adapterName, adapters.CodeCorruptInput, errors.New("no text to structure"))
	}
	req := openai.Request{
		JSON:      true,
		MaxTokens: c.maxTokens,
		Messages: []openai.Message{
			{Role: "system", Text: Prompt},
			{Role: "user", Text: text},
		},
	}
	if creds, ok := credentials.FromContext(ctx); ok {
		req.APIKey = creds.StructuringKey
	}

	out, err := c.llm.Complete(ctx, req)
	if errors.Is(err, openai.ErrEmptyContent) {
		return nil, adapters.Permanent(adapterName, adapters.CodeMalformedOutput, errors.New("model returned no content"))
	}
	if err != nil {
		return nil, err
	}
	if out.FinishReason == "length" {
		return nil, adapters.Permanent(adapterName, adapters.CodeMalformedOutput, errors.New("model output truncated"))
	}
	raw := []byte(stripFences(out.Content))
	if !json.Valid(raw) {
		return nil, adapters.Permanent(adapterName, adapters.CodeMalformedOutput, fmt.Errorf("model output is not valid json"))
	}
	return json.RawMessage(raw), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
