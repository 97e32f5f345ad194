package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/shared/telemetry"
)

// DefaultEndpoint is the OpenAI chat completions URL. Any compatible gateway works.
const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

// ErrEmptyContent is returned when the model answers with no content.
var ErrEmptyContent = errors.New("openai response empty content")

// Options configures a Client.
type Options struct {
	// Adapter names the caller in classified errors ("extraction", "structuring").
	Adapter    string
	Endpoint   string
	Model      string
	APIKey     string
	HTTPClient *http.Client
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	adapter    string
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a chat client. Per-call deadlines come from the context.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("%s model is required", opts.Adapter)
	}
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		adapter:    opts.Adapter,
		endpoint:   endpoint,
		model:      strings.TrimSpace(opts.Model),
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Message is one chat message. Images are sent as data-URL content parts after the text.
type Message struct {
	Role   string
	Text   string
	Images []Image
}

// Image is inline image content.
type Image struct {
	MimeType string
	Data     []byte
}

// Request describes one completion call.
type Request struct {
	Messages  []Message
	JSON      bool
	MaxTokens int
	// APIKey overrides the configured key, e.g. with per-batch credentials.
	APIKey string
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the first choice of a chat completion.
type Completion struct {
	Content      string
	FinishReason string
	Usage        *Usage
}

// Complete sends req and returns the first choice. Failures are classified with
// the adapters taxonomy so callers can decide whether to retry.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = c.apiKey
	}
	if apiKey == "" {
		return Completion{}, adapters.Permanent(c.adapter, adapters.CodeRejected, errors.New("api key is not configured"))
	}

	body := c.buildRequest(req, !isGPT5(c.model))
	out, err := c.do(ctx, apiKey, body)
	if err != nil && body.Temperature != nil && isTemperatureRejection(err) {
		// Some models only accept their default temperature; retry once without it.
		body.Temperature = nil
		out, err = c.do(ctx, apiKey, body)
	}
	if err != nil {
		return Completion{}, err
	}
	if out.Usage != nil {
		telemetry.Info("llm.usage", map[string]any{
			"adapter":           c.adapter,
			"model":             c.model,
			"prompt_tokens":     out.Usage.PromptTokens,
			"completion_tokens": out.Usage.CompletionTokens,
			"total_tokens":      out.Usage.TotalTokens,
		})
	}
	return out, nil
}

func (c *Client) buildRequest(req Request, withTemperature bool) chatRequest {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if len(m.Images) == 0 {
			messages = append(messages, chatMessage{Role: m.Role, Content: m.Text})
			continue
		}
		parts := make([]contentPart, 0, len(m.Images)+1)
		if m.Text != "" {
			parts = append(parts, contentPart{Type: "text", Text: m.Text})
		}
		for _, img := range m.Images {
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: DataURL(img.MimeType, img.Data), Detail: "high"},
			})
		}
		messages = append(messages, chatMessage{Role: m.Role, Content: parts})
	}

	body := chatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	if withTemperature {
		temp := float32(0)
		body.Temperature = &temp
	}
	return body
}

func (c *Client) do(ctx context.Context, apiKey string, body chatRequest) (Completion, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Completion{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Completion{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, adapters.FromTransport(c.adapter, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, adapters.FromTransport(c.adapter, err)
	}

	var parsed chatResponse
	parseErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= 300 {
		if parseErr == nil && parsed.Error != nil {
			raw = []byte(parsed.Error.Message)
		}
		return Completion{}, adapters.FromHTTPStatus(c.adapter, resp.StatusCode, raw)
	}
	if parseErr != nil {
		return Completion{}, adapters.Transient(c.adapter, adapters.CodeUnavailable, fmt.Errorf("openai response parse: %w", parseErr))
	}
	if parsed.Error != nil {
		return Completion{}, adapters.Permanent(c.adapter, adapters.CodeRejected, fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type))
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, adapters.Transient(c.adapter, adapters.CodeUnavailable, errors.New("openai response missing choices"))
	}

	choice := parsed.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return Completion{}, ErrEmptyContent
	}
	return Completion{Content: content, FinishReason: choice.FinishReason, Usage: parsed.Usage}, nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

func isTemperatureRejection(err error) bool {
	var ae *adapters.Error
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusBadRequest {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "temperature")
}
