// Package extraction reads the text of one page image.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/credentials"
	"resume-ingest/internal/llm/openai"
)

const adapterName = "extraction"

const systemPrompt = `You transcribe scanned resume pages. Return the page text exactly as printed, ` +
	`top to bottom, keeping line breaks between sections. Do not summarise, translate or add commentary. ` +
	`If the page has no legible text, return an empty response.`

// Extractor returns the text of a page image.
type Extractor interface {
	ExtractText(ctx context.Context, page adapters.PageImage) (string, error)
}

// VisionClient extracts text with an OpenAI-compatible vision model.
type VisionClient struct {
	llm       *openai.Client
	maxTokens int
}

// NewVisionClient wraps an OpenAI chat client.
func NewVisionClient(llm *openai.Client) *VisionClient {
	return &VisionClient{llm: llm, maxTokens: 4096}
}

func (c *VisionClient) ExtractText(ctx context.Context, page adapters.PageImage) (string, error) {
	if len(page.Data) == 0 {
		return "", adapters.Permanent(adapterName, adapters.CodeUnreadableImage, fmt.Errorf("page %d is empty", page.PageNumber))
	}
	req := openai.Request{
		MaxTokens: c.maxTokens,
		Messages: []openai.Message{
			{Role: "system", Text: systemPrompt},
			{
				Role:   "user",
				Text:   fmt.Sprintf("Page %d:", page.PageNumber),
				Images: []openai.Image{{MimeType: page.MimeType, Data: page.Data}},
			},
		},
	}
	if creds, ok := credentials.FromContext(ctx); ok {
		req.APIKey = creds.ExtractionKey
	}

	out, err := c.llm.Complete(ctx, req)
	if errors.Is(err, openai.ErrEmptyContent) {
		// Blank page. The engine rejects the file only when every page is blank.
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Content), nil
}
