package conversion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/credentials"
)

// HTTPClient calls a remote conversion service. The service accepts a multipart
// "file" field and answers with base64 page images.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	dpi        int
	httpClient *http.Client
}

// NewHTTPClient builds a conversion client for endpoint.
func NewHTTPClient(endpoint, apiKey string, dpi int, httpClient *http.Client) (*HTTPClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("conversion endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if dpi <= 0 {
		dpi = 150
	}
	return &HTTPClient{endpoint: endpoint, apiKey: strings.TrimSpace(apiKey), dpi: dpi, httpClient: httpClient}, nil
}

type convertResponse struct {
	Pages []struct {
		PageNumber int    `json:"pageNumber"`
		MimeType   string `json:"mimeType"`
		Data       string `json:"data"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
	} `json:"pages"`
}

func (c *HTTPClient) ConvertToImages(ctx context.Context, doc adapters.Document) ([]adapters.PageImage, error) {
	if !adapters.NeedsConversion(doc.MimeType) {
		return nil, adapters.Permanent(adapterName, adapters.CodeUnsupportedFormat, fmt.Errorf("mime %q is not convertible", doc.MimeType))
	}

	expected := 0
	if doc.MimeType == adapters.MimePDF {
		n, err := PDFPageCount(doc.Data)
		if err != nil {
			return nil, err
		}
		expected = n
	}

	body, contentType, err := multipartBody(doc, c.dpi)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if key := c.key(ctx); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, adapters.FromTransport(adapterName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, adapters.FromTransport(adapterName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, adapters.FromHTTPStatus(adapterName, resp.StatusCode, raw)
	}

	var parsed convertResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, adapters.Transient(adapterName, adapters.CodeUnavailable, fmt.Errorf("conversion response parse: %w", err))
	}

	pages := make([]adapters.PageImage, 0, len(parsed.Pages))
	for _, p := range parsed.Pages {
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, adapters.Permanent(adapterName, adapters.CodeMalformedOutput, fmt.Errorf("page %d base64: %w", p.PageNumber, err))
		}
		mimeType := p.MimeType
		if mimeType == "" {
			mimeType = adapters.MimePNG
		}
		pages = append(pages, adapters.PageImage{
			PageNumber: p.PageNumber,
			MimeType:   mimeType,
			Data:       data,
			Width:      p.Width,
			Height:     p.Height,
		})
	}

	ordered, err := OrderPages(pages)
	if err != nil {
		return nil, err
	}
	if expected > 0 && len(ordered) != expected {
		return nil, adapters.Permanent(adapterName, adapters.CodeMalformedOutput,
			fmt.Errorf("conversion returned %d pages, document has %d", len(ordered), expected))
	}
	return ordered, nil
}

func (c *HTTPClient) key(ctx context.Context) string {
	if creds, ok := credentials.FromContext(ctx); ok && creds.ConversionKey != "" {
		return creds.ConversionKey
	}
	return c.apiKey
}

func multipartBody(doc adapters.Document, dpi int) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	name := doc.Name
	if name == "" {
		name = "document"
	}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", doc.MimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("format", "png"); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("dpi", fmt.Sprintf("%d", dpi)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
