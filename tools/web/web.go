// Package web fetches URLs and extracts readable content: HTML is reduced
// via readability, PDF bodies are extracted page by page.
package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	alloy "github.com/alloyhq/alloy"
)

const (
	maxFetchBytes   = 20 * 1024 * 1024
	maxContentChars = 8000
	userAgent       = "Mozilla/5.0 (compatible; AlloyBot/1.0)"
)

// Tool fetches URLs and extracts readable text.
type Tool struct {
	client *http.Client
}

// New creates a web tool with a 15-second timeout.
func New() *Tool {
	return &Tool{client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *Tool) Definition() alloy.ToolDefinition {
	return alloy.ToolDefinition{
		Name:        "web_fetch",
		Description: "Fetch a URL and extract its readable text content. Handles HTML pages (article extraction) and PDF documents.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "URL to fetch"},
			},
			"required": []any{"url"},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, input map[string]any, _ alloy.ToolContext) (string, error) {
	rawURL, _ := input["url"].(string)
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}

	content, err := t.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if len(content) > maxContentChars {
		content = content[:maxContentChars] + "\n... (truncated)"
	}
	return content, nil
}

// Fetch downloads a URL and extracts readable text.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch failed: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") || bytes.HasPrefix(body, []byte("%PDF-")) {
		return extractPDF(body)
	}
	if strings.Contains(contentType, "text/html") {
		return extractHTML(body, resp.Request.URL)
	}
	return string(body), nil
}

// extractHTML reduces a page to its readable article text, falling back to
// the raw body when readability finds nothing.
func extractHTML(body []byte, pageURL *url.URL) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		return string(body), nil
	}
	var sb strings.Builder
	if article.Title != "" {
		sb.WriteString(article.Title)
		sb.WriteString("\n\n")
	}
	sb.WriteString(article.TextContent)
	return sb.String(), nil
}

// extractPDF pulls plain text from every page of a PDF document.
func extractPDF(body []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return sb.String(), nil
}

// compile-time check
var _ alloy.Tool = (*Tool)(nil)
