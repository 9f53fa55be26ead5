package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	alloy "github.com/alloyhq/alloy"
)

func TestFetchExtractsReadableHTML(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>Test Article</title></head><body>
		<nav>menu menu menu</nav>
		<article><h1>Test Article</h1>` +
		strings.Repeat("<p>This is the actual readable body content of the article.</p>", 20) +
		`</article></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	}))
	defer server.Close()

	tool := New()
	out, err := tool.Execute(context.Background(), map[string]any{"url": server.URL}, alloy.ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "actual readable body content") {
		t.Errorf("article text missing: %q", out[:min(len(out), 200)])
	}
	if strings.Contains(out, "<p>") {
		t.Errorf("HTML tags leaked into extraction: %q", out[:min(len(out), 200)])
	}
}

func TestFetchPlainTextPassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "just plain text")
	}))
	defer server.Close()

	tool := New()
	out, err := tool.Execute(context.Background(), map[string]any{"url": server.URL}, alloy.ToolContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "just plain text" {
		t.Errorf("out = %q", out)
	}
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	tool := New()
	_, err := tool.Execute(context.Background(), map[string]any{"url": server.URL}, alloy.ToolContext{})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want 404", err)
	}
}

func TestFetchRequiresURL(t *testing.T) {
	tool := New()
	if _, err := tool.Execute(context.Background(), map[string]any{}, alloy.ToolContext{}); err == nil {
		t.Error("missing url accepted")
	}
}

func TestExtractPDFRejectsGarbage(t *testing.T) {
	if _, err := extractPDF([]byte("%PDF-not really a pdf")); err == nil {
		t.Error("garbage PDF accepted")
	}
}
