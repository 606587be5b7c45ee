package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	fetchTimeout   = 30 * time.Second
	fetchUserAgent = "Mozilla/5.0 (compatible; lodestar/1.0)"
)

// WebFetchTool performs an HTTP GET and returns the response body.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: fetchTimeout}}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL over HTTP GET and return the response body as text"
}
func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "description": "HTTP or HTTPS URL to fetch"},
		},
		"required": []interface{}{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL := stringArg(args, "url")
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult("Error: invalid URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("Error: only http and https URLs are supported")
	}
	if parsed.Host == "" {
		return ErrorResult("Error: missing hostname in URL")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return ErrorResult("Error: create request: %v", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult("Error: fetch failed: %v", err)
	}
	defer resp.Body.Close()

	// Read one byte past the cap so Truncate can report the overflow.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultChars+1))
	if err != nil {
		return ErrorResult("Error: read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return ErrorResult("Error: HTTP %d from %s\n%s", resp.StatusCode, parsed.Host, Truncate(string(body)))
	}
	return NewResult(fmt.Sprintf("HTTP %d\n\n%s", resp.StatusCode, string(body)))
}
