package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// HTTPResult is the shared response shape for the HTTP tools.
type HTTPResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func hostAllowed(allowlist []string, host string) bool {
	for _, a := range allowlist {
		if a == "*" || a == host {
			return true
		}
		// *.example.com style suffix entries
		if strings.HasPrefix(a, "*.") && strings.HasSuffix(host, a[1:]) {
			return true
		}
	}
	return false
}

func fetch(ctx context.Context, method, rawURL string, body io.Reader, contentType string, allowlist []string) (*HTTPResult, error) {
	host := hostOf(rawURL)
	if host == "" {
		return nil, titanerr.New(titanerr.KindValidation, "http", "cannot parse host from url")
	}
	if !hostAllowed(allowlist, host) {
		return nil, titanerr.New(titanerr.KindPolicy, "http",
			fmt.Sprintf("host %q is not in the network allowlist", host))
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, "http", "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, "http", "read response", err)
	}
	if resp.StatusCode >= 500 {
		return nil, titanerr.New(titanerr.KindTransient, "http",
			fmt.Sprintf("server error %d from %s", resp.StatusCode, host))
	}
	return &HTTPResult{Status: resp.StatusCode, Body: string(data)}, nil
}

// httpGetTool fetches a URL from an allowlisted host.
type httpGetTool struct{ hosts []string }

func (t *httpGetTool) Name() string        { return "http_get" }
func (t *httpGetTool) Description() string { return "Fetch a URL from an allowlisted host." }
func (t *httpGetTool) Class() string       { return store.ClassNet }
func (t *httpGetTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {"url": {"type": "string", "format": "uri", "description": "URL to fetch"}},
		"required": ["url"],
		"additionalProperties": false
	}`
}
func (t *httpGetTool) PathArgs() []string   { return nil }
func (t *httpGetTool) Network() bool        { return true }
func (t *httpGetTool) Subprocess() bool     { return false }
func (t *httpGetTool) Idempotent() bool     { return true }
func (t *httpGetTool) ExclusivePaths() bool { return false }

func (t *httpGetTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return fetch(ctx, http.MethodGet, args["url"].(string), nil, "", t.hosts)
}

// httpPostTool posts a body to an allowlisted host.
type httpPostTool struct{ hosts []string }

func (t *httpPostTool) Name() string        { return "http_post" }
func (t *httpPostTool) Description() string { return "POST a body to an allowlisted host." }
func (t *httpPostTool) Class() string       { return store.ClassNet }
func (t *httpPostTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {
			"url": {"type": "string", "format": "uri", "description": "URL to post to"},
			"body": {"type": "string", "description": "Request body"},
			"content_type": {"type": "string", "description": "Content-Type header", "default": "application/json"}
		},
		"required": ["url", "body"],
		"additionalProperties": false
	}`
}
func (t *httpPostTool) PathArgs() []string   { return nil }
func (t *httpPostTool) Network() bool        { return true }
func (t *httpPostTool) Subprocess() bool     { return false }
func (t *httpPostTool) Idempotent() bool     { return false }
func (t *httpPostTool) ExclusivePaths() bool { return false }

func (t *httpPostTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	contentType, _ := args["content_type"].(string)
	if contentType == "" {
		contentType = "application/json"
	}
	return fetch(ctx, http.MethodPost, args["url"].(string), strings.NewReader(args["body"].(string)), contentType, t.hosts)
}
