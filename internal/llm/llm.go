// Package llm is the seam to the external inference collaborator. The core
// specifies only the request/response shape; planning works without any
// provider configured because candidate generation is template-driven.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// ChatRequest is the planning/summarization request shape.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model,omitempty"`
}

// ChatResponse carries the provider's answer.
type ChatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// Provider answers chat requests. Implementations wrap a local model
// endpoint or a remote inference API.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// isRetryable classifies transport errors the caller may retry.
func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// LocalEndpoint talks to an OpenAI-compatible chat endpoint on loopback
// (e.g. an Ollama or llama.cpp server).
type LocalEndpoint struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

// NewLocalEndpoint builds a provider for a loopback inference server.
func NewLocalEndpoint(baseURL, model string) *LocalEndpoint {
	return &LocalEndpoint{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *LocalEndpoint) Name() string { return "local:" + p.Model }

func (p *LocalEndpoint) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.Model
	}
	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": req.Messages,
		"stream":   false,
	})
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "llm.Chat", "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "llm.Chat", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, "llm.Chat", "inference request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, "llm.Chat", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := titanerr.KindValidation
		if isRetryable(resp.StatusCode) {
			kind = titanerr.KindTransient
		}
		return nil, titanerr.New(kind, "llm.Chat",
			fmt.Sprintf("inference endpoint returned %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "llm.Chat", "parse response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, titanerr.New(titanerr.KindValidation, "llm.Chat", "empty choices in response")
	}
	return &ChatResponse{Content: parsed.Choices[0].Message.Content, Model: parsed.Model}, nil
}

// ListLocalModels queries the endpoint's model catalogue.
func (p *LocalEndpoint) ListLocalModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "llm.ListLocalModels", "build request", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, "llm.ListLocalModels", "request failed", err)
	}
	defer resp.Body.Close()
	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "llm.ListLocalModels", "parse response", err)
	}
	out := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, m.ID)
	}
	return out, nil
}

// NullProvider answers every request with its canned content. The planner
// uses it when no endpoint is configured, which keeps runs deterministic.
type NullProvider struct{}

func (NullProvider) Name() string { return "null" }

func (NullProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: ""}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
