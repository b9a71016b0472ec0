package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Djtony707/TITAN/internal/broker"
	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Mediator registers one tool per typed connector operation. Writes route
// through the same approval path as native WRITE/NET tools because the
// registered tools carry the NET class and the broker gates them.
type Mediator struct {
	store   *store.Store
	secrets Secrets
	log     *logging.Logger
	client  *http.Client
}

// NewMediator builds the connector mediator.
func NewMediator(s *store.Store, secrets Secrets, log *logging.Logger) *Mediator {
	return &Mediator{store: s, secrets: secrets, log: log, client: &http.Client{Timeout: 60 * time.Second}}
}

// opSpec describes one typed operation a connector type exposes.
type opSpec struct {
	suffix      string
	description string
	write       bool
	method      string
	pathTmpl    string // fmt template over the "target" argument
}

// connectorOps maps a connector type to its operation catalogue.
var connectorOps = map[string][]opSpec{
	"github": {
		{suffix: "fetch_issue", description: "Fetch one issue by owner/repo#number.", method: http.MethodGet, pathTmpl: "/repos/%s"},
		{suffix: "list_events", description: "List repository events for owner/repo.", method: http.MethodGet, pathTmpl: "/repos/%s/events"},
		{suffix: "create_comment", description: "Create an issue comment on owner/repo#number.", write: true, method: http.MethodPost, pathTmpl: "/repos/%s/comments"},
	},
	"webhook": {
		{suffix: "post", description: "POST a JSON payload to the configured webhook.", write: true, method: http.MethodPost, pathTmpl: ""},
	},
}

// RegisterAll registers the tools for every configured connector.
func (m *Mediator) RegisterAll(ctx context.Context, b *broker.Broker) error {
	connectors, err := m.store.ListConnectors(ctx)
	if err != nil {
		return err
	}
	for _, c := range connectors {
		ops, ok := connectorOps[c.Type]
		if !ok {
			m.log.Warn("unknown connector type", map[string]interface{}{"type": c.Type, "name": c.Name})
			continue
		}
		for _, op := range ops {
			if err := b.Register(&connectorTool{mediator: m, connector: c, op: op}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Test resolves the connector's credential and probes its base URL.
func (m *Mediator) Test(ctx context.Context, ref string) error {
	c, err := m.store.GetConnector(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := m.secrets.Get(c.SecretKey); err != nil {
		return titanerr.Wrap(titanerr.KindValidation, "connector.Test",
			"credential for "+c.Name+" is not resolvable", err)
	}
	base := baseURLOf(c)
	if base == "" {
		return titanerr.New(titanerr.KindValidation, "connector.Test", "connector "+c.Name+" has no base_url field")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return titanerr.Wrap(titanerr.KindValidation, "connector.Test", "build probe", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return titanerr.Wrap(titanerr.KindTransient, "connector.Test", "probe failed", err)
	}
	resp.Body.Close()
	return nil
}

func baseURLOf(c *store.Connector) string {
	var fields map[string]any
	if err := json.Unmarshal([]byte(c.Fields), &fields); err != nil {
		return ""
	}
	base, _ := fields["base_url"].(string)
	return strings.TrimSuffix(base, "/")
}

// connectorTool adapts one operation into the Tool Broker contract.
type connectorTool struct {
	mediator  *Mediator
	connector *store.Connector
	op        opSpec
}

func (t *connectorTool) Name() string {
	return "connector:" + t.connector.Name + ":" + t.op.suffix
}
func (t *connectorTool) Description() string { return t.op.description }
func (t *connectorTool) Class() string { return store.ClassNet }
func (t *connectorTool) InputSchema() string {
	return `{
		"type": "object",
		"properties": {
			"target": {"type": "string", "description": "Operation target, e.g. owner/repo or owner/repo#1"},
			"body": {"type": "string", "description": "JSON body for write operations"}
		},
		"additionalProperties": false
	}`
}
func (t *connectorTool) PathArgs() []string   { return nil }
func (t *connectorTool) Network() bool        { return true }
func (t *connectorTool) Subprocess() bool     { return false }
func (t *connectorTool) Idempotent() bool     { return !t.op.write }
func (t *connectorTool) ExclusivePaths() bool { return false }

func (t *connectorTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	secret, err := t.mediator.secrets.Get(t.connector.SecretKey)
	if err != nil {
		return nil, err
	}
	base := baseURLOf(t.connector)
	if base == "" {
		return nil, titanerr.New(titanerr.KindValidation, t.Name(), "connector has no base_url field")
	}

	target, _ := args["target"].(string)
	if t.connector.Type == "github" {
		// owner/repo#N addresses issue N under the repository path.
		target = strings.Replace(target, "#", "/issues/", 1)
	}
	url := base
	if t.op.pathTmpl != "" {
		url += fmt.Sprintf(t.op.pathTmpl, target)
	}

	var body io.Reader
	if raw, ok := args["body"].(string); ok && raw != "" {
		body = strings.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, t.op.method, url, body)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, t.Name(), "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.mediator.client.Do(req)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, t.Name(), "request failed", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindTransient, t.Name(), "read response", err)
	}
	if resp.StatusCode >= 500 {
		return nil, titanerr.New(titanerr.KindTransient, t.Name(),
			fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, titanerr.New(titanerr.KindValidation, t.Name(),
			fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}
	return map[string]any{"status": resp.StatusCode, "body": string(data)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
