// Package skillrt validates, installs and executes bundled skill packages.
// Installs are approval-gated; prompt entrypoints are routed through the
// Tool Broker and wasm entrypoints run inside a capability-restricted sandbox.
package skillrt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Entrypoint kinds.
const (
	KindPrompt     = "prompt"
	KindHTTP       = "http"
	KindWasm       = "wasm"
	KindScriptStub = "script-stub"
)

// Signature statuses recorded on install.
const (
	SigSigned   = "signed"
	SigUnsigned = "unsigned"
	SigInvalid  = "invalid"
)

// ManifestSchemaVersion is the current manifest format. Readers accept this
// version and anything lower.
const ManifestSchemaVersion = 1

// Entrypoint describes how a skill executes.
type Entrypoint struct {
	Kind   string `yaml:"kind" json:"kind"`
	Target string `yaml:"target" json:"target"`
}

// Manifest is the manifest.yaml at a bundle root.
type Manifest struct {
	SchemaVersion int        `yaml:"schema_version" json:"schema_version"`
	Name          string     `yaml:"name" json:"name"`
	Slug          string     `yaml:"slug" json:"slug"`
	Version       string     `yaml:"version" json:"version"`
	Description   string     `yaml:"description" json:"description"`
	Entrypoint    Entrypoint `yaml:"entrypoint" json:"entrypoint"`
	Scopes        []string   `yaml:"scopes" json:"scopes"`
	AllowedPaths  []string   `yaml:"allowed_paths" json:"allowed_paths"`
	AllowedHosts  []string   `yaml:"allowed_hosts" json:"allowed_hosts"`
	PublicKeyID   string     `yaml:"public_key_id" json:"public_key_id"`
}

const manifestSchema = `{
	"type": "object",
	"properties": {
		"schema_version": {"type": "integer", "minimum": 1},
		"name": {"type": "string", "minLength": 1},
		"slug": {"type": "string", "pattern": "^[a-z0-9]+(-[a-z0-9]+)*$", "maxLength": 64},
		"version": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"entrypoint": {
			"type": "object",
			"properties": {
				"kind": {"enum": ["prompt", "http", "wasm", "script-stub"]},
				"target": {"type": "string", "minLength": 1}
			},
			"required": ["kind", "target"]
		},
		"scopes": {"type": "array", "items": {"enum": ["READ", "WRITE", "EXEC", "NET"]}},
		"allowed_paths": {"type": "array", "items": {"type": "string"}},
		"allowed_hosts": {"type": "array", "items": {"type": "string"}},
		"public_key_id": {"type": "string"}
	},
	"required": ["schema_version", "name", "slug", "version", "entrypoint"]
}`

var compiledManifestSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("titan://skills/manifest.schema.json", strings.NewReader(manifestSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile("titan://skills/manifest.schema.json")
}()

// ParseManifest decodes and validates manifest bytes. Validation runs the
// JSON-schema check over the decoded document so the error messages name
// the offending field, then the semantic checks the schema cannot express.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.ParseManifest", "invalid manifest yaml", err)
	}
	if err := compiledManifestSchema.Validate(normalizeYAML(doc)); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.ParseManifest", "manifest failed schema", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.ParseManifest", "decode manifest", err)
	}
	if m.SchemaVersion > ManifestSchemaVersion {
		return nil, titanerr.New(titanerr.KindValidation, "skillrt.ParseManifest",
			fmt.Sprintf("manifest schema_version %d is newer than supported %d", m.SchemaVersion, ManifestSchemaVersion))
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.ParseManifest",
			"version is not semantic", err)
	}
	return &m, nil
}

// normalizeYAML converts yaml.v3's map[string]any trees (which may contain
// map[any]any at depth) into the shape the JSON-schema validator expects.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalizeYAML(val)
		}
		return out
	case int:
		return float64(x)
	default:
		return v
	}
}

// LoadManifest reads manifest.yaml from a bundle directory.
func LoadManifest(bundleDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, "manifest.yaml"))
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.LoadManifest", "read manifest.yaml", err)
	}
	return ParseManifest(data)
}

// WildcardHosts reports whether the manifest's host allowlist is unbounded.
func (m *Manifest) WildcardHosts() bool {
	if len(m.AllowedHosts) == 0 {
		return true
	}
	for _, h := range m.AllowedHosts {
		if h == "*" {
			return true
		}
	}
	return false
}

// HasScope reports whether the manifest declares a capability scope.
func (m *Manifest) HasScope(scope string) bool {
	for _, s := range m.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
