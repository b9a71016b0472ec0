// Package config provides configuration loading and management for the core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the core's on-disk configuration, rooted at
// ~/.titan/config.toml unless overridden by TITAN_CONFIG.
type Config struct {
	Workspace  WorkspaceConfig            `toml:"workspace"`
	Autonomy   AutonomyConfig             `toml:"autonomy"`
	Storage    StorageConfig              `toml:"storage"`
	Policy     PolicyConfig               `toml:"policy"`
	Skills     SkillsConfig               `toml:"skills"`
	HTTP       HTTPConfig                 `toml:"http"`
	Timeouts   TimeoutsConfig             `toml:"timeouts"`
	Secrets    SecretsConfig              `toml:"secrets"`
	LLM        LLMConfig                  `toml:"llm"`
	Connectors map[string]ConnectorConfig `toml:"connectors"`
}

// WorkspaceConfig describes the filesystem boundary Path Guard enforces.
type WorkspaceConfig struct {
	Root string `toml:"root"`
}

// AutonomyConfig selects the operator-chosen policy tiers consumed by the
// Policy Engine's decision matrix.
type AutonomyConfig struct {
	Mode string `toml:"mode"` // supervised | collaborative | autonomous
	Risk string `toml:"risk"` // secure | yolo
}

// StorageConfig points at the embedded relational store.
type StorageConfig struct {
	Path string `toml:"path"` // defaults to ~/.titan/titan.db
}

// PolicyConfig points at the CEL policy bundle overriding the built-in
// decision matrix.
type PolicyConfig struct {
	RulesPath             string `toml:"rules_path"` // ~/.titan/policy.cel, optional
	DefaultApprovalTTLSec int    `toml:"default_approval_ttl_seconds"`
	YoloMaxDurationSec    int    `toml:"yolo_max_duration_seconds"`
}

// SkillsConfig names the trust store used to verify installed skill bundle
// signatures.
type SkillsConfig struct {
	TrustStorePath string `toml:"trust_store_path"` // ~/.titan/trust
}

// HTTPConfig configures the loopback-only HTTP surface.
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"` // must resolve to loopback; enforced at bind time
}

// TimeoutsConfig contains default timeouts for network-touching tool
// classes and subprocess execution.
type TimeoutsConfig struct {
	ToolDefaultSec int `toml:"tool_default"`
	NetFetchSec    int `toml:"net_fetch"`
	ExecSec        int `toml:"exec"`
}

// SecretsConfig names the env var carrying the passphrase for the on-disk
// secrets envelope; the core never reads the envelope itself.
type SecretsConfig struct {
	PassphraseEnv string `toml:"passphrase_env"`
}

// LLMConfig configures the external LLM collaborator used by the Planner
// and the optional autonomous-decision fallback.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
}

// ConnectorConfig configures one named external connector.
type ConnectorConfig struct {
	Type          string `toml:"type"`
	CredentialEnv string `toml:"credential_env"`
}

// New returns a Config populated with defaults.
func New() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".titan")
	return &Config{
		Autonomy: AutonomyConfig{Mode: "supervised", Risk: "secure"},
		Storage:  StorageConfig{Path: filepath.Join(base, "titan.db")},
		Policy: PolicyConfig{
			RulesPath:             filepath.Join(base, "policy.cel"),
			DefaultApprovalTTLSec: 300,
			YoloMaxDurationSec:    3600,
		},
		Skills: SkillsConfig{TrustStorePath: filepath.Join(base, "trust")},
		HTTP:   HTTPConfig{Enabled: true, Addr: "127.0.0.1:7711"},
		Timeouts: TimeoutsConfig{
			ToolDefaultSec: 30,
			NetFetchSec:    60,
			ExecSec:        120,
		},
		Secrets: SecretsConfig{PassphraseEnv: "TITAN_SECRETS_PASSPHRASE"},
	}
}

// Default is an alias kept for symmetry with the teacher's config package.
func Default() *Config { return New() }

// LoadFile loads configuration from a TOML file, applying defaults for
// anything the file omits.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Load resolves the config path (TITAN_CONFIG env override, else
// ~/.titan/config.toml) and loads it, tolerating a missing file by
// returning defaults.
func Load() (*Config, error) {
	path := ResolvePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// ResolvePath returns the effective config file path, honoring the
// TITAN_CONFIG override named in the environment variables table.
func ResolvePath() string {
	if p := os.Getenv("TITAN_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".titan", "config.toml")
}

// WorkspaceRoot resolves the effective workspace root, honoring the
// TITAN_WORKSPACE environment override before falling back to the
// configured value and finally the current directory.
func (c *Config) WorkspaceRoot() (string, error) {
	root := c.Workspace.Root
	if override := os.Getenv("TITAN_WORKSPACE"); override != "" {
		root = override
	}
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve workspace root: %w", err)
		}
		root = cwd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	return filepath.Clean(abs), nil
}

// CredentialEnv returns the environment variable name holding credentials
// for a named connector, falling back to a TITAN_CONNECTOR_<NAME> default.
func (c *Config) CredentialEnv(connector string) string {
	if cc, ok := c.Connectors[connector]; ok && cc.CredentialEnv != "" {
		return cc.CredentialEnv
	}
	return "TITAN_CONNECTOR_" + strings.ToUpper(connector)
}
