package types

// MCPServerConfig describes one configured MCP server, mirrored into the
// McpToolsUpdated capability pass-through.
type MCPServerConfig struct {
	Enabled     *bool             `json:"enabled,omitempty"`
	Type        string            `json:"type,omitempty"` // "remote" | "local" | "stdio"
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"`
}

// Config is the daemon's process-wide configuration: env-driven,
// optionally overlaid from ~/.orbitdock/config.yaml.
type Config struct {
	Port        int    `yaml:"port" json:"port"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	DefaultApprovalPolicy string `yaml:"default_approval_policy" json:"default_approval_policy"`
	DefaultSandboxMode    string `yaml:"default_sandbox_mode" json:"default_sandbox_mode"`
	DefaultPermissionMode string `yaml:"default_permission_mode" json:"default_permission_mode"`

	ReasoningBin          string `yaml:"-" json:"-"`
	ShellBin              string `yaml:"-" json:"-"`
	ReasoningSessionsDir  string `yaml:"-" json:"-"`
	ShellSessionsDir      string `yaml:"-" json:"-"`
	DisableRolloutWatcher bool   `yaml:"-" json:"-"`

	MCP map[string]MCPServerConfig `yaml:"mcp" json:"mcp"`
}

// DefaultConfig returns the built-in defaults layered under env/file overrides.
func DefaultConfig() *Config {
	return &Config{
		Port:                  0, // resolved by internal/config from env/flag
		CORSOrigins:           []string{"*"},
		DefaultApprovalPolicy: "ask",
		DefaultSandboxMode:    "workspace-write",
		DefaultPermissionMode: "default",
		MCP:                   map[string]MCPServerConfig{},
	}
}
