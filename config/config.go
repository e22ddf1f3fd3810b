// ABOUTME: Host configuration loading for the bundled command-line clients.
// ABOUTME: YAML with ${VAR} environment expansion and duration string parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the host application configuration for the bundled clients.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Agent      AgentConfig      `yaml:"agent"`
	Auth       AuthConfig       `yaml:"auth"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Logging    LoggingConfig    `yaml:"logging"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
}

// ServerConfig locates the remote service.
type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
}

// AgentConfig selects the configuration mode and the target agent.
// Mode is one of "full", "service", or "employee".
type AgentConfig struct {
	Mode string `yaml:"mode"`

	// Direct routing (full mode)
	AgentID string `yaml:"agent_id"`
	OrgID   string `yaml:"org_id"`

	// Developer-name routing (service mode)
	ESDeveloperName string `yaml:"es_developer_name"`
	OrganizationID  string `yaml:"organization_id"`

	// Employee mode
	UserID string `yaml:"user_id"`
}

// AuthConfig selects the credential source: a JWT-minting secret or a static
// OAuth token.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Subject   string `yaml:"subject"`
	Token     string `yaml:"token"`
}

// TranscriptConfig enables the local transcript archive when Path is set.
type TranscriptConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TimeoutsConfig holds timing configuration.
type TimeoutsConfig struct {
	Credential time.Duration `yaml:"-"`
	Request    time.Duration `yaml:"-"`
	StreamIdle time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CredentialRaw string `yaml:"credential"`
	RequestRaw    string `yaml:"request"`
	StreamIdleRaw string `yaml:"stream_idle"`
}

// Load reads a configuration file from the given path. Environment variables
// in the format ${VAR_NAME} are expanded; duration strings are parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	switch c.Agent.Mode {
	case "", "full":
		if c.Agent.AgentID == "" || c.Agent.OrgID == "" {
			return fmt.Errorf("agent.agent_id and agent.org_id are required in full mode")
		}
	case "service":
		if c.Agent.ESDeveloperName == "" || c.Agent.OrganizationID == "" {
			return fmt.Errorf("agent.es_developer_name and agent.organization_id are required in service mode")
		}
	case "employee":
		if c.Agent.OrgID == "" {
			return fmt.Errorf("agent.org_id is required in employee mode")
		}
	default:
		return fmt.Errorf("agent.mode must be full, service, or employee (got %q)", c.Agent.Mode)
	}

	if c.Auth.JWTSecret == "" && c.Auth.Token == "" {
		return fmt.Errorf("auth.jwt_secret or auth.token is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Timeouts.CredentialRaw != "" {
		cfg.Timeouts.Credential, err = time.ParseDuration(cfg.Timeouts.CredentialRaw)
		if err != nil {
			return fmt.Errorf("parsing credential timeout %q: %w", cfg.Timeouts.CredentialRaw, err)
		}
	}

	if cfg.Timeouts.RequestRaw != "" {
		cfg.Timeouts.Request, err = time.ParseDuration(cfg.Timeouts.RequestRaw)
		if err != nil {
			return fmt.Errorf("parsing request timeout %q: %w", cfg.Timeouts.RequestRaw, err)
		}
	}

	if cfg.Timeouts.StreamIdleRaw != "" {
		cfg.Timeouts.StreamIdle, err = time.ParseDuration(cfg.Timeouts.StreamIdleRaw)
		if err != nil {
			return fmt.Errorf("parsing stream_idle timeout %q: %w", cfg.Timeouts.StreamIdleRaw, err)
		}
	}

	return nil
}
