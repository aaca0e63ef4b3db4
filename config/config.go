// Package config loads crew configuration from defaults, an optional YAML
// file and CREW_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/fwojciec/crew"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CREW_PROVIDER_NAME.
const EnvPrefix = "CREW"

// Provider names accepted in provider.name.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config holds all configuration for crew.
type Config struct {
	Provider  ProviderConfig  `mapstructure:"provider"`
	Keys      KeysConfig      `mapstructure:"keys"`
	Agent     AgentConfig     `mapstructure:"agent"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Stages    StagesConfig    `mapstructure:"stages"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	History   HistoryConfig   `mapstructure:"history"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// ProviderConfig selects the model backend. An empty Name auto-detects it
// from the API keys present.
type ProviderConfig struct {
	Name        string  `mapstructure:"name"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// KeysConfig holds the provider API keys read from their conventional
// environment variables.
type KeysConfig struct {
	Gemini    string `mapstructure:"gemini"`
	Anthropic string `mapstructure:"anthropic"`
	OpenAI    string `mapstructure:"openai"`
}

// AgentConfig bounds every agent loop.
type AgentConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	ModelTimeout  time.Duration `mapstructure:"model_timeout"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
}

// MCPConfig configures tool process sessions.
type MCPConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// StopGrace is how long a closed tool process may take to exit before
	// it is killed.
	StopGrace time.Duration `mapstructure:"stop_grace"`
	// Tool results are clipped to their last lines and bytes; 0 disables.
	MaxResultLines int `mapstructure:"max_result_lines"`
	MaxResultBytes int `mapstructure:"max_result_bytes"`
}

// StageConfig configures the tool process and prompt of one stage.
type StageConfig struct {
	Command    string   `mapstructure:"command"`
	Args       []string `mapstructure:"args"`
	Env        []string `mapstructure:"env"`
	PromptFile string   `mapstructure:"prompt_file"`
}

// StagesConfig holds one StageConfig per agent.
type StagesConfig struct {
	Planner   StageConfig `mapstructure:"planner"`
	Developer StageConfig `mapstructure:"developer"`
	Tester    StageConfig `mapstructure:"tester"`
}

// Stage returns the configuration of the given agent's stage.
func (s StagesConfig) Stage(agent crew.AgentName) (StageConfig, bool) {
	switch agent {
	case crew.AgentPlanner:
		return s.Planner, true
	case crew.AgentDeveloper:
		return s.Developer, true
	case crew.AgentTester:
		return s.Tester, true
	}
	return StageConfig{}, false
}

// ArtifactsConfig locates the directory tool processes write into.
type ArtifactsConfig struct {
	Root  string `mapstructure:"root"`
	Watch bool   `mapstructure:"watch"`
}

// MetricsConfig controls metrics file output.
type MetricsConfig struct {
	Dir  string `mapstructure:"dir"`
	Save bool   `mapstructure:"save"`
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// LogConfig controls structured logging. An empty File logs to stderr, or to
// TUILogFile when the terminal UI owns the screen.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// TUILogFile is where logs go when the terminal UI is active and no log file
// is configured.
const TUILogFile = ".crew/crew.log"

// Load reads configuration. When path is empty, crew.yaml is looked up in
// the working directory and in .crew/; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crew")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(".crew")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("keys.gemini", "GOOGLE_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("keys.anthropic", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("keys.openai", "OPENAI_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default .env) into
// the process environment without overriding variables already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Validate reports the first invalid setting, wrapping crew.ErrValidation.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("config: %s: %w", fmt.Sprintf(format, args...), crew.ErrValidation)
	}
	switch c.Provider.Name {
	case "", ProviderGemini, ProviderAnthropic, ProviderOpenAI:
	default:
		return invalid("unknown provider %q", c.Provider.Name)
	}
	if c.Provider.MaxTokens < 0 {
		return invalid("provider.max_tokens must not be negative")
	}
	if c.Agent.MaxIterations < 1 {
		return invalid("agent.max_iterations must be positive")
	}
	if c.Agent.ModelTimeout <= 0 || c.Agent.ToolTimeout <= 0 || c.MCP.HandshakeTimeout <= 0 || c.MCP.StopGrace <= 0 {
		return invalid("timeouts must be positive")
	}
	if c.MCP.MaxResultLines < 0 || c.MCP.MaxResultBytes < 0 {
		return invalid("mcp result limits must not be negative")
	}
	for _, a := range crew.Agents() {
		s, _ := c.Stages.Stage(a)
		if s.Command == "" {
			return invalid("stages.%s.command is required", a)
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return invalid("unknown log level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return invalid("unknown log format %q", c.Log.Format)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return invalid("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}

// setDefaults registers every key so environment overrides apply to all of
// them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.name", "")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.temperature", 0.0)
	v.SetDefault("provider.max_tokens", 0)

	v.SetDefault("keys.gemini", "")
	v.SetDefault("keys.anthropic", "")
	v.SetDefault("keys.openai", "")

	v.SetDefault("agent.max_iterations", 50)
	v.SetDefault("agent.model_timeout", "2m")
	v.SetDefault("agent.tool_timeout", "2m")

	v.SetDefault("mcp.handshake_timeout", "30s")
	v.SetDefault("mcp.stop_grace", "2s")
	v.SetDefault("mcp.max_result_lines", 2000)
	v.SetDefault("mcp.max_result_bytes", 50*1024)

	for _, a := range crew.Agents() {
		key := "stages." + string(a)
		v.SetDefault(key+".command", "python3")
		v.SetDefault(key+".args", []string{fmt.Sprintf("agents/%s_server.py", a)})
		v.SetDefault(key+".env", []string{})
		v.SetDefault(key+".prompt_file", "")
	}

	v.SetDefault("artifacts.root", "generated")
	v.SetDefault("artifacts.watch", true)

	v.SetDefault("metrics.dir", "metrics")
	v.SetDefault("metrics.save", true)

	v.SetDefault("history.path", ".crew/history.db")
	v.SetDefault("history.enabled", true)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.service_name", "crew")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}
