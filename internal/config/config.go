// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Audit() AuditConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Agent() AgentConfig
	Scenario() ScenarioConfig

	// Browser Setters
	SetBrowserHeadless(bool)

	// Agent Setters
	SetAgentMaxSteps(int)

	// Scenario Setters
	SetScenarioTargetURL(string)
	SetScenarioInstructions(string)
}

// Config holds the entire application configuration.
// Fields carry a Cfg suffix so they can coexist with the Interface getters.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	AuditCfg    AuditConfig    `mapstructure:"audit" yaml:"audit"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	ScenarioCfg ScenarioConfig `mapstructure:"scenario" yaml:"scenario"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Audit() AuditConfig       { return c.AuditCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }
func (c *Config) Scenario() ScenarioConfig { return c.ScenarioCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetAgentMaxSteps(n int)           { c.AgentCfg.MaxSteps = n }
func (c *Config) SetScenarioTargetURL(u string)    { c.ScenarioCfg.TargetURL = u }
func (c *Config) SetScenarioInstructions(s string) { c.ScenarioCfg.Instructions = s }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AuditConfig configures the model-communication audit log. It is kept apart
// from the diagnostic logger so the full request/response trail can be
// retained and inspected on its own.
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Level      string `mapstructure:"level" yaml:"level"`
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the database connection details.
// An empty URL disables run persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the Chromium instance driven by the agent.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	DisplayWidth      int           `mapstructure:"display_width" yaml:"display_width"`
	DisplayHeight     int           `mapstructure:"display_height" yaml:"display_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	PostActionWait    time.Duration `mapstructure:"post_action_wait" yaml:"post_action_wait"`
	WaitDuration      time.Duration `mapstructure:"wait_duration" yaml:"wait_duration"`
}

// AgentConfig configures the conversation loop.
type AgentConfig struct {
	LLM LLMConfig `mapstructure:"llm" yaml:"llm"`
	// MaxSteps bounds the number of model round-trips in one run.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// RoundTripTimeout is the deadline for a single model call.
	RoundTripTimeout time.Duration `mapstructure:"round_trip_timeout" yaml:"round_trip_timeout"`
	// EnvInstructions are platform hints appended to the system prompt,
	// e.g. "use CMD+A instead of CTRL+A".
	EnvInstructions         string `mapstructure:"env_instructions" yaml:"env_instructions"`
	AcknowledgeSafetyChecks bool   `mapstructure:"acknowledge_safety_checks" yaml:"acknowledge_safety_checks"`
	AcknowledgeDone         bool   `mapstructure:"acknowledge_done" yaml:"acknowledge_done"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
)

// LLMConfig defines the computer-use model endpoint and request knobs.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	ReasoningSummary  string        `mapstructure:"reasoning_summary" yaml:"reasoning_summary"`
	Truncation        string        `mapstructure:"truncation" yaml:"truncation"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// ScenarioConfig is the scripted test the agent executes.
type ScenarioConfig struct {
	Name         string            `mapstructure:"name" yaml:"name"`
	TargetURL    string            `mapstructure:"target_url" yaml:"target_url"`
	Instructions string            `mapstructure:"instructions" yaml:"instructions"`
	UserInfo     map[string]string `mapstructure:"user_info" yaml:"user_info"`
}

// UserContext renders UserInfo as sorted "key: value" lines.
func (s ScenarioConfig) UserContext() string {
	keys := make([]string, 0, len(s.UserInfo))
	for k := range s.UserInfo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, s.UserInfo[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

const defaultInstructions = `Log in. Authenticate using the email address cua@example.com and the provided password.
Go to Systems page then log out`

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults always decode.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cua-tester")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Audit --
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.level", "info")
	v.SetDefault("audit.log_file", "")
	v.SetDefault("audit.max_size", 50)
	v.SetDefault("audit.max_backups", 10)
	v.SetDefault("audit.max_age", 14)
	v.SetDefault("audit.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.display_width", 1024)
	v.SetDefault("browser.display_height", 768)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.post_action_wait", "500ms")
	v.SetDefault("browser.wait_duration", "2s")

	// -- Agent --
	v.SetDefault("agent.max_steps", 50)
	v.SetDefault("agent.round_trip_timeout", "2m")
	v.SetDefault("agent.env_instructions", "")
	v.SetDefault("agent.acknowledge_safety_checks", true)
	v.SetDefault("agent.acknowledge_done", false)
	v.SetDefault("agent.llm.provider", string(ProviderOpenAI))
	v.SetDefault("agent.llm.model", "computer-use-preview")
	v.SetDefault("agent.llm.endpoint", "https://api.openai.com/v1")
	v.SetDefault("agent.llm.api_timeout", "120s")
	v.SetDefault("agent.llm.reasoning_summary", "concise")
	v.SetDefault("agent.llm.truncation", "auto")
	v.SetDefault("agent.llm.max_retries", 0)
	v.SetDefault("agent.llm.requests_per_second", 0.0)

	// -- Scenario --
	v.SetDefault("scenario.name", "login-navigate-logout")
	v.SetDefault("scenario.target_url", "https://shs.iotem.org/")
	v.SetDefault("scenario.instructions", defaultInstructions)
	v.SetDefault("scenario.user_info", map[string]string{
		"name":     "Cua Blossom",
		"email":    "cua@example.com",
		"password": "password123",
		"address":  "123 Main St, Anytown, USA",
	})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Legacy environment variable names.
	v.BindEnv("agent.llm.api_key", "OPENAI_API_KEY")
	v.BindEnv("browser.display_width", "DISPLAY_WIDTH")
	v.BindEnv("browser.display_height", "DISPLAY_HEIGHT")
	v.BindEnv("agent.env_instructions", "ENV_SPECIFIC_INSTRUCTIONS")
	v.BindEnv("logger.level", "LOG_LEVEL")
	v.BindEnv("audit.level", "AI_LOG_LEVEL")
	v.BindEnv("database.url", "CUA_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.AgentCfg.LLM.APIKey == "" {
		cfg.AgentCfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every file path setting.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.LoggerCfg.LogFile, &c.AuditCfg.LogFile, &c.BrowserCfg.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if strings.TrimSpace(c.ScenarioCfg.Instructions) == "" {
		return fmt.Errorf("scenario.instructions must not be empty")
	}
	return nil
}

// Validate checks the browser configuration.
func (b *BrowserConfig) Validate() error {
	if b.DisplayWidth <= 0 || b.DisplayHeight <= 0 {
		return fmt.Errorf("display_width and display_height must be positive integers")
	}
	if b.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the agent configuration.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be greater than 0")
	}
	if a.RoundTripTimeout <= 0 {
		return fmt.Errorf("round_trip_timeout must be a positive duration")
	}
	if a.LLM.Provider != ProviderOpenAI {
		return fmt.Errorf("unsupported llm provider %q", a.LLM.Provider)
	}
	if a.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if a.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	if a.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must not be negative")
	}
	return nil
}
