// Package config handles nag configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/nag/config.yaml, /etc/nag/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "nag", "config.yaml"))
	}

	paths = append(paths, "/etc/nag/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all nag configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	LLM           LLMConfig           `yaml:"llm"`
	Automations   AutomationsConfig   `yaml:"automations"`
	Conversation  ConversationConfig  `yaml:"conversation"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`

	// OllamaPort serves the Ollama-compatible endpoints on a dedicated
	// port. Zero serves them on Port alongside the native API.
	OllamaPort int `yaml:"ollama_port"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Configured reports whether a Home Assistant connection is set up.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// LLMConfig selects the hosted model used for every completion.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai or gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_sec"`
	// Retries is the number of extra attempts after a transient failure.
	// Negative disables retry.
	Retries int    `yaml:"retries"`
	BaseURL string `yaml:"base_url"` // OpenAI-compatible endpoint override
}

// Timeout returns the per-call deadline.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// AutomationsConfig describes where generated automations are written.
type AutomationsConfig struct {
	File string `yaml:"file"`
	// Reload asks Home Assistant to reload automations after each write.
	Reload *bool `yaml:"reload"`
}

// ReloadEnabled reports whether automation.reload should be called,
// defaulting to true.
func (c AutomationsConfig) ReloadEnabled() bool {
	return c.Reload == nil || *c.Reload
}

// ConversationConfig tunes the dialogue state machine.
type ConversationConfig struct {
	MaxClarifications int    `yaml:"max_clarifications"`
	IdleTimeoutSec    int    `yaml:"idle_timeout_sec"`
	MaxContexts       int    `yaml:"max_contexts"`
	Language          string `yaml:"language"`
}

// IdleTimeout returns how long an untouched conversation is kept.
func (c ConversationConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// CatalogConfig tunes the entity catalog snapshot.
type CatalogConfig struct {
	RefreshIntervalSec int `yaml:"refresh_interval_sec"`
	MaxPerDomain       int `yaml:"max_per_domain"`

	// ScopeRequests asks the model which domains and areas a request
	// needs before analysis and sends only those entities. Useful on
	// installs too large to list in full.
	ScopeRequests bool `yaml:"scope_requests"`
}

// RefreshInterval returns the minimum age before the snapshot is refetched.
func (c CatalogConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// MQTTConfig configures the optional status device published over MQTT
// discovery. Leaving Broker empty disables it.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // e.g. mqtt://homeassistant.local:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	DeviceName         string `yaml:"device_name"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether an MQTT broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// PublishInterval returns the sensor state publish cadence.
func (c MQTTConfig) PublishInterval() time.Duration {
	return time.Duration(c.PublishIntervalSec) * time.Second
}

// Load reads configuration from a YAML file, expands environment
// variables, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// credentials. It does not pass Validate on its own.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenAI
	}
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.Model == "" {
			c.LLM.Model = "gpt-4o"
		}
		if c.LLM.MaxTokens == 0 {
			c.LLM.MaxTokens = 1500
		}
	case ProviderGemini:
		if c.LLM.Model == "" {
			c.LLM.Model = "gemini-2.5-flash"
		}
		if c.LLM.MaxTokens == 0 {
			c.LLM.MaxTokens = 4000
		}
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.1
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = 60
	}
	if c.LLM.Retries == 0 {
		c.LLM.Retries = 1
	}

	if c.Automations.File == "" {
		c.Automations.File = "automations.yaml"
	}

	if c.Conversation.MaxClarifications == 0 {
		c.Conversation.MaxClarifications = 3
	}
	if c.Conversation.IdleTimeoutSec == 0 {
		c.Conversation.IdleTimeoutSec = 1800
	}
	if c.Conversation.MaxContexts == 0 {
		c.Conversation.MaxContexts = 256
	}
	if c.Conversation.Language == "" {
		c.Conversation.Language = "en"
	}

	if c.Catalog.RefreshIntervalSec == 0 {
		c.Catalog.RefreshIntervalSec = 300
	}
	if c.Catalog.MaxPerDomain == 0 {
		c.Catalog.MaxPerDomain = 20
	}

	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "nag"
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}

	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported (valid: openai, gemini)", c.LLM.Provider))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, errors.New("llm.max_tokens must not be negative"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %v out of range [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.TimeoutSec < 0 {
		errs = append(errs, errors.New("llm.timeout_sec must not be negative"))
	}

	if c.Listen.OllamaPort != 0 && c.Listen.OllamaPort == c.Listen.Port {
		errs = append(errs, fmt.Errorf("listen.ollama_port %d collides with listen.port", c.Listen.OllamaPort))
	}

	if c.HomeAssistant.URL != "" && c.HomeAssistant.Token == "" {
		errs = append(errs, errors.New("homeassistant.token is required when homeassistant.url is set"))
	}

	if c.Conversation.MaxClarifications < 0 {
		errs = append(errs, errors.New("conversation.max_clarifications must not be negative"))
	}
	switch c.Conversation.Language {
	case "en", "he":
	default:
		errs = append(errs, fmt.Errorf("conversation.language %q is not supported (valid: en, he)", c.Conversation.Language))
	}

	if c.Catalog.MaxPerDomain < 0 {
		errs = append(errs, errors.New("catalog.max_per_domain must not be negative"))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q is not supported (valid: text, json)", c.LogFormat))
	}

	return errors.Join(errs...)
}
