package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("llm:\n  api_key: x\n"), 0600)
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("NAG_TEST_KEY", "sk-secret")
	path := writeConfig(t, "llm:\n  api_key: ${NAG_TEST_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LLM.APIKey != "sk-secret" {
		t.Errorf("api_key = %q, want %q", cfg.LLM.APIKey, "sk-secret")
	}
}

func TestLoad_ProviderDefaults(t *testing.T) {
	tests := []struct {
		provider  string
		model     string
		maxTokens int
	}{
		{"", "gpt-4o", 1500},
		{"openai", "gpt-4o", 1500},
		{"Gemini", "gemini-2.5-flash", 4000},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			path := writeConfig(t, "llm:\n  provider: "+tt.provider+"\n  api_key: k\n")
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if cfg.LLM.Model != tt.model {
				t.Errorf("model = %q, want %q", cfg.LLM.Model, tt.model)
			}
			if cfg.LLM.MaxTokens != tt.maxTokens {
				t.Errorf("max_tokens = %d, want %d", cfg.LLM.MaxTokens, tt.maxTokens)
			}
			if cfg.LLM.Temperature != 0.1 {
				t.Errorf("temperature = %v, want 0.1", cfg.LLM.Temperature)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "llm:\n  api_key: k\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Listen.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.LLM.Timeout() != 60*time.Second {
		t.Errorf("timeout = %v, want 60s", cfg.LLM.Timeout())
	}
	if cfg.LLM.Retries != 1 {
		t.Errorf("retries = %d, want 1", cfg.LLM.Retries)
	}
	if cfg.Conversation.MaxClarifications != 3 {
		t.Errorf("max_clarifications = %d, want 3", cfg.Conversation.MaxClarifications)
	}
	if cfg.Conversation.Language != "en" {
		t.Errorf("language = %q, want en", cfg.Conversation.Language)
	}
	if cfg.Catalog.MaxPerDomain != 20 {
		t.Errorf("max_per_domain = %d, want 20", cfg.Catalog.MaxPerDomain)
	}
	if cfg.Catalog.RefreshInterval() != 5*time.Minute {
		t.Errorf("refresh interval = %v, want 5m", cfg.Catalog.RefreshInterval())
	}
	if !cfg.Automations.ReloadEnabled() {
		t.Error("reload should default to enabled")
	}
	if cfg.MQTT.Configured() {
		t.Error("mqtt should not be configured without a broker")
	}
}

func TestLoad_ReloadDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, "llm:\n  api_key: k\nautomations:\n  reload: false\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Automations.ReloadEnabled() {
		t.Error("reload: false should disable reload")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing key", "llm:\n  provider: openai\n", "api_key"},
		{"bad provider", "llm:\n  provider: anthropic\n  api_key: k\n", "anthropic"},
		{"bad language", "llm:\n  api_key: k\nconversation:\n  language: fr\n", "fr"},
		{"bad log level", "llm:\n  api_key: k\nlog_level: loud\n", "loud"},
		{"ollama port collision", "llm:\n  api_key: k\nlisten:\n  port: 9000\n  ollama_port: 9000\n", "ollama_port"},
		{"ha without token", "llm:\n  api_key: k\nhomeassistant:\n  url: http://ha\n", "homeassistant.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "json")
	logger.Log(t.Context(), LevelTrace, "raw reply")

	if !strings.Contains(buf.String(), `"level":"TRACE"`) {
		t.Errorf("output %q missing TRACE level", buf.String())
	}
}
