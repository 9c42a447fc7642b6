package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), strings.NewReader(""), &out, &out, args); err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: nag") {
			t.Errorf("run(%v) output missing usage:\n%s", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"-x"}, "unknown flag: -x"},
		{"bad output", []string{"-o", "xml", "version"}, "unknown output format"},
		{"generate without text", []string{"generate", "--preview"}, "usage: nag generate"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "serve"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), strings.NewReader(""), &out, &out, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRunVersion(t *testing.T) {
	var text bytes.Buffer
	if err := run(context.Background(), nil, &text, &text, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(text.String(), "go_version:") {
		t.Errorf("text output = %q", text.String())
	}

	var js bytes.Buffer
	if err := run(context.Background(), nil, &js, &js, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("version json: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(js.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v\n%s", err, js.String())
	}
	if info["version"] == "" || info["os"] == "" {
		t.Errorf("info = %v", info)
	}
}

const kitchenAutomation = "```yaml\\nalias: Kitchen light\\ntriggers:\\n  - platform: time\\n    at: \\\"07:00:00\\\"\\nactions:\\n  - service: light.turn_on\\n    target:\\n      entity_id: light.kitchen\\n```"

// testEnv runs a fake Home Assistant and a fake OpenAI endpoint and
// writes a config pointing at both.
type testEnv struct {
	dir         string
	configPath  string
	automations string
	reloads     atomic.Int32
	completions atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{dir: t.TempDir()}
	env.automations = filepath.Join(env.dir, "automations.yaml")

	ha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/states":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `[{"entity_id":"light.kitchen","state":"off","attributes":{"friendly_name":"Kitchen"}}]`)
		case "/api/services/automation/reload":
			env.reloads.Add(1)
			fmt.Fprint(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ha.Close)

	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.completions.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"%s"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":40,"completion_tokens":25,"total_tokens":65}}`, kitchenAutomation)
	}))
	t.Cleanup(llm.Close)

	cfg := fmt.Sprintf(`homeassistant:
  url: %s
  token: test-token
llm:
  provider: openai
  api_key: test-key
  base_url: %s/v1
  retries: -1
automations:
  file: %s
data_dir: %s
log_level: error
`, ha.URL, llm.URL, env.automations, filepath.Join(env.dir, "data"))

	env.configPath = filepath.Join(env.dir, "config.yaml")
	if err := os.WriteFile(env.configPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return env
}

func TestRunGenerate_AppendsAutomation(t *testing.T) {
	env := newTestEnv(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), nil, &stdout, &stderr,
		[]string{"-config", env.configPath, "generate", "turn", "on", "the", "kitchen", "light", "at", "7"})
	if err != nil {
		t.Fatalf("generate: %v\nstderr: %s", err, stderr.String())
	}

	if !strings.Contains(stdout.String(), "alias: Kitchen light (NAG)") {
		t.Errorf("stdout = %q", stdout.String())
	}
	data, err := os.ReadFile(env.automations)
	if err != nil {
		t.Fatalf("automations file not written: %v", err)
	}
	if !strings.Contains(string(data), "light.kitchen") {
		t.Errorf("automations file = %q", data)
	}
	if env.reloads.Load() != 1 {
		t.Errorf("reloads = %d, want 1", env.reloads.Load())
	}
	if _, err := os.Stat(filepath.Join(env.dir, "data", "usage.db")); err != nil {
		t.Errorf("usage ledger not created: %v", err)
	}
}

func TestRunGenerate_PreviewDoesNotWrite(t *testing.T) {
	env := newTestEnv(t)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), nil, &stdout, &stderr,
		[]string{"-config", env.configPath, "-o", "json", "generate", "--preview", "kitchen light at 7"})
	if err != nil {
		t.Fatalf("generate: %v\nstderr: %s", err, stderr.String())
	}

	var out generateOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if out.Written || out.Alias != "Kitchen light (NAG)" || len(out.ID) != 10 {
		t.Errorf("output = %+v", out)
	}
	if _, err := os.Stat(env.automations); !os.IsNotExist(err) {
		t.Errorf("automations file exists after preview: %v", err)
	}
	if env.reloads.Load() != 0 {
		t.Errorf("reloads = %d, want 0", env.reloads.Load())
	}
}

func TestRunEntities(t *testing.T) {
	env := newTestEnv(t)

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), nil, &stdout, &stderr,
		[]string{"-config", env.configPath, "-o", "json", "entities", "light"}); err != nil {
		t.Fatalf("entities: %v\nstderr: %s", err, stderr.String())
	}

	var out entitiesOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if out.Count != 1 || !strings.Contains(out.Entities, "light.kitchen") {
		t.Errorf("output = %+v", out)
	}
	if env.completions.Load() != 0 {
		t.Errorf("entities called the model %d times", env.completions.Load())
	}
}

func TestRunChat_ExitAndEOF(t *testing.T) {
	env := newTestEnv(t)

	for _, input := range []string{"exit\n", "\n\n"} {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), strings.NewReader(input), &stdout, &stderr,
			[]string{"-config", env.configPath, "chat"}); err != nil {
			t.Fatalf("chat(%q): %v", input, err)
		}
		if !strings.Contains(stdout.String(), "Describe the automation") {
			t.Errorf("chat(%q) stdout = %q", input, stdout.String())
		}
	}
	if env.completions.Load() != 0 {
		t.Errorf("blank input reached the model %d times", env.completions.Load())
	}
}

func TestRunServe_RequiresHomeAssistant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "llm:\n  api_key: k\ndata_dir: " + filepath.Join(dir, "data") + "\n"
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := run(context.Background(), nil, &out, &out, []string{"-config", path, "serve"})
	if err == nil || !strings.Contains(err.Error(), "homeassistant.url") {
		t.Errorf("err = %v", err)
	}
}
