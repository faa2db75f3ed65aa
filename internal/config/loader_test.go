package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/config"
)

const minimalYAML = `
providers:
  llm:
    name: openai
    model: gpt-4o
  stt:
    name: deepgram
`

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Turn.AnswerBudget != 30*time.Second {
		t.Errorf("AnswerBudget = %v, want 30s", cfg.Turn.AnswerBudget)
	}
	if cfg.Endpoint.BaseSilence != 700*time.Millisecond {
		t.Errorf("BaseSilence = %v, want 700ms", cfg.Endpoint.BaseSilence)
	}
	if cfg.Endpoint.MinSilence != 200*time.Millisecond {
		t.Errorf("MinSilence = %v, want 200ms", cfg.Endpoint.MinSilence)
	}
	if cfg.Endpoint.MaxSilence != 2500*time.Millisecond {
		t.Errorf("MaxSilence = %v, want 2.5s", cfg.Endpoint.MaxSilence)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Dispatch.BreakerThreshold != 5 {
		t.Errorf("BreakerThreshold = %d, want 5", cfg.Dispatch.BreakerThreshold)
	}
	if cfg.Bargein.GraceWindow != 300*time.Millisecond {
		t.Errorf("GraceWindow = %v, want 300ms", cfg.Bargein.GraceWindow)
	}
	if len(cfg.Bargein.Backchannels) == 0 {
		t.Error("Backchannels is empty, want defaults")
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
endpont:
  base_silence: 1s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for misspelled top-level key, got nil")
	}
}

func TestValidate_RequiresLLMAndSTT(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: ':9090'\n"))
	if err == nil {
		t.Fatal("expected error for missing providers, got nil")
	}
	if !strings.Contains(err.Error(), "providers.llm.name") {
		t.Errorf("error should mention providers.llm.name, got: %v", err)
	}
	if !strings.Contains(err.Error(), "providers.stt.name") {
		t.Errorf("error should mention providers.stt.name, got: %v", err)
	}
}

func TestValidate_SilenceThresholdOrdering(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
endpoint:
  min_silence: 900ms
  base_silence: 700ms
  max_silence: 600ms
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for disordered silence thresholds, got nil")
	}
	if !strings.Contains(err.Error(), "min_silence") {
		t.Errorf("error should mention min_silence, got: %v", err)
	}
	if !strings.Contains(err.Error(), "max_silence") {
		t.Errorf("error should mention max_silence, got: %v", err)
	}
}

func TestValidate_AttemptTimeoutWithinBudget(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
turn:
  answer_budget: 5s
dispatch:
  attempt_timeout: 10s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for attempt_timeout exceeding answer_budget, got nil")
	}
	if !strings.Contains(err.Error(), "attempt_timeout") {
		t.Errorf("error should mention attempt_timeout, got: %v", err)
	}
}

func TestValidate_MCPServers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mcp     string
		wantErr string
	}{
		{
			name:    "missing name",
			mcp:     "  - command: npx something\n",
			wantErr: "name is required",
		},
		{
			name:    "missing transport",
			mcp:     "  - name: files\n",
			wantErr: "either command or url",
		},
		{
			name:    "both transports",
			mcp:     "  - name: files\n    command: npx something\n    url: http://localhost:3000\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "duplicate names",
			mcp:     "  - name: files\n    command: a\n  - name: files\n    command: b\n",
			wantErr: "duplicate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			yaml := minimalYAML + "tools:\n  mcp:\n" + tt.mcp
			_, err := config.LoadFromReader(strings.NewReader(yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should contain %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_UnknownBuiltinTool(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `
tools:
  builtin: [get_weather, launch_rockets]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown builtin tool, got nil")
	}
	if !strings.Contains(err.Error(), "launch_rockets") {
		t.Errorf("error should mention launch_rockets, got: %v", err)
	}
}
