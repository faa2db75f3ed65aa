package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration defaults. Zero values in the YAML are replaced by these in
// [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"

	DefaultAnswerBudget  = 30 * time.Second
	DefaultHistorySize   = 64
	DefaultHistoryMaxAge = 30 * time.Minute

	DefaultBaseSilence         = 700 * time.Millisecond
	DefaultMinSilence          = 200 * time.Millisecond
	DefaultMaxSilence          = 2500 * time.Millisecond
	DefaultShortUtteranceWords = 3

	DefaultAttemptTimeout   = 10 * time.Second
	DefaultMaxAttempts      = 3
	DefaultBackoffBase      = 250 * time.Millisecond
	DefaultBreakerThreshold = 5
	DefaultBreakerWindow    = 60 * time.Second
	DefaultBreakerCooldown  = 30 * time.Second

	DefaultGraceWindow = 300 * time.Millisecond
)

// DefaultBackchannels are the acknowledgement words suppressed during
// playback when no explicit list is configured.
var DefaultBackchannels = []string{
	"yeah", "yes", "ok", "okay", "right", "sure",
	"uh-huh", "mhm", "mm-hmm", "hmm", "aha", "got it",
}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp"},
	"stt": {"deepgram"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Turn.AnswerBudget <= 0 {
		cfg.Turn.AnswerBudget = DefaultAnswerBudget
	}
	if cfg.Turn.HistorySize <= 0 {
		cfg.Turn.HistorySize = DefaultHistorySize
	}
	if cfg.Turn.HistoryMaxAge <= 0 {
		cfg.Turn.HistoryMaxAge = DefaultHistoryMaxAge
	}

	if cfg.Endpoint.BaseSilence <= 0 {
		cfg.Endpoint.BaseSilence = DefaultBaseSilence
	}
	if cfg.Endpoint.MinSilence <= 0 {
		cfg.Endpoint.MinSilence = DefaultMinSilence
	}
	if cfg.Endpoint.MaxSilence <= 0 {
		cfg.Endpoint.MaxSilence = DefaultMaxSilence
	}
	if cfg.Endpoint.ShortUtteranceWords <= 0 {
		cfg.Endpoint.ShortUtteranceWords = DefaultShortUtteranceWords
	}

	if cfg.Dispatch.AttemptTimeout <= 0 {
		cfg.Dispatch.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		cfg.Dispatch.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dispatch.BackoffBase <= 0 {
		cfg.Dispatch.BackoffBase = DefaultBackoffBase
	}
	if cfg.Dispatch.BreakerThreshold <= 0 {
		cfg.Dispatch.BreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.Dispatch.BreakerWindow <= 0 {
		cfg.Dispatch.BreakerWindow = DefaultBreakerWindow
	}
	if cfg.Dispatch.BreakerCooldown <= 0 {
		cfg.Dispatch.BreakerCooldown = DefaultBreakerCooldown
	}

	if cfg.Bargein.GraceWindow <= 0 {
		cfg.Bargein.GraceWindow = DefaultGraceWindow
	}
	if len(cfg.Bargein.Backchannels) == 0 {
		cfg.Bargein.Backchannels = slices.Clone(DefaultBackchannels)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}

	// Endpointing thresholds must be ordered: floor ≤ base ≤ ceiling.
	if cfg.Endpoint.MinSilence > cfg.Endpoint.BaseSilence {
		errs = append(errs, fmt.Errorf("endpoint.min_silence %v exceeds endpoint.base_silence %v", cfg.Endpoint.MinSilence, cfg.Endpoint.BaseSilence))
	}
	if cfg.Endpoint.BaseSilence > cfg.Endpoint.MaxSilence {
		errs = append(errs, fmt.Errorf("endpoint.base_silence %v exceeds endpoint.max_silence %v", cfg.Endpoint.BaseSilence, cfg.Endpoint.MaxSilence))
	}

	// The per-attempt timeout must fit inside the answer budget, otherwise
	// no tool call could ever complete.
	if cfg.Dispatch.AttemptTimeout > cfg.Turn.AnswerBudget {
		errs = append(errs, fmt.Errorf("dispatch.attempt_timeout %v exceeds turn.answer_budget %v", cfg.Dispatch.AttemptTimeout, cfg.Turn.AnswerBudget))
	}

	// Builtin tool names
	for i, name := range cfg.Tools.Builtin {
		if name != "get_weather" && name != "search_web" {
			errs = append(errs, fmt.Errorf("tools.builtin[%d] %q is unknown; valid values: get_weather, search_web", i, name))
		}
	}

	// MCP servers
	mcpNamesSeen := make(map[string]int, len(cfg.Tools.MCP))
	for i, srv := range cfg.Tools.MCP {
		prefix := fmt.Sprintf("tools.mcp[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := mcpNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.mcp[%d]", prefix, srv.Name, prev))
			}
			mcpNamesSeen[srv.Name] = i
		}
		if srv.Command == "" && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s: either command or url is required", prefix))
		}
		if srv.Command != "" && srv.URL != "" {
			errs = append(errs, fmt.Errorf("%s: command and url are mutually exclusive", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
