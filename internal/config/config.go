// Package config provides the configuration schema and loader for the Parley
// dialogue controller.
package config

import "time"

// LogLevel controls log verbosity for the Parley server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Turn      TurnConfig      `yaml:"turn"`
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Bargein   BargeinConfig   `yaml:"bargein"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// external collaborator.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`
}

// TurnConfig holds the turn controller's latency budgets and prompts.
type TurnConfig struct {
	// AnswerBudget is the overall deadline for one turn's generation,
	// including tool calls. Generation sessions and their tool calls derive
	// their deadlines from it.
	AnswerBudget time.Duration `yaml:"answer_budget"`

	// SystemPrompt is the instruction sent as the first message of every
	// generation session.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting, when non-empty, is the instruction for the self-initiated
	// greeting turn produced at session start.
	Greeting string `yaml:"greeting"`

	// FailureReply is spoken when a turn fails fatally, so the user is never
	// left silently unanswered.
	FailureReply string `yaml:"failure_reply"`

	// HistorySize bounds how many archived turns are retained.
	HistorySize int `yaml:"history_size"`

	// HistoryMaxAge evicts archived turns older than this.
	HistoryMaxAge time.Duration `yaml:"history_max_age"`
}

// EndpointConfig tunes the endpointing detector.
type EndpointConfig struct {
	// BaseSilence is the adaptive silence threshold's starting value.
	BaseSilence time.Duration `yaml:"base_silence"`

	// MinSilence is the floor the adaptive threshold never drops below,
	// regardless of semantic confidence.
	MinSilence time.Duration `yaml:"min_silence"`

	// MaxSilence is the hard ceiling: speech-end fires unconditionally once
	// silence reaches it.
	MaxSilence time.Duration `yaml:"max_silence"`

	// ShortUtteranceWords is the word count under which an utterance is
	// considered short, raising the threshold to avoid premature cuts.
	ShortUtteranceWords int `yaml:"short_utterance_words"`
}

// DispatchConfig tunes the tool dispatcher and circuit breakers.
type DispatchConfig struct {
	// AttemptTimeout caps a single executor attempt when the tool does not
	// declare its own maximum.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// MaxAttempts bounds retries per tool call (including the first attempt).
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the first retry's backoff; it doubles per attempt.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BreakerThreshold is the failure count within BreakerWindow that opens
	// a tool's circuit.
	BreakerThreshold int `yaml:"breaker_threshold"`

	// BreakerWindow is the rolling window for failure counting.
	BreakerWindow time.Duration `yaml:"breaker_window"`

	// BreakerCooldown is how long an open circuit waits before admitting a
	// half-open trial.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`

	// RedactKeys lists argument keys whose values are masked in audit events.
	RedactKeys []string `yaml:"redact_keys"`

	// RequireConfirmSensitive gates tools marked sensitive behind a spoken
	// confirmation before execution.
	RequireConfirmSensitive bool `yaml:"require_confirm_sensitive"`
}

// BargeinConfig tunes the barge-in coordinator.
type BargeinConfig struct {
	// GraceWindow is how long a speech-start during Speaking is held while
	// waiting for a first partial transcript, so pure backchannels can be
	// suppressed. Zero cancels immediately on speech-start.
	GraceWindow time.Duration `yaml:"grace_window"`

	// Backchannels lists acknowledgement words that never trigger
	// cancellation ("uh-huh", "right", ...).
	Backchannels []string `yaml:"backchannels"`
}

// ToolsConfig declares the tools offered to the reasoning backend.
type ToolsConfig struct {
	// Builtin enables the in-process tools by name ("get_weather",
	// "search_web").
	Builtin []string `yaml:"builtin"`

	// MCP lists external MCP servers whose tool catalogues are imported.
	MCP []MCPServerConfig `yaml:"mcp"`

	// Sensitive lists tool names requiring confirmation before execution.
	Sensitive []string `yaml:"sensitive"`
}

// MCPServerConfig describes one external MCP server connection.
type MCPServerConfig struct {
	// Name identifies the server in logs and tool attribution.
	Name string `yaml:"name"`

	// Command is the stdio transport command line. Mutually exclusive with URL.
	Command string `yaml:"command"`

	// URL is the streamable-HTTP endpoint. Mutually exclusive with Command.
	URL string `yaml:"url"`

	// Env holds additional environment variables for stdio servers.
	Env map[string]string `yaml:"env"`
}
