// Package config provides the configuration schema and loader for the
// assistant.
package config

import "time"

// LogLevel controls log verbosity.
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

// Config is the root configuration, loaded from YAML with [Load].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	State        StateConfig        `yaml:"state"`
	Audio        AudioConfig        `yaml:"audio"`
	VAD          VADConfig          `yaml:"vad"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Agents       AgentsConfig       `yaml:"agents"`
	Memory       MemoryConfig       `yaml:"memory"`
	Trace        TraceConfig        `yaml:"trace"`
	GUI          GUIConfig          `yaml:"gui"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP surface (health, metrics,
	// dashboard websocket, text injection), e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// StateConfig tunes the voice state machine.
type StateConfig struct {
	// EnableWakeword gates the pipeline behind a wake phrase.
	EnableWakeword bool `yaml:"enable_wakeword"`

	// WakewordTimeoutMS is how long a wake stays armed after the first
	// utterance, in milliseconds.
	WakewordTimeoutMS int `yaml:"wakeword_timeout_ms"`

	// MaxVADEndCount is how many utterances one wake accepts.
	MaxVADEndCount int `yaml:"max_vad_end_count"`
}

// WakewordTimeout returns the timeout as a duration.
func (c StateConfig) WakewordTimeout() time.Duration {
	return time.Duration(c.WakewordTimeoutMS) * time.Millisecond
}

// AudioConfig tunes capture.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	ChunkSize  int `yaml:"chunk_size"`
}

// VADConfig tunes speech segmentation.
type VADConfig struct {
	FrameSize           int     `yaml:"frame_size"`
	WakeDelayMS         int     `yaml:"wake_delay_ms"`
	MinSpeechDurationMS int     `yaml:"min_speech_duration_ms"`
	MinVolume           float64 `yaml:"min_volume"`
	RMSThreshold        float64 `yaml:"rms_threshold"`
	StartFrames         int     `yaml:"start_frames"`
	EndSilenceMS        int     `yaml:"end_silence_ms"`
}

// ProvidersConfig selects the engine behind each pipeline stage.
type ProvidersConfig struct {
	ASR        ProviderEntry `yaml:"asr"`
	TTS        ProviderEntry `yaml:"tts"`
	LLM        ProviderEntry `yaml:"llm"`
	Embeddings ProviderEntry `yaml:"embeddings"`
	Wakeword   ProviderEntry `yaml:"wakeword"`
}

// ProviderEntry is the common block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the implementation (e.g. "whisper", "openai", "command").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted providers.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model or model file within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// OrchestratorConfig tunes query routing.
type OrchestratorConfig struct {
	// DefaultAgent receives low-confidence queries.
	DefaultAgent string `yaml:"default_agent"`

	// MinConfidence below which routing falls back to DefaultAgent.
	MinConfidence float64 `yaml:"min_confidence"`

	// UseLLM puts the model-backed decider ahead of the keyword rules.
	UseLLM bool `yaml:"use_llm"`
}

// AgentsConfig tunes the dispatcher.
type AgentsConfig struct {
	// MaxConcurrent bounds parallel agent executions.
	MaxConcurrent int `yaml:"max_concurrent"`

	// ExecTimeoutMS bounds one agent execution, in milliseconds.
	ExecTimeoutMS int `yaml:"exec_timeout_ms"`
}

// MemoryConfig tunes conversation memory.
type MemoryConfig struct {
	MaxHistoryRounds int    `yaml:"max_history_rounds"`
	TriggerCount     int    `yaml:"trigger_count"`
	Path             string `yaml:"path"`
}

// TraceConfig tunes message tracing.
type TraceConfig struct {
	// Dir is where daily trace JSONL files are written.
	Dir string `yaml:"dir"`

	// RetentionDays prunes trace records older than this many days.
	RetentionDays int `yaml:"retention_days"`
}

// GUIConfig tunes the dashboard surface.
type GUIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TTSEvaluation reports whether speech output runs in evaluation (silent)
// mode.
func (c *Config) TTSEvaluation() bool {
	v, ok := c.Providers.TTS.Options["evaluation"].(bool)
	return ok && v
}
