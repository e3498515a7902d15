package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per kind. [Validate] warns
// about anything else, which is usually a typo.
var ValidProviderNames = map[string][]string{
	"asr":        {"whisper", "mock"},
	"tts":        {"command", "mock"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "mock"},
	"wakeword":   {"mock"},
}

// Load reads the YAML configuration at path and returns a validated
// [Config].
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every tunable at its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080", LogLevel: LogInfo},
		State: StateConfig{
			EnableWakeword:    true,
			WakewordTimeoutMS: 30000,
			MaxVADEndCount:    2,
		},
		Audio: AudioConfig{SampleRate: 16000, Channels: 1, ChunkSize: 1024},
		VAD: VADConfig{
			FrameSize:           480,
			WakeDelayMS:         500,
			MinSpeechDurationMS: 300,
			RMSThreshold:        500,
			StartFrames:         2,
			EndSilenceMS:        800,
		},
		Orchestrator: OrchestratorConfig{DefaultAgent: "chat_agent", MinConfidence: 0.5},
		Agents:       AgentsConfig{MaxConcurrent: 4, ExecTimeoutMS: 60000},
		Memory:       MemoryConfig{MaxHistoryRounds: 30, TriggerCount: 10, Path: "data/long_term_memory.json"},
		Trace:        TraceConfig{Dir: "data/traces", RetentionDays: 7},
		GUI:          GUIConfig{Enabled: true},
	}
}

// Validate checks cfg for coherent values, returning a joined error listing
// every failure found. Suspicious but workable values only warn.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}

	if cfg.State.MaxVADEndCount < 1 {
		errs = append(errs, fmt.Errorf("state.max_vad_end_count %d must be at least 1", cfg.State.MaxVADEndCount))
	}
	if cfg.State.EnableWakeword && cfg.State.WakewordTimeoutMS <= 0 {
		errs = append(errs, errors.New("state.wakeword_timeout_ms must be positive when the wake word is enabled"))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", cfg.Audio.Channels))
	}

	if cfg.VAD.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("vad.frame_size %d must be positive", cfg.VAD.FrameSize))
	}

	if cfg.Orchestrator.MinConfidence < 0 || cfg.Orchestrator.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("orchestrator.min_confidence %v is out of range [0, 1]", cfg.Orchestrator.MinConfidence))
	}
	if cfg.Agents.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("agents.max_concurrent %d must be positive", cfg.Agents.MaxConcurrent))
	}

	if cfg.Memory.MaxHistoryRounds <= 0 {
		errs = append(errs, fmt.Errorf("memory.max_history_rounds %d must be positive", cfg.Memory.MaxHistoryRounds))
	}
	if cfg.Memory.TriggerCount <= 0 {
		errs = append(errs, fmt.Errorf("memory.trigger_count %d must be positive", cfg.Memory.TriggerCount))
	}

	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("wakeword", cfg.Providers.Wakeword.Name)

	if cfg.Orchestrator.UseLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("orchestrator.use_llm requires providers.llm"))
	}
	if cfg.Providers.ASR.Name == "" {
		slog.Warn("providers.asr is empty; voice queries will not be recognised")
	}
	if cfg.State.EnableWakeword && cfg.Providers.Wakeword.Name == "" {
		slog.Warn("wake word enabled without providers.wakeword; only text injection will start turns")
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is non-empty and unknown for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
