package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := Validate(Default()); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadFromReaderOverlaysDefaults(t *testing.T) {
	t.Parallel()
	const doc = `
server:
  listen_addr: ":9000"
  log_level: debug
providers:
  llm:
    name: openai
    model: gpt-4o-mini
orchestrator:
  use_llm: true
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != LogDebug {
		t.Fatalf("server = %+v", cfg.Server)
	}
	// Untouched sections keep their defaults.
	if cfg.Audio.SampleRate != 16000 || cfg.Memory.MaxHistoryRounds != 30 {
		t.Fatal("defaults lost during overlay")
	}
	if !cfg.Orchestrator.UseLLM || cfg.Providers.LLM.Name != "openai" {
		t.Fatalf("providers = %+v", cfg.Providers)
	}
	if got := cfg.State.WakewordTimeout(); got != 30*time.Second {
		t.Fatalf("wakeword timeout = %v", got)
	}
}

func TestLoadFromReaderRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	const doc = `
server:
  listen_adr: ":9000"
`
	if _, err := LoadFromReader(strings.NewReader(doc)); err == nil {
		t.Fatal("misspelled key accepted")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Server.ListenAddr = ""
	cfg.Server.LogLevel = "loud"
	cfg.Audio.Channels = 7
	cfg.Orchestrator.MinConfidence = 1.5
	cfg.Agents.MaxConcurrent = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	msg := err.Error()
	for _, want := range []string{"listen_addr", "log_level", "channels", "min_confidence", "max_concurrent"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestValidateUseLLMRequiresProvider(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Orchestrator.UseLLM = true
	if err := Validate(cfg); err == nil {
		t.Fatal("use_llm accepted without an llm provider")
	}
	cfg.Providers.LLM.Name = "openai"
	if err := Validate(cfg); err != nil {
		t.Fatalf("use_llm with provider rejected: %v", err)
	}
}

func TestValidateWakeTimeoutRequired(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.State.WakewordTimeoutMS = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("zero wake timeout accepted with wake enabled")
	}
	cfg.State.EnableWakeword = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("wake disabled still rejected: %v", err)
	}
}

func TestTTSEvaluationOption(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if cfg.TTSEvaluation() {
		t.Fatal("evaluation on by default")
	}
	cfg.Providers.TTS.Options = map[string]any{"evaluation": true}
	if !cfg.TTSEvaluation() {
		t.Fatal("evaluation option ignored")
	}
}
