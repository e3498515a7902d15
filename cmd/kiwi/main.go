// Command kiwi is the in-car voice assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/brookwillow/kiwi/internal/app"
	"github.com/brookwillow/kiwi/internal/config"
	"github.com/brookwillow/kiwi/internal/observe"
	"github.com/brookwillow/kiwi/pkg/provider/asr/whisper"
	"github.com/brookwillow/kiwi/pkg/provider/embeddings/openai"
	"github.com/brookwillow/kiwi/pkg/provider/llm"
	"github.com/brookwillow/kiwi/pkg/provider/llm/anyllm"
	oaillm "github.com/brookwillow/kiwi/pkg/provider/llm/openai"
	"github.com/brookwillow/kiwi/pkg/provider/tts/command"
	"github.com/brookwillow/kiwi/pkg/provider/vad"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kiwi: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kiwi: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("kiwi starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "kiwi"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(observe.DefaultMetrics()))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ─── provider wiring ─────────────────────────────────────────────────────────

// buildProviders instantiates every provider named in cfg. Empty slots stay
// nil and the corresponding worker goes passive.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	ps := &app.Providers{}

	switch name := cfg.Providers.ASR.Name; name {
	case "":
	case "whisper":
		var opts []whisper.Option
		if lang := optString(cfg.Providers.ASR.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		eng, err := whisper.New(cfg.Providers.ASR.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create asr provider %q: %w", name, err)
		}
		ps.ASR = eng
		slog.Info("provider created", "kind", "asr", "name", name)
	default:
		return nil, fmt.Errorf("unknown asr provider %q", name)
	}

	switch name := cfg.Providers.TTS.Name; name {
	case "":
	case "command":
		binary := optString(cfg.Providers.TTS.Options, "binary")
		if binary == "" {
			binary = "say"
		}
		eng, err := command.New(binary)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = eng
		slog.Info("provider created", "kind", "tts", "name", name)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", name)
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := buildLLM(name, cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Providers.LLM.Model)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		if name != "openai" {
			return nil, fmt.Errorf("unknown embeddings provider %q", name)
		}
		var opts []openai.Option
		if cfg.Providers.Embeddings.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.Embeddings.BaseURL))
		}
		p, err := openai.New(cfg.Providers.Embeddings.APIKey, cfg.Providers.Embeddings.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider: %w", err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	// Speech segmentation always runs on the energy detector; there is no
	// external dependency to configure.
	ps.VAD = vad.NewEnergy(vad.EnergyConfig{
		SampleRate:   cfg.Audio.SampleRate,
		RMSThreshold: cfg.VAD.RMSThreshold,
		StartFrames:  cfg.VAD.StartFrames,
		EndSilence:   time.Duration(cfg.VAD.EndSilenceMS) * time.Millisecond,
	})

	return ps, nil
}

// buildLLM maps a provider name to its implementation. "openai" uses the
// official client; everything else goes through the multi-vendor client.
func buildLLM(name string, entry config.ProviderEntry) (llm.Provider, error) {
	if name == "openai" {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	}
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(name, entry.Model, opts...)
}

// ─── logger ──────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// optString extracts a string from a provider Options map, "" when absent.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
