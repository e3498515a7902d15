// Package app wires the assistant's subsystems into a running application.
//
// New creates and connects everything, Run serves until the context is
// cancelled, Shutdown tears the subsystems down in reverse order. Provider
// slots left nil degrade gracefully: the corresponding worker goes passive
// and logs once.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/brookwillow/kiwi/internal/agent"
	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/internal/config"
	"github.com/brookwillow/kiwi/internal/gui"
	"github.com/brookwillow/kiwi/internal/health"
	"github.com/brookwillow/kiwi/internal/memory"
	"github.com/brookwillow/kiwi/internal/observe"
	"github.com/brookwillow/kiwi/internal/orchestrator"
	"github.com/brookwillow/kiwi/internal/session"
	"github.com/brookwillow/kiwi/internal/trace"
	"github.com/brookwillow/kiwi/internal/voicestate"
	"github.com/brookwillow/kiwi/internal/worker"
	"github.com/brookwillow/kiwi/internal/worldstate"
	"github.com/brookwillow/kiwi/pkg/audio"
	"github.com/brookwillow/kiwi/pkg/provider/asr"
	"github.com/brookwillow/kiwi/pkg/provider/embeddings"
	"github.com/brookwillow/kiwi/pkg/provider/llm"
	"github.com/brookwillow/kiwi/pkg/provider/tts"
	"github.com/brookwillow/kiwi/pkg/provider/vad"
	"github.com/brookwillow/kiwi/pkg/provider/wakeword"
)

// Providers holds one interface value per provider slot. Nil means the slot
// is not configured. Populated by main.go from the config.
type Providers struct {
	Audio      audio.Source
	Wakeword   wakeword.Provider
	VAD        vad.Provider
	ASR        asr.Provider
	TTS        tts.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	controller *bus.Controller
	tracker    *trace.Tracker
	sessions   *session.Manager
	registry   *agent.Registry
	world      *worldstate.World
	memory     *memory.Module
	hub        *gui.Hub
	orch       *orchestrator.Orchestrator

	capture    *worker.AudioCapture
	asrWorker  *worker.ASR
	vadWorker  *worker.VAD
	wakeWorker *worker.Wakeword
	ttsWorker  *worker.TTS
	dispatcher *agent.Dispatcher

	httpSrv  *http.Server
	stopOnce sync.Once
}

// Option is a functional option for New, used to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithWorld injects a vehicle state holder.
func WithWorld(w *worldstate.World) Option {
	return func(a *App) { a.world = w }
}

// New wires all subsystems. Module registration order is lifecycle order:
// capture first so it stops last on the reversed shutdown path.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.world == nil {
		a.world = worldstate.New()
	}

	a.tracker = trace.NewTracker(cfg.Trace.Dir)
	a.sessions = session.NewManager()
	a.sessions.SetActiveHook(func(delta int) { a.metrics.SessionDelta(int64(delta)) })

	a.controller = bus.NewController()
	a.controller.SetMetricHooks(a.metrics.AddEventProcessed, a.metrics.AddEventDropped)

	a.registry = agent.NewRegistry()
	if err := agent.RegisterBuiltins(a.registry, providers.LLM); err != nil {
		return nil, fmt.Errorf("app: register agents: %w", err)
	}

	a.memory = memory.New(memory.Config{
		MaxHistoryRounds: cfg.Memory.MaxHistoryRounds,
		TriggerCount:     cfg.Memory.TriggerCount,
		Path:             cfg.Memory.Path,
	}, providers.Embeddings, providers.LLM)

	a.hub = gui.NewHub(a.controller)

	var primary orchestrator.Decider
	if cfg.Orchestrator.UseLLM && providers.LLM != nil {
		primary = orchestrator.NewLLMDecider(providers.LLM)
	}
	a.orch = orchestrator.New(a.controller, a.sessions, a.registry, a.tracker, a.metrics, a.memory, primary, orchestrator.Config{
		DefaultAgent:  cfg.Orchestrator.DefaultAgent,
		MinConfidence: cfg.Orchestrator.MinConfidence,
	})

	a.dispatcher = agent.NewDispatcher(a.controller, a.sessions, a.registry, a.tracker, a.metrics, a.world, agent.DispatcherConfig{
		MaxConcurrent: int64(cfg.Agents.MaxConcurrent),
		ExecTimeout:   time.Duration(cfg.Agents.ExecTimeoutMS) * time.Millisecond,
	})

	a.capture = worker.NewAudioCapture(a.controller, providers.Audio, worker.AudioCaptureConfig{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		ChunkSize:  cfg.Audio.ChunkSize,
	})
	a.wakeWorker = worker.NewWakeword(a.controller, a.tracker, providers.Wakeword)
	a.vadWorker = worker.NewVAD(a.controller, a.tracker, providers.VAD, worker.VADConfig{
		FrameSize:         cfg.VAD.FrameSize,
		SampleRate:        cfg.Audio.SampleRate,
		WakeDelay:         time.Duration(cfg.VAD.WakeDelayMS) * time.Millisecond,
		MinSpeechDuration: time.Duration(cfg.VAD.MinSpeechDurationMS) * time.Millisecond,
		MinVolume:         cfg.VAD.MinVolume,
		WakeGated:         cfg.State.EnableWakeword,
	})
	a.asrWorker = worker.NewASR(a.controller, a.tracker, providers.ASR, a.metrics)
	a.ttsWorker = worker.NewTTS(a.controller, providers.TTS, worker.TTSConfig{
		Evaluation: cfg.TTSEvaluation(),
	})

	modules := []bus.Module{
		a.wakeWorker,
		a.vadWorker,
		a.asrWorker,
		orchestrator.NewModule(a.orch),
		a.dispatcher,
		a.ttsWorker,
		a.memory,
	}
	if providers.Audio != nil {
		modules = append([]bus.Module{a.capture}, modules...)
	}
	if cfg.GUI.Enabled {
		modules = append(modules, a.hub)
	}
	for _, m := range modules {
		if err := a.controller.Register(m); err != nil {
			return nil, fmt.Errorf("app: register module: %w", err)
		}
	}

	if err := a.controller.InitializeAll(voicestate.Config{
		EnableWakeword:  cfg.State.EnableWakeword,
		WakewordTimeout: cfg.State.WakewordTimeout(),
		MaxVADEndCount:  cfg.State.MaxVADEndCount,
	}); err != nil {
		return nil, err
	}

	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// routes builds the HTTP surface: probes, status, metrics, dashboard and
// text injection.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	h := health.New(health.Checker{
		Name: "bus",
		Check: func(ctx context.Context) error {
			if a.controller.Machine() == nil {
				return fmt.Errorf("not initialized")
			}
			return nil
		},
	})
	h.AddStats("bus", func() any { return a.controller.Stats() })
	h.AddStats("state", func() any { return a.controller.CurrentState() })
	h.AddStats("sessions", func() any { return a.sessions.Stats() })
	h.AddStats("asr", func() any { return a.asrWorker.Stats() })
	h.AddStats("vad", func() any { return a.vadWorker.Stats() })
	h.AddStats("wakeword", func() any { return a.wakeWorker.Stats() })
	h.AddStats("tts", func() any { return a.ttsWorker.Stats() })
	h.AddStats("dispatcher", func() any { return a.dispatcher.Stats() })
	h.AddStats("gui", func() any { return a.hub.Stats() })
	h.AddStats("agents", func() any { return a.registry.Roster() })
	h.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	if a.cfg.GUI.Enabled {
		mux.Handle("GET /ws", a.hub)
	}
	mux.HandleFunc("POST /inject", a.handleInject)
	return mux
}

// handleInject accepts a text query as if it had been spoken, for testing
// and text-mode clients.
func (a *App) handleInject(w http.ResponseWriter, r *http.Request) {
	text := r.FormValue("text")
	if text == "" {
		http.Error(w, "missing text", http.StatusBadRequest)
		return
	}
	msgID := a.InjectText(text)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, `{"msg_id":%q}`+"\n", msgID)
}

// InjectText routes text through the orchestrator as a new turn and returns
// its message id.
func (a *App) InjectText(text string) string {
	msgID := a.tracker.CreateMessageID("text", nil)
	a.tracker.UpdateQuery(msgID, text)
	go a.orch.ProcessQuery(context.Background(), msgID, text)
	return msgID
}

// Run starts all modules and the HTTP server, then blocks until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.controller.StartAll(); err != nil {
		return err
	}
	slog.Info("assistant running", "addr", a.cfg.Server.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(sctx)
	})
	g.Go(func() error {
		a.pruneTraces(gctx)
		return nil
	})
	return g.Wait()
}

// pruneTraces drops aged trace records once an hour.
func (a *App) pruneTraces(ctx context.Context) {
	retention := time.Duration(a.cfg.Trace.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.tracker.CleanupOldTraces(retention); n > 0 {
				slog.Info("old traces pruned", "count", n)
			}
		}
	}
}

// Controller exposes the bus for tests and the CLI.
func (a *App) Controller() *bus.Controller { return a.controller }

// Tracker exposes the message tracker.
func (a *App) Tracker() *trace.Tracker { return a.tracker }

// Sessions exposes the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Shutdown stops all modules. Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		a.controller.StopAll()
		slog.Info("shutdown complete")
	})
	return nil
}
