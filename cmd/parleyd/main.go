// Command parleyd is the Parley conversation server. It serves conversations
// over WebSocket, streaming LLM responses turn by turn with optional offline
// speech recognition and synthesis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/health"
	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/resilience"
	"github.com/parley-ai/parley/internal/session"
	"github.com/parley-ai/parley/internal/ws"
	"github.com/parley-ai/parley/pkg/provider/completion"
	"github.com/parley-ai/parley/pkg/provider/completion/anyllm"
	"github.com/parley-ai/parley/pkg/provider/completion/openai"
	"github.com/parley-ai/parley/pkg/provider/synthesize"
	"github.com/parley-ai/parley/pkg/provider/synthesize/piper"
	"github.com/parley-ai/parley/pkg/provider/transcribe"
	"github.com/parley-ai/parley/pkg/provider/transcribe/whisper"
	"github.com/parley-ai/parley/pkg/store"
	"github.com/parley-ai/parley/pkg/store/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parleyd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parleyd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("parleyd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "parley"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Store (optional) ──────────────────────────────────────────────────────
	var st store.Store
	var checkers []health.Checker
	if cfg.Store.PostgresDSN != "" {
		pg, err := postgres.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		st = pg
		checkers = append(checkers, health.Database(pg.Ping))
		slog.Info("store connected", "backend", "postgres")
	}

	// ── Completion profiles ───────────────────────────────────────────────────
	profiles, err := buildProfiles(cfg.LLM)
	if err != nil {
		slog.Error("failed to build completion clients", "err", err)
		return 1
	}
	checkers = append(checkers,
		health.Breaker("completion-backend", profiles.Main.(*resilience.GuardedClient).State))
	slog.Info("completion profiles ready",
		"main", cfg.LLM.Main.Model, "summary", cfg.LLM.Summary.Model)

	// ── Speech engines (optional) ─────────────────────────────────────────────
	var transcriber transcribe.Transcriber
	if cfg.STT.ModelPath != "" {
		transcriber, err = whisper.New(cfg.STT.ModelPath, whisper.WithLanguage(cfg.STT.Language))
		if err != nil {
			slog.Error("failed to load whisper model", "err", err)
			return 1
		}
		defer transcriber.Close()
		slog.Info("speech recognition ready", "model", cfg.STT.ModelPath)
	}

	var synthesizer synthesize.Synthesizer
	if cfg.TTS.ModelPath != "" {
		var opts []piper.Option
		if cfg.TTS.PiperPath != "" {
			opts = append(opts, piper.WithBinary(cfg.TTS.PiperPath))
		}
		if cfg.TTS.SpeakerID != 0 {
			opts = append(opts, piper.WithSpeaker(cfg.TTS.SpeakerID))
		}
		if cfg.TTS.LengthScale != 0 {
			opts = append(opts, piper.WithLengthScale(cfg.TTS.LengthScale))
		}
		synthesizer, err = piper.New(cfg.TTS.ModelPath, opts...)
		if err != nil {
			slog.Error("failed to configure piper", "err", err)
			return 1
		}
		slog.Info("speech synthesis ready", "model", cfg.TTS.ModelPath)
	}

	// ── Session registry ──────────────────────────────────────────────────────
	summariser := session.NewCompletionSummariser(profiles.Summary, cfg.Context.SummaryPrompt)
	registry := session.NewRegistry(session.RegistryConfig{
		Store:       st,
		Metrics:     metrics,
		IdleTimeout: cfg.Session.IdleTimeout,
		Factory: func(conversationID string) *session.Session {
			return session.New(session.Config{
				ConversationID: conversationID,
				Context: session.NewContextManager(session.ContextManagerConfig{
					MaxTokens:  cfg.Context.MaxTokens,
					Threshold:  cfg.Context.CompressionThreshold,
					KeepRecent: cfg.Context.KeepRecentTurns,
					Summariser: summariser,
				}),
				Completer:    profiles.Main,
				Transcriber:  transcriber,
				Synthesizer:  synthesizer,
				Store:        st,
				Metrics:      metrics,
				SystemPrompt: cfg.Context.SystemPrompt,
				Timeouts: session.Timeouts{
					Transcribe: cfg.Session.TranscribeTimeout,
					Complete:   cfg.Session.CompleteTimeout,
					Synthesize: cfg.Session.SynthesizeTimeout,
					Summarize:  cfg.Session.SummarizeTimeout,
				},
			})
		},
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	ws.NewServer(registry).Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		registry.Sweep(gctx, cfg.Session.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProfiles constructs the main and summary completion clients, each
// behind its own circuit breaker.
func buildProfiles(cfg config.LLMConfig) (completion.Profiles, error) {
	main, err := buildClient(cfg.Main)
	if err != nil {
		return completion.Profiles{}, fmt.Errorf("main profile: %w", err)
	}
	summary, err := buildClient(cfg.Summary)
	if err != nil {
		return completion.Profiles{}, fmt.Errorf("summary profile: %w", err)
	}
	return completion.Profiles{
		Main:    resilience.NewGuardedClient(main, resilience.CircuitBreakerConfig{Name: "llm-main"}),
		Summary: resilience.NewGuardedClient(summary, resilience.CircuitBreakerConfig{Name: "llm-summary"}),
	}, nil
}

// buildClient constructs one completion client from a model profile. The
// openai backend speaks the chat-completions protocol directly; anyllm routes
// through any-llm-go for vendors with their own protocols.
func buildClient(p config.ModelProfile) (completion.Client, error) {
	switch p.Backend {
	case config.BackendAnyLLM:
		var opts []anyllmlib.Option
		if p.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(p.APIKey))
		}
		if p.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(p.BaseURL))
		}
		return anyllm.New(p.Vendor, p.Model, p.MaxTokens, p.Temperature, opts...)
	default:
		var opts []openai.Option
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		if p.MaxTokens > 0 {
			opts = append(opts, openai.WithMaxTokens(p.MaxTokens))
		}
		if p.Temperature > 0 {
			opts = append(opts, openai.WithTemperature(p.Temperature))
		}
		return openai.New(p.APIKey, p.Model, opts...)
	}
}
