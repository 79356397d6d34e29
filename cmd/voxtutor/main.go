// Command voxtutor is the voice tutoring server: it joins realtime rooms as
// an AI agent, runs the speech pipeline, and serves the HTTP control surface.
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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ckocel/voxtutor/internal/api"
	"github.com/ckocel/voxtutor/internal/config"
	"github.com/ckocel/voxtutor/internal/convstore"
	convpg "github.com/ckocel/voxtutor/internal/convstore/postgres"
	"github.com/ckocel/voxtutor/internal/health"
	"github.com/ckocel/voxtutor/internal/observe"
	"github.com/ckocel/voxtutor/internal/session"
	"github.com/ckocel/voxtutor/pkg/provider/embeddings"
	embopenai "github.com/ckocel/voxtutor/pkg/provider/embeddings/openai"
	"github.com/ckocel/voxtutor/pkg/provider/llm"
	llmopenai "github.com/ckocel/voxtutor/pkg/provider/llm/openai"
	"github.com/ckocel/voxtutor/pkg/provider/stt"
	sttopenai "github.com/ckocel/voxtutor/pkg/provider/stt/openai"
	"github.com/ckocel/voxtutor/pkg/provider/tts"
	ttsopenai "github.com/ckocel/voxtutor/pkg/provider/tts/openai"
	"github.com/ckocel/voxtutor/pkg/provider/vad/energy"
	"github.com/ckocel/voxtutor/pkg/rag"
	ragchromem "github.com/ckocel/voxtutor/pkg/rag/chromem"
	ragpg "github.com/ckocel/voxtutor/pkg/rag/postgres"
	"github.com/ckocel/voxtutor/pkg/room"
	"github.com/ckocel/voxtutor/pkg/room/ws"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxtutor: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxtutor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Slog(),
	}))
	slog.SetDefault(logger)

	slog.Info("voxtutor starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxtutor",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	documents, ragClose, err := buildDocumentStore(ctx, cfg, providers.embeddings, logger)
	if err != nil {
		slog.Error("failed to open document store", "err", err)
		return 1
	}
	if ragClose != nil {
		defer ragClose()
	}

	var conversations convstore.Store
	var checkers []health.Checker
	if dsn := cfg.Conversations.PostgresDSN; dsn != "" {
		store, err := convpg.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to open conversation store", "err", err)
			return 1
		}
		defer store.Close()
		conversations = store
		checkers = append(checkers, health.Checker{Name: "database", Check: store.Ping})
	}

	// ── Room platform ─────────────────────────────────────────────────────────
	minter, err := room.NewTokenMinter(cfg.Room.APIKey, cfg.Room.APISecret)
	if err != nil {
		slog.Error("invalid room credentials", "err", err)
		return 1
	}

	// ── Session manager ───────────────────────────────────────────────────────
	manager, err := session.NewManager(session.Deps{
		Platform:       ws.New(),
		Minter:         minter,
		RoomURL:        cfg.Room.URL,
		LLM:            providers.llm,
		STT:            providers.stt,
		TTS:            providers.tts,
		VAD:            energy.New(),
		Documents:      documents,
		Conversations:  conversations,
		AgentName:      cfg.Agent.Name,
		Voice:          tts.Voice{ID: cfg.Agent.Voice.VoiceID, Speed: cfg.Agent.Voice.Speed},
		Language:       cfg.Agent.Language,
		VisualEndpoint: cfg.Visual.EndpointURL,
		VisualAPIKey:   cfg.Visual.APIKey,
		Latency:        session.NewLatencyTracker(cfg.Server.LatencyLog, logger),
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		slog.Error("failed to build session manager", "err", err)
		return 1
	}

	// ── HTTP control surface ──────────────────────────────────────────────────
	controlAPI, err := api.New(api.Config{
		Sessions:       manager,
		Documents:      documents,
		Conversations:  conversations,
		DefaultPersona: cfg.Agent.Persona,
		Health:         health.New(version, manager.Active, checkers...),
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		slog.Error("failed to build control surface", "err", err)
		return 1
	}

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           controlAPI.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("control surface listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	slog.Info("server ready — press Ctrl+C to shut down")
	err = g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down, stopping sessions")
	manager.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if otelErr := otelShutdown(shutdownCtx); otelErr != nil {
		slog.Warn("telemetry shutdown error", "err", otelErr)
	}

	if err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// pipelineProviders holds the constructed provider set for the voice pipeline.
type pipelineProviders struct {
	llm        llm.Provider
	stt        stt.Provider
	tts        tts.Provider
	embeddings embeddings.Provider
}

// buildProviders instantiates every configured provider. Each entry names an
// implementation; "openai" here means any OpenAI-compatible endpoint, with
// base_url pointing it elsewhere.
func buildProviders(cfg *config.Config) (*pipelineProviders, error) {
	p := &pipelineProviders{}
	var err error

	switch name := cfg.Providers.LLM.Name; name {
	case "openai":
		var opts []llmopenai.Option
		if cfg.Providers.LLM.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(cfg.Providers.LLM.BaseURL))
		}
		p.llm, err = llmopenai.New(cfg.Providers.LLM.APIKey, cfg.Providers.LLM.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("llm provider: %w", err)
		}
	default:
		return nil, fmt.Errorf("llm provider %q is not supported", name)
	}

	switch name := cfg.Providers.STT.Name; name {
	case "openai":
		var opts []sttopenai.Option
		if cfg.Providers.STT.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(cfg.Providers.STT.BaseURL))
		}
		p.stt, err = sttopenai.New(cfg.Providers.STT.APIKey, cfg.Providers.STT.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("stt provider: %w", err)
		}
	default:
		return nil, fmt.Errorf("stt provider %q is not supported", name)
	}

	switch name := cfg.Providers.TTS.Name; name {
	case "openai":
		var opts []ttsopenai.Option
		if cfg.Providers.TTS.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(cfg.Providers.TTS.BaseURL))
		}
		p.tts, err = ttsopenai.New(cfg.Providers.TTS.APIKey, cfg.Providers.TTS.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("tts provider: %w", err)
		}
	default:
		return nil, fmt.Errorf("tts provider %q is not supported", name)
	}

	switch name := cfg.Providers.Embeddings.Name; name {
	case "openai":
		var opts []embopenai.Option
		if cfg.Providers.Embeddings.BaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(cfg.Providers.Embeddings.BaseURL))
		}
		p.embeddings, err = embopenai.New(cfg.Providers.Embeddings.APIKey, cfg.Providers.Embeddings.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("embeddings provider: %w", err)
		}
	default:
		return nil, fmt.Errorf("embeddings provider %q is not supported", name)
	}

	return p, nil
}

// buildDocumentStore opens the configured vector store backend. The returned
// close function is nil when the backend needs no teardown.
func buildDocumentStore(ctx context.Context, cfg *config.Config, embedder embeddings.Provider, logger *slog.Logger) (rag.Store, func(), error) {
	switch cfg.Documents.Backend {
	case config.BackendPostgres:
		store, err := ragpg.New(ctx, cfg.Documents.PostgresDSN, embedder, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.BackendChromem:
		store, err := ragchromem.New(cfg.Documents.DataDir, embedder, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("document backend %q is not supported", cfg.Documents.Backend)
	}
}
