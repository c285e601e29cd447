// Package main is the entry point for the conversation orchestrator.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/personaorch/internal/common/config"
	"github.com/kandev/personaorch/internal/common/httpmw"
	"github.com/kandev/personaorch/internal/common/logger"
	"github.com/kandev/personaorch/internal/common/tracing"
	"github.com/kandev/personaorch/internal/events"
	"github.com/kandev/personaorch/internal/orchestrator/api"
	"github.com/kandev/personaorch/internal/orchestrator/scheduler"
	"github.com/kandev/personaorch/internal/orchestrator/session"
	"github.com/kandev/personaorch/internal/orchestrator/ws"
	"github.com/kandev/personaorch/internal/persona"
	"github.com/kandev/personaorch/internal/rag"
	"github.com/kandev/personaorch/internal/runtime"
	"github.com/kandev/personaorch/internal/store"
)

const serverName = "personaorch"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting conversation orchestrator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()
	eventBus := providedBus.Bus

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err), zap.String("driver", cfg.Database.Driver))
	}
	defer st.Close()
	log.Info("store opened", zap.String("driver", cfg.Database.Driver))

	registry := persona.NewYAMLRegistry()
	if err := registry.LoadDir(cfg.Persona.FixturesDir); err != nil {
		log.Fatal("failed to load persona fixtures", zap.Error(err), zap.String("dir", cfg.Persona.FixturesDir))
	}

	retriever, err := rag.NewRetriever(cfg.RAG.StorePath, rag.NewFallbackEmbedder(cfg.RAG.EmbeddingDim))
	if err != nil {
		log.Fatal("failed to open RAG store", zap.Error(err))
	}
	defer retriever.Close()

	adapter := runtime.NewAdapter(registry, runtime.Policy{
		RetryCount:         cfg.Runtime.RetryCount,
		RetryBackoffBase:   cfg.Runtime.RetryBackoffBaseDuration(),
		RetryBackoffFactor: cfg.Runtime.RetryBackoffFactor,
		IdleTokenTimeout:   cfg.Runtime.IdleTokenTimeoutDuration(),
		Stub:               cfg.Runtime.Mode == "stub",
	}, log)

	sched := scheduler.New(log, scheduler.UniformJitter{})

	manager := session.NewManager(session.Deps{
		Store:               st,
		Registry:            registry,
		Adapter:             adapter,
		Retriever:           retriever,
		Scheduler:           sched,
		Log:                 log,
		Events:              eventBus,
		MaxContinuation:     cfg.Orchestrator.MaxContinuation,
		DefaultMemoryWindow: cfg.Orchestrator.MemoryWindowDefault,
		RAGTopKDefault:      cfg.RAG.PromptTopK,
	}, session.Config{
		InboundQueueCapacity: cfg.Orchestrator.InboundQueueCapacity,
		MaxAgentsPerTurn:     cfg.Orchestrator.MaxAgentsPerTurn,
		MaxContinuation:      cfg.Orchestrator.MaxContinuation,
		DefaultMemoryWindow:  cfg.Orchestrator.MemoryWindowDefault,
		RAGTopKDefault:       cfg.RAG.PromptTopK,
	})

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, serverName))
	router.Use(httpmw.OtelTracing(serverName))

	apiGroup := router.Group("/api")
	api.SetupRoutes(apiGroup, manager, registry, adapter, log)
	ws.SetupRoutes(apiGroup, manager, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serverName})
	})

	port := cfg.Server.Port
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down conversation orchestrator")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	manager.Shutdown()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	log.Info("conversation orchestrator stopped")
}

// openStore picks the Store implementation named by cfg.Database.Driver.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return store.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.OpenSQLite(cfg.Database.Path)
	}
}
