// Command threadmesh runs the conversation orchestration service: a stateless
// HTTP API over a thread store, a tool registry and a model-driven dispatch
// loop.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"

	"github.com/threadmesh/threadmesh/config"
	"github.com/threadmesh/threadmesh/dispatch"
	"github.com/threadmesh/threadmesh/logging"
	"github.com/threadmesh/threadmesh/model"
	anthropicmodel "github.com/threadmesh/threadmesh/model/anthropic"
	"github.com/threadmesh/threadmesh/model/modeltest"
	openaimodel "github.com/threadmesh/threadmesh/model/openai"
	"github.com/threadmesh/threadmesh/server"
	"github.com/threadmesh/threadmesh/store"
	dynamostore "github.com/threadmesh/threadmesh/store/dynamodb"
	"github.com/threadmesh/threadmesh/store/memory"
	"github.com/threadmesh/threadmesh/tool"
	"github.com/threadmesh/threadmesh/toolkit"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	logger := logging.NewSlogAdapter(slogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err.Error())
		os.Exit(1)
	}

	registry := tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Timeout = cfg.ToolTimeout
		o.Logger = logger
	})
	registry.RegisterAll(toolkit.All()...)

	loop := dispatch.NewLoop(buildModel(cfg), registry, func(o *dispatch.Options) {
		o.Instructions = cfg.Instructions
		o.MaxIterations = cfg.MaxIterations
		o.ModelRetries = cfg.ModelRetries
		o.InitialBackoff = cfg.InitialBackoff
		o.Budget = cfg.TurnBudget
		o.MaxParallel = cfg.MaxParallel
		o.Logger = logger
	})

	engine := server.NewEngine(st, loop, func(o *server.EngineOptions) {
		o.Logger = logger
		o.Observer = server.LogObserver{Logger: logger}
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewServer(engine, func(o *server.Options) { o.Logger = logger }).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server.listening",
			"addr", cfg.Addr,
			"store", string(cfg.Store),
			"model_provider", string(cfg.ModelProvider),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server.failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server.shutdown_failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server.stopped")
}

func buildStore(ctx context.Context, cfg config.Config, logger logging.Logger) (store.ConversationStore, error) {
	switch cfg.Store {
	case config.StoreDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return dynamostore.NewStore(
			awsdynamodb.NewFromConfig(awsCfg),
			cfg.DynamoTable,
			func(o *dynamostore.Options) { o.Logger = logger },
		)
	default:
		return memory.NewStore(), nil
	}
}

func buildModel(cfg config.Config) model.Model {
	switch cfg.ModelProvider {
	case config.ProviderOpenAI:
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			if cfg.ModelName != "" {
				o.Model = cfg.ModelName
			}
		})
	case config.ProviderAnthropic:
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if cfg.ModelName != "" {
				o.Model = anthropicsdk.Model(cfg.ModelName)
			}
		})
	default:
		return modeltest.NewScripted()
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
