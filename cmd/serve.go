package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calyptra/sage/internal/agent"
	"github.com/calyptra/sage/internal/api"
	"github.com/calyptra/sage/internal/config"
	"github.com/calyptra/sage/internal/dispatch"
	"github.com/calyptra/sage/internal/index"
	"github.com/calyptra/sage/internal/log"
	"github.com/calyptra/sage/internal/provider"
	"github.com/calyptra/sage/internal/session"
	"github.com/calyptra/sage/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe builds the full object graph and runs the server until SIGINT or
// SIGTERM.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: logLevel(),
		JSON:  os.Getenv("SAGE_LOG_JSON") != "",
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := provider.New(ctx, provider.Config{
		APIKey:        cfg.GeminiAPIKey,
		EmbedderModel: cfg.EmbedderModel,
		Logger:        logger.With("component", "provider"),
	})
	if err != nil {
		return fmt.Errorf("creating provider client: %w", err)
	}

	// The index builds in the background; until it finishes, requests are
	// answered without retrieval context and /ready reports unavailable.
	ix := index.New(client, logger.With("component", "index"))
	go ix.Build(ctx, cfg.ContentDir)

	registry := tools.NewRegistry(logger.With("component", "tools"),
		tools.NewWeatherTool(cfg.WeatherAPIKey, logger.With("tool", tools.WeatherToolName)),
		tools.NewCalcTool(logger.With("tool", tools.CalcToolName)),
	)

	dispatcher, err := dispatch.New(dispatch.Config{
		Generator:       client,
		Tools:           registry,
		Cooldown:        dispatch.NewCooldown(),
		Logger:          logger.With("component", "dispatch"),
		Models:          cfg.Models,
		MaxRounds:       cfg.MaxRounds,
		RetryDelay:      cfg.RetryDelay,
		RetryCap:        cfg.RetryCap,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	ag, err := agent.New(agent.Config{
		Dispatcher:    dispatcher,
		Retriever:     ix,
		Store:         session.NewHistory(),
		Logger:        logger.With("component", "agent"),
		HistoryWindow: cfg.HistoryWindow,
		TopK:          cfg.TopK,
		MinScore:      cfg.MinScore,
		RequestBudget: cfg.RequestBudget,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	server, err := api.NewServer(ag, ix, logger.With("component", "api"))
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	logger.Info("sage ready", "version", AppVersion, "addr", cfg.Addr, "models", cfg.Models)
	return server.Run(ctx, cfg.Addr)
}

// logLevel reads the debug switch from the environment. Everything else about
// logging is fixed; level is the only knob worth exposing.
func logLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
