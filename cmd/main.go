package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"

	"line-chat-relay/handler"
	"line-chat-relay/internal/app"
)

func main() {
	ctx := context.Background()

	// ---- Configuration ----
	cfg, err := app.LoadConfig(".env")
	if err != nil {
		fatal("invalid configuration", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients and use cases ----
	a, err := app.New(awsCfg, cfg)
	if err != nil {
		fatal("failed to assemble relay", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Relay, a.LINE)
	if err != nil {
		fatal("failed to create handler", err)
	}

	slog.Info("starting",
		"agent_mode", cfg.AgentMode,
		"model", cfg.Model,
		"history_window", cfg.HistoryWindow,
		"moderation", cfg.ModerationEnabled)
	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
