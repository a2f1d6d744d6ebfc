package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"memory-bot/internal/assistant"
	"memory-bot/internal/config"
	"memory-bot/internal/conversation"
	"memory-bot/internal/httpapi"
	"memory-bot/internal/llm"
	"memory-bot/internal/observability"
	"memory-bot/internal/scheduler"
	"memory-bot/internal/storage"
	"memory-bot/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	if cfg.TelegramBotToken == "" {
		log.Fatalf("TELEGRAM_BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	health := httpapi.New(cfg.ListenAddr(), observability.MetricsHandler())
	go func() {
		if err := health.ListenAndServe(); err != nil {
			log.Printf("health server error: %v", err)
		}
	}()

	durable, err := storage.NewLog(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init conversation log: %v", err)
	}
	log.Printf("conversation log backend: %s", storage.ResolveBackend(cfg))

	store := conversation.NewStore(durable, conversation.NewCache(cfg.CacheCapacity),
		conversation.WithObserver(metrics),
		conversation.WithHistoryLimit(cfg.HistoryLimit),
	)
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("failed to close conversation log: %v", err)
		}
	}()

	llmClient, err := llm.NewFactory(cfg).CreateClient(string(cfg.LLMProvider))
	if err != nil {
		log.Fatalf("failed to create llm client: %v", err)
	}
	if llmClient == nil {
		log.Printf("WARNING: %s generation is not configured. Bot will use fallback responses.", cfg.LLMProvider)
	} else {
		log.Printf("LLM provider: %s, model: %s", cfg.LLMProvider, cfg.OpenAIModel)
	}

	responder := assistant.NewResponder(llmClient, readSystemPrompt(cfg), metrics)
	handler := assistant.NewHandler(store, responder, metrics)

	sweeper := scheduler.New(cfg.SweepSchedule, cfg.Retention(), store.SweepExpired)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sweeper.Stop()

	bot, err := telegram.New(cfg.TelegramBotToken, handler, cfg.MessageParseMode)
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}

	bot.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown failed: %v", err)
	}
	log.Printf("shutdown complete")
}

func readSystemPrompt(cfg *config.Config) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	if cfg.SystemPromptPath == "" {
		return ""
	}
	data, err := os.ReadFile(cfg.SystemPromptPath)
	if err != nil {
		log.Printf("system prompt file not found or unreadable at %s: %v", cfg.SystemPromptPath, err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
