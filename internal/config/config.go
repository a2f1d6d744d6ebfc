package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type StoreBackend string

const (
	BackendAuto     StoreBackend = ""
	BackendREST     StoreBackend = "rest"
	BackendPostgres StoreBackend = "postgres"
	BackendRedis    StoreBackend = "redis"
	BackendBolt     StoreBackend = "bolt"
	BackendFile     StoreBackend = "file"
	BackendMemory   StoreBackend = "memory"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`

	// Durable store
	StoreBackend StoreBackend  `env:"STORE_BACKEND"`
	StoreURL     string        `env:"STORE_URL"`
	StoreKey     string        `env:"STORE_KEY"`
	StoreTable   string        `env:"STORE_TABLE" envDefault:"conversation_histories"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix  string        `env:"REDIS_PREFIX" envDefault:"conv"`
	BoltPath     string        `env:"BOLT_PATH" envDefault:"data/conversations.bolt"`
	LogFilePath  string        `env:"LOG_FILE_PATH" envDefault:"data/conversations.jsonl"`

	// Memory layer
	CacheCapacity int    `env:"CACHE_CAPACITY" envDefault:"1000"`
	HistoryLimit  int    `env:"HISTORY_LIMIT" envDefault:"10"`
	RetentionDays int    `env:"RETENTION_DAYS" envDefault:"30"`
	SweepSchedule string `env:"SWEEP_SCHEDULE" envDefault:"@every 24h"`

	// LLM settings
	LLMProvider       LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey      string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string      `env:"OPENAI_BASE_URL"`
	OpenAIModel       string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAITemperature float32     `env:"OPENAI_TEMPERATURE" envDefault:"0.7"`
	OpenAIMaxTokens   int         `env:"OPENAI_MAX_TOKENS" envDefault:"1000"`
	YandexOAuthToken  string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID    string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Prompts
	SystemPrompt     string `env:"SYSTEM_PROMPT"`
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH"`

	// Formatting; empty sends plain text
	MessageParseMode string `env:"MESSAGE_PARSE_MODE"`

	// Liveness and metrics
	Port             int    `env:"PORT" envDefault:"8080"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"memorybot"`
}

// Load parses the environment. It does not exit on failure.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.RetentionDays <= 0 {
		return nil, fmt.Errorf("RETENTION_DAYS must be positive, got %d", cfg.RetentionDays)
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c *Config) ListenAddr() string { return fmt.Sprintf(":%d", c.Port) }

// GenerationConfigured reports whether the selected provider has credentials.
func (c *Config) GenerationConfigured() bool {
	switch c.LLMProvider {
	case ProviderYandex:
		return c.YandexOAuthToken != "" && c.YandexFolderID != ""
	default:
		return c.OpenAIAPIKey != ""
	}
}
