// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Provider ProviderConfig `mapstructure:"provider"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Ollama   OllamaConfig   `mapstructure:"ollama"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Corpus   CorpusConfig   `mapstructure:"corpus"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	QA       QAConfig       `mapstructure:"qa"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig sets slog level and handler (json or text).
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProviderConfig selects the backend for embeddings and chat.
type ProviderConfig struct {
	Embed string `mapstructure:"embed"`
	Chat  string `mapstructure:"chat"`
}

// OpenAIConfig is the OpenAI-compatible embeddings and chat endpoint.
type OpenAIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	EmbedModel string        `mapstructure:"embed_model"`
	ChatModel  string        `mapstructure:"chat_model"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// OllamaConfig is the local Ollama server.
type OllamaConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	EmbedModel string `mapstructure:"embed_model"`
	ChatModel  string `mapstructure:"chat_model"`
}

// QdrantConfig locates the similarity index collection.
type QdrantConfig struct {
	Addr       string `mapstructure:"addr"`
	Collection string `mapstructure:"collection"`
	Dims       int    `mapstructure:"dims"`
}

// CorpusConfig controls corpus ingestion.
type CorpusConfig struct {
	Path          string  `mapstructure:"path"`
	IngestOnStart bool    `mapstructure:"ingest_on_start"`
	EmbedRPS      float64 `mapstructure:"embed_rps"`
	EmbedBurst    int     `mapstructure:"embed_burst"`
	RetryAttempts int     `mapstructure:"retry_attempts"`
	BatchSize     int     `mapstructure:"batch_size"`

	// ReingestOnChange rewrites the index when the corpus hash recorded in
	// Redis differs from the file or was never recorded. Requires redis.addr.
	ReingestOnChange bool `mapstructure:"reingest_on_change"`
}

// RedisConfig enables the ingest lock and corpus ledger. An empty Addr
// disables both.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// NATSConfig enables the qa.ask responder and answer events. An empty URL
// disables both.
type NATSConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

// QAConfig tunes the answering pipeline.
type QAConfig struct {
	TopK             int           `mapstructure:"top_k"`
	DefaultThreshold float64       `mapstructure:"default_threshold"`
	UnknownLanguage  string        `mapstructure:"unknown_language"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	// EmbedCacheSize bounds the query embedding cache; 0 disables it.
	EmbedCacheSize int `mapstructure:"embed_cache_size"`
}

// BreakerConfig applies to every outbound circuit breaker.
type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// envAliases maps config keys to the conventional variable names accepted
// alongside FINQA_*.
var envAliases = map[string]string{
	"openai.api_key":  "OPENAI_API_KEY",
	"openai.base_url": "OPENAI_BASE_URL",
	"ollama.base_url": "OLLAMA_URL",
	"qdrant.addr":     "QDRANT_URL",
	"redis.addr":      "REDIS_ADDR",
	"nats.url":        "NATS_URL",
	"server.port":     "PORT",
	"log.level":       "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.request_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("provider.embed", ProviderOpenAI)
	v.SetDefault("provider.chat", ProviderOpenAI)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.embed_model", "text-embedding-3-small")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", "60s")

	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.embed_model", "nomic-embed-text")
	v.SetDefault("ollama.chat_model", "llama3.1")

	v.SetDefault("qdrant.addr", "localhost:6334")
	v.SetDefault("qdrant.collection", "qna_collection")
	v.SetDefault("qdrant.dims", 1536)

	v.SetDefault("corpus.path", "json_data.json")
	v.SetDefault("corpus.ingest_on_start", true)
	v.SetDefault("corpus.embed_rps", 5)
	v.SetDefault("corpus.embed_burst", 5)
	v.SetDefault("corpus.retry_attempts", 3)
	v.SetDefault("corpus.batch_size", 32)
	v.SetDefault("corpus.reingest_on_change", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "5m")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.queue", "finqa")

	v.SetDefault("qa.top_k", 2)
	v.SetDefault("qa.default_threshold", 0.7)
	v.SetDefault("qa.unknown_language", "error")
	v.SetDefault("qa.call_timeout", "30s")
	v.SetDefault("qa.embed_cache_size", 1024)

	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", "30s")
}

// Load reads configuration. path names an explicit YAML file; when empty,
// finqa.yaml is looked up in ., ./configs and /etc/finqa and may be absent.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FINQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		envKey := "FINQA_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, alias); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("finqa")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/finqa")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.QA.DefaultThreshold < 0 || c.QA.DefaultThreshold > 1 {
		errs = append(errs, fmt.Errorf("qa.default_threshold must be in [0,1], got %v", c.QA.DefaultThreshold))
	}
	if c.QA.TopK < 1 {
		errs = append(errs, fmt.Errorf("qa.top_k must be >= 1, got %d", c.QA.TopK))
	}
	switch c.QA.UnknownLanguage {
	case "error", "fallthrough":
	default:
		errs = append(errs, fmt.Errorf("qa.unknown_language must be error or fallthrough, got %q", c.QA.UnknownLanguage))
	}
	for name, p := range map[string]string{"provider.embed": c.Provider.Embed, "provider.chat": c.Provider.Chat} {
		switch p {
		case ProviderOpenAI:
			if c.OpenAI.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s is openai but no api key is set (OPENAI_API_KEY)", name))
			}
		case ProviderOllama:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown provider %q", name, p))
		}
	}
	if c.QA.EmbedCacheSize < 0 {
		errs = append(errs, fmt.Errorf("qa.embed_cache_size must be >= 0, got %d", c.QA.EmbedCacheSize))
	}
	if c.Qdrant.Collection == "" {
		errs = append(errs, errors.New("qdrant.collection must not be empty"))
	}
	if c.Qdrant.Dims < 1 {
		errs = append(errs, fmt.Errorf("qdrant.dims must be >= 1, got %d", c.Qdrant.Dims))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }

// NewLogger builds the process logger from the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
