package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Index     IndexConfig
	Milvus    MilvusConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Retrieval RetrievalConfig
	Ingestion IngestionConfig
	Uploads   UploadsConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type IndexConfig struct {
	// Backend is "memory" or "milvus".
	Backend string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	ConnectRetries int
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
	MaxAttempts int
}

type EmbeddingConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dim        int
	TimeoutSec int
}

type RetrievalConfig struct {
	TopK         int
	Threshold    float64
	HistoryTurns int
}

type IngestionConfig struct {
	Workers      int
	Folder       string
	SweepOnStart bool
}

type UploadsConfig struct {
	Dir string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/casebot")

	return load(v)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("CASEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.LLM.APIKey == "" {
		config.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.Embedding.APIKey == "" {
		config.Embedding.APIKey = config.LLM.APIKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Index.Backend {
	case "memory", "milvus":
	default:
		return fmt.Errorf("invalid index backend %q", c.Index.Backend)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.topK must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.HistoryTurns <= 0 {
		return fmt.Errorf("retrieval.historyTurns must be positive, got %d", c.Retrieval.HistoryTurns)
	}
	if c.Ingestion.Workers <= 0 {
		return fmt.Errorf("ingestion.workers must be positive, got %d", c.Ingestion.Workers)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 52428800)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/casebot.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlHours", 24)

	v.SetDefault("index.backend", "memory")

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collectionName", "court_cases")
	v.SetDefault("milvus.vectorDim", 1536)
	v.SetDefault("milvus.connectRetries", 5)

	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 150)
	v.SetDefault("llm.timeoutSec", 30)
	v.SetDefault("llm.maxAttempts", 2)

	v.SetDefault("embedding.model", "text-embedding-ada-002")
	v.SetDefault("embedding.dim", 1536)
	v.SetDefault("embedding.timeoutSec", 15)

	v.SetDefault("retrieval.topK", 3)
	v.SetDefault("retrieval.threshold", 0.8)
	v.SetDefault("retrieval.historyTurns", 5)

	v.SetDefault("ingestion.workers", 5)
	v.SetDefault("ingestion.folder", "./cases")
	v.SetDefault("ingestion.sweepOnStart", false)

	v.SetDefault("uploads.dir", "./uploads")

	v.SetDefault("ratelimit.requestsPerMinute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
