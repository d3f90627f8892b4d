package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	OpenAI    OpenAIConfig
	Embedding EmbeddingConfig
	Chunking  ChunkingConfig
	Ingestion IngestionConfig
	Breaker   BreakerConfig
	Retrieval RetrievalConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	RateLimitPerMinute int
	MaxQuestionLength  int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled           bool
	Host              string
	Port              int
	Password          string
	DB                int
	EmbeddingTTLHours int
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	EmbeddingDim   int
	ChatModel      string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type EmbeddingConfig struct {
	MaxInputChars    int
	TimeoutSec       int
	MaxRetries       int
	InitialBackoffMs int
	Concurrency      int
}

type ChunkingConfig struct {
	Size    int
	Overlap int
}

type IngestionConfig struct {
	WindowBatchSize     int
	StructuralBatchSize int
	PDFBatchDelayMs     int
	ExcelBatchDelayMs   int
	SlideBatchDelayMs   int
	PipelineAttempts    int
	SerializeSameName   bool
}

type BreakerConfig struct {
	FailureThreshold    int
	CooldownSec         int
	RetryAttempts       int
	RetryInitialDelayMs int
}

type RetrievalConfig struct {
	TopK          int
	KeywordLimit  int
	FallbackLimit int
	MinKeywordLen int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml from the usual locations, overlays DOCQA_* environment
// variables and fills everything else with defaults. A missing file is not
// an error.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/docqa")
	}

	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 52428800)
	v.SetDefault("server.rateLimitPerMinute", 60)
	v.SetDefault("server.maxQuestionLength", 4000)

	v.SetDefault("sqlite.path", "./data/docqa.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTLHours", 168)

	v.SetDefault("openai.apiKey", "")
	v.SetDefault("openai.baseURL", "")
	v.SetDefault("openai.embeddingModel", "text-embedding-ada-002")
	v.SetDefault("openai.embeddingDim", 0)
	v.SetDefault("openai.chatModel", "gpt-3.5-turbo")
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.maxTokens", 3000)
	v.SetDefault("openai.timeoutSec", 90)

	v.SetDefault("embedding.maxInputChars", 8000)
	v.SetDefault("embedding.timeoutSec", 45)
	v.SetDefault("embedding.maxRetries", 2)
	v.SetDefault("embedding.initialBackoffMs", 2000)
	v.SetDefault("embedding.concurrency", 1)

	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 200)

	v.SetDefault("ingestion.windowBatchSize", 10)
	v.SetDefault("ingestion.structuralBatchSize", 5)
	v.SetDefault("ingestion.pdfBatchDelayMs", 300)
	v.SetDefault("ingestion.excelBatchDelayMs", 400)
	v.SetDefault("ingestion.slideBatchDelayMs", 500)
	v.SetDefault("ingestion.pipelineAttempts", 2)
	v.SetDefault("ingestion.serializeSameName", false)

	v.SetDefault("breaker.failureThreshold", 3)
	v.SetDefault("breaker.cooldownSec", 30)
	v.SetDefault("breaker.retryAttempts", 3)
	v.SetDefault("breaker.retryInitialDelayMs", 1000)

	v.SetDefault("retrieval.topK", 5)
	v.SetDefault("retrieval.keywordLimit", 5)
	v.SetDefault("retrieval.fallbackLimit", 3)
	v.SetDefault("retrieval.minKeywordLen", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
