package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"rvdb"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"rvdb"`

	ReadwiseToken string `envconfig:"READWISE_TOKEN"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	// OpenAIBaseURL overrides the embeddings endpoint (proxies, tests).
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-large"`
	EmbeddingDim   int    `envconfig:"EMBEDDING_DIM" default:"3072"`

	// Server
	ServerPort int    `envconfig:"SERVER_PORT" default:"8080"`
	MCPHost    string `envconfig:"MCP_HOST" default:"0.0.0.0"`
	MCPPort    int    `envconfig:"MCP_PORT" default:"8375"`

	// Sync
	SourceReqPerMinute  int `envconfig:"SOURCE_REQ_PER_MINUTE" default:"20"`
	RetryMaxAttempts    int `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`
	RetryInitialSeconds int `envconfig:"RETRY_INITIAL_SECONDS" default:"1"`
	RetryMaxSeconds     int `envconfig:"RETRY_MAX_SECONDS" default:"30"`

	// Timeouts
	QueryTimeoutSeconds int `envconfig:"QUERY_TIMEOUT_SECONDS" default:"5"`
	EmbedTimeoutSeconds int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"30"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIM must be positive", ErrMissingRequired)
	}
	return nil
}
