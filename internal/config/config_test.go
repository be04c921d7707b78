package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBHost)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, "rvdb", cfg.DBName)
	assert.Equal(t, "text-embedding-3-large", cfg.EmbeddingModel)
	assert.Equal(t, 3072, cfg.EmbeddingDim)
	assert.Equal(t, 20, cfg.SourceReqPerMinute)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, 8375, cfg.MCPPort)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("EMBED_TIMEOUT_SECONDS", "45")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.DBHost)
	assert.Equal(t, 45, cfg.EmbedTimeoutSeconds)
}

func TestValidate(t *testing.T) {
	t.Run("MissingDBHost", func(t *testing.T) {
		cfg := &Config{DBUser: "u", DBName: "n", EmbeddingDim: 3072}
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrMissingRequired)
	})

	t.Run("BadEmbeddingDim", func(t *testing.T) {
		cfg := &Config{DBHost: "h", DBUser: "u", DBName: "n"}
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrMissingRequired)
	})

	t.Run("Valid", func(t *testing.T) {
		cfg := &Config{DBHost: "h", DBUser: "u", DBName: "n", EmbeddingDim: 3072}
		assert.NoError(t, cfg.Validate())
	})
}
