package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingAPIKeyFails(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("VECTOR_STORE_ID")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("VECTOR_STORE_ID", "vs_test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, "vs_test", cfg.VectorStoreID)
}
