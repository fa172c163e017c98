// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads and validates sonju's process configuration,
// following the shape of api/integration-api/config.InitConfig:
// viper for layered env/file loading, go-playground/validator for the
// hard-failure checks spec.md §6 requires (OPENAI_API_KEY absence is
// a startup failure, not a per-request error).
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig is sonju's full process configuration.
type AppConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`

	// OpenAIAPIKey authenticates both the upstream realtime session and
	// the retrieval client. Its absence is a hard startup failure per
	// spec.md §6.
	OpenAIAPIKey string `mapstructure:"openai_api_key" validate:"required"`

	// ClientOrigin is loaded but not consulted: the client WebSocket
	// upgrader accepts every origin, and no CORS policy is implemented
	// here (that's the external HTTP wrapper's job per spec.md §1).
	ClientOrigin string `mapstructure:"client_origin"`

	// RealtimeModel and RealtimeHost identify the upstream realtime
	// endpoint dialed by internal/upstream.
	RealtimeModel string `mapstructure:"openai_realtime_model" validate:"required"`
	RealtimeHost  string `mapstructure:"openai_realtime_host" validate:"required"`

	// SearchModel is the file-search-capable model used by the
	// retrieval client (spec.md §4.5).
	SearchModel string `mapstructure:"openai_search_model" validate:"required"`

	// VectorStoreID is the fixed vector store id the retrieval client
	// attaches to every search, per spec.md §6.
	VectorStoreID string `mapstructure:"vector_store_id" validate:"required"`

	// RedisAddr, if set, enables the Session Registry's optional
	// cross-instance observability mirror (SPEC_FULL.md §4.2). Empty
	// disables it entirely; the registry stays fully functional
	// in-memory either way.
	RedisAddr string `mapstructure:"redis_addr"`
}

// Load reads configuration from the environment (and an optional
// .env-style file named by ENV_PATH), applies defaults, and validates
// the result. It fails hard if OPENAI_API_KEY or any other required
// field is missing, per spec.md §6.
func Load() (*AppConfig, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}

	setDefaults(v)
	_ = v.ReadInConfig() // absence of a .env file is not an error

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("CLIENT_ORIGIN", "*")
	v.SetDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview")
	v.SetDefault("OPENAI_REALTIME_HOST", "api.openai.com")
	v.SetDefault("OPENAI_SEARCH_MODEL", "gpt-4o-mini")
	v.SetDefault("VECTOR_STORE_ID", "")
	v.SetDefault("REDIS_ADDR", "")
}
