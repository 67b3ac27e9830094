// Package config loads engine configuration from the environment, the
// same way the teacher's infrastructure/config package loads its own
// Config: small getEnv helpers with defaults, plus a Validate method.
package config

import (
	"os"
	"strconv"

	"increment/pkg/utils"
)

// EngineConfig controls storage location, cache sizing, logging, and
// the strictness of corruption handling.
type EngineConfig struct {
	// StoragePath is the bbolt file backing the engine's persistent state.
	StoragePath string `validate:"required"`
	// CacheSize bounds the concrete-node LRU cache.
	CacheSize int `validate:"min=1"`
	// LogLevel is one of zap's level names ("debug", "info", "warn", "error").
	LogLevel string `validate:"required,oneof=debug info warn error"`
	// Strict, when true, panics on MissingValue (storage corruption)
	// instead of surfacing it as an error to the caller.
	Strict bool
}

const (
	defaultStoragePath = "./data/engine.db"
	defaultCacheSize   = 1024
	defaultLogLevel    = "info"
	defaultStrict      = false
)

// LoadEngineConfig builds an EngineConfig from environment variables,
// falling back to defaults, then validates it.
func LoadEngineConfig() (*EngineConfig, error) {
	cfg := &EngineConfig{
		StoragePath: getEnv("ENGINE_STORAGE_PATH", defaultStoragePath),
		CacheSize:   getEnvInt("ENGINE_CACHE_SIZE", defaultCacheSize),
		LogLevel:    getEnv("ENGINE_LOG_LEVEL", defaultLogLevel),
		Strict:      getEnvBool("ENGINE_STRICT", defaultStrict),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct-tag constraints via go-playground/validator.
func (c *EngineConfig) Validate() error {
	return utils.ValidateStruct(c)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
