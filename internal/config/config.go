// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries every tunable the binaries read.
type Config struct {
	DatabaseURL     string
	OllamaHost      string
	GenerationModel string
	EmbeddingModel  string
	EmbeddingDim    int
	Port            int
	LogLevel        string
	LogPretty       bool
	ChunkSize       int
	ChunkOverlap    int
	SplitThreshold  int
	ExtraRoles      []string
	DataDir         string
}

// Load reads the environment, after merging a .env file if one exists.
// Only DATABASE_URL has no default.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		OllamaHost:      getEnv("OLLAMA_HOST", ""),
		GenerationModel: getEnv("GENERATION_MODEL", "llama3.1:8b"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogPretty:       getEnv("LOG_PRETTY", "false") == "true",
		DataDir:         getEnv("DATA_DIR", "data"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.EmbeddingDim, err = getEnvInt("EMBEDDING_DIM", 768); err != nil {
		return nil, err
	}
	if cfg.Port, err = getEnvInt("PORT", 3001); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = getEnvInt("CHUNK_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap, err = getEnvInt("CHUNK_OVERLAP", 200); err != nil {
		return nil, err
	}
	if cfg.SplitThreshold, err = getEnvInt("SPLIT_THRESHOLD", 1500); err != nil {
		return nil, err
	}

	if raw := os.Getenv("EXTRA_ROLES"); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			if role = strings.TrimSpace(role); role != "" {
				cfg.ExtraRoles = append(cfg.ExtraRoles, role)
			}
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return value, nil
}
