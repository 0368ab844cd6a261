// Package config loads runtime configuration from environment variables.
package config

import (
	"os"
	"strconv"
)

// Config holds all runtime configuration, loaded from environment
// variables with sane defaults.
type Config struct {
	// Server
	Port int

	// Workspace root for sources, stems, and rendered mashups
	WorkspaceDir string

	// Job store: path to a SQLite file, or empty for in-memory
	JobsDB string

	// Revision service
	OllamaHost  string
	OllamaModel string
}

// Load reads configuration from the environment.
func Load() Config {
	return Config{
		Port:         envInt("MASHLAB_PORT", 8080),
		WorkspaceDir: envStr("MASHLAB_WORKSPACE", "workspace"),
		JobsDB:       envStr("MASHLAB_JOBS_DB", ""),
		OllamaHost:   envStr("OLLAMA_HOST", ""),
		OllamaModel:  envStr("OLLAMA_MODEL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
