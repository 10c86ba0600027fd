package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rendis/colloquy/internal/invokables"
)

// Config holds all colloquy configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	TemplatesDir  string `json:"templates_dir"`
	LogLevel      string `json:"log_level"`
	OpenAIAPIKey  string `json:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url"`
	DefaultModel  string `json:"default_model"`
	Scheduler     bool   `json:"scheduler"`

	// ToolServers lists stdio MCP servers whose tools become available to
	// invoke steps under the @ prefix. settings.json only.
	ToolServers []invokables.MCPServerConfig `json:"tool_servers,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:    filepath.Join(colloquyDir(), "colloquy.db"),
		LogLevel:  "info",
		Scheduler: true,
	}
}

func colloquyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".colloquy"
	}
	return filepath.Join(home, ".colloquy")
}

func settingsPath() string {
	return filepath.Join(colloquyDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("COLLOQUY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("COLLOQUY_TEMPLATES_DIR"); v != "" {
		cfg.TemplatesDir = v
	}
	if v := os.Getenv("COLLOQUY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("COLLOQUY_OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("COLLOQUY_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("COLLOQUY_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := os.Getenv("COLLOQUY_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}
