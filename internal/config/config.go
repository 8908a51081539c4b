// Package config loads client configuration and sets up logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Collaborator API (GraphQL endpoint).
	APIURL string `yaml:"api_url"`

	// Push gateway websocket endpoint.
	PushURL string `yaml:"push_url"`

	// SessionToken is attached to the push handshake and API calls.
	// The gateway refuses unauthenticated connections.
	SessionToken string `yaml:"session_token"`

	// PageSize is the history page fetched when a conversation opens.
	PageSize int `yaml:"page_size"`

	// Logging
	LogFile      string     `yaml:"log_file"`
	LogLevelName string     `yaml:"log_level"`
	LogLevel     slog.Level `yaml:"-"`
}

// Load reads configuration from an optional YAML file
// (~/.squadchat.yaml or SQUADCHAT_CONFIG) with environment variables
// taking precedence over file values.
func Load() (Config, error) {
	cfg := Config{
		APIURL:       "http://localhost:4000/graphql",
		PushURL:      "ws://localhost:4000/socket",
		PageSize:     50,
		LogFile:      "/tmp/squadchat.log",
		LogLevelName: "INFO",
	}

	if path := configFilePath(); path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg.APIURL = getEnv("SQUADCHAT_API_URL", cfg.APIURL)
	cfg.PushURL = getEnv("SQUADCHAT_PUSH_URL", cfg.PushURL)
	cfg.SessionToken = getEnv("SQUADCHAT_SESSION_TOKEN", cfg.SessionToken)
	cfg.LogFile = getEnv("SQUADCHAT_LOG_FILE", cfg.LogFile)
	cfg.LogLevelName = getEnv("SQUADCHAT_LOG_LEVEL", cfg.LogLevelName)
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)

	if v := os.Getenv("SQUADCHAT_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid SQUADCHAT_PAGE_SIZE %q", v)
		}
		cfg.PageSize = n
	}

	return cfg, nil
}

func configFilePath() string {
	if p := os.Getenv("SQUADCHAT_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".squadchat.yaml")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
