package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all application configuration
type Config struct {
	ServerURL    string `json:"serverUrl"`
	DatabasePath string `json:"databasePath"`
	DatabaseURL  string `json:"databaseUrl"`
	SessionFile  string `json:"sessionFile"`
	// SessionSecret seals the on-disk session file. Any stable
	// machine-local string works.
	SessionSecret string `json:"sessionSecret"`
	Sync          Sync   `json:"sync"`
	Upload        Upload `json:"upload"`
}

// Sync configuration for the reconciliation engine
type Sync struct {
	// Schedule is a cron spec for periodic passes; empty disables.
	Schedule string `json:"schedule"`
	// Watch enables the websocket change-feed listener.
	Watch bool `json:"watch"`
	// RequestTimeoutSeconds bounds each HTTP attempt.
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds"`
}

// Upload configuration for the photo pipeline
type Upload struct {
	MaxDimension int `json:"maxDimension"`
	JPEGQuality  int `json:"jpegQuality"`
}

// UsePostgres returns true if the Postgres store backend should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Default configuration
func defaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".spotsync")

	return &Config{
		ServerURL:     "http://localhost:5000",
		DatabasePath:  filepath.Join(dataDir, "spotsync.db"),
		SessionFile:   filepath.Join(dataDir, "session"),
		SessionSecret: "spotsync-local-session",
		Sync: Sync{
			Schedule:              "@every 5m",
			Watch:                 true,
			RequestTimeoutSeconds: 30,
		},
		Upload: Upload{
			MaxDimension: 2048,
			JPEGQuality:  85,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if url := os.Getenv("SERVER_URL"); url != "" {
		cfg.ServerURL = url
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if sessionFile := os.Getenv("SESSION_FILE"); sessionFile != "" {
		cfg.SessionFile = sessionFile
	}
	if schedule := os.Getenv("SYNC_SCHEDULE"); schedule != "" {
		cfg.Sync.Schedule = schedule
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0700); err != nil {
		return nil, err
	}

	return cfg, nil
}
