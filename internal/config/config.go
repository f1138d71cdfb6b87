// Package config provides configuration loading for the backend.
// Values come from an optional YAML file, overridden by environment
// variables. Everything has a working default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the backend.
type Config struct {
	// Server settings
	Port        int
	CORSOrigins []string

	// Database
	DatabaseDSN    string
	DatabaseDriver string // "postgres" or "sqlite", auto-detected from DSN

	// Logging
	LogLevel  string
	LogFormat string // "console" or "json"
	LogFile   string

	// Security. When empty, credential records are stored with a
	// reversible encoding instead of real encryption.
	EncryptionSecret string

	// Provider OAuth (the client ID is public; PKCE replaces a secret)
	OAuthAuthURL  string
	OAuthTokenURL string
	OAuthClientID string
	OAuthScopes   []string

	// Loopback callback listener
	CallbackPortMin int
	CallbackPortMax int
	FlowTimeout     time.Duration

	// Pre-existing credential resolution
	CredentialsFile string // fallback credentials file in the home config dir
	CLIPath         string // assistant CLI binary, used for token import
}

// fileConfig is the YAML shape of the optional config file.
type fileConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
	OAuth struct {
		AuthURL         string        `yaml:"auth_url"`
		TokenURL        string        `yaml:"token_url"`
		ClientID        string        `yaml:"client_id"`
		Scopes          []string      `yaml:"scopes"`
		CallbackPortMin int    `yaml:"callback_port_min"`
		CallbackPortMax int    `yaml:"callback_port_max"`
		FlowTimeout     string `yaml:"flow_timeout"`
	} `yaml:"oauth"`
	CredentialsFile string `yaml:"credentials_file"`
	CLIPath         string `yaml:"cli_path"`
}

// Load reads configuration from the optional YAML file (II_CONFIG or
// the default path under the user config dir) and then from environment
// variables, which win.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("II_CONFIG")
	if path == "" {
		path = filepath.Join(xdg.ConfigHome, "ii-client", "config.yaml")
	}
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	cfg.DatabaseDriver = detectDriver(cfg.DatabaseDSN)
	if cfg.CallbackPortMin > cfg.CallbackPortMax {
		return nil, fmt.Errorf("callback port range is inverted: %d > %d", cfg.CallbackPortMin, cfg.CallbackPortMax)
	}
	return cfg, nil
}

func defaults() *Config {
	dataDir := filepath.Join(xdg.DataHome, "ii-client")

	return &Config{
		Port:        8315,
		CORSOrigins: []string{"http://localhost:5173"},

		DatabaseDSN: "sqlite://" + filepath.Join(dataDir, "ii-client.db"),

		LogLevel:  "info",
		LogFormat: "console",
		LogFile:   filepath.Join(dataDir, "backend.log"),

		OAuthAuthURL:  "https://claude.ai/oauth/authorize",
		OAuthTokenURL: "https://console.anthropic.com/v1/oauth/token",
		OAuthClientID: "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		OAuthScopes:   []string{"org:create_api_key", "user:profile", "user:inference"},

		CallbackPortMin: 54545,
		CallbackPortMax: 54559,
		FlowTimeout:     5 * time.Minute,

		CredentialsFile: filepath.Join(xdg.Home, ".claude", ".credentials.json"),
		CLIPath:         "claude",
	}
}

// applyFile overlays values from the YAML file at path, if it exists.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if len(fc.CORSOrigins) > 0 {
		cfg.CORSOrigins = fc.CORSOrigins
	}
	if fc.Database.DSN != "" {
		cfg.DatabaseDSN = fc.Database.DSN
	}
	if fc.Logging.Level != "" {
		cfg.LogLevel = fc.Logging.Level
	}
	if fc.Logging.Format != "" {
		cfg.LogFormat = fc.Logging.Format
	}
	if fc.Logging.File != "" {
		cfg.LogFile = fc.Logging.File
	}
	if fc.OAuth.AuthURL != "" {
		cfg.OAuthAuthURL = fc.OAuth.AuthURL
	}
	if fc.OAuth.TokenURL != "" {
		cfg.OAuthTokenURL = fc.OAuth.TokenURL
	}
	if fc.OAuth.ClientID != "" {
		cfg.OAuthClientID = fc.OAuth.ClientID
	}
	if len(fc.OAuth.Scopes) > 0 {
		cfg.OAuthScopes = fc.OAuth.Scopes
	}
	if fc.OAuth.CallbackPortMin != 0 {
		cfg.CallbackPortMin = fc.OAuth.CallbackPortMin
	}
	if fc.OAuth.CallbackPortMax != 0 {
		cfg.CallbackPortMax = fc.OAuth.CallbackPortMax
	}
	if fc.OAuth.FlowTimeout != "" {
		d, err := time.ParseDuration(fc.OAuth.FlowTimeout)
		if err != nil {
			return fmt.Errorf("parse flow_timeout in %s: %w", path, err)
		}
		cfg.FlowTimeout = d
	}
	if fc.CredentialsFile != "" {
		cfg.CredentialsFile = fc.CredentialsFile
	}
	if fc.CLIPath != "" {
		cfg.CLIPath = fc.CLIPath
	}
	return nil
}

// applyEnv overlays environment variables on top of file values.
func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.EncryptionSecret = getEnv("II_ENCRYPTION_SECRET", cfg.EncryptionSecret)
	cfg.OAuthAuthURL = getEnv("OAUTH_AUTH_URL", cfg.OAuthAuthURL)
	cfg.OAuthTokenURL = getEnv("OAUTH_TOKEN_URL", cfg.OAuthTokenURL)
	cfg.OAuthClientID = getEnv("OAUTH_CLIENT_ID", cfg.OAuthClientID)
	if scopes := getEnvList("OAUTH_SCOPES", nil); scopes != nil {
		cfg.OAuthScopes = scopes
	}
	cfg.CallbackPortMin = getEnvInt("CALLBACK_PORT_MIN", cfg.CallbackPortMin)
	cfg.CallbackPortMax = getEnvInt("CALLBACK_PORT_MAX", cfg.CallbackPortMax)
	cfg.FlowTimeout = getEnvDuration("FLOW_TIMEOUT", cfg.FlowTimeout)
	cfg.CredentialsFile = getEnv("CREDENTIALS_FILE", cfg.CredentialsFile)
	cfg.CLIPath = getEnv("CLI_PATH", cfg.CLIPath)
}

// detectDriver determines the database driver from DSN
func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "sqlite3://") || strings.HasPrefix(dsn, "sqlite://") {
		return "sqlite"
	}
	// Default to sqlite for file paths
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") {
		return "sqlite"
	}
	return "postgres"
}

// CleanDSN removes the driver prefix from DSN for database/sql
func (c *Config) CleanDSN() string {
	dsn := c.DatabaseDSN
	dsn = strings.TrimPrefix(dsn, "postgres://")
	dsn = strings.TrimPrefix(dsn, "postgresql://")
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	// For postgres, add the prefix back
	if c.DatabaseDriver == "postgres" {
		return "postgres://" + dsn
	}
	return dsn
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
