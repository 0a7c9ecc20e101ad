package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// HTTP server
	HTTPAddr string

	// APISecret is the shared bearer secret clients authenticate with.
	APISecret string

	// Provider credentials
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	BedrockEnabled  bool
	BedrockRegion   string

	// Blob storage for generated images
	BlobDir     string
	BlobBaseURL string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables. When
// TFREECHAT_CONFIG points at a YAML file, its values override the
// environment.
func Load() (Config, error) {
	cfg := Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "tfreechat"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "chat"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		HTTPAddr:  getEnv("TFREECHAT_HTTP_ADDR", ":8080"),
		APISecret: getEnv("TFREECHAT_API_SECRET", ""),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		BedrockEnabled:  getEnv("TFREECHAT_BEDROCK", "false") == "true",
		BedrockRegion:   getEnv("AWS_REGION", ""),

		BlobDir:     getEnv("TFREECHAT_BLOB_DIR", "./data/files"),
		BlobBaseURL: getEnv("TFREECHAT_BLOB_BASE_URL", "/files"),

		LogFile:  getEnv("TFREECHAT_LOG_FILE", "/tmp/tfreechat.log"),
		LogLevel: parseLogLevel(getEnv("TFREECHAT_LOG_LEVEL", "INFO")),
	}

	if path := os.Getenv("TFREECHAT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// fileConfig is the YAML overlay. Only set fields override.
type fileConfig struct {
	SurrealDB struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
		User      string `yaml:"user"`
		Pass      string `yaml:"pass"`
		AuthLevel string `yaml:"auth_level"`
	} `yaml:"surrealdb"`
	HTTPAddr  string `yaml:"http_addr"`
	APISecret string `yaml:"api_secret"`
	Providers struct {
		OpenAIKey     string `yaml:"openai_key"`
		AnthropicKey  string `yaml:"anthropic_key"`
		GoogleKey     string `yaml:"google_key"`
		Bedrock       *bool  `yaml:"bedrock"`
		BedrockRegion string `yaml:"bedrock_region"`
	} `yaml:"providers"`
	BlobDir     string `yaml:"blob_dir"`
	BlobBaseURL string `yaml:"blob_base_url"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	override(&c.SurrealDBURL, fc.SurrealDB.URL)
	override(&c.SurrealDBNamespace, fc.SurrealDB.Namespace)
	override(&c.SurrealDBDatabase, fc.SurrealDB.Database)
	override(&c.SurrealDBUser, fc.SurrealDB.User)
	override(&c.SurrealDBPass, fc.SurrealDB.Pass)
	override(&c.SurrealDBAuthLevel, fc.SurrealDB.AuthLevel)
	override(&c.HTTPAddr, fc.HTTPAddr)
	override(&c.APISecret, fc.APISecret)
	override(&c.OpenAIAPIKey, fc.Providers.OpenAIKey)
	override(&c.AnthropicAPIKey, fc.Providers.AnthropicKey)
	override(&c.GoogleAPIKey, fc.Providers.GoogleKey)
	if fc.Providers.Bedrock != nil {
		c.BedrockEnabled = *fc.Providers.Bedrock
	}
	override(&c.BedrockRegion, fc.Providers.BedrockRegion)
	override(&c.BlobDir, fc.BlobDir)
	override(&c.BlobBaseURL, fc.BlobBaseURL)
	override(&c.LogFile, fc.LogFile)
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	return nil
}

func override(dst *string, val string) {
	if val != "" {
		*dst = val
	}
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
