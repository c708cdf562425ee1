package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the HoneyKey server.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Honeypot HoneypotConfig
	Incident IncidentConfig
	AI       AIConfig
}

type ServerConfig struct {
	Port              int
	Env               string
	CORSOrigins       []string
	TrustProxyHeaders bool
}

type LogConfig struct {
	Level string
}

// DatabaseConfig selects the store backend: Postgres when URL is set, SQLite at Path otherwise.
type DatabaseConfig struct {
	Path            string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// UsePostgres reports whether the pgx backend is selected.
func (c DatabaseConfig) UsePostgres() bool {
	return c.URL != ""
}

type RedisConfig struct {
	URL              string
	ReportCacheTTL   time.Duration
	AnalyzeRateLimit int
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// HoneypotConfig describes the planted credential. Key and KeyHash are alternatives;
// when both are empty nothing ever matches.
type HoneypotConfig struct {
	Key     string
	KeyHash string
	KeyID   string
}

type IncidentConfig struct {
	Window time.Duration
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Gemini           GeminiConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
	Ollama           OllamaConfig
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

// Configured reports whether the selected provider has the credential it needs.
func (c AIConfig) Configured() bool {
	switch c.Provider {
	case "gemini":
		return c.Gemini.APIKey != ""
	case "openai":
		return c.OpenAI.APIKey != ""
	case "anthropic":
		return c.Anthropic.APIKey != ""
	case "ollama":
		return c.Ollama.BaseURL != ""
	}
	return false
}

var validProviders = map[string]bool{
	"gemini":    true,
	"openai":    true,
	"anthropic": true,
	"ollama":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// bcrypt ignores input past 72 bytes.
const maxHoneypotKeyLen = 72

var defaults = map[string]any{
	"HONEYKEY_PORT":              8000,
	"HONEYKEY_ENV":               "development",
	"LOG_LEVEL":                  "info",
	"DATABASE_PATH":              "./data/honeykey.db",
	"DATABASE_URL":               "",
	"DATABASE_MAX_OPEN_CONNS":    25,
	"DATABASE_MAX_IDLE_CONNS":    5,
	"DATABASE_CONN_MAX_LIFETIME": 5 * time.Minute,
	"REDIS_URL":                  "",
	"REPORT_CACHE_TTL":           10 * time.Minute,
	"ANALYZE_RATE_LIMIT_PER_MIN": 10,
	"NATS_URL":                   "",
	"NATS_SUBJECT_PREFIX":        "honeykey",
	"HONEYPOT_KEY":               "",
	"HONEYPOT_KEY_HASH":          "",
	"HONEYPOT_KEY_ID":            "honeypot",
	"INCIDENT_WINDOW_MINUTES":    30,
	"CORS_ORIGINS":               "",
	"TRUST_PROXY_HEADERS":        false,
	"AI_PROVIDER":                "gemini",
	"AI_INFERENCE_TIMEOUT_SECS":  0,
	"GEMINI_API_KEY":             "",
	"GEMINI_MODEL":               "gemini-1.5-pro",
	"GEMINI_BASE_URL":            "https://generativelanguage.googleapis.com",
	"OPENAI_API_KEY":             "",
	"OPENAI_MODEL":               "gpt-4o-mini",
	"OPENAI_BASE_URL":            "https://api.openai.com",
	"ANTHROPIC_API_KEY":          "",
	"ANTHROPIC_MODEL":            "claude-sonnet-4-5-20250929",
	"ANTHROPIC_BASE_URL":         "https://api.anthropic.com",
	"OLLAMA_BASE_URL":            "",
	"OLLAMA_MODEL":               "llama3",
}

// Load reads configuration from defaults, an optional dotenv file and the environment,
// in increasing order of precedence, and returns a validated Config.
//
// The dotenv file is HONEYKEY_ENV_FILE when set, otherwise ./.env when it exists.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := readEnvFile(v); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:              v.GetInt("HONEYKEY_PORT"),
			Env:               v.GetString("HONEYKEY_ENV"),
			CORSOrigins:       splitList(v.GetString("CORS_ORIGINS")),
			TrustProxyHeaders: v.GetBool("TRUST_PROXY_HEADERS"),
		},
		Log: LogConfig{
			Level: strings.ToLower(v.GetString("LOG_LEVEL")),
		},
		Database: DatabaseConfig{
			Path:            v.GetString("DATABASE_PATH"),
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			URL:              v.GetString("REDIS_URL"),
			ReportCacheTTL:   v.GetDuration("REPORT_CACHE_TTL"),
			AnalyzeRateLimit: v.GetInt("ANALYZE_RATE_LIMIT_PER_MIN"),
		},
		NATS: NATSConfig{
			URL:           v.GetString("NATS_URL"),
			SubjectPrefix: v.GetString("NATS_SUBJECT_PREFIX"),
		},
		Honeypot: HoneypotConfig{
			Key:     v.GetString("HONEYPOT_KEY"),
			KeyHash: v.GetString("HONEYPOT_KEY_HASH"),
			KeyID:   v.GetString("HONEYPOT_KEY_ID"),
		},
		Incident: IncidentConfig{
			Window: time.Duration(v.GetInt("INCIDENT_WINDOW_MINUTES")) * time.Minute,
		},
		AI: AIConfig{
			Provider:         strings.ToLower(v.GetString("AI_PROVIDER")),
			InferenceTimeout: time.Duration(v.GetInt("AI_INFERENCE_TIMEOUT_SECS")) * time.Second,
			Gemini: GeminiConfig{
				APIKey:  v.GetString("GEMINI_API_KEY"),
				Model:   v.GetString("GEMINI_MODEL"),
				BaseURL: v.GetString("GEMINI_BASE_URL"),
			},
			OpenAI: OpenAIConfig{
				APIKey:  v.GetString("OPENAI_API_KEY"),
				Model:   v.GetString("OPENAI_MODEL"),
				BaseURL: v.GetString("OPENAI_BASE_URL"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  v.GetString("ANTHROPIC_API_KEY"),
				Model:   v.GetString("ANTHROPIC_MODEL"),
				BaseURL: v.GetString("ANTHROPIC_BASE_URL"),
			},
			Ollama: OllamaConfig{
				BaseURL: v.GetString("OLLAMA_BASE_URL"),
				Model:   v.GetString("OLLAMA_MODEL"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readEnvFile(v *viper.Viper) error {
	path := os.Getenv("HONEYKEY_ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %s: %w", path, err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HONEYKEY_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	if c.Database.URL == "" && c.Database.Path == "" {
		return fmt.Errorf("DATABASE_PATH is required when DATABASE_URL is not set")
	}
	if c.Database.URL != "" &&
		!strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://")
	}

	if c.Incident.Window <= 0 {
		return fmt.Errorf("INCIDENT_WINDOW_MINUTES must be positive")
	}

	if c.Honeypot.KeyID == "" {
		return fmt.Errorf("HONEYPOT_KEY_ID is required")
	}
	if c.Honeypot.Key != "" && c.Honeypot.KeyHash != "" {
		return fmt.Errorf("HONEYPOT_KEY and HONEYPOT_KEY_HASH are mutually exclusive")
	}
	if len(c.Honeypot.Key) > maxHoneypotKeyLen {
		return fmt.Errorf("HONEYPOT_KEY must be at most %d bytes", maxHoneypotKeyLen)
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of gemini, openai, anthropic, ollama; got %q", c.AI.Provider)
	}
	if c.AI.InferenceTimeout < 0 {
		return fmt.Errorf("AI_INFERENCE_TIMEOUT_SECS must not be negative")
	}

	if c.Redis.AnalyzeRateLimit < 0 {
		return fmt.Errorf("ANALYZE_RATE_LIMIT_PER_MIN must not be negative")
	}

	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("NATS_SUBJECT_PREFIX is required when NATS_URL is set")
	}

	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
