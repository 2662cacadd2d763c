package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/boat-builder/meetingpod"
)

const (
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 5000
	DefaultProvider      = meetingpod.ProviderOpenAI
	DefaultModel         = "gpt-4o-mini"
	DefaultGeminiModel   = "gemini-2.0-flash"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultTemperature   = 0.3
	DefaultMaxTokens     = 2048
	DefaultLLMTimeout    = 60 * time.Second
	DefaultMaxRetries    = 2
	DefaultStoreDriver   = "memory"
	DefaultSweepSchedule = "@every 5m"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultServiceName   = "meetingpod"

	// EnvConfigPath names the YAML file to load when no path is passed explicitly.
	EnvConfigPath = "MEETINGPOD_CONFIG"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Store     StoreConfig     `yaml:"store"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Path is the file the config was read from, empty when none was.
	Path string `yaml:"-"`
}

type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"` // "openai" (default) or "anthropic"
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int64         `yaml:"max_tokens"`
	MaxRetries  int           `yaml:"max_retries"`
	Timeout     time.Duration `yaml:"timeout"`
	// ExtraBody is merged into every OpenAI-compatible request body.
	ExtraBody map[string]string `yaml:"extra_body,omitempty"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite or postgres
	DSN    string `yaml:"dsn,omitempty"`
}

type SessionsConfig struct {
	// IdleTTL expires sessions without activity for this long. Zero keeps them forever.
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type TelemetryConfig struct {
	// OTLPEndpoint enables trace export when set, as host:port or an http(s) URL.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			AllowOrigins: []string{"*"},
		},
		LLM: LLMConfig{
			Provider:    DefaultProvider,
			Model:       DefaultModel,
			Temperature: DefaultTemperature,
			MaxTokens:   DefaultMaxTokens,
			MaxRetries:  DefaultMaxRetries,
			Timeout:     DefaultLLMTimeout,
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
		},
		Sessions: SessionsConfig{
			SweepSchedule: DefaultSweepSchedule,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
		},
	}
}

// Load builds the config from defaults, the YAML file at path (or $MEETINGPOD_CONFIG), a .env
// file in the working directory and finally environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		cfg.Path = path
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Error loading .env file, falling back to environment variables", "error", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := getEnv("MEETINGPOD_HOST", ""); v != "" {
		cfg.Server.Host = v
	}
	if v := getEnv("MEETINGPOD_PORT", getEnv("PORT", "")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := getEnv("MEETINGPOD_ALLOW_ORIGINS", ""); v != "" {
		cfg.Server.AllowOrigins = splitList(v)
	}

	if v := getEnv("MEETINGPOD_LLM_PROVIDER", ""); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := getEnv("MEETINGPOD_API_KEY", ""); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := getEnv("MEETINGPOD_BASE_URL", ""); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := getEnv("MEETINGPOD_MODEL", ""); v != "" {
		cfg.LLM.Model = v
	}
	if v := getEnv("MEETINGPOD_TEMPERATURE", ""); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = parsed
		}
	}
	if v := getEnv("MEETINGPOD_MAX_TOKENS", ""); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.LLM.MaxTokens = parsed
		}
	}
	if v := getEnv("MEETINGPOD_LLM_TIMEOUT", ""); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = parsed
		}
	}
	applyProviderKeys(cfg)

	if v := getEnv("MEETINGPOD_STORE_DRIVER", ""); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := getEnv("MEETINGPOD_STORE_DSN", getEnv("DATABASE_URL", "")); v != "" {
		cfg.Store.DSN = v
	}

	if v := getEnv("MEETINGPOD_SESSION_IDLE_TTL", ""); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Sessions.IdleTTL = parsed
		}
	}
	if v := getEnv("MEETINGPOD_SWEEP_SCHEDULE", ""); v != "" {
		cfg.Sessions.SweepSchedule = v
	}

	if v := getEnv("MEETINGPOD_LOG_LEVEL", ""); v != "" {
		cfg.Log.Level = v
	}
	if v := getEnv("MEETINGPOD_LOG_FORMAT", ""); v != "" {
		cfg.Log.Format = v
	}

	if v := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
}

// applyProviderKeys falls back to the vendor key variables when no key was configured. A lone
// GOOGLE_API_KEY targets Gemini through its OpenAI-compatible endpoint.
func applyProviderKeys(cfg *Config) {
	if cfg.LLM.APIKey != "" {
		return
	}
	if cfg.LLM.Provider == meetingpod.ProviderAnthropic {
		cfg.LLM.APIKey = getEnv("ANTHROPIC_API_KEY", "")
		return
	}
	if key := getEnv("OPENAI_API_KEY", ""); key != "" {
		cfg.LLM.APIKey = key
		return
	}
	if key := getEnv("ANTHROPIC_API_KEY", ""); key != "" {
		cfg.LLM.Provider = meetingpod.ProviderAnthropic
		cfg.LLM.APIKey = key
		if cfg.LLM.Model == DefaultModel {
			cfg.LLM.Model = "claude-sonnet-4-5"
		}
		return
	}
	if key := getEnv("GOOGLE_API_KEY", ""); key != "" {
		cfg.LLM.APIKey = key
		if cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = DefaultGeminiBaseURL
		}
		if cfg.LLM.Model == DefaultModel {
			cfg.LLM.Model = DefaultGeminiModel
		}
	}
}

// Validate fills derived defaults and rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "", meetingpod.ProviderOpenAI, meetingpod.ProviderAnthropic:
	default:
		return fmt.Errorf("%w: llm.provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	switch c.Store.Driver {
	case "", "memory":
		c.Store.Driver = "memory"
	case "sqlite":
		if c.Store.DSN == "" {
			c.Store.DSN = "meetingpod.db"
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: store.driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Sessions.IdleTTL < 0 {
		return fmt.Errorf("%w: sessions.idle_ttl must not be negative", ErrInvalidConfig)
	}
	if c.Sessions.SweepSchedule == "" {
		c.Sessions.SweepSchedule = DefaultSweepSchedule
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	return nil
}

// ClientConfig converts the LLM section for meetingpod.LLMConfig.NewLLMClient.
func (c *Config) ClientConfig() *meetingpod.LLMConfig {
	return &meetingpod.LLMConfig{
		Provider:    c.LLM.Provider,
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		MaxRetries:  c.LLM.MaxRetries,
		ExtraBody:   c.LLM.ExtraBody,
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SlogLevel parses the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// MaskedAPIKey shows only the last four characters of the key.
func (c *Config) MaskedAPIKey() string {
	key := c.LLM.APIKey
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
