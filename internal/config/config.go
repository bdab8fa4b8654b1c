package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"deliverybot/internal/entities"

	"github.com/joho/godotenv"
)

const (
	ModeSocket = "socket"
	ModeHTTP   = "http"

	BackendSalesforce = "salesforce"
	BackendPostgres   = "postgres"
	BackendNone       = "none"

	DefaultDeliveryPattern = `(?i)delivery\s+\*([^*]+)\*`
)

type SlackConfig struct {
	BotToken      string
	AppToken      string
	SigningSecret string
	Mode          string
}

type SalesforceConfig struct {
	Username       string
	Password       string
	SecurityToken  string
	LoginURL       string
	APIVersion     string
	ClientID       string
	PrivateKeyFile string
}

// UsesJWT reports whether the OAuth 2.0 JWT bearer flow should be used
// instead of the username/password login.
func (c SalesforceConfig) UsesJWT() bool {
	return c.ClientID != "" && c.PrivateKeyFile != ""
}

type Config struct {
	Slack           SlackConfig
	HTTPAddr        string
	DeliveryPattern *regexp.Regexp
	DedupeWindow    time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
	LogLevel        string
	LogFormat       string
	CRMBackend      string
	Salesforce      SalesforceConfig
	DatabaseURL     string
	DatabaseMigrate bool
}

// Load reads .env when present and resolves the configuration from the
// environment. It is called once at process start.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, entities.ConfigError("load .env file: "+err.Error(), nil)
	}
	return FromEnv()
}

// FromEnv resolves the configuration from environment variables only.
func FromEnv() (Config, error) {
	cfg := Config{
		Slack: SlackConfig{
			BotToken:      getEnv("SLACK_BOT_TOKEN", ""),
			AppToken:      getEnv("SLACK_APP_TOKEN", ""),
			SigningSecret: getEnv("SLACK_SIGNING_SECRET", ""),
			Mode:          strings.ToLower(getEnv("SLACK_MODE", ModeSocket)),
		},
		HTTPAddr:   getEnv("HTTP_ADDR", ":3000"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "json"),
		CRMBackend: strings.ToLower(getEnv("CRM_BACKEND", defaultBackend())),
		Salesforce: SalesforceConfig{
			Username:       getEnv("SF_USERNAME", ""),
			Password:       getEnv("SF_PASSWORD", ""),
			SecurityToken:  getEnv("SF_TOKEN", ""),
			LoginURL:       strings.TrimRight(getEnv("SF_LOGIN_URL", "https://login.salesforce.com"), "/"),
			APIVersion:     strings.TrimPrefix(getEnv("SF_API_VERSION", "59.0"), "v"),
			ClientID:       getEnv("SF_CLIENT_ID", ""),
			PrivateKeyFile: getEnv("SF_PRIVATE_KEY_FILE", ""),
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
	cfg.DatabaseMigrate, _ = strconv.ParseBool(getEnv("DATABASE_MIGRATE", "false"))

	pattern, err := regexp.Compile(getEnv("DELIVERY_PATTERN", DefaultDeliveryPattern))
	if err != nil {
		return Config{}, entities.ConfigError("DELIVERY_PATTERN is not a valid regular expression", map[string]any{
			"error": err.Error(),
		})
	}
	if pattern.NumSubexp() < 1 {
		return Config{}, entities.ConfigError("DELIVERY_PATTERN must capture the delivery id", map[string]any{
			"pattern": pattern.String(),
		})
	}
	cfg.DeliveryPattern = pattern

	if cfg.DedupeWindow, err = getDuration("DECISION_DEDUPE_WINDOW", 0); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = getFloat("RATE_LIMIT_RPS", 20); err != nil {
		return Config{}, err
	}
	burst, err := getFloat("RATE_LIMIT_BURST", 40)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitBurst = int(burst)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Slack.BotToken == "" {
		return entities.ConfigError("SLACK_BOT_TOKEN is required", nil)
	}
	switch c.Slack.Mode {
	case ModeSocket:
		if c.Slack.AppToken == "" {
			return entities.ConfigError("SLACK_APP_TOKEN is required in socket mode", nil)
		}
	case ModeHTTP:
		if c.Slack.SigningSecret == "" {
			return entities.ConfigError("SLACK_SIGNING_SECRET is required in http mode", nil)
		}
	default:
		return entities.ConfigError("SLACK_MODE must be socket or http", map[string]any{"mode": c.Slack.Mode})
	}

	switch c.CRMBackend {
	case BackendSalesforce:
		if c.Salesforce.Username == "" {
			return entities.ConfigError("SF_USERNAME is required for the salesforce backend", nil)
		}
		if !c.Salesforce.UsesJWT() && c.Salesforce.Password == "" {
			return entities.ConfigError("SF_PASSWORD is required unless SF_CLIENT_ID and SF_PRIVATE_KEY_FILE are set", nil)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return entities.ConfigError("DATABASE_URL is required for the postgres backend", nil)
		}
	case BackendNone:
	default:
		return entities.ConfigError("CRM_BACKEND must be salesforce, postgres or none", map[string]any{"backend": c.CRMBackend})
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return entities.ConfigError("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive", nil)
	}
	return nil
}

// defaultBackend picks salesforce only when Salesforce credentials are
// present. Without them approvals still post the summary and skip the CRM.
func defaultBackend() string {
	if getEnv("SF_USERNAME", "") != "" {
		return BackendSalesforce
	}
	return BackendNone
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, entities.ConfigError(key+" must be a non-negative duration", map[string]any{"value": raw})
	}
	return d, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, entities.ConfigError(key+" must be a number", map[string]any{"value": raw})
	}
	return f, nil
}
