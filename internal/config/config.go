// Package config loads and validates the leadwire configuration file.
// Config files are JSON with ${VAR} and ${VAR:-default} environment
// substitution, so carrier credentials never need to live on disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for leadwire.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Providers  ProvidersConfig  `json:"providers"`
	Queue      QueueConfig      `json:"queue"`
	Webhook    WebhookConfig    `json:"webhook"`
	API        APIConfig        `json:"api"`
	RateLimit  RateLimitConfig  `json:"rateLimit"`
	Engagement EngagementConfig `json:"engagement"`
	Validation ValidationConfig `json:"validation"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"` // debug | info | warn | error
	LogFile  string `json:"logFile,omitempty"`
	DBPath   string `json:"dbPath"`
}

// ProvidersConfig lists the carrier credentials and the failover order.
// The first name in Order is the primary carrier.
type ProvidersConfig struct {
	Order          []string      `json:"order"`
	TimeoutSeconds int           `json:"timeoutSeconds"`
	Breaker        BreakerConfig `json:"breaker"`
	Twilio         TwilioConfig  `json:"twilio"`
	Vonage         VonageConfig  `json:"vonage"`
}

type TwilioConfig struct {
	Enabled    bool   `json:"enabled"`
	AccountSID string `json:"accountSid,omitempty"`
	AuthToken  string `json:"authToken,omitempty"`
	From       string `json:"from,omitempty"`
	APIBase    string `json:"apiBase,omitempty"`
}

type VonageConfig struct {
	Enabled   bool   `json:"enabled"`
	APIKey    string `json:"apiKey,omitempty"`
	APISecret string `json:"apiSecret,omitempty"`
	From      string `json:"from,omitempty"`
	APIBase   string `json:"apiBase,omitempty"`
}

type BreakerConfig struct {
	WindowSize          int     `json:"windowSize"`
	MinSamples          int     `json:"minSamples"`
	FailureThreshold    float64 `json:"failureThreshold"`
	ResetTimeoutSeconds int     `json:"resetTimeoutSeconds"`
}

type QueueConfig struct {
	Concurrency      int `json:"concurrency"`
	MaxRetries       int `json:"maxRetries"`
	BaseDelaySeconds int `json:"baseDelaySeconds"`
	MaxDelaySeconds  int `json:"maxDelaySeconds"`
	PollIntervalMS   int `json:"pollIntervalMs"`
}

// WebhookConfig holds the callback listener and the per-provider HMAC
// secrets used to authenticate carrier callbacks.
type WebhookConfig struct {
	Host    string            `json:"host"`
	Port    int               `json:"port"`
	Secrets map[string]string `json:"secrets"`
}

type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type RateLimitConfig struct {
	CallerPerMinute    int `json:"callerPerMinute"`
	RecipientPerMinute int `json:"recipientPerMinute"`
}

// EngagementConfig carries the two SLA thresholds for reporting.
type EngagementConfig struct {
	AIProcessingSLAMS       int `json:"aiProcessingSlaMs"`
	AgentResponseSLASeconds int `json:"agentResponseSlaSeconds"`
}

// ValidationConfig points at a directory of extra YAML rule sets loaded
// at startup.
type ValidationConfig struct {
	RulesDir string `json:"rulesDir,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.leadwire).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leadwire"
	}
	return filepath.Join(home, ".leadwire")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DBPath = ExpandPath(cfg.General.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Validation.RulesDir = ExpandPath(cfg.Validation.RulesDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.DBPath == "" {
		errs = append(errs, "general.dbPath is required")
	}

	if cfg.Queue.Concurrency < 1 || cfg.Queue.Concurrency > 100 {
		errs = append(errs, "queue.concurrency must be between 1 and 100")
	}
	if cfg.Queue.MaxRetries < 1 || cfg.Queue.MaxRetries > 20 {
		errs = append(errs, "queue.maxRetries must be between 1 and 20")
	}
	if cfg.Queue.BaseDelaySeconds < 1 {
		errs = append(errs, "queue.baseDelaySeconds must be >= 1")
	}
	if cfg.Queue.MaxDelaySeconds < cfg.Queue.BaseDelaySeconds {
		errs = append(errs, "queue.maxDelaySeconds must be >= queue.baseDelaySeconds")
	}

	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}
	if cfg.Webhook.Port < 0 || cfg.Webhook.Port > 65535 {
		errs = append(errs, "webhook.port must be between 0 and 65535")
	}

	if cfg.Providers.Breaker.FailureThreshold < 0 || cfg.Providers.Breaker.FailureThreshold > 1 {
		errs = append(errs, "providers.breaker.failureThreshold must be between 0 and 1")
	}

	if len(cfg.Providers.Order) == 0 {
		errs = append(errs, "providers.order must name at least one carrier")
	}
	for _, name := range cfg.Providers.Order {
		switch name {
		case "twilio":
			if !cfg.Providers.Twilio.Enabled {
				errs = append(errs, "providers.order references twilio but providers.twilio.enabled is false")
			}
		case "vonage":
			if !cfg.Providers.Vonage.Enabled {
				errs = append(errs, "providers.order references vonage but providers.vonage.enabled is false")
			}
		default:
			errs = append(errs, fmt.Sprintf("providers.order references unknown carrier: %s", name))
		}
	}
	if cfg.Providers.Twilio.Enabled && (cfg.Providers.Twilio.AccountSID == "" || cfg.Providers.Twilio.AuthToken == "") {
		errs = append(errs, "providers.twilio: accountSid and authToken are required when enabled")
	}
	if cfg.Providers.Vonage.Enabled && (cfg.Providers.Vonage.APIKey == "" || cfg.Providers.Vonage.APISecret == "") {
		errs = append(errs, "providers.vonage: apiKey and apiSecret are required when enabled")
	}
	for _, name := range cfg.Providers.Order {
		if _, ok := cfg.Webhook.Secrets[name]; !ok {
			errs = append(errs, fmt.Sprintf("webhook.secrets is missing an entry for carrier: %s", name))
		}
	}

	if cfg.RateLimit.CallerPerMinute < 0 || cfg.RateLimit.RecipientPerMinute < 0 {
		errs = append(errs, "rateLimit values must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
