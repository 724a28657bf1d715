// Package config loads the tradedesk JSON configuration. Values support
// ${VAR} / ${VAR:-default} environment substitution so the same config file
// can be checked in while secrets stay in the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for tradedesk.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	Gateway  GatewayConfig  `json:"gateway"`
	Store    StoreConfig    `json:"store"`
	Upload   UploadConfig   `json:"upload"`
	Guard    GuardConfig    `json:"guard"`
	Channels ChannelsConfig `json:"channels"`
	Sheets   SheetsConfig   `json:"sheets"`
	Mailer   MailerConfig   `json:"mailer"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel          string `json:"logLevel"`
	LogFile           string `json:"logFile,omitempty"`
	MaxSteps          int    `json:"maxSteps"`          // tool-loop iterations per turn
	SystemPromptExtra string `json:"systemPromptExtra,omitempty"` // appended to the built-in prompt
	Timezone          string `json:"timezone"`          // IANA name, used for rate windows and follow-up dates
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// GatewayConfig points at the OpenAI-compatible model endpoint.
type GatewayConfig struct {
	APIBase     string  `json:"apiBase"`
	APIKey      string  `json:"apiKey,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type UploadConfig struct {
	ConfirmationCode string `json:"confirmationCode"` // shared out of band with customers
	MaxFileBytes     int64  `json:"maxFileBytes,omitempty"`
	SheetName        string `json:"sheetName,omitempty"`
}

// GuardConfig controls API-key auth and the per-day request ceiling.
// When APIKey is set, requests presenting it bypass the daily limit.
type GuardConfig struct {
	APIKey       string   `json:"apiKey,omitempty"`
	LimitedHosts []string `json:"limitedHosts,omitempty"` // hostnames subject to the daily limit
	DailyLimit   int      `json:"dailyLimit"`
	Timezone     string   `json:"timezone,omitempty"` // overrides general.timezone for the day window
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Slack    SlackConfig    `json:"slack"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
}

type SlackConfig struct {
	Enabled       bool   `json:"enabled"`
	BotToken      string `json:"botToken,omitempty"`
	SigningSecret string `json:"signingSecret,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
}

// SheetsConfig points at the spreadsheet webhook used for the shared
// product sheet and the RFQ log.
type SheetsConfig struct {
	WebhookURL string `json:"webhookUrl,omitempty"`
	Token      string `json:"token,omitempty"`
}

type MailerConfig struct {
	APIBase string `json:"apiBase,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	From    string `json:"from,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.tradedesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tradedesk"
	}
	return filepath.Join(home, ".tradedesk")
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

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
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
			return match // Keep original if no env var and no default
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

	if cfg.General.MaxSteps < 1 || cfg.General.MaxSteps > 50 {
		errs = append(errs, "general.maxSteps must be between 1 and 50")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if cfg.Gateway.APIBase == "" {
		errs = append(errs, "gateway.apiBase is required")
	}
	if cfg.Gateway.Model == "" {
		errs = append(errs, "gateway.model is required")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	if cfg.Guard.DailyLimit < 1 {
		errs = append(errs, "guard.dailyLimit must be >= 1")
	}

	if cfg.Upload.MaxFileBytes < 0 {
		errs = append(errs, "upload.maxFileBytes must be >= 0")
	}

	if cfg.Channels.WhatsApp.Enabled {
		if cfg.Channels.WhatsApp.AccessToken == "" || cfg.Channels.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, "channels.whatsapp requires accessToken and phoneNumberId when enabled")
		}
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken == "" {
		errs = append(errs, "channels.slack requires botToken when enabled")
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
