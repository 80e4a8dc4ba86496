package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for mediabot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	LLM      LLMConfig      `json:"llm"`
	Channels ChannelsConfig `json:"channels"`
	State    StateConfig    `json:"state"`
	Media    MediaConfig    `json:"media"`
	Ledger   LedgerConfig   `json:"ledger"`
	HTTP     HTTPConfig     `json:"http"`
}

type GeneralConfig struct {
	WorkDir               string `json:"workDir"` // temp artifacts and converter profiles
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	WakePhrase            string `json:"wakePhrase"`
	ReplyCooldownSeconds  int    `json:"replyCooldownSeconds"`
	SystemPromptPath      string `json:"systemPromptPath,omitempty"`
	PromptPollSeconds     int    `json:"promptPollSeconds"` // 0 = reload only on SIGHUP
	HistoryLimit          int    `json:"historyLimit"`
	OrphanMaxAgeMinutes   int    `json:"orphanMaxAgeMinutes"`
}

type LLMConfig struct {
	APIBase                  string   `json:"apiBase"`
	APIKey                   string   `json:"apiKey,omitempty"`
	ClassifierModel          string   `json:"classifierModel"`
	ChatModel                string   `json:"chatModel"`
	FallbackModels           []string `json:"fallbackModels,omitempty"` // tried in order when chatModel fails
	ClassifierTimeoutSeconds int      `json:"classifierTimeoutSeconds"`
	RequestTimeoutSeconds    int      `json:"requestTimeoutSeconds"`
	RateLimitPerMinute       float64  `json:"rateLimitPerMinute"` // 0 = unlimited
	AppTitle                 string   `json:"appTitle,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Discord  DiscordConfig  `json:"discord"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
	APIBase       string `json:"apiBase,omitempty"` // Graph API root, overridable for tests
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to specific guild
}

type CLIConfig struct {
	Enabled   bool   `json:"enabled"`
	OutboxDir string `json:"outboxDir"` // delivered files are copied here
}

type StateConfig struct {
	Backend  string `json:"backend"` // "memory" | "redis"
	RedisURL string `json:"redisUrl,omitempty"`
	TTLHours int    `json:"ttlHours"` // redis only; 0 = keep forever
}

type MediaConfig struct {
	FetchAttempts       int    `json:"fetchAttempts"`
	FetchTimeoutSeconds int    `json:"fetchTimeoutSeconds"`
	FetchBackoffMillis  int    `json:"fetchBackoffMillis"`
	MaxOutputMB         int    `json:"maxOutputMB"`
	AudioBitrateKbps    int    `json:"audioBitrateKbps"`
	JPEGQuality         int    `json:"jpegQuality"`
	SofficePath         string `json:"sofficePath,omitempty"`
	FFmpegPath          string `json:"ffmpegPath,omitempty"`
}

// LedgerConfig configures the SQLite job ledger.
type LedgerConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

// HTTPConfig configures the gateway's health, metrics and webhook server.
type HTTPConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr"`
	MetricsPath string `json:"metricsPath"`
}

// Durations derived from the integer settings.

func (g GeneralConfig) ReplyCooldown() time.Duration {
	return time.Duration(g.ReplyCooldownSeconds) * time.Second
}

func (g GeneralConfig) OrphanMaxAge() time.Duration {
	return time.Duration(g.OrphanMaxAgeMinutes) * time.Minute
}

func (l LLMConfig) ClassifierTimeout() time.Duration {
	return time.Duration(l.ClassifierTimeoutSeconds) * time.Second
}

func (m MediaConfig) FetchTimeout() time.Duration {
	return time.Duration(m.FetchTimeoutSeconds) * time.Second
}

func (m MediaConfig) FetchBackoff() time.Duration {
	return time.Duration(m.FetchBackoffMillis) * time.Millisecond
}

func (m MediaConfig) MaxOutputBytes() int64 {
	return int64(m.MaxOutputMB) << 20
}

// DefaultConfigDir returns the default config directory (~/.mediabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mediabot"
	}
	return filepath.Join(home, ".mediabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON config, or YAML when the path ends in .yaml/.yml, applies
// ${VAR} expansion and environment overrides, then validates.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document so the JSON field tags stay the single
// source of key names.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

func (c *Config) expandPaths() {
	c.General.WorkDir = ExpandPath(c.General.WorkDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.General.SystemPromptPath = ExpandPath(c.General.SystemPromptPath)
	c.Ledger.DBPath = ExpandPath(c.Ledger.DBPath)
	c.Channels.CLI.OutboxDir = ExpandPath(c.Channels.CLI.OutboxDir)
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

// Save writes JSON, or YAML when the path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if strings.TrimSpace(cfg.General.WakePhrase) == "" {
		errs = append(errs, "general.wakePhrase is required")
	}
	if cfg.General.ReplyCooldownSeconds < 0 {
		errs = append(errs, "general.replyCooldownSeconds must be >= 0")
	}
	if cfg.General.HistoryLimit < 1 {
		errs = append(errs, "general.historyLimit must be >= 1")
	}
	if cfg.General.WorkDir == "" {
		errs = append(errs, "general.workDir is required")
	}

	if cfg.LLM.ClassifierTimeoutSeconds < 5 || cfg.LLM.ClassifierTimeoutSeconds > 8 {
		errs = append(errs, "llm.classifierTimeoutSeconds must be between 5 and 8")
	}
	if cfg.LLM.RateLimitPerMinute < 0 {
		errs = append(errs, "llm.rateLimitPerMinute must be >= 0")
	}
	if cfg.LLM.APIBase == "" {
		errs = append(errs, "llm.apiBase is required")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	if wa := cfg.Channels.WhatsApp; wa.Enabled {
		if wa.AccessToken == "" || wa.PhoneNumberID == "" {
			errs = append(errs, "channels.whatsapp.accessToken and phoneNumberId are required when whatsapp is enabled")
		}
		if !cfg.HTTP.Enabled {
			errs = append(errs, "channels.whatsapp needs http.enabled for its webhook")
		}
	}

	switch cfg.State.Backend {
	case "memory":
	case "redis":
		if cfg.State.RedisURL == "" {
			errs = append(errs, "state.redisUrl is required for the redis backend")
		}
	default:
		errs = append(errs, "state.backend must be one of: memory, redis")
	}
	if cfg.State.TTLHours < 0 {
		errs = append(errs, "state.ttlHours must be >= 0")
	}

	if cfg.Media.FetchAttempts < 1 || cfg.Media.FetchAttempts > 10 {
		errs = append(errs, "media.fetchAttempts must be between 1 and 10")
	}
	if cfg.Media.FetchTimeoutSeconds < 1 {
		errs = append(errs, "media.fetchTimeoutSeconds must be >= 1")
	}
	if cfg.Media.FetchBackoffMillis < 0 {
		errs = append(errs, "media.fetchBackoffMillis must be >= 0")
	}
	if cfg.Media.MaxOutputMB < 1 {
		errs = append(errs, "media.maxOutputMB must be >= 1")
	}
	if cfg.Media.AudioBitrateKbps < 32 || cfg.Media.AudioBitrateKbps > 320 {
		errs = append(errs, "media.audioBitrateKbps must be between 32 and 320")
	}
	if cfg.Media.JPEGQuality < 1 || cfg.Media.JPEGQuality > 100 {
		errs = append(errs, "media.jpegQuality must be between 1 and 100")
	}

	if cfg.Ledger.Enabled && cfg.Ledger.DBPath == "" {
		errs = append(errs, "ledger.dbPath is required when the ledger is enabled")
	}
	if cfg.HTTP.Enabled && cfg.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required when http is enabled")
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
