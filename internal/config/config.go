package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for relaybot.
type Config struct {
	General       GeneralConfig             `json:"general" yaml:"general"`
	Relay         RelayConfig               `json:"relay" yaml:"relay"`
	Providers     map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Completion    CompletionConfig          `json:"completion" yaml:"completion"`
	Vision        VisionConfig              `json:"vision" yaml:"vision"`
	Transcription TranscriptionConfig       `json:"transcription" yaml:"transcription"`
	Channels      ChannelsConfig            `json:"channels" yaml:"channels"`
	Server        ServerConfig              `json:"server" yaml:"server"`
	Metrics       MetricsConfig             `json:"metrics" yaml:"metrics"`
	RelayLog      RelayLogConfig            `json:"relayLog" yaml:"relayLog"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel" yaml:"logLevel"`
	LogFile               string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages" yaml:"maxConcurrentMessages"`
}

// RelayConfig holds the conversation and routing settings.
type RelayConfig struct {
	SystemPrompt         string        `json:"systemPrompt" yaml:"systemPrompt"`
	HistoryLimit         int           `json:"historyLimit" yaml:"historyLimit"` // turns kept, system turn included
	CallTimeoutSeconds   int           `json:"callTimeoutSeconds" yaml:"callTimeoutSeconds"`
	VisionInstruction    string        `json:"visionInstruction" yaml:"visionInstruction"`
	CaptionAsInstruction bool          `json:"captionAsInstruction" yaml:"captionAsInstruction"`
	Commands             bool          `json:"commands" yaml:"commands"`
	Replies              RepliesConfig `json:"replies" yaml:"replies"`
}

// RepliesConfig holds the fixed user-visible strings.
type RepliesConfig struct {
	CompletionFailed    string `json:"completionFailed" yaml:"completionFailed"`
	EmptyCompletion     string `json:"emptyCompletion" yaml:"emptyCompletion"`
	VisionFailed        string `json:"visionFailed" yaml:"visionFailed"`
	TranscriptionFailed string `json:"transcriptionFailed" yaml:"transcriptionFailed"`
	UnsupportedMedia    string `json:"unsupportedMedia" yaml:"unsupportedMedia"`
	DownloadFailed      string `json:"downloadFailed" yaml:"downloadFailed"`
	ImagePlaceholder    string `json:"imagePlaceholder" yaml:"imagePlaceholder"`
	HistoryReset        string `json:"historyReset" yaml:"historyReset"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Kind         string `json:"kind" yaml:"kind"` // "openai" | "ark"
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
}

// CompletionConfig selects the provider and sampling parameters for text replies.
type CompletionConfig struct {
	Provider    string   `json:"provider" yaml:"provider"`
	Failover    []string `json:"failover,omitempty" yaml:"failover,omitempty"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64  `json:"temperature" yaml:"temperature"`
	MaxTokens   int      `json:"maxTokens" yaml:"maxTokens"`
	TopP        float64  `json:"topP" yaml:"topP"`
}

type VisionConfig struct {
	Provider  string `json:"provider" yaml:"provider"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"maxTokens" yaml:"maxTokens"`
}

type TranscriptionConfig struct {
	APIBase  string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	TempDir  string `json:"tempDir,omitempty" yaml:"tempDir,omitempty"`
}

type ChannelsConfig struct {
	CLI         CLIConfig         `json:"cli" yaml:"cli"`
	Telegram    TelegramConfig    `json:"telegram" yaml:"telegram"`
	WhatsApp    WhatsAppConfig    `json:"whatsapp" yaml:"whatsapp"`
	WhatsAppWeb WhatsAppWebConfig `json:"whatsappWeb" yaml:"whatsappWeb"`
	WebSocket   WebSocketConfig   `json:"websocket" yaml:"websocket"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	ParseMode string         `json:"parseMode" yaml:"parseMode"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	AppSecret     string `json:"appSecret,omitempty" yaml:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty" yaml:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty" yaml:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty" yaml:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty" yaml:"webhookPath,omitempty"`
	APIBase       string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
}

// WhatsAppWebConfig configures the browser-driven WhatsApp Web session.
type WhatsAppWebConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	ProfileDir          string            `json:"profileDir,omitempty" yaml:"profileDir,omitempty"`
	PollIntervalSeconds int               `json:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
	Selectors           map[string]string `json:"selectors,omitempty" yaml:"selectors,omitempty"`
}

type WebSocketConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// ServerConfig configures the shared HTTP listener (webhooks, websocket, health, metrics).
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// RelayLogConfig configures the metadata-only relay log.
type RelayLogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"` // "sqlite" | "postgres"
	DSN     string `json:"dsn" yaml:"dsn"`       // file path for sqlite, URL for postgres
}

// FlexStringList is a []string that can unmarshal from arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
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

// UnmarshalYAML accepts scalars of any type; YAML decodes 123 and "123" to the same string.
func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("allowFrom: expected a list, got %v", node.Tag)
	}
	result := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config (chosen by extension), expands environment
// variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	// Defaults carry ${VAR} references that never passed through the text expansion.
	for name, pc := range cfg.Providers {
		pc.APIKey = ExpandEnvVars(pc.APIKey)
		cfg.Providers[name] = pc
	}
	cfg.Transcription.APIKey = ExpandEnvVars(cfg.Transcription.APIKey)

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Channels.WhatsAppWeb.ProfileDir = ExpandPath(cfg.Channels.WhatsAppWeb.ProfileDir)
	cfg.Transcription.TempDir = ExpandPath(cfg.Transcription.TempDir)
	if cfg.RelayLog.Driver == "sqlite" {
		cfg.RelayLog.DSN = ExpandPath(cfg.RelayLog.DSN)
	}

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
			return match
		}
		return val
	})
}

// Save writes the config as JSON or YAML depending on the file extension.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}

	if cfg.Relay.HistoryLimit < 2 {
		errs = append(errs, "relay.historyLimit must be >= 2 (system turn plus one exchange)")
	}
	if cfg.Relay.CallTimeoutSeconds < 1 || cfg.Relay.CallTimeoutSeconds > 600 {
		errs = append(errs, "relay.callTimeoutSeconds must be between 1 and 600")
	}

	if cfg.Completion.Temperature < 0 || cfg.Completion.Temperature > 2 {
		errs = append(errs, "completion.temperature must be between 0 and 2")
	}
	if cfg.Completion.TopP < 0 || cfg.Completion.TopP > 1 {
		errs = append(errs, "completion.topP must be between 0 and 1")
	}
	if cfg.Completion.MaxTokens < 1 {
		errs = append(errs, "completion.maxTokens must be >= 1")
	}
	if cfg.Vision.MaxTokens < 1 {
		errs = append(errs, "vision.maxTokens must be >= 1")
	}

	errs = append(errs, checkProviderRef("completion.provider", cfg.Completion.Provider, cfg.Providers)...)
	errs = append(errs, checkProviderRef("vision.provider", cfg.Vision.Provider, cfg.Providers)...)
	for _, name := range cfg.Completion.Failover {
		errs = append(errs, checkProviderRef("completion.failover", name, cfg.Providers)...)
	}

	for name, pc := range cfg.Providers {
		switch pc.Kind {
		case "", "openai", "ark":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s: kind must be openai or ark", name))
		}
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if wa := cfg.Channels.WhatsApp; wa.Enabled {
		if wa.AccessToken == "" || wa.PhoneNumberID == "" {
			errs = append(errs, "channels.whatsapp: accessToken and phoneNumberId are required when enabled")
		}
	}
	if cfg.Channels.WhatsAppWeb.Enabled && cfg.Channels.WhatsAppWeb.PollIntervalSeconds < 1 {
		errs = append(errs, "channels.whatsappWeb.pollIntervalSeconds must be >= 1")
	}

	if cfg.RelayLog.Enabled {
		switch cfg.RelayLog.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, "relayLog.driver must be sqlite or postgres")
		}
		if cfg.RelayLog.DSN == "" {
			errs = append(errs, "relayLog.dsn is required when the relay log is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkProviderRef(field, name string, providers map[string]ProviderConfig) []string {
	if name == "" {
		return []string{field + " is required"}
	}
	pc, ok := providers[name]
	if !ok {
		return []string{fmt.Sprintf("%s references unknown provider: %s", field, name)}
	}
	if !pc.Enabled {
		return []string{fmt.Sprintf("%s references disabled provider: %s", field, name)}
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
