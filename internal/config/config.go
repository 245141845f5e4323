package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration for refagent.
type Config struct {
	General     GeneralConfig    `json:"general"`
	LLM         LLMConfig        `json:"llm"`
	Graph       GraphConfig      `json:"graph"`
	Server      ServerConfig     `json:"server"`
	Transcripts TranscriptConfig `json:"transcripts"`
}

type GeneralConfig struct {
	LogLevel           string   `json:"logLevel"`
	LogFile            string   `json:"logFile,omitempty"` // optional log file path
	DomainsFile        string   `json:"domainsFile"`
	MaxIterations      int      `json:"maxIterations"`
	MaxParallelTools   int      `json:"maxParallelTools"`
	ToolTimeoutSeconds int      `json:"toolTimeoutSeconds"`
	DeniedTools        []string `json:"deniedTools,omitempty"`       // hidden from the LLM even if published
	SystemPromptExtra  string   `json:"systemPromptExtra,omitempty"` // custom text appended to system prompt
}

// ProviderConfig identifies one LLM endpoint.
type ProviderConfig struct {
	Provider   string `json:"provider"` // "openai" | "azure"
	APIKey     string `json:"apiKey,omitempty"`
	APIBase    string `json:"apiBase,omitempty"`
	APIVersion string `json:"apiVersion,omitempty"` // azure only
	Model      string `json:"model"`                // deployment name for azure
}

type LLMConfig struct {
	ProviderConfig
	MaxTokens          int              `json:"maxTokens"`
	Temperature        float64          `json:"temperature"`
	TimeoutSeconds     int              `json:"timeoutSeconds"`
	FailoverChain      []ProviderConfig `json:"failoverChain,omitempty"` // tried in order after the primary
	Retry              RetryConfig      `json:"retry"`
	RateLimitPerMinute int              `json:"rateLimitPerMinute"` // client-side pacing; 0 disables
}

// RetryConfig controls backoff when the LLM service rate-limits us.
type RetryConfig struct {
	MaxRetries         int     `json:"maxRetries"`
	InitialWaitSeconds float64 `json:"initialWaitSeconds"`
	MaxWaitSeconds     float64 `json:"maxWaitSeconds"`
}

func (r RetryConfig) InitialWait() time.Duration { return seconds(r.InitialWaitSeconds) }
func (r RetryConfig) MaxWait() time.Duration     { return seconds(r.MaxWaitSeconds) }

type GraphConfig struct {
	URI                 string `json:"uri"`
	Username            string `json:"username,omitempty"`
	Password            string `json:"password,omitempty"`
	Database            string `json:"database,omitempty"`
	QueryTimeoutSeconds int    `json:"queryTimeoutSeconds"`
}

// ServerConfig configures the HTTP tool endpoint.
type ServerConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	APIKey string `json:"apiKey,omitempty"` // empty disables authentication
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type TranscriptConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DefaultConfigDir returns the default config directory (~/.refagent).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".refagent"
	}
	return filepath.Join(home, ".refagent")
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

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.DomainsFile = resolveRelative(ExpandPath(cfg.General.DomainsFile), filepath.Dir(path))
	cfg.Transcripts.DBPath = resolveRelative(ExpandPath(cfg.Transcripts.DBPath), filepath.Dir(path))

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// resolveRelative makes p relative to the config file's directory.
func resolveRelative(p, dir string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
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
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file may hold API keys and graph credentials.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.DomainsFile == "" {
		errs = append(errs, "general.domainsFile is required")
	}
	if cfg.General.MaxIterations < 1 || cfg.General.MaxIterations > 100 {
		errs = append(errs, "general.maxIterations must be between 1 and 100")
	}
	if cfg.General.MaxParallelTools < 1 || cfg.General.MaxParallelTools > 32 {
		errs = append(errs, "general.maxParallelTools must be between 1 and 32")
	}
	if cfg.General.ToolTimeoutSeconds < 1 {
		errs = append(errs, "general.toolTimeoutSeconds must be >= 1")
	}

	errs = append(errs, validateProvider("llm", cfg.LLM.ProviderConfig)...)
	for i, pc := range cfg.LLM.FailoverChain {
		errs = append(errs, validateProvider(fmt.Sprintf("llm.failoverChain[%d]", i), pc)...)
	}
	if cfg.LLM.MaxTokens < 1 {
		errs = append(errs, "llm.maxTokens must be >= 1")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}
	if cfg.LLM.Retry.MaxRetries < 0 || cfg.LLM.Retry.MaxRetries > 10 {
		errs = append(errs, "llm.retry.maxRetries must be between 0 and 10")
	}
	if cfg.LLM.Retry.InitialWaitSeconds <= 0 {
		errs = append(errs, "llm.retry.initialWaitSeconds must be > 0")
	}
	if cfg.LLM.Retry.MaxWaitSeconds < cfg.LLM.Retry.InitialWaitSeconds {
		errs = append(errs, "llm.retry.maxWaitSeconds must be >= initialWaitSeconds")
	}
	if cfg.LLM.RateLimitPerMinute < 0 {
		errs = append(errs, "llm.rateLimitPerMinute must be >= 0")
	}

	if cfg.Graph.URI == "" {
		errs = append(errs, "graph.uri is required")
	}
	if cfg.Graph.QueryTimeoutSeconds < 1 {
		errs = append(errs, "graph.queryTimeoutSeconds must be >= 1")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Transcripts.Enabled && cfg.Transcripts.DBPath == "" {
		errs = append(errs, "transcripts.dbPath is required when transcripts are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateProvider(path string, pc ProviderConfig) []string {
	var errs []string
	switch pc.Provider {
	case "openai":
	case "azure":
		if pc.APIBase == "" {
			errs = append(errs, path+".apiBase is required for azure")
		}
	default:
		errs = append(errs, path+".provider must be one of: openai, azure")
	}
	if pc.Model == "" {
		errs = append(errs, path+".model is required")
	}
	return errs
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
