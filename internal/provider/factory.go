package provider

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"refagent/internal/config"
	"refagent/internal/domain"
)

// ProviderConstructor creates a provider from one endpoint entry.
type ProviderConstructor func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Provider

// Factory builds the LLM provider described by the llm config section.
type Factory struct {
	cfg          config.LLMConfig
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg config.LLMConfig, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey:  apiKeyOrEnv(pc.APIKey, "OPENAI_API_KEY"),
			APIBase: pc.APIBase,
			Model:   pc.Model,
			Timeout: timeout,
			Logger:  logger,
		})
	}
	f.constructors["azure"] = func(pc config.ProviderConfig, timeout time.Duration, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey:     apiKeyOrEnv(pc.APIKey, "AZURE_OPENAI_API_KEY"),
			APIBase:    pc.APIBase,
			APIVersion: pc.APIVersion,
			Model:      pc.Model,
			Azure:      true,
			Timeout:    timeout,
			Logger:     logger,
		})
	}
}

// Build returns the primary provider, wrapped in a FailoverProvider when a
// failover chain is configured.
func (f *Factory) Build() (domain.Provider, error) {
	primary, err := f.build(f.cfg.ProviderConfig)
	if err != nil {
		return nil, err
	}
	if len(f.cfg.FailoverChain) == 0 {
		return primary, nil
	}

	chain := []domain.Provider{primary}
	for i, pc := range f.cfg.FailoverChain {
		p, err := f.build(pc)
		if err != nil {
			return nil, fmt.Errorf("failover chain entry %d: %w", i, err)
		}
		chain = append(chain, p)
	}
	return NewFailoverProvider(chain, f.logger), nil
}

func (f *Factory) build(pc config.ProviderConfig) (domain.Provider, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[pc.Provider]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider: %q", pc.Provider)
	}
	timeout := time.Duration(f.cfg.TimeoutSeconds) * time.Second
	return ctor(pc, timeout, f.logger.With("provider", pc.Provider, "model", pc.Model)), nil
}

func apiKeyOrEnv(key, envVar string) string {
	if key != "" {
		return key
	}
	return os.Getenv(envVar)
}
