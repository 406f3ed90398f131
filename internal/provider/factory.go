package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// ProviderConstructor is a function that creates a provider from a config entry.
type ProviderConstructor func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches chat providers from config, keyed by provider name.
// Constructors are looked up by the entry's kind ("openai" when empty).
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	client       *http.Client
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		client:       SharedHTTPClient(defaultHTTPTimeout),
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) the constructor for a provider kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			Name:    name,
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.DefaultModel,
			Client:  f.client,
			Logger:  logger,
		})
	}
	f.constructors["ark"] = func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewArk(ArkConfig{
			Name:    name,
			APIKey:  pc.APIKey,
			BaseURL: pc.APIBase,
			Model:   pc.DefaultModel,
			Logger:  logger,
		})
	}
}

// Get returns the provider with the given name. Created providers are cached
// so the same instance is reused across calls.
func (f *Factory) Get(name string) (domain.Provider, error) {
	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	kind := pc.Kind
	if kind == "" {
		kind = "openai"
	}
	ctor, found := f.constructors[kind]
	if !found {
		return nil, fmt.Errorf("provider %s: no constructor registered for kind %q", name, kind)
	}

	p := ctor(name, pc, f.logger.With("provider", name))
	f.cache[name] = p
	return p, nil
}

// Completion returns the text-completion provider, wrapped in a failover
// chain when completion.failover lists backups.
func (f *Factory) Completion() (domain.Provider, error) {
	primary, err := f.Get(f.cfg.Completion.Provider)
	if err != nil {
		return nil, fmt.Errorf("completion provider: %w", err)
	}
	if len(f.cfg.Completion.Failover) == 0 {
		return primary, nil
	}

	chain := []domain.Provider{primary}
	for _, name := range f.cfg.Completion.Failover {
		if name == f.cfg.Completion.Provider {
			continue
		}
		p, err := f.Get(name)
		if err != nil {
			return nil, fmt.Errorf("completion failover: %w", err)
		}
		chain = append(chain, p)
	}
	return NewFailoverChain(FailoverConfig{Providers: chain, Logger: f.logger}), nil
}

// Vision returns the provider used for image descriptions.
func (f *Factory) Vision() (domain.Provider, error) {
	p, err := f.Get(f.cfg.Vision.Provider)
	if err != nil {
		return nil, fmt.Errorf("vision provider: %w", err)
	}
	return p, nil
}

// Transcriber returns the speech-to-text adapter.
func (f *Factory) Transcriber() *WhisperProvider {
	tc := f.cfg.Transcription
	return NewWhisperProvider(WhisperConfig{
		APIBase:  tc.APIBase,
		APIKey:   tc.APIKey,
		Model:    tc.Model,
		Language: tc.Language,
		Client:   f.client,
		Logger:   f.logger.With("provider", "whisper"),
	})
}

// HealthReport checks every enabled provider and the transcription endpoint,
// returning name → error (nil when healthy).
func (f *Factory) HealthReport(ctx context.Context) map[string]error {
	names := make([]string, 0, len(f.cfg.Providers))
	for name, pc := range f.cfg.Providers {
		if pc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	report := make(map[string]error, len(names)+1)
	for _, name := range names {
		p, err := f.Get(name)
		if err != nil {
			report[name] = err
			continue
		}
		report[name] = p.Healthy(ctx)
	}
	report["transcription"] = f.Transcriber().Healthy(ctx)
	return report
}
