package ai

import (
	"errors"
	"fmt"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
)

// ErrMissingAPIKey is returned when a hosted provider has no key.
var ErrMissingAPIKey = errors.New("provider requires an API key")

// ProviderConfig selects and configures a model provider.
type ProviderConfig struct {
	// Name is one of openrouter, openai, anthropic, ollama.
	Name    string
	Model   string
	APIKey  string
	BaseURL string
}

// NewProvider builds the provider named by cfg.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "", "openrouter":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openrouter: %w", ErrMissingAPIKey)
		}
		var opts []openaioption.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(cfg.BaseURL))
		}
		return NewOpenRouterProvider(cfg.APIKey, cfg.Model, opts...), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
		}
		var opts []openaioption.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(cfg.BaseURL))
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, opts...), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
		}
		var opts []anthropicoption.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
		}
		return NewAnthropicProvider(cfg.APIKey, cfg.Model, opts...), nil
	case "ollama":
		return NewOllamaProvider(cfg.BaseURL, cfg.Model), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Name)
}
