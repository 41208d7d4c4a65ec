package llm

import (
	"context"
	"fmt"

	"github.com/abhisek/inquiz/internal/store"
)

// NewProvider creates a Provider from configuration, wrapped with retry and
// (when a call repo is given) logging middleware.
func NewProvider(ctx context.Context, cfg Config, calls store.JudgeCallRepo) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	// Wrap with middleware: caller → retry → logging → base
	wrapped := base
	if calls != nil {
		wrapped = WithLogging(wrapped, calls)
	}
	return WithRetry(wrapped, cfg.Retry), nil
}

// NewProviderFromEnv builds a provider from environment configuration,
// falling back to standard API key discovery when the INQUIZ_ variables are
// not set.
func NewProviderFromEnv(ctx context.Context, calls store.JudgeCallRepo) (Provider, error) {
	cfg := ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		discovered, ok := DiscoverConfig()
		if !ok {
			return nil, err
		}
		cfg = discovered
	}
	return NewProvider(ctx, cfg, calls)
}
