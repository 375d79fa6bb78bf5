package llm

import "fmt"

// ProviderOptions carries everything needed to construct a provider.
type ProviderOptions struct {
	Provider       string // "anthropic", "openai", "gemini", "openai-compat"
	Model          string
	APIKey         string
	BaseURL        string // openai-compat only
	ThinkingBudget int
	Retry          *RetryConfig // nil = default retry policy
}

// NewProvider constructs a provider for the given options, wrapped with
// transient-error retry.
func NewProvider(opts ProviderOptions) (Provider, error) {
	var inner Provider
	switch opts.Provider {
	case "anthropic":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		inner = NewAnthropicProvider(opts.APIKey, opts.Model, opts.ThinkingBudget)
	case "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		inner = NewOpenAIProvider(opts.APIKey, opts.Model)
	case "gemini":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key")
		}
		inner = NewGeminiProvider(opts.APIKey, opts.Model, opts.ThinkingBudget)
	case "openai-compat":
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("openai-compat provider requires a base URL")
		}
		inner = NewOpenAICompatProvider(opts.BaseURL, opts.APIKey, opts.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", opts.Provider)
	}

	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	return WrapWithRetry(inner, retry), nil
}
