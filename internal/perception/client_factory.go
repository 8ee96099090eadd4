package perception

import (
	"context"
	"fmt"

	"notegraph/internal/config"
)

// Provider names an analyzer backend.
type Provider string

const (
	ProviderOllamaCLI Provider = "ollama-cli"
	ProviderOllama    Provider = "ollama"
	ProviderGemini    Provider = "gemini"
)

// NewClient creates the analyzer backend selected by cfg.Analyzer.Provider.
func NewClient(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	a := cfg.Analyzer
	timeout := cfg.GetAnalyzerTimeout()

	switch Provider(a.Provider) {
	case ProviderOllamaCLI, "":
		return NewOllamaCLIClient(a.Command, a.Model, timeout), nil
	case ProviderOllama:
		return NewOllamaClient(a.BaseURL, a.Model, timeout), nil
	case ProviderGemini:
		client, err := NewGeminiClient(ctx, a.APIKey, a.Model, timeout)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported analyzer provider: %s", a.Provider)
	}
}
