package config

import (
	"fmt"
	"os"

	"github.com/entrhq/parley/pkg/llm/openai"
)

// ResolveLLM merges provider settings by precedence:
// CLI flags > Environment variables > Config file > Defaults
func (c *Config) ResolveLLM(cliModel, cliBaseURL, cliAPIKey string) LLMConfig {
	resolved := LLMConfig{
		Model:   cliModel,
		BaseURL: cliBaseURL,
		APIKey:  cliAPIKey,
	}

	if resolved.APIKey == "" {
		resolved.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if resolved.BaseURL == "" {
		resolved.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}

	if resolved.Model == "" {
		resolved.Model = c.LLM.Model
	}
	if resolved.BaseURL == "" {
		resolved.BaseURL = c.LLM.BaseURL
	}
	if resolved.APIKey == "" {
		resolved.APIKey = c.LLM.APIKey
	}

	return resolved
}

// BuildProvider creates the OpenAI provider from the resolved settings.
// An empty resolved model leaves each stage on its own model.
func BuildProvider(c *Config, cliModel, cliBaseURL, cliAPIKey string) (*openai.Provider, LLMConfig, error) {
	resolved := c.ResolveLLM(cliModel, cliBaseURL, cliAPIKey)

	if resolved.APIKey == "" {
		return nil, resolved, fmt.Errorf("API key is required. Set OPENAI_API_KEY environment variable, use --api-key flag, or configure llm.api_key in ~/%s/%s", DefaultDir, DefaultFileName)
	}

	var providerOpts []openai.ProviderOption
	if resolved.Model != "" {
		providerOpts = append(providerOpts, openai.WithModel(resolved.Model))
	}
	if resolved.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(resolved.BaseURL))
	}

	provider, err := openai.NewProvider(resolved.APIKey, providerOpts...)
	if err != nil {
		return nil, resolved, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	return provider, resolved, nil
}
