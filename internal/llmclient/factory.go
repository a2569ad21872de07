// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cua-tester/internal/config"
)

// Client is the transport a model session drives.
type Client interface {
	CreateResponse(ctx context.Context, req *ResponseRequest) (*Response, error)
	Endpoint() string
}

// NewClient creates a Client for the configured provider.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		client, err := NewOpenAIClient(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI client (Model: %s): %w", cfg.Model, err)
		}
		return client, nil
	case "":
		return nil, fmt.Errorf("LLM provider is not specified in the model configuration")
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderOpenAI)
	}
}
