package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cua-tester/internal/config"
)

// -- Test Cases: Factory Initialization (NewClient) --

func TestNewClient_Success(t *testing.T) {
	client, err := NewClient(getValidLLMConfig(), setupTestLogger(t))
	require.NoError(t, err)

	openai, ok := client.(*OpenAIClient)
	require.True(t, ok, "The created client should be of type *OpenAIClient")
	assert.Equal(t, "https://api.openai.com/v1/responses", openai.Endpoint())
	assert.Nil(t, openai.limiter, "no limiter without a requests_per_second budget")
}

func TestNewClient_Failure(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*config.LLMConfig)
		expectedError string
	}{
		{
			name:          "Missing Provider",
			mutate:        func(c *config.LLMConfig) { c.Provider = "" },
			expectedError: "LLM provider is not specified in the model configuration",
		},
		{
			name:          "Unsupported Provider",
			mutate:        func(c *config.LLMConfig) { c.Provider = "unsupported-provider-xyz" },
			expectedError: "unknown or unsupported LLM provider configured: 'unsupported-provider-xyz'",
		},
		{
			name:          "Missing API Key",
			mutate:        func(c *config.LLMConfig) { c.APIKey = "" },
			expectedError: "OpenAI API Key is required",
		},
		{
			name:          "Missing Model",
			mutate:        func(c *config.LLMConfig) { c.Model = "" },
			expectedError: "model name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidLLMConfig()
			tt.mutate(&cfg)
			client, err := NewClient(cfg, setupTestLogger(t))
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestNewOpenAIClient_EndpointNormalization(t *testing.T) {
	cases := map[string]string{
		"":                                 "https://api.openai.com/v1/responses",
		"http://localhost:8080":            "http://localhost:8080/responses",
		"http://localhost:8080/":           "http://localhost:8080/responses",
		"http://proxy.internal/responses":  "http://proxy.internal/responses",
		"http://proxy.internal/responses/": "http://proxy.internal/responses",
	}
	for in, want := range cases {
		cfg := getValidLLMConfig()
		cfg.Endpoint = in
		c, err := NewOpenAIClient(cfg, setupTestLogger(t))
		require.NoError(t, err)
		assert.Equal(t, want, c.Endpoint(), "endpoint %q", in)
	}
}
