// Package genai wraps the generative-text service. Callers hand it a
// role-tagged instruction set and get back the raw completion text; parsing
// the structured payload out of that text lives in extract.go.
package genai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Request is one completion call: system instructions plus user content.
type Request struct {
	System      string
	User        string
	Temperature float32
}

// Client is the minimal surface the orchestrators need. The OpenAI
// implementation below is the only production one; tests substitute fakes.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client for the configured model. baseURL may be
// empty for api.openai.com, or point at a compatible gateway.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("generative-text API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Complete performs a single chat completion. A transport error or an empty
// choice list is a hard failure for the attempt; retrying is the caller's
// decision.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("chat completion: empty content")
	}
	return content, nil
}
