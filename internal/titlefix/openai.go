package titlefix

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI is a Completer for any OpenAI-compatible chat endpoint; BaseURL
// makes it work against local or proxy deployments too.
type OpenAI struct {
	model  string
	client *openai.Client
}

// NewOpenAI creates the client. baseURL may be empty for the public API.
func NewOpenAI(apiKey, modelName, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{model: modelName, client: openai.NewClientWithConfig(cfg)}
}

// Name implements Completer.
func (o *OpenAI) Name() string { return "openai" }

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
