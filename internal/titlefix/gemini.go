package titlefix

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini is a Completer backed by Google's generative API.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini connects to the API. An empty modelName picks the default.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &Gemini{client: client, model: client.GenerativeModel(modelName)}, nil
}

// Name implements Completer.
func (g *Gemini) Name() string { return "gemini" }

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	return fmt.Sprint(resp.Candidates[0].Content.Parts[0]), nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error { return g.client.Close() }
