// Package llm wraps the Gemini API for dialogue generation.
package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model for dialogue generation.
	DefaultModel = "gemini-flash-lite-latest"
)

// Client is a thin wrapper around the Gemini SDK.
type Client struct {
	modelName string
	gClient   *genai.Client
}

// NewClient creates an LLM client. The API key is read from the
// GEMINI_API_KEY environment variable or the gemini.api_key config key.
func NewClient(modelName string) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = viper.GetString("gemini.api_key")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY or gemini.api_key in the config file")
	}

	if modelName == "" {
		modelName = viper.GetString("gemini.model")
		if modelName == "" {
			modelName = DefaultModel
		}
	}

	gClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{modelName: modelName, gClient: gClient}, nil
}

func userContents(prompt string) []*genai.Content {
	return []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}
}

// GenerateText runs a single non-streaming generation.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, userContents(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// StreamText generates text and delivers it chunk-by-chunk through
// onChunk, invoked sequentially from this goroutine. The full
// concatenated text is returned once the stream ends.
func (c *Client) StreamText(ctx context.Context, prompt string, onChunk func(chunk string)) (string, error) {
	var full string
	for resp, err := range c.gClient.Models.GenerateContentStream(ctx, c.modelName, userContents(prompt), nil) {
		if err != nil {
			return full, fmt.Errorf("generation stream failed: %w", err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		full += chunk
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	if full == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return full, nil
}
