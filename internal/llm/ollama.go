// Package llm provides the TextGenerator capability and its Ollama backend.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// Generator produces a completion for a fully rendered prompt. Each call
// site owns its prompt template; the generator itself is stateless.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OllamaGenerator handles completions through the Ollama API.
type OllamaGenerator struct {
	Client  *api.Client
	Model   string
	Timeout time.Duration
}

// NewOllamaGenerator creates an Ollama-backed generator. An empty host falls
// back to the OLLAMA_HOST environment default.
func NewOllamaGenerator(host, model string) (*OllamaGenerator, error) {
	hostURL := envconfig.Host()
	if host != "" {
		parsed, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
		}
		hostURL = parsed
	}
	client := api.NewClient(hostURL, http.DefaultClient)

	return &OllamaGenerator{
		Client:  client,
		Model:   model,
		Timeout: time.Second * 120,
	}, nil
}

// Generate runs the prompt through the model and collects the streamed
// response into a single string.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req := api.GenerateRequest{
		Model:  g.Model,
		Prompt: prompt,
		Options: map[string]any{
			"temperature": 0.1,
			"num_predict": 1024,
		},
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	var responseBuilder strings.Builder
	err := g.Client.Generate(ctxWithTimeout, &req, func(resp api.GenerateResponse) error {
		_, err := responseBuilder.WriteString(resp.Response)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	return strings.TrimSpace(responseBuilder.String()), nil
}
