// Package embedding provides the Embedder capability and its Ollama backend.
package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// Embedder produces fixed-dimension vectors for queries and documents.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// OllamaEmbedder generates embeddings through the Ollama API.
type OllamaEmbedder struct {
	Client        *api.Client
	Model         string
	VectorDim     int
	MaxRetries    int
	Timeout       time.Duration
	MaxConcurrent int
}

// NewOllamaEmbedder creates an Ollama-backed embedder. An empty host falls
// back to the OLLAMA_HOST environment default.
func NewOllamaEmbedder(host, model string, vectorDim int) (*OllamaEmbedder, error) {
	hostURL := envconfig.Host()
	if host != "" {
		parsed, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
		}
		hostURL = parsed
	}
	client := api.NewClient(hostURL, http.DefaultClient)

	return &OllamaEmbedder{
		Client:        client,
		Model:         model,
		VectorDim:     vectorDim,
		MaxRetries:    3,
		Timeout:       time.Second * 30,
		MaxConcurrent: 3,
	}, nil
}

// Dimensions returns the configured vector width.
func (e *OllamaEmbedder) Dimensions() int {
	return e.VectorDim
}

// EmbedQuery generates an embedding for a single query text.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	var err error

	for retries := 0; retries <= e.MaxRetries; retries++ {
		if retries > 0 {
			time.Sleep(time.Duration(retries) * time.Second)
		}

		embedding, err = e.embed(ctx, text)
		if err == nil {
			return embedding, nil
		}
	}

	return nil, fmt.Errorf("failed to create embedding after %d retries: %w", e.MaxRetries, err)
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	req := api.EmbedRequest{
		Model: e.Model,
		Input: text,
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	resp, err := e.Client.Embed(ctxWithTimeout, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}

	embedding := resp.Embeddings[0]
	if e.VectorDim > 0 && len(embedding) != e.VectorDim {
		return nil, fmt.Errorf("embedding dimension mismatch: model returned %d, expected %d",
			len(embedding), e.VectorDim)
	}
	return embedding, nil
}

// EmbedDocuments generates embeddings for multiple texts in parallel,
// bounded by MaxConcurrent. Results keep the input order.
func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, e.MaxConcurrent)
	errChan := make(chan error, len(texts))

	for i := range texts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			embedding, err := e.EmbedQuery(ctx, texts[i])
			if err != nil {
				errChan <- fmt.Errorf("failed to embed document %d: %w", i, err)
				return
			}
			embeddings[i] = embedding
		}(i)
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	return embeddings, nil
}
