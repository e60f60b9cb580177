package embed

import (
	"context"
	"fmt"
)

// EmbedClient is the slice of the LLM backend the embedder needs.
type EmbedClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GeminiEmbedder produces embeddings through the Gemini embedding model.
type GeminiEmbedder struct {
	client     EmbedClient
	dimensions int
}

// NewGeminiEmbedder wraps an LLM client as an Embedder with the given fixed
// dimensionality.
func NewGeminiEmbedder(client EmbedClient, dimensions int) *GeminiEmbedder {
	return &GeminiEmbedder{client: client, dimensions: dimensions}
}

// Dimensions returns the fixed embedding dimension.
func (g *GeminiEmbedder) Dimensions() int {
	return g.dimensions
}

// EmbedDocuments embeds a batch of chunk texts.
func (g *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := g.client.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedderUnavailable, err)
	}

	dimensionErr := checkDimensions(vectors, g.dimensions)
	if dimensionErr != nil {
		return nil, dimensionErr
	}

	for i := range vectors {
		vectors[i] = Normalize(vectors[i])
	}

	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(vectors) == 0 {
		return nil, ErrEmbedderUnavailable
	}

	return vectors[0], nil
}
