package knowledge

import (
	"context"
	"fmt"
	"math"

	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/taskpilot/internal/config"
)

// RemoteEmbedder returns an embedding function backed by an
// OpenAI-compatible embeddings endpoint at gen.BaseURL.
func RemoteEmbedder(gen config.GeneratorConfig, model string) (chromem.EmbeddingFunc, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model required")
	}
	token := gen.APIKey.Value()
	if token == "" {
		// OpenAI-compatible embedding servers accept any token.
		token = "placeholder"
	}
	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithEmbeddingModel(model),
		openai.WithToken(token),
	}
	if gen.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(gen.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return EmbedderFunc(embedder), nil
}

// EmbedderFunc adapts a langchaingo embedder to chromem, normalizing each
// vector.
func EmbedderFunc(e embeddings.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("embedder returned an empty vector")
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			return nil, fmt.Errorf("embedder returned a zero vector")
		}
		inv := float32(1 / math.Sqrt(norm))
		out := make([]float32, len(vec))
		for i, v := range vec {
			out[i] = v * inv
		}
		return out, nil
	}
}
