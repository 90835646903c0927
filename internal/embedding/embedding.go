// Package embedding generates text embeddings for the vector store and the
// semantic cache. The default backend speaks the OpenAI embeddings API; a
// deterministic local embedder covers offline and air-gapped deployments.
package embedding

import "context"

// Embedder generates text embeddings.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts (up to 100).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int
}
