// Package vector provides similarity search over embedded documents. The
// canonical backend is an in-process HNSW graph with encrypted persistence;
// chromem and pgvector backends satisfy the same contract for deployments
// that already run those stores.
package vector

import (
	"context"
	"math"
)

// Document represents a stored document.
type Document struct {
	ID        string
	Content   string
	Embedding []float32 // optional precomputed embedding
	Metadata  map[string]string
}

// SearchResult pairs a document with its similarity to the query.
type SearchResult struct {
	Document   Document
	Similarity float64 // 0.0 to 1.0
}

// Store manages embeddings and similarity search.
type Store interface {
	// Add inserts one document, embedding its content unless an embedding
	// is supplied.
	Add(ctx context.Context, doc Document) error

	// AddBatch inserts documents in bulk. Embeddings are computed before
	// the index is locked.
	AddBatch(ctx context.Context, docs []Document) error

	// FindSimilar embeds the query and returns up to k documents with
	// similarity >= threshold, sorted descending.
	FindSimilar(ctx context.Context, query string, k int, threshold float64) ([]SearchResult, error)

	// Remove deletes a document by id.
	Remove(ctx context.Context, id string) error

	// Count returns the number of live documents.
	Count() int

	// Close flushes state and releases resources.
	Close() error
}

// Cosine returns the cosine similarity of a and b clamped to [0,1]. Zero
// magnitude on either side, or a dimension mismatch, scores 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
