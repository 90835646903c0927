package vector

import (
	"context"
	"fmt"
	"path/filepath"

	chromem "github.com/philippgille/chromem-go"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
)

// ChromemConfig configures the chromem-go backend.
type ChromemConfig struct {
	PersistPath string // empty = in-memory
	Collection  string // default "default"
}

// ChromemStore satisfies Store with a chromem-go collection. Chromem keeps
// its own gob persistence, so this backend does not use the encrypted frame
// format; pick HNSW when at-rest encryption is required.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     logging.Logger
}

// NewChromem creates or reopens a chromem-backed store.
func NewChromem(config ChromemConfig, embedder embedding.Embedder, logger logging.Logger) (*ChromemStore, error) {
	if config.Collection == "" {
		config.Collection = "default"
	}

	var db *chromem.DB
	var err error
	if config.PersistPath != "" {
		persistFile := filepath.Join(config.PersistPath, "chromem.gob")
		db, err = chromem.NewPersistentDB(persistFile, false)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(config.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &ChromemStore{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logging.OrNop(logger),
	}, nil
}

// Add inserts one document.
func (s *ChromemStore) Add(ctx context.Context, doc Document) error {
	return s.AddBatch(ctx, []Document{doc})
}

// AddBatch inserts documents one by one (chromem-go API).
func (s *ChromemStore) AddBatch(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		err := s.collection.AddDocument(ctx, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: doc.Embedding,
			Metadata:  doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// FindSimilar queries by text; chromem generates the embedding internally.
func (s *ChromemStore) FindSimilar(ctx context.Context, query string, k int, threshold float64) ([]SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	// chromem rejects nResults above the collection size.
	if count := s.collection.Count(); k > count {
		if count == 0 {
			return nil, nil
		}
		k = count
	}

	results, err := s.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < 0 {
			sim = 0
		}
		if sim < threshold {
			continue
		}
		out = append(out, SearchResult{
			Document: Document{
				ID:        r.ID,
				Content:   r.Content,
				Embedding: r.Embedding,
				Metadata:  r.Metadata,
			},
			Similarity: sim,
		})
	}
	return out, nil
}

// Remove deletes a document by id.
func (s *ChromemStore) Remove(ctx context.Context, id string) error {
	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// Count returns total document count.
func (s *ChromemStore) Count() int {
	return s.collection.Count()
}

// Close is a no-op; chromem persists on every change.
func (s *ChromemStore) Close() error {
	return nil
}
