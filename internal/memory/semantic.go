package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/vector"
)

// semanticStore adapts the vector store to the memory API. It owns no state
// of its own; durability follows the backend.
type semanticStore struct {
	store vector.Store
}

func (s *semanticStore) add(ctx context.Context, item Item) (Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	doc := vector.Document{
		ID:       item.ID,
		Content:  item.Content,
		Metadata: item.Metadata,
	}
	if err := s.store.Add(ctx, doc); err != nil {
		return Item{}, fmt.Errorf("semantic add: %w", err)
	}
	return item, nil
}

func (s *semanticStore) addBatch(ctx context.Context, items []Item) ([]Item, error) {
	docs := make([]vector.Document, len(items))
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if items[i].Timestamp.IsZero() {
			items[i].Timestamp = time.Now()
		}
		docs[i] = vector.Document{
			ID:       items[i].ID,
			Content:  items[i].Content,
			Metadata: items[i].Metadata,
		}
	}
	if err := s.store.AddBatch(ctx, docs); err != nil {
		return nil, fmt.Errorf("semantic add batch: %w", err)
	}
	return items, nil
}

func (s *semanticStore) similar(ctx context.Context, query string, k int, threshold float64) ([]Result, error) {
	matches, err := s.store.FindSimilar(ctx, query, k, threshold)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, Result{
			Kind: KindSemantic,
			Item: Item{
				ID:       m.Document.ID,
				Content:  m.Document.Content,
				Metadata: m.Document.Metadata,
			},
			Score: m.Similarity,
		})
	}
	return results, nil
}

func (s *semanticStore) count() int {
	return s.store.Count()
}
