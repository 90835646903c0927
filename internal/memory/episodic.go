package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/infra/filestore"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/vector"
)

const episodeFileName = "episodes"

// Episode is one recorded interaction. The embedding covers input and result
// together so similarity queries match either side of the exchange.
type Episode struct {
	ID        string            `json:"id"`
	Input     string            `json:"input"`
	Result    string            `json:"result"`
	Context   map[string]string `json:"context,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func (e Episode) item() Item {
	meta := make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		meta[k] = v
	}
	meta["result"] = e.Result
	return Item{ID: e.ID, Content: e.Input, Metadata: meta, Timestamp: e.CreatedAt}
}

// episodicStore is an append-only interaction log. Records persist through an
// encrypted collection; retrieval is either last-N by time or top-N by
// embedding similarity over the live set.
type episodicStore struct {
	col      *filestore.Collection[string, Episode]
	embedder embedding.Embedder
	logger   logging.Logger

	retention   time.Duration // 0 = keep forever
	maxEpisodes int           // 0 = unbounded
}

func newEpisodicStore(dir string, embedder embedding.Embedder, sec *secstore.Store, retention time.Duration, maxEpisodes int, logger logging.Logger) *episodicStore {
	col := filestore.NewCollection[string, Episode](filestore.CollectionConfig{
		FilePath: filepath.Join(dir, episodeFileName),
		Name:     "episodic",
	})
	secstore.BindCollection(col, sec, episodeFileName)
	return &episodicStore{
		col:         col,
		embedder:    embedder,
		logger:      logger,
		retention:   retention,
		maxEpisodes: maxEpisodes,
	}
}

func (s *episodicStore) load() error {
	if err := s.col.EnsureDir(); err != nil {
		return err
	}
	if err := s.col.Load(); err != nil {
		return fmt.Errorf("load episodes: %w", err)
	}
	return nil
}

// append records one episode, embedding it for later similarity queries.
// Retention rules run on every append so the log cannot grow without bound.
func (s *episodicStore) append(ctx context.Context, ep Episode) (Episode, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	if len(ep.Embedding) == 0 && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, ep.Input+"\n"+ep.Result)
		if err != nil {
			// An episode without an embedding is still recallable by time.
			s.logger.Warn("episodic: embed failed for %s: %v", ep.ID, err)
		} else {
			ep.Embedding = vec
		}
	}

	err := s.col.Mutate(func(items map[string]Episode) error {
		items[ep.ID] = ep
		s.pruneLocked(items)
		return nil
	})
	if err != nil {
		return Episode{}, fmt.Errorf("store episode: %w", err)
	}
	return ep, nil
}

func (s *episodicStore) pruneLocked(items map[string]Episode) {
	if s.retention > 0 {
		cutoff := time.Now().Add(-s.retention)
		expired := 0
		for id, e := range items {
			if e.CreatedAt.Before(cutoff) {
				delete(items, id)
				expired++
			}
		}
		if expired > 0 {
			s.logger.Debug("episodic: expired %d episodes", expired)
		}
	}
	if s.maxEpisodes > 0 && len(items) > s.maxEpisodes {
		over := len(items) - s.maxEpisodes
		byAge := make([]Episode, 0, len(items))
		for _, e := range items {
			byAge = append(byAge, e)
		}
		sort.Slice(byAge, func(i, j int) bool {
			return byAge[i].CreatedAt.Before(byAge[j].CreatedAt)
		})
		for _, e := range byAge[:over] {
			delete(items, e.ID)
		}
		s.logger.Debug("episodic: evicted %d episodes over cap", over)
	}
}

// recent returns the n newest episodes, newest first.
func (s *episodicStore) recent(n int) []Episode {
	all := s.col.Snapshot()
	episodes := make([]Episode, 0, len(all))
	for _, e := range all {
		episodes = append(episodes, e)
	}
	sort.Slice(episodes, func(i, j int) bool {
		if episodes[i].CreatedAt.Equal(episodes[j].CreatedAt) {
			return episodes[i].ID > episodes[j].ID
		}
		return episodes[i].CreatedAt.After(episodes[j].CreatedAt)
	})
	if n > 0 && len(episodes) > n {
		episodes = episodes[:n]
	}
	return episodes
}

// similar returns up to k episodes ranked by cosine similarity to the query
// text, dropping scores under threshold. Episodes that never got an embedding
// are skipped.
func (s *episodicStore) similar(ctx context.Context, query string, k int, threshold float64) ([]Result, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("episodic: no embedder configured")
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	all := s.col.Snapshot()
	scored := make([]Result, 0, len(all))
	for _, e := range all {
		if len(e.Embedding) == 0 {
			continue
		}
		sim := vector.Cosine(qv, e.Embedding)
		if sim < threshold {
			continue
		}
		scored = append(scored, Result{Kind: KindEpisodic, Item: e.item(), Score: sim})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].Item.ID < scored[j].Item.ID
		}
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *episodicStore) count() int {
	return s.col.Len()
}

func (s *episodicStore) persist() error {
	return s.col.Persist()
}
