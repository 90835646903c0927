package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/vector"
)

// Config tunes the memory service. Zero values take the stated defaults.
type Config struct {
	Dir                 string        // root directory for encrypted store files
	WorkingCapacity     int           // default 10
	RetrieveConcurrency int           // RetrieveBatch cap, default 5
	CodeLoadingEnabled  bool          // gates rehydration of persisted procedures
	EpisodeRetention    time.Duration // 0 = keep forever
	MaxEpisodes         int           // 0 = unbounded
	PlaybookDir         string        // optional YAML procedure definitions
}

const defaultRetrieveConcurrency = 5

func (c Config) withDefaults() Config {
	if c.WorkingCapacity <= 0 {
		c.WorkingCapacity = DefaultWorkingCapacity
	}
	if c.RetrieveConcurrency <= 0 {
		c.RetrieveConcurrency = defaultRetrieveConcurrency
	}
	return c
}

// Service fronts the four memory stores behind one API. All methods are safe
// for concurrent use.
type Service struct {
	config     Config
	episodic   *episodicStore
	semantic   *semanticStore
	procedural *proceduralStore
	working    *workingStore
	logger     logging.Logger

	stored    atomic.Uint64
	retrieved atomic.Uint64

	mu          sync.Mutex
	lastPersist time.Time
	initialized bool
}

// New wires the service. It refuses to construct without an encryption key:
// episodic and procedural records carry interaction content and must never
// reach disk in the clear.
func New(config Config, store vector.Store, embedder embedding.Embedder, sec *secstore.Store, logger logging.Logger) (*Service, error) {
	if !sec.Available() {
		return nil, errs.NewConfigError("memory requires an encryption key")
	}
	if store == nil {
		return nil, errs.NewConfigError("memory requires a vector store")
	}
	config = config.withDefaults()
	logger = logging.OrNop(logger)

	return &Service{
		config:     config,
		episodic:   newEpisodicStore(config.Dir, embedder, sec, config.EpisodeRetention, config.MaxEpisodes, logger),
		semantic:   &semanticStore{store: store},
		procedural: newProceduralStore(config.Dir, sec, config.CodeLoadingEnabled, logger),
		working:    newWorkingStore(config.WorkingCapacity),
		logger:     logger,
	}, nil
}

// Initialize loads persisted state and seeds playbook procedures. Safe to
// call once; later calls are no-ops.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.episodic.load(); err != nil {
		return err
	}
	if err := s.procedural.load(); err != nil {
		return err
	}
	if err := s.procedural.seedPlaybooks(s.config.PlaybookDir); err != nil {
		return err
	}
	s.initialized = true
	s.logger.Info("memory: initialized (episodes=%d, procedures=%d, semantic=%d)",
		s.episodic.count(), s.procedural.count(), s.semantic.count())
	return nil
}

// Store writes one item into the store named by kind and returns it with its
// assigned id and timestamp.
func (s *Service) Store(ctx context.Context, kind Kind, item Item) (Item, error) {
	var (
		stored Item
		err    error
	)
	switch kind {
	case KindEpisodic:
		var ep Episode
		ep, err = s.episodic.append(ctx, Episode{
			ID:      item.ID,
			Input:   item.Content,
			Result:  item.Metadata["result"],
			Context: contextFrom(item.Metadata),
		})
		stored = ep.item()
	case KindSemantic:
		stored, err = s.semantic.add(ctx, item)
	case KindProcedural:
		var proc Procedure
		proc, err = s.procedural.define(Procedure{
			Name:   item.ID,
			Params: splitParams(item.Metadata["params"]),
			Body:   item.Content,
		})
		stored = proc.item()
	case KindWorking:
		stored = s.working.push(item)
	default:
		return Item{}, fmt.Errorf("unknown memory kind %q", kind)
	}
	if err != nil {
		return Item{}, err
	}
	s.stored.Add(1)
	return stored, nil
}

// StoreBatch writes items sequentially. On failure it stops and reports the
// failing index; earlier items remain stored.
func (s *Service) StoreBatch(ctx context.Context, kind Kind, items []Item) ([]Item, error) {
	if kind == KindSemantic {
		// The vector store has a real batch path; use it.
		stored, err := s.semantic.addBatch(ctx, items)
		if err != nil {
			return nil, err
		}
		s.stored.Add(uint64(len(stored)))
		return stored, nil
	}
	stored := make([]Item, 0, len(items))
	for i, item := range items {
		got, err := s.Store(ctx, kind, item)
		if err != nil {
			return stored, fmt.Errorf("store batch item %d: %w", i, err)
		}
		stored = append(stored, got)
	}
	return stored, nil
}

// Retrieve queries the selected stores and merges their matches, best score
// first. K bounds each store's contribution, not the merged total.
func (s *Service) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]Result, error) {
	opts = opts.withDefaults()

	var merged []Result
	for _, kind := range opts.Kinds {
		switch kind {
		case KindEpisodic:
			if strings.TrimSpace(query) == "" {
				// No query text: fall back to the last-N view.
				for _, ep := range s.episodic.recent(opts.K) {
					merged = append(merged, Result{Kind: KindEpisodic, Item: ep.item()})
				}
				continue
			}
			results, err := s.episodic.similar(ctx, query, opts.K, opts.Threshold)
			if err != nil {
				return nil, err
			}
			merged = append(merged, results...)
		case KindSemantic:
			results, err := s.semantic.similar(ctx, query, opts.K, opts.Threshold)
			if err != nil {
				return nil, err
			}
			merged = append(merged, results...)
		case KindProcedural:
			merged = append(merged, s.procedural.matches(query, opts.K)...)
		case KindWorking:
			for _, item := range s.working.recent(opts.K) {
				merged = append(merged, Result{Kind: KindWorking, Item: item})
			}
		default:
			return nil, fmt.Errorf("unknown memory kind %q", kind)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	s.retrieved.Add(uint64(len(merged)))
	return merged, nil
}

// RetrieveBatch runs queries concurrently under the configured cap. Each
// query reports its own success or failure; one failure never aborts
// siblings.
func (s *Service) RetrieveBatch(ctx context.Context, queries []string, opts RetrieveOptions) []BatchResult {
	results := make([]BatchResult, len(queries))
	sem := make(chan struct{}, s.config.RetrieveConcurrency)
	var wg sync.WaitGroup

	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			matches, err := s.Retrieve(ctx, q, opts)
			if err != nil {
				results[i] = BatchResult{Query: q, Err: err.Error()}
				return
			}
			results[i] = BatchResult{Query: q, Success: true, Results: matches}
		}(i, q)
	}
	wg.Wait()
	return results
}

// StoreInteraction records one exchange: an episode for long-term recall plus
// two working-memory turns for short-term context assembly.
func (s *Service) StoreInteraction(ctx context.Context, input, result string, meta map[string]string) (Episode, error) {
	ep, err := s.episodic.append(ctx, Episode{Input: input, Result: result, Context: meta})
	if err != nil {
		return Episode{}, err
	}
	s.working.push(Item{Content: input, Metadata: map[string]string{"role": "user", "episode": ep.ID}})
	s.working.push(Item{Content: result, Metadata: map[string]string{"role": "assistant", "episode": ep.ID}})
	s.stored.Add(1)
	return ep, nil
}

// RecentEpisodes returns the n newest episodes, newest first.
func (s *Service) RecentEpisodes(n int) []Episode {
	return s.episodic.recent(n)
}

// WorkingItems returns up to n working-memory turns, newest first.
func (s *Service) WorkingItems(n int) []Item {
	return s.working.recent(n)
}

// ClearWorking empties working memory. Called on session end.
func (s *Service) ClearWorking() {
	s.working.clear()
	s.logger.Debug("memory: working memory cleared")
}

// RegisterProcedure binds a Go handler to a procedure name.
func (s *Service) RegisterProcedure(name string, h Handler) {
	s.procedural.register(name, h)
}

// InvokeProcedure runs a registered procedure.
func (s *Service) InvokeProcedure(ctx context.Context, name string, args map[string]string) (string, error) {
	return s.procedural.invoke(ctx, name, args)
}

// Statistics snapshots store sizes and service counters.
func (s *Service) Statistics() Statistics {
	s.mu.Lock()
	last := s.lastPersist
	s.mu.Unlock()
	return Statistics{
		EpisodeCount:    s.episodic.count(),
		SemanticCount:   s.semantic.count(),
		ProcedureCount:  s.procedural.count(),
		WorkingCount:    s.working.len(),
		WorkingCapacity: s.config.WorkingCapacity,
		StoredTotal:     s.stored.Load(),
		RetrievedTotal:  s.retrieved.Load(),
		LastPersist:     last,
	}
}

// Persist flushes the file-backed stores. The vector store persists on
// mutation and is not touched here.
func (s *Service) Persist(ctx context.Context) error {
	if err := s.episodic.persist(); err != nil {
		return err
	}
	if err := s.procedural.persist(); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastPersist = time.Now()
	s.mu.Unlock()
	return nil
}

// Shutdown persists everything and closes the vector store. Working memory
// is intentionally dropped.
func (s *Service) Shutdown(ctx context.Context) error {
	if err := s.Persist(ctx); err != nil {
		return err
	}
	s.working.clear()
	if err := s.semantic.store.Close(); err != nil {
		return fmt.Errorf("close vector store: %w", err)
	}
	s.logger.Info("memory: shut down")
	return nil
}

func contextFrom(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if k == "result" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func splitParams(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	params := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			params = append(params, trimmed)
		}
	}
	return params
}
