// Package cag implements cache-augmented generation: a layered response
// cache in front of the LLM with exact, semantic-similarity, and
// embedding-based lookup tiers, adaptive TTLs, and memory-aware eviction.
// Repeat questions are answered from the cache in microseconds instead of
// a multi-second model call, which matters for interactive security work
// where the same handful of questions dominate.
package cag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/llm"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
	jsonx "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/shared/json"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/vector"
)

const (
	exportVersion  = 1
	cacheStoreName = "cache"
)

// Config tunes the engine. Zero values take the stated defaults.
type Config struct {
	BaseTTL            time.Duration // initial entry lifetime, default 1h
	MaxTTL             time.Duration // adaptive TTL ceiling, default 24h
	HitSaturation      int           // hit count that doubles TTL growth, default 10
	SimilarThreshold   float64       // cosine score for a similar hit, default 0.95
	EmbeddingThreshold float64       // cosine floor for approximate hits, default 0.85
	ScanLimit          int           // MRU entries scanned per similarity lookup, default 512
	MaxEntries         int           // default 10000
	MaxBytes           int64         // estimated footprint budget, default 256 MiB
	SweepInterval      time.Duration // eager expiry sweep period, default 5m
	PreWarmConcurrency int           // parallel pre-warm queries, default 4
}

func (c Config) withDefaults() Config {
	if c.BaseTTL <= 0 {
		c.BaseTTL = time.Hour
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = 24 * time.Hour
	}
	if c.HitSaturation <= 0 {
		c.HitSaturation = 10
	}
	if c.SimilarThreshold <= 0 {
		c.SimilarThreshold = 0.95
	}
	if c.EmbeddingThreshold <= 0 {
		c.EmbeddingThreshold = 0.85
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = 512
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 256 << 20
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.PreWarmConcurrency <= 0 {
		c.PreWarmConcurrency = 4
	}
	return c
}

// QueryOptions adjusts one lookup.
type QueryOptions struct {
	// AcceptApproximate admits embedding-tier matches scoring in
	// [EmbeddingThreshold, SimilarThreshold).
	AcceptApproximate bool
	// Context is caller-assembled knowledge included in the generation
	// prompt on a miss. It does not participate in cache identity.
	Context string
	// System overrides the system prompt for generation.
	System string
}

// Result is the caller-facing answer for one query.
type Result struct {
	Response         string   `json:"response"`
	Cached           bool     `json:"cached"`
	CacheHitType     HitType  `json:"cacheHitType"`
	SimilarityScore  float64  `json:"similarityScore,omitempty"`
	Confidence       float64  `json:"confidence"`
	Techniques       []string `json:"techniques,omitempty"`
	Tools            []string `json:"tools,omitempty"`
	CodeExamples     []string `json:"codeExamples,omitempty"`
	Sources          []string `json:"sources,omitempty"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Entries       int     `json:"entries"`
	Bytes         int64   `json:"bytes"`
	ExactHits     uint64  `json:"exactHits"`
	SimilarHits   uint64  `json:"similarHits"`
	EmbeddingHits uint64  `json:"embeddingHits"`
	Misses        uint64  `json:"misses"`
	Failures      uint64  `json:"failures"`
	Evictions     uint64  `json:"evictions"`
	HitRate       float64 `json:"hitRate"`
}

// Engine answers queries from the cache when it can and from the wrapped
// LLM client when it must. All methods are safe for concurrent use.
type Engine struct {
	config   Config
	client   llm.Client
	embedder embedding.Embedder
	sec      *secstore.Store
	logger   logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries *lru.Cache[string, *entry]

	flight singleflight.Group

	bytes         atomic.Int64
	exactHits     atomic.Uint64
	similarHits   atomic.Uint64
	embeddingHits atomic.Uint64
	misses        atomic.Uint64
	failures      atomic.Uint64
	evictions     atomic.Uint64

	stop      chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// New builds the engine and starts its expiry sweeper. It refuses to
// construct without an encryption key since exports carry model output.
func New(config Config, client llm.Client, embedder embedding.Embedder, sec *secstore.Store, logger logging.Logger) (*Engine, error) {
	if client == nil {
		return nil, errs.NewConfigError("cache requires an LLM client")
	}
	if embedder == nil {
		return nil, errs.NewConfigError("cache requires an embedder")
	}
	if !sec.Available() {
		return nil, errs.NewConfigError("cache requires an encryption key")
	}
	config = config.withDefaults()

	e := &Engine{
		config:    config,
		client:    client,
		embedder:  embedder,
		sec:       sec,
		logger:    logging.OrNop(logger),
		now:       time.Now,
		stop:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	entries, err := lru.NewWithEvict(config.MaxEntries, e.onEvict)
	if err != nil {
		return nil, errs.NewConfigError(fmt.Sprintf("cache index: %v", err))
	}
	e.entries = entries

	go e.runSweeper()
	return e, nil
}

// WithNow overrides the clock. Call before first use.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Close stops the sweeper. The cache stays readable afterwards.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.stop)
		<-e.sweepDone
	})
}

// Query answers one question, preferring the cache tiers in order: exact
// id match, high-similarity match over recent entries, then approximate
// embedding match when opts allow it. Anything else generates.
func (e *Engine) Query(ctx context.Context, query string, opts QueryOptions) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := e.now()

	normalized := Normalize(query)
	if normalized == "" {
		return Result{}, errs.NewConfigError("query is empty")
	}
	qid := QueryID(normalized)

	if res, ok := e.lookupExact(qid); ok {
		e.exactHits.Add(1)
		return e.finish(res, start), nil
	}

	qv := e.embedQuery(ctx, normalized)
	if res, ok := e.lookupSimilar(qv, opts.AcceptApproximate); ok {
		return e.finish(res, start), nil
	}

	return e.generateMiss(ctx, start, normalized, qid, qv, opts)
}

// lookupExact returns the entry with id qid if present and alive.
func (e *Engine) lookupExact(qid string) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.entries.Get(qid)
	if !ok {
		return Result{}, false
	}
	now := e.now()
	if en.expired(now) {
		e.entries.Remove(qid)
		return Result{}, false
	}
	e.bumpLocked(en, now)
	return resultFrom(en, HitExact, 0), true
}

// lookupSimilar scans the most recently used entries for the best cosine
// match against the query embedding.
func (e *Engine) lookupSimilar(qv []float32, acceptApproximate bool) (Result, bool) {
	if len(qv) == 0 {
		return Result{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	keys := e.entries.Keys() // oldest first
	var best *entry
	var bestScore float64
	scanned := 0
	for i := len(keys) - 1; i >= 0 && scanned < e.config.ScanLimit; i-- {
		en, ok := e.entries.Peek(keys[i])
		if !ok {
			continue
		}
		if en.expired(now) {
			e.entries.Remove(keys[i])
			continue
		}
		scanned++
		if len(en.Embedding) == 0 {
			continue
		}
		if score := vector.Cosine(qv, en.Embedding); score > bestScore {
			best, bestScore = en, score
		}
	}
	if best == nil {
		return Result{}, false
	}

	switch {
	case bestScore >= e.config.SimilarThreshold:
		e.entries.Get(best.ID) // refresh recency
		e.bumpLocked(best, now)
		e.similarHits.Add(1)
		return resultFrom(best, HitSimilar, bestScore), true
	case bestScore >= e.config.EmbeddingThreshold && acceptApproximate:
		e.entries.Get(best.ID)
		e.bumpLocked(best, now)
		e.embeddingHits.Add(1)
		return resultFrom(best, HitEmbedding, bestScore), true
	}
	return Result{}, false
}

type missOutcome struct {
	response string
	metadata Metadata
}

// generateMiss coalesces concurrent misses for one qid into a single
// downstream call and caches the result.
func (e *Engine) generateMiss(ctx context.Context, start time.Time, normalized, qid string, qv []float32, opts QueryOptions) (Result, error) {
	ch := e.flight.DoChan(qid, func() (any, error) {
		// Detached from the awaiter's context so one caller cancelling
		// cannot abort the call that other waiters share. The client's
		// own default deadline still bounds it.
		genCtx := context.WithoutCancel(ctx)
		text, err := e.client.Generate(genCtx, llm.Request{
			Prompt: buildPrompt(normalized, opts.Context),
			System: opts.System,
		})
		if err != nil {
			e.failures.Add(1)
			return nil, errs.NewGenerationFailed(err)
		}
		meta := extractMetadata(text)
		e.insert(qid, normalized, text, qv, meta)
		return missOutcome{response: text, metadata: meta}, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		out := res.Val.(missOutcome)
		e.misses.Add(1)
		return e.finish(Result{
			Response:     out.response,
			Cached:       false,
			CacheHitType: HitNone,
			Confidence:   out.metadata.Confidence,
			Techniques:   out.metadata.Techniques,
			Tools:        out.metadata.Tools,
			CodeExamples: out.metadata.CodeExamples,
			Sources:      out.metadata.Sources,
		}, start), nil
	}
}

func (e *Engine) insert(qid, normalized, response string, qv []float32, meta Metadata) {
	now := e.now()
	en := &entry{
		ID:         qid,
		Query:      normalized,
		Response:   response,
		Embedding:  qv,
		Metadata:   meta,
		CreatedAt:  now,
		LastAccess: now,
		TTL:        e.config.BaseTTL,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addLocked(en)
	e.enforceBudgetLocked(now)
}

// bumpLocked applies the hit-side effects: count, adaptive TTL, recency.
// TTL grows faster the more often an entry is hit, saturating at MaxTTL.
func (e *Engine) bumpLocked(en *entry, now time.Time) {
	en.HitCount++
	extended := time.Duration(float64(en.TTL) * (1 + float64(en.HitCount)/float64(e.config.HitSaturation)))
	if extended > e.config.MaxTTL {
		extended = e.config.MaxTTL
	}
	en.TTL = extended
	en.LastAccess = now
}

// addLocked inserts or replaces an entry, keeping the byte counter true.
func (e *Engine) addLocked(en *entry) {
	if old, ok := e.entries.Peek(en.ID); ok {
		e.bytes.Add(-old.sizeBytes())
	}
	e.entries.Add(en.ID, en)
	e.bytes.Add(en.sizeBytes())
}

// enforceBudgetLocked brings the estimated footprint under MaxBytes,
// dropping expired entries first and then strict LRU order.
func (e *Engine) enforceBudgetLocked(now time.Time) {
	if e.bytes.Load() <= e.config.MaxBytes {
		return
	}
	for _, key := range e.entries.Keys() {
		if e.bytes.Load() <= e.config.MaxBytes {
			return
		}
		if en, ok := e.entries.Peek(key); ok && en.expired(now) {
			e.entries.Remove(key)
		}
	}
	for e.bytes.Load() > e.config.MaxBytes && e.entries.Len() > 0 {
		e.entries.RemoveOldest()
	}
}

// onEvict runs inside the LRU's lock; it must only touch atomics.
func (e *Engine) onEvict(_ string, en *entry) {
	e.bytes.Add(-en.sizeBytes())
	e.evictions.Add(1)
}

// Sweep removes every expired entry and re-enforces the byte budget. The
// background sweeper calls this on a timer; exposed for operational use.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	removed := 0
	for _, key := range e.entries.Keys() {
		if en, ok := e.entries.Peek(key); ok && en.expired(now) {
			e.entries.Remove(key)
			removed++
		}
	}
	e.enforceBudgetLocked(now)
	return removed
}

func (e *Engine) runSweeper() {
	defer close(e.sweepDone)
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if removed := e.Sweep(); removed > 0 {
				e.logger.Debug("cag: sweeper removed %d expired entries", removed)
			}
		}
	}
}

// PreWarm runs queries through the engine under the configured concurrency
// cap so later interactive calls hit warm entries. Individual failures are
// logged and skipped; only caller cancellation stops the run. Returns how
// many queries completed.
func (e *Engine) PreWarm(ctx context.Context, queries []string) (int, error) {
	var g errgroup.Group
	g.SetLimit(e.config.PreWarmConcurrency)

	var warmed atomic.Int64
	for _, query := range queries {
		if ctx.Err() != nil {
			break
		}
		query := query
		g.Go(func() error {
			if _, err := e.Query(ctx, query, QueryOptions{}); err != nil {
				e.logger.Warn("cag: pre-warm %q failed: %v", truncate(query, 60), err)
				return nil
			}
			warmed.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(warmed.Load()), ctx.Err()
}

// Export writes the live entries to an encrypted file at path.
func (e *Engine) Export(path string) error {
	e.mu.Lock()
	now := e.now()
	doc := exportDoc{Version: exportVersion}
	for _, key := range e.entries.Keys() {
		if en, ok := e.entries.Peek(key); ok && !en.expired(now) {
			doc.Entries = append(doc.Entries, en.toExport())
		}
	}
	e.mu.Unlock()

	data, err := jsonx.MarshalIndentln(doc)
	if err != nil {
		return fmt.Errorf("encode cache export: %w", err)
	}
	if err := e.sec.WriteFile(path, cacheStoreName, data); err != nil {
		return err
	}
	e.logger.Info("cag: exported %d cache entries to %s", len(doc.Entries), path)
	return nil
}

// Import merges entries from an encrypted export. An id already present
// keeps whichever side has the larger hit count. Entries whose id does not
// match their query hash are skipped, as are expired ones. Returns how
// many entries were merged in.
func (e *Engine) Import(path string) (int, error) {
	data, err := e.sec.ReadFile(path, cacheStoreName)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, errs.NewNotFound("cache export", path)
	}

	var doc exportDoc
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return 0, errs.NewCorruptError("cache export is not valid JSON", err)
	}
	if doc.Version != exportVersion {
		return 0, errs.NewCorruptError(fmt.Sprintf("unsupported cache export version %d", doc.Version), nil)
	}

	now := e.now()
	imported := 0
	e.mu.Lock()
	for _, ee := range doc.Entries {
		if ee.ID == "" || ee.ID != QueryID(ee.Query) {
			continue
		}
		en := ee.toEntry()
		if en.expired(now) {
			continue
		}
		if old, ok := e.entries.Peek(en.ID); ok && old.HitCount >= en.HitCount {
			continue
		}
		e.addLocked(en)
		imported++
	}
	e.enforceBudgetLocked(now)
	e.mu.Unlock()

	e.logger.Info("cag: imported %d cache entries from %s", imported, path)
	return imported, nil
}

// Statistics snapshots the counters.
func (e *Engine) Statistics() Stats {
	e.mu.Lock()
	entryCount := e.entries.Len()
	e.mu.Unlock()

	exact := e.exactHits.Load()
	similar := e.similarHits.Load()
	embed := e.embeddingHits.Load()
	misses := e.misses.Load()
	hits := exact + similar + embed

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:       entryCount,
		Bytes:         e.bytes.Load(),
		ExactHits:     exact,
		SimilarHits:   similar,
		EmbeddingHits: embed,
		Misses:        misses,
		Failures:      e.failures.Load(),
		Evictions:     e.evictions.Load(),
		HitRate:       rate,
	}
}

// Len reports the live entry count.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entries.Len()
}

func (e *Engine) finish(res Result, start time.Time) Result {
	res.ProcessingTimeMs = e.now().Sub(start).Milliseconds()
	return res
}

// embedQuery computes the query embedding. Failures degrade to exact-only
// lookup instead of failing the query.
func (e *Engine) embedQuery(ctx context.Context, normalized string) []float32 {
	qv, err := e.embedder.Embed(ctx, normalized)
	if err != nil {
		e.logger.Warn("cag: embedding failed, similarity tiers skipped: %v", err)
		return nil
	}
	return qv
}

func resultFrom(en *entry, hit HitType, score float64) Result {
	return Result{
		Response:        en.Response,
		Cached:          true,
		CacheHitType:    hit,
		SimilarityScore: score,
		Confidence:      en.Metadata.Confidence,
		Techniques:      en.Metadata.Techniques,
		Tools:           en.Metadata.Tools,
		CodeExamples:    en.Metadata.CodeExamples,
		Sources:         en.Metadata.Sources,
	}
}

func buildPrompt(normalized, contextBlock string) string {
	if contextBlock == "" {
		return normalized
	}
	return "Context:\n" + contextBlock + "\n\nQuestion: " + normalized
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
