package vector

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
)

// HNSWConfig tunes the graph. Zero values take the standard defaults.
type HNSWConfig struct {
	PersistPath    string // directory for the index file; empty = in-memory only
	M              int    // max neighbors per node above layer 0 (default 16)
	EfConstruction int    // beam width during insert (default 200)
	EfSearch       int    // beam width during query (default 50)
	Seed           int64  // level RNG seed; 0 = time-based
}

func (c HNSWConfig) withDefaults() HNSWConfig {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// indexFileName is the on-disk name of the serialized graph, which doubles
// as the key-derivation salt for its encrypted frame.
const indexFileName = "hnsw-index"

// levelCap bounds the exponential level draw so a pathological U cannot
// produce an absurdly tall node.
const levelCap = 48

type hnswNode struct {
	id       string
	vector   []float32
	content  string
	metadata map[string]string
	level    int
	// conns[layer] holds neighbor ids; len(conns) == level+1.
	conns [][]string
}

// HNSW is an in-process Hierarchical Navigable Small World index. All public
// methods are safe for concurrent use. Mutations persist the full graph
// through the encrypted store when a persist path is configured.
type HNSW struct {
	config   HNSWConfig
	embedder embedding.Embedder
	sec      *secstore.Store
	logger   logging.Logger

	mu         sync.RWMutex
	nodes      map[string]*hnswNode
	entryPoint string
	maxLayer   int
	dims       int
	rng        *rand.Rand

	mL float64
}

// NewHNSW builds the index, loading persisted state when present. A persist
// path requires an encryption-capable secstore.
func NewHNSW(config HNSWConfig, embedder embedding.Embedder, sec *secstore.Store, logger logging.Logger) (*HNSW, error) {
	config = config.withDefaults()
	if config.PersistPath != "" && !sec.Available() {
		return nil, fmt.Errorf("hnsw: persistence requires an encryption key")
	}

	h := &HNSW{
		config:   config,
		embedder: embedder,
		sec:      sec,
		logger:   logging.OrNop(logger),
		nodes:    make(map[string]*hnswNode),
		rng:      rand.New(rand.NewSource(config.Seed)),
		mL:       1 / math.Ln2,
	}
	if err := h.load(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HNSW) indexPath() string {
	return filepath.Join(h.config.PersistPath, indexFileName)
}

// randomLevel draws a layer with exponential decay: floor(-ln(U) * mL).
func (h *HNSW) randomLevel() int {
	u := h.rng.Float64()
	for u == 0 {
		u = h.rng.Float64()
	}
	level := int(math.Floor(-math.Log(u) * h.mL))
	if level > levelCap {
		level = levelCap
	}
	return level
}

func (h *HNSW) maxNeighbors(layer int) int {
	if layer == 0 {
		return 2 * h.config.M
	}
	return h.config.M
}

// Add inserts one document, embedding its content unless an embedding is
// supplied.
func (h *HNSW) Add(ctx context.Context, doc Document) error {
	vec := doc.Embedding
	if vec == nil {
		var err error
		vec, err = h.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.insertLocked(doc, vec); err != nil {
		return err
	}
	return h.persistLocked()
}

// AddBatch inserts documents in bulk. Missing embeddings are computed in
// chunks before the index lock is taken, so slow embedding calls never
// block readers.
func (h *HNSW) AddBatch(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	pending := make([]int, 0, len(docs))
	for i, doc := range docs {
		if doc.Embedding == nil {
			pending = append(pending, i)
		}
	}

	if len(pending) > 0 {
		embedded := make([][]float32, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		const chunkSize = 100
		for start := 0; start < len(pending); start += chunkSize {
			end := min(start+chunkSize, len(pending))
			offset := start
			chunk := pending[start:end]
			g.Go(func() error {
				texts := make([]string, len(chunk))
				for j, idx := range chunk {
					texts[j] = docs[idx].Content
				}
				vecs, err := h.embedder.EmbedBatch(gctx, texts)
				if err != nil {
					return err
				}
				copy(embedded[offset:], vecs)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		for j, idx := range pending {
			docs[idx].Embedding = embedded[j]
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, doc := range docs {
		if err := h.insertLocked(doc, doc.Embedding); err != nil {
			return err
		}
	}
	return h.persistLocked()
}

func (h *HNSW) insertLocked(doc Document, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("hnsw: empty vector for document %s", doc.ID)
	}
	if h.dims == 0 {
		h.dims = len(vec)
	} else if len(vec) != h.dims {
		return fmt.Errorf("hnsw: dimension mismatch for document %s: got %d, want %d", doc.ID, len(vec), h.dims)
	}

	if _, exists := h.nodes[doc.ID]; exists {
		h.removeLocked(doc.ID)
	}

	level := h.randomLevel()
	n := &hnswNode{
		id:       doc.ID,
		vector:   vec,
		content:  doc.Content,
		metadata: doc.Metadata,
		level:    level,
		conns:    make([][]string, level+1),
	}

	if len(h.nodes) == 0 {
		h.nodes[n.id] = n
		h.entryPoint = n.id
		h.maxLayer = level
		return nil
	}

	ep := h.greedyDescendLocked(vec, h.entryPoint, h.maxLayer, level)

	for layer := min(level, h.maxLayer); layer >= 0; layer-- {
		cands := h.searchLayerLocked(vec, ep, h.config.EfConstruction, layer)
		if len(cands) == 0 {
			continue
		}
		m := h.maxNeighbors(layer)
		selected := cands
		if len(selected) > m {
			selected = selected[:m]
		}

		ids := make([]string, len(selected))
		for i, s := range selected {
			ids[i] = s.id
		}
		n.conns[layer] = ids

		for _, s := range selected {
			nb := h.nodes[s.id]
			if nb == nil || layer > nb.level {
				continue
			}
			nb.conns[layer] = append(nb.conns[layer], n.id)
			if len(nb.conns[layer]) > h.maxNeighbors(layer) {
				h.pruneLocked(nb, layer)
			}
		}
		ep = cands[0].id
	}

	h.nodes[n.id] = n
	if level > h.maxLayer {
		h.maxLayer = level
		h.entryPoint = n.id
	}
	return nil
}

// pruneLocked trims a node's neighbor list at layer to the cap, keeping the
// closest neighbors by similarity to the node's own vector.
func (h *HNSW) pruneLocked(n *hnswNode, layer int) {
	limit := h.maxNeighbors(layer)
	conns := n.conns[layer]
	if len(conns) <= limit {
		return
	}

	scored := make([]scoredNode, 0, len(conns))
	for _, id := range conns {
		nb := h.nodes[id]
		if nb == nil {
			continue
		}
		scored = append(scored, scoredNode{id: id, sim: Cosine(n.vector, nb.vector)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].sim > scored[j].sim })
	if len(scored) > limit {
		scored = scored[:limit]
	}

	kept := make([]string, len(scored))
	for i, s := range scored {
		kept[i] = s.id
	}
	n.conns[layer] = kept
}

// greedyDescendLocked walks from fromLayer down to toLayer+1 with beam
// width 1, returning the closest entry for the next phase.
func (h *HNSW) greedyDescendLocked(query []float32, entryID string, fromLayer, toLayer int) string {
	cur := entryID
	curNode := h.nodes[cur]
	if curNode == nil {
		return cur
	}
	curSim := Cosine(query, curNode.vector)

	for layer := fromLayer; layer > toLayer; layer-- {
		for {
			improved := false
			n := h.nodes[cur]
			if n == nil || layer > n.level {
				break
			}
			for _, nbID := range n.conns[layer] {
				nb := h.nodes[nbID]
				if nb == nil {
					continue
				}
				if sim := Cosine(query, nb.vector); sim > curSim {
					cur, curSim = nbID, sim
					improved = true
				}
			}
			if !improved {
				break
			}
		}
	}
	return cur
}

// searchLayerLocked runs a beam search of width ef at one layer, returning
// candidates sorted by descending similarity.
func (h *HNSW) searchLayerLocked(query []float32, entryID string, ef, layer int) []scoredNode {
	entry := h.nodes[entryID]
	if entry == nil {
		return nil
	}

	visited := map[string]bool{entryID: true}
	entrySim := Cosine(query, entry.vector)

	candidates := &maxSimHeap{{id: entryID, sim: entrySim}}
	results := &minSimHeap{{id: entryID, sim: entrySim}}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(scoredNode)
		if results.Len() >= ef && c.sim < (*results)[0].sim {
			break
		}
		n := h.nodes[c.id]
		if n == nil || layer > n.level {
			continue
		}
		for _, nbID := range n.conns[layer] {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true
			nb := h.nodes[nbID]
			if nb == nil {
				continue
			}
			sim := Cosine(query, nb.vector)
			if results.Len() < ef || sim > (*results)[0].sim {
				heap.Push(candidates, scoredNode{id: nbID, sim: sim})
				heap.Push(results, scoredNode{id: nbID, sim: sim})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]scoredNode, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(scoredNode)
	}
	return out
}

// FindSimilar embeds the query and returns up to k documents scoring at or
// above threshold, best first.
func (h *HNSW) FindSimilar(ctx context.Context, query string, k int, threshold float64) ([]SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	queryVec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return h.FindSimilarByVector(queryVec, k, threshold), nil
}

// FindSimilarByVector searches with a precomputed query vector.
func (h *HNSW) FindSimilarByVector(queryVec []float32, k int, threshold float64) []SearchResult {
	if k <= 0 {
		k = 5
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.nodes) == 0 {
		return nil
	}
	if h.dims != 0 && len(queryVec) != h.dims {
		h.logger.Warn("hnsw: query dimension %d does not match index dimension %d", len(queryVec), h.dims)
	}

	ef := h.config.EfSearch
	if ef < k {
		ef = k
	}

	ep := h.greedyDescendLocked(queryVec, h.entryPoint, h.maxLayer, 0)
	cands := h.searchLayerLocked(queryVec, ep, ef, 0)

	results := make([]SearchResult, 0, min(k, len(cands)))
	for _, c := range cands {
		if c.sim < threshold {
			continue
		}
		n := h.nodes[c.id]
		if n == nil {
			continue
		}
		results = append(results, SearchResult{
			Document: Document{
				ID:        n.id,
				Content:   n.content,
				Embedding: n.vector,
				Metadata:  n.metadata,
			},
			Similarity: c.sim,
		})
		if len(results) == k {
			break
		}
	}
	return results
}

// Remove deletes a document. Removing an absent id is a no-op.
func (h *HNSW) Remove(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.nodes[id]; !ok {
		return nil
	}
	h.removeLocked(id)
	return h.persistLocked()
}

func (h *HNSW) removeLocked(id string) {
	n := h.nodes[id]
	if n == nil {
		return
	}
	delete(h.nodes, id)

	// Two-way edge cleanup: strip the id from its recorded neighbors.
	// Asymmetric stragglers left by earlier pruning are skipped lazily
	// during traversal.
	for layer, conns := range n.conns {
		for _, nbID := range conns {
			nb := h.nodes[nbID]
			if nb == nil || layer > nb.level {
				continue
			}
			nb.conns[layer] = removeID(nb.conns[layer], id)
		}
	}

	if h.entryPoint != id {
		return
	}
	if len(h.nodes) == 0 {
		h.entryPoint = ""
		h.maxLayer = 0
		h.dims = 0
		return
	}
	// Promote the tallest remaining node and recompute maxLayer so every
	// layer stays reachable from the entry point.
	best := ""
	bestLevel := -1
	for nid, node := range h.nodes {
		if node.level > bestLevel {
			best, bestLevel = nid, node.level
		}
	}
	h.entryPoint = best
	h.maxLayer = bestLevel
}

func removeID(ids []string, id string) []string {
	keep := ids[:0]
	for _, v := range ids {
		if v != id {
			keep = append(keep, v)
		}
	}
	return keep
}

// Count returns the number of live documents.
func (h *HNSW) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Close persists the index a final time.
func (h *HNSW) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.persistLocked()
}

type scoredNode struct {
	id  string
	sim float64
}

// maxSimHeap pops the most similar candidate first.
type maxSimHeap []scoredNode

func (h maxSimHeap) Len() int           { return len(h) }
func (h maxSimHeap) Less(i, j int) bool { return h[i].sim > h[j].sim }
func (h maxSimHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxSimHeap) Push(x any)        { *h = append(*h, x.(scoredNode)) }

func (h *maxSimHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minSimHeap pops the least similar result first, so the worst entry can be
// evicted when the beam overflows.
type minSimHeap []scoredNode

func (h minSimHeap) Len() int           { return len(h) }
func (h minSimHeap) Less(i, j int) bool { return h[i].sim < h[j].sim }
func (h minSimHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minSimHeap) Push(x any)        { *h = append(*h, x.(scoredNode)) }

func (h *minSimHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
