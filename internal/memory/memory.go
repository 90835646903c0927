package memory

import (
	"time"
)

// Kind selects which store a memory item lives in.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
	KindWorking    Kind = "working"
)

// AllKinds lists every store, in retrieval order.
var AllKinds = []Kind{KindEpisodic, KindSemantic, KindProcedural, KindWorking}

// Valid reports whether k names a known store.
func (k Kind) Valid() bool {
	switch k {
	case KindEpisodic, KindSemantic, KindProcedural, KindWorking:
		return true
	}
	return false
}

// Item is one memory record. The service assigns ID and Timestamp when the
// caller leaves them zero.
type Item struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Result is one retrieval match. Score is cosine similarity for the
// embedding-backed stores and 1.0 for exact procedural name matches; recency
// matches from working memory carry 0.
type Result struct {
	Kind  Kind    `json:"kind"`
	Item  Item    `json:"item"`
	Score float64 `json:"score"`
}

// RetrieveOptions narrows a retrieval. Zero values mean: all kinds, k=5,
// no threshold.
type RetrieveOptions struct {
	Kinds     []Kind  `json:"kinds,omitempty"`
	K         int     `json:"k,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

func (o RetrieveOptions) withDefaults() RetrieveOptions {
	if len(o.Kinds) == 0 {
		o.Kinds = AllKinds
	}
	if o.K <= 0 {
		o.K = 5
	}
	return o
}

// BatchResult is the outcome of one query inside RetrieveBatch. A failed
// query carries Err and leaves its siblings untouched.
type BatchResult struct {
	Query   string   `json:"query"`
	Success bool     `json:"success"`
	Results []Result `json:"results,omitempty"`
	Err     string   `json:"error,omitempty"`
}

// Statistics is a point-in-time snapshot of store sizes and service counters.
type Statistics struct {
	EpisodeCount    int       `json:"episodeCount"`
	SemanticCount   int       `json:"semanticCount"`
	ProcedureCount  int       `json:"procedureCount"`
	WorkingCount    int       `json:"workingCount"`
	WorkingCapacity int       `json:"workingCapacity"`
	StoredTotal     uint64    `json:"storedTotal"`
	RetrievedTotal  uint64    `json:"retrievedTotal"`
	LastPersist     time.Time `json:"lastPersist"`
}
