package cag

import "time"

// HitType names the cache tier that answered a query.
type HitType string

const (
	HitExact     HitType = "exact"
	HitSimilar   HitType = "similar"
	HitEmbedding HitType = "embedding"
	HitNone      HitType = "none"
)

// entry is one cached response. Mutable fields (hit count, TTL, last
// access) are guarded by the engine mutex.
type entry struct {
	ID         string
	Query      string // normalized form
	Response   string
	Embedding  []float32
	Metadata   Metadata
	HitCount   int
	CreatedAt  time.Time
	LastAccess time.Time
	TTL        time.Duration
}

// expired reports whether the entry's sliding TTL window has lapsed. The
// window restarts on every hit, so frequently asked entries stay warm.
func (en *entry) expired(now time.Time) bool {
	return now.After(en.LastAccess.Add(en.TTL))
}

// entryOverhead approximates per-entry bookkeeping: struct fields, map
// slot, LRU list element.
const entryOverhead = 160

// sizeBytes estimates the entry's memory footprint for the byte budget.
func (en *entry) sizeBytes() int64 {
	size := int64(entryOverhead + len(en.ID) + len(en.Query) + len(en.Response) + 4*len(en.Embedding))
	for _, s := range en.Metadata.Techniques {
		size += int64(len(s))
	}
	for _, s := range en.Metadata.Tools {
		size += int64(len(s))
	}
	for _, s := range en.Metadata.CodeExamples {
		size += int64(len(s))
	}
	for _, s := range en.Metadata.Sources {
		size += int64(len(s))
	}
	return size
}

// exportDoc is the on-disk shape for Export and Import.
type exportDoc struct {
	Version int           `json:"version"`
	Entries []exportEntry `json:"entries"`
}

type exportEntry struct {
	ID             string    `json:"id"`
	Query          string    `json:"query"`
	Response       string    `json:"response"`
	Embedding      []float32 `json:"embedding,omitempty"`
	HitCount       int       `json:"hitCount"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	TTLMs          int64     `json:"ttlMs"`
	Metadata       Metadata  `json:"metadata"`
}

func (en *entry) toExport() exportEntry {
	return exportEntry{
		ID:             en.ID,
		Query:          en.Query,
		Response:       en.Response,
		Embedding:      en.Embedding,
		HitCount:       en.HitCount,
		CreatedAt:      en.CreatedAt,
		LastAccessedAt: en.LastAccess,
		TTLMs:          en.TTL.Milliseconds(),
		Metadata:       en.Metadata,
	}
}

func (ee exportEntry) toEntry() *entry {
	return &entry{
		ID:         ee.ID,
		Query:      ee.Query,
		Response:   ee.Response,
		Embedding:  ee.Embedding,
		Metadata:   ee.Metadata,
		HitCount:   ee.HitCount,
		CreatedAt:  ee.CreatedAt,
		LastAccess: ee.LastAccessedAt,
		TTL:        time.Duration(ee.TTLMs) * time.Millisecond,
	}
}
