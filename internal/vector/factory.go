package vector

import (
	"context"
	"fmt"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
)

// Config selects and tunes a vector store backend.
type Config struct {
	Backend     string // "hnsw" (default), "chromem", "pgvector"
	PersistPath string

	// HNSW tuning.
	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64

	// chromem.
	Collection string

	// pgvector.
	DSN        string
	Table      string
	Dimensions int
}

// NewStore builds the configured backend.
func NewStore(ctx context.Context, config Config, embedder embedding.Embedder, sec *secstore.Store, logger logging.Logger) (Store, error) {
	switch config.Backend {
	case "", "hnsw":
		return NewHNSW(HNSWConfig{
			PersistPath:    config.PersistPath,
			M:              config.M,
			EfConstruction: config.EfConstruction,
			EfSearch:       config.EfSearch,
			Seed:           config.Seed,
		}, embedder, sec, logger)
	case "chromem":
		return NewChromem(ChromemConfig{
			PersistPath: config.PersistPath,
			Collection:  config.Collection,
		}, embedder, logger)
	case "pgvector":
		return NewPgVector(ctx, PgVectorConfig{
			DSN:        config.DSN,
			Table:      config.Table,
			Dimensions: config.Dimensions,
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", config.Backend)
	}
}
