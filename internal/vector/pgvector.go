package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	jsonx "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/shared/json"
)

// PgVectorConfig configures the Postgres backend.
type PgVectorConfig struct {
	DSN        string
	Table      string // default "documents"
	Dimensions int    // column width; defaults to the embedder's dimension
}

// PgVectorStore satisfies Store with a pgvector column and the cosine
// distance operator. Encryption at rest is the database's concern here.
type PgVectorStore struct {
	pool     *pgxpool.Pool
	config   PgVectorConfig
	embedder embedding.Embedder
	logger   logging.Logger
}

// NewPgVector connects, ensures the schema, and returns the store.
func NewPgVector(ctx context.Context, config PgVectorConfig, embedder embedding.Embedder, logger logging.Logger) (*PgVectorStore, error) {
	if config.Table == "" {
		config.Table = "documents"
	}
	if !validTableName(config.Table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", config.Table)
	}
	if config.Dimensions <= 0 {
		config.Dimensions = embedder.Dimensions()
	}

	pool, err := pgxpool.New(ctx, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PgVectorStore{
		pool:     pool,
		config:   config,
		embedder: embedder,
		logger:   logging.OrNop(logger),
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func validTableName(name string) bool {
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return name != ""
}

func (s *PgVectorStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    embedding VECTOR(%d) NOT NULL
);`, s.config.Table, s.config.Dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops);`,
			s.config.Table, s.config.Table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// vectorLiteral renders a pgvector text literal: [v1,v2,...].
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 2)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Add inserts or replaces one document.
func (s *PgVectorStore) Add(ctx context.Context, doc Document) error {
	vec := doc.Embedding
	if vec == nil {
		var err error
		vec, err = s.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
	}
	if len(vec) != s.config.Dimensions {
		return fmt.Errorf("pgvector: dimension mismatch for document %s: got %d, want %d", doc.ID, len(vec), s.config.Dimensions)
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := jsonx.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, content, metadata, embedding)
VALUES ($1, $2, $3::jsonb, $4::vector)
ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
`, s.config.Table), doc.ID, doc.Content, metadataJSON, vectorLiteral(vec))
	return err
}

// AddBatch embeds missing vectors in bulk, then inserts row by row.
func (s *PgVectorStore) AddBatch(ctx context.Context, docs []Document) error {
	pending := make([]int, 0, len(docs))
	texts := make([]string, 0, len(docs))
	for i, doc := range docs {
		if doc.Embedding == nil {
			pending = append(pending, i)
			texts = append(texts, doc.Content)
		}
	}
	if len(texts) > 0 {
		const chunkSize = 100
		for start := 0; start < len(texts); start += chunkSize {
			end := min(start+chunkSize, len(texts))
			vecs, err := s.embedder.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}
			for j, vec := range vecs {
				docs[pending[start+j]].Embedding = vec
			}
		}
	}

	for _, doc := range docs {
		if err := s.Add(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// FindSimilar runs a cosine nearest-neighbor query.
func (s *PgVectorStore) FindSimilar(ctx context.Context, query string, k int, threshold float64) ([]SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS similarity
FROM %s
ORDER BY embedding <=> $1::vector
LIMIT $2
`, s.config.Table), vectorLiteral(queryVec), k)
	if err != nil {
		return nil, fmt.Errorf("query similar: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			doc          Document
			metadataJSON []byte
			sim          float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &sim); err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			var metadata map[string]string
			if err := jsonx.Unmarshal(metadataJSON, &metadata); err == nil {
				doc.Metadata = metadata
			}
		}
		if sim < 0 {
			sim = 0
		}
		if sim < threshold {
			continue
		}
		results = append(results, SearchResult{Document: doc, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Remove deletes a document by id.
func (s *PgVectorStore) Remove(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.config.Table), id)
	return err
}

// Count returns the number of rows, or 0 when the query fails.
func (s *PgVectorStore) Count() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.config.Table)).Scan(&count)
	if err != nil {
		s.logger.Warn("pgvector: count failed: %v", err)
		return 0
	}
	return count
}

// Close releases the connection pool.
func (s *PgVectorStore) Close() error {
	s.pool.Close()
	return nil
}
