package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// localEmbedder produces deterministic pseudo-random unit vectors seeded by
// the text hash. It carries no semantic signal, but it is stable across
// processes, which is what offline deployments and index round-trip checks
// need.
type localEmbedder struct {
	dims int
}

// NewLocal creates a deterministic offline embedder.
func NewLocal(dims int) Embedder {
	if dims <= 0 {
		dims = 128
	}
	return &localEmbedder{dims: dims}
}

func (e *localEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, e.dims)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func (e *localEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *localEmbedder) Dimensions() int {
	return e.dims
}
