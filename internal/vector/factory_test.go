package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
)

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewLocal(16)

	store, err := NewStore(ctx, Config{Seed: 1}, emb, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &HNSW{}, store, "empty backend defaults to hnsw")
	require.NoError(t, store.Close())

	store, err = NewStore(ctx, Config{Backend: "hnsw", Seed: 1}, emb, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &HNSW{}, store)
	require.NoError(t, store.Close())

	store, err = NewStore(ctx, Config{Backend: "chromem"}, emb, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &ChromemStore{}, store)
	require.NoError(t, store.Close())
}

func TestNewStoreRejectsUnknownBackend(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Backend: "faiss"}, embedding.NewLocal(16), nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "faiss")
}
