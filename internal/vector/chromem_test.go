package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
)

func TestChromemRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewChromem(ChromemConfig{}, embedding.NewLocal(64), nil)
	require.NoError(t, err)

	docs := []Document{
		{ID: "a", Content: "nmap scans networks for open ports"},
		{ID: "b", Content: "wireshark captures packets on the wire"},
		{ID: "c", Content: "hashcat cracks password hashes on GPUs"},
	}
	require.NoError(t, store.AddBatch(ctx, docs))
	require.Equal(t, 3, store.Count())

	// The offline embedder is deterministic, so the exact content embeds
	// to the exact stored vector and everything else lands near zero.
	results, err := store.FindSimilar(ctx, "wireshark captures packets on the wire", 3, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].Document.ID)
	require.Greater(t, results[0].Similarity, 0.9)

	require.NoError(t, store.Remove(ctx, "b"))
	require.Equal(t, 2, store.Count())

	results, err = store.FindSimilar(ctx, "wireshark captures packets on the wire", 3, 0.9)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestChromemEmptyStoreFindsNothing(t *testing.T) {
	store, err := NewChromem(ChromemConfig{Collection: "empty"}, embedding.NewLocal(64), nil)
	require.NoError(t, err)

	results, err := store.FindSimilar(context.Background(), "anything", 5, 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestChromemPersistReload(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewLocal(64)
	cfg := ChromemConfig{PersistPath: t.TempDir(), Collection: "episodes"}

	store, err := NewChromem(cfg, emb, nil)
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, Document{ID: "e1", Content: "recon finished on subnet ten"}))
	require.NoError(t, store.Add(ctx, Document{ID: "e2", Content: "credentials rotated after the drill"}))
	require.NoError(t, store.Close())

	reopened, err := NewChromem(cfg, emb, nil)
	require.NoError(t, err)
	require.Equal(t, 2, reopened.Count())

	results, err := reopened.FindSimilar(ctx, "recon finished on subnet ten", 1, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "e1", results[0].Document.ID)
}
