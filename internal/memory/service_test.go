package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/embedding"
	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/vector"
)

// flakyEmbedder fails on texts containing a marker and delegates the rest.
type flakyEmbedder struct {
	embedding.Embedder
	failOn string
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, f.failOn) {
		return nil, fmt.Errorf("embedding backend down")
	}
	return f.Embedder.Embed(ctx, text)
}

func newTestService(t *testing.T, emb embedding.Embedder) *Service {
	t.Helper()
	sec, err := secstore.New(testSecret, nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := vector.NewHNSW(vector.HNSWConfig{Seed: 1}, emb, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(Config{Dir: t.TempDir()}, store, emb, sec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestServiceRefusesToStartWithoutKey(t *testing.T) {
	emb := embedding.NewLocal(16)
	store, err := vector.NewHNSW(vector.HNSWConfig{Seed: 1}, emb, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(Config{Dir: t.TempDir()}, store, emb, nil, nil)
	if !errs.IsConfigError(err) {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestServiceStorePerKind(t *testing.T) {
	svc := newTestService(t, embedding.NewLocal(16))
	ctx := context.Background()

	ep, err := svc.Store(ctx, KindEpisodic, Item{Content: "user asked about nmap", Metadata: map[string]string{"result": "explained flags"}})
	if err != nil {
		t.Fatal(err)
	}
	if ep.ID == "" {
		t.Fatal("episodic id not assigned")
	}

	if _, err := svc.Store(ctx, KindSemantic, Item{Content: "nmap is a network scanner"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store(ctx, KindProcedural, Item{ID: "scan", Content: "nmap {{target}}", Metadata: map[string]string{"params": "target"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store(ctx, KindWorking, Item{Content: "scratch"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store(ctx, Kind("bogus"), Item{}); err == nil {
		t.Fatal("unknown kind must fail")
	}

	stats := svc.Statistics()
	if stats.EpisodeCount != 1 || stats.SemanticCount != 1 || stats.ProcedureCount != 1 || stats.WorkingCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.StoredTotal != 4 {
		t.Fatalf("storedTotal = %d", stats.StoredTotal)
	}
}

func TestServiceRetrieveMergesKinds(t *testing.T) {
	svc := newTestService(t, embedding.NewLocal(16))
	ctx := context.Background()

	if _, err := svc.Store(ctx, KindSemantic, Item{ID: "s1", Content: "lateral movement techniques"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.StoreInteraction(ctx, "lateral movement techniques", "use psexec", nil); err != nil {
		t.Fatal(err)
	}

	results, err := svc.Retrieve(ctx, "lateral movement techniques", RetrieveOptions{
		Kinds: []Kind{KindEpisodic, KindSemantic},
		K:     3,
	})
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[Kind]bool{}
	for _, r := range results {
		kinds[r.Kind] = true
	}
	if !kinds[KindEpisodic] || !kinds[KindSemantic] {
		t.Fatalf("missing kinds in %+v", results)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatal("merged results not sorted by score")
		}
	}
}

func TestServiceRetrieveEmptyQueryReturnsRecent(t *testing.T) {
	svc := newTestService(t, embedding.NewLocal(16))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.StoreInteraction(ctx, fmt.Sprintf("question %d", i), "answer", nil); err != nil {
			t.Fatal(err)
		}
	}

	results, err := svc.Retrieve(ctx, "", RetrieveOptions{Kinds: []Kind{KindEpisodic}, K: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Item.Content != "question 3" {
		t.Fatalf("newest first, got %q", results[0].Item.Content)
	}
}

func TestServiceRetrieveBatchIsolatesFailures(t *testing.T) {
	emb := &flakyEmbedder{Embedder: embedding.NewLocal(16), failOn: "poison"}
	svc := newTestService(t, emb)
	ctx := context.Background()

	if _, err := svc.StoreInteraction(ctx, "benign query about firewalls", "answer", nil); err != nil {
		t.Fatal(err)
	}

	queries := []string{"benign query about firewalls", "poison pill", "another benign one"}
	results := svc.RetrieveBatch(ctx, queries, RetrieveOptions{Kinds: []Kind{KindEpisodic}, K: 2})

	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if !results[0].Success || !results[2].Success {
		t.Fatalf("benign queries failed: %+v", results)
	}
	if results[1].Success || results[1].Err == "" {
		t.Fatalf("poisoned query did not fail: %+v", results[1])
	}
	if results[1].Query != "poison pill" {
		t.Fatal("results not index-aligned with queries")
	}
}

func TestServiceStoreInteraction(t *testing.T) {
	svc := newTestService(t, embedding.NewLocal(16))
	ctx := context.Background()

	ep, err := svc.StoreInteraction(ctx, "how to enumerate SMB shares", "use smbclient -L", map[string]string{"session": "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if ep.Context["session"] != "abc" {
		t.Fatalf("context = %+v", ep.Context)
	}

	turns := svc.WorkingItems(2)
	if len(turns) != 2 {
		t.Fatalf("working turns = %d", len(turns))
	}
	// Newest first: assistant turn, then user turn.
	if turns[0].Metadata["role"] != "assistant" || turns[1].Metadata["role"] != "user" {
		t.Fatalf("roles = %s, %s", turns[0].Metadata["role"], turns[1].Metadata["role"])
	}
	if turns[0].Metadata["episode"] != ep.ID {
		t.Fatal("working turn not linked to episode")
	}

	svc.ClearWorking()
	if got := svc.WorkingItems(5); len(got) != 0 {
		t.Fatal("working memory not cleared")
	}
}

func TestServiceProcedureRoundTrip(t *testing.T) {
	svc := newTestService(t, embedding.NewLocal(16))
	ctx := context.Background()

	if _, err := svc.Store(ctx, KindProcedural, Item{ID: "whois", Content: "whois {{domain}}", Metadata: map[string]string{"params": "domain"}}); err != nil {
		t.Fatal(err)
	}

	svc.RegisterProcedure("whois", func(_ context.Context, args map[string]string) (string, error) {
		return "queried " + args["domain"], nil
	})
	out, err := svc.InvokeProcedure(ctx, "whois", map[string]string{"domain": "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "queried example.com" {
		t.Fatalf("out = %q", out)
	}
}

func TestServicePersistAndShutdown(t *testing.T) {
	svc := newTestService(t, embedding.NewLocal(16))
	ctx := context.Background()

	if _, err := svc.StoreInteraction(ctx, "q", "a", nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.Persist(ctx); err != nil {
		t.Fatal(err)
	}
	if svc.Statistics().LastPersist.IsZero() {
		t.Fatal("lastPersist not recorded")
	}
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if svc.Statistics().WorkingCount != 0 {
		t.Fatal("working memory survived shutdown")
	}
}
