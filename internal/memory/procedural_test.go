package memory

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
)

func newTestProcedural(t *testing.T, dir string, codeLoading bool) *proceduralStore {
	t.Helper()
	sec, err := secstore.New(testSecret, nil)
	if err != nil {
		t.Fatal(err)
	}
	p := newProceduralStore(dir, sec, codeLoading, logging.Nop())
	if err := p.load(); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestProceduralDefineAndGet(t *testing.T) {
	p := newTestProcedural(t, t.TempDir(), true)

	proc, err := p.define(Procedure{
		Name:   "port-scan",
		Params: []string{"target", "ports"},
		Body:   "nmap -p {{ports}} {{target}}",
	})
	if err != nil {
		t.Fatal(err)
	}
	if proc.Source != "api" {
		t.Fatalf("source = %q", proc.Source)
	}
	if proc.CreatedAt.IsZero() {
		t.Fatal("createdAt not assigned")
	}

	got, ok := p.get("port-scan")
	if !ok {
		t.Fatal("procedure not found after define")
	}
	if got.Body != proc.Body || len(got.Params) != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestProceduralDefineRequiresName(t *testing.T) {
	p := newTestProcedural(t, t.TempDir(), true)
	_, err := p.define(Procedure{Body: "whoami"})
	if !errs.IsConfigError(err) {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestProceduralInvoke(t *testing.T) {
	p := newTestProcedural(t, t.TempDir(), true)
	ctx := context.Background()

	if _, err := p.define(Procedure{Name: "echo", Body: "inert"}); err != nil {
		t.Fatal(err)
	}

	// Definition without a handler is not callable.
	_, err := p.invoke(ctx, "echo", nil)
	if !errs.IsPermissionDenied(err) {
		t.Fatalf("err = %v, want permission denied", err)
	}

	p.register("echo", func(_ context.Context, args map[string]string) (string, error) {
		return "echo:" + args["msg"], nil
	})
	out, err := p.invoke(ctx, "echo", map[string]string{"msg": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "echo:hi" {
		t.Fatalf("out = %q", out)
	}

	// Unknown name is a distinct error.
	_, err = p.invoke(ctx, "missing", nil)
	if !errs.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestProceduralRehydrationGatedByFlag(t *testing.T) {
	dir := t.TempDir()

	first := newTestProcedural(t, dir, true)
	if _, err := first.define(Procedure{Name: "recon", Body: "step one"}); err != nil {
		t.Fatal(err)
	}
	if _, err := first.define(Procedure{Name: "escalate", Body: "step two"}); err != nil {
		t.Fatal(err)
	}

	// Flag off: the file stays on disk but nothing rehydrates.
	gated := newTestProcedural(t, dir, false)
	if gated.count() != 0 {
		t.Fatalf("count with code loading disabled = %d, want 0", gated.count())
	}
	if _, ok := gated.get("recon"); ok {
		t.Fatal("persisted procedure visible despite disabled code loading")
	}

	// Flag on: both definitions come back.
	enabled := newTestProcedural(t, dir, true)
	if enabled.count() != 2 {
		t.Fatalf("count with code loading enabled = %d, want 2", enabled.count())
	}
	got, ok := enabled.get("recon")
	if !ok || got.Body != "step one" {
		t.Fatalf("rehydrated procedure = %+v, ok=%v", got, ok)
	}
}

func TestProceduralFileEncryptedOnDisk(t *testing.T) {
	dir := t.TempDir()
	p := newTestProcedural(t, dir, true)
	if _, err := p.define(Procedure{Name: "secret-op", Body: "curl internal-host"}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, procedureFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("C0D3")) {
		t.Fatalf("missing frame magic: %x", raw[:4])
	}
	if bytes.Contains(raw, []byte("secret-op")) || bytes.Contains(raw, []byte("internal-host")) {
		t.Fatal("plaintext leaked to disk")
	}
}

func TestProceduralSeedPlaybooks(t *testing.T) {
	playbookDir := t.TempDir()
	playbook := `procedures:
  - name: port-scan
    params: [target, ports]
    body: "nmap -p {{ports}} {{target}}"
  - name: banner-grab
    params: [target]
    body: "nc -v {{target}} 80"
`
	if err := os.WriteFile(filepath.Join(playbookDir, "recon.yaml"), []byte(playbook), 0o600); err != nil {
		t.Fatal(err)
	}
	// Non-YAML files are ignored.
	if err := os.WriteFile(filepath.Join(playbookDir, "notes.txt"), []byte("skip me"), 0o600); err != nil {
		t.Fatal(err)
	}

	p := newTestProcedural(t, t.TempDir(), true)
	if err := p.seedPlaybooks(playbookDir); err != nil {
		t.Fatal(err)
	}
	if p.count() != 2 {
		t.Fatalf("count = %d, want 2", p.count())
	}
	got, ok := p.get("port-scan")
	if !ok {
		t.Fatal("port-scan not seeded")
	}
	if got.Source != "playbook" {
		t.Fatalf("source = %q", got.Source)
	}
	if len(got.Params) != 2 || got.Params[0] != "target" {
		t.Fatalf("params = %v", got.Params)
	}
}

func TestProceduralSeedPlaybooksMissingDir(t *testing.T) {
	p := newTestProcedural(t, t.TempDir(), true)
	if err := p.seedPlaybooks(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Fatal(err)
	}
	if err := p.seedPlaybooks(""); err != nil {
		t.Fatal(err)
	}
}

func TestProceduralMatches(t *testing.T) {
	p := newTestProcedural(t, t.TempDir(), true)
	for _, name := range []string{"port-scan", "subdomain-scan", "report"} {
		if _, err := p.define(Procedure{Name: name, Body: "body of " + name}); err != nil {
			t.Fatal(err)
		}
	}

	results := p.matches("port-scan", 10)
	if len(results) == 0 || results[0].Item.ID != "port-scan" || results[0].Score != 1 {
		t.Fatalf("exact match first: %+v", results)
	}

	results = p.matches("scan", 10)
	if len(results) != 2 {
		t.Fatalf("substring matches = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Score != 0.5 {
			t.Fatalf("substring score = %v", r.Score)
		}
	}

	if got := p.matches("scan", 1); len(got) != 1 {
		t.Fatalf("k not respected: %d", len(got))
	}
}
