package filestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWriteCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "doc.json")

	if err := AtomicWrite(path, []byte("payload"), 0o600); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("content = %q", data)
	}
}

func TestAtomicWriteReplacesAndSetsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	if err := AtomicWrite(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := AtomicWrite(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "second" {
		t.Fatalf("content = %q, want second", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	for i := 0; i < 3; i++ {
		if err := AtomicWrite(path, []byte("x"), 0o600); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".json.") {
			t.Fatalf("staging file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want just the document", len(entries))
	}
}

func TestReadIfExists(t *testing.T) {
	dir := t.TempDir()

	data, err := ReadIfExists(filepath.Join(dir, "missing.json"))
	if err != nil || data != nil {
		t.Fatalf("missing file: data=%v err=%v, want nil/nil", data, err)
	}

	path := filepath.Join(dir, "present.json")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err = ReadIfExists(path)
	if err != nil {
		t.Fatalf("ReadIfExists: %v", err)
	}
	if string(data) != "{}" {
		t.Fatalf("data = %q", data)
	}
}
