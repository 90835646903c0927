package auth

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestAudit(t *testing.T, config AuditConfig) (*AuditLog, func(time.Duration)) {
	t.Helper()
	sec, err := secstore.New(testSecret, nil)
	if err != nil {
		t.Fatalf("secstore.New: %v", err)
	}
	if config.Dir == "" {
		config.Dir = t.TempDir()
	}
	log, err := NewAuditLog(config, sec, nil)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	now, advance := testClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log.now = now
	return log, advance
}

func TestAuditLogRequiresKeyAndDir(t *testing.T) {
	if _, err := NewAuditLog(AuditConfig{Dir: t.TempDir()}, nil, nil); !errs.IsConfigError(err) {
		t.Fatalf("expected config error without encryption key, got %v", err)
	}

	sec, err := secstore.New(testSecret, nil)
	if err != nil {
		t.Fatalf("secstore.New: %v", err)
	}
	if _, err := NewAuditLog(AuditConfig{}, sec, nil); !errs.IsConfigError(err) {
		t.Fatalf("expected config error without directory, got %v", err)
	}
}

func TestAuditAppendEncryptsAndSanitizes(t *testing.T) {
	log, _ := newTestAudit(t, AuditConfig{})

	if log.CurrentFile() != "" {
		t.Fatalf("CurrentFile before first append = %q, want empty", log.CurrentFile())
	}

	entry := AuditEntry{
		Actor:   "alice",
		Action:  "login",
		Outcome: "success",
		IP:      "10.0.0.5",
		Details: map[string]any{
			"password": "hunter2",
			"target":   "lab-host-3",
		},
	}
	if err := log.Append(entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	path := log.CurrentFile()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.HasPrefix(raw, []byte("C0D3")) {
		t.Fatalf("audit file is not an encrypted frame")
	}
	if bytes.Contains(raw, []byte("hunter2")) || bytes.Contains(raw, []byte("alice")) {
		t.Fatalf("plaintext leaked into audit file")
	}

	entries, err := log.DecodeFile(path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("decoded %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Fatalf("id/timestamp not assigned: %+v", got)
	}
	if got.Actor != "alice" || got.Action != "login" || got.Outcome != "success" {
		t.Fatalf("entry = %+v", got)
	}
	if got.Details["password"] != "[REDACTED]" {
		t.Fatalf("password survived sanitization: %v", got.Details["password"])
	}
	if got.Details["target"] != "lab-host-3" {
		t.Fatalf("non-secret detail mangled: %v", got.Details["target"])
	}
}

func TestAuditAppendsAccumulate(t *testing.T) {
	log, _ := newTestAudit(t, AuditConfig{})

	for _, action := range []string{"login", "refresh", "logout"} {
		if err := log.Append(AuditEntry{Action: action, Outcome: "success"}); err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
	}

	entries, err := log.DecodeFile(log.CurrentFile())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("decoded %d entries, want 3", len(entries))
	}
	for i, want := range []string{"login", "refresh", "logout"} {
		if entries[i].Action != want {
			t.Fatalf("entries[%d].Action = %q, want %q", i, entries[i].Action, want)
		}
	}
}

func TestAuditRotationBySize(t *testing.T) {
	log, _ := newTestAudit(t, AuditConfig{MaxSize: 300})

	filler := strings.Repeat("x", 200)
	if err := log.Append(AuditEntry{Action: "a", Outcome: "success", Details: map[string]any{"filler": filler}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	first := log.CurrentFile()

	if err := log.Append(AuditEntry{Action: "b", Outcome: "success", Details: map[string]any{"filler": filler}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	second := log.CurrentFile()

	if first == second {
		t.Fatalf("expected size rotation to open a new file")
	}
	for path, action := range map[string]string{first: "a", second: "b"} {
		entries, err := log.DecodeFile(path)
		if err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		if len(entries) != 1 || entries[0].Action != action {
			t.Fatalf("%s holds %+v, want single %q entry", path, entries, action)
		}
	}
}

func TestAuditRotationByAge(t *testing.T) {
	log, advance := newTestAudit(t, AuditConfig{})

	if err := log.Append(AuditEntry{Action: "old", Outcome: "success"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	first := log.CurrentFile()

	advance(24 * time.Hour)
	if err := log.Append(AuditEntry{Action: "new", Outcome: "success"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	second := log.CurrentFile()

	if first == second {
		t.Fatalf("expected age rotation to open a new file")
	}
	entries, err := log.DecodeFile(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "old" {
		t.Fatalf("rotated-out file holds %+v", entries)
	}
}

func TestAuditSameSecondRotationNeverOverwrites(t *testing.T) {
	// MaxSize 1 forces a rotation on every append while the clock stands
	// still, which is exactly when file names would collide.
	log, _ := newTestAudit(t, AuditConfig{MaxSize: 1})

	for _, action := range []string{"a", "b", "c"} {
		if err := log.Append(AuditEntry{Action: action, Outcome: "success"}); err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
	}

	names, err := os.ReadDir(log.dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("found %d audit files, want 3", len(names))
	}
	seen := make(map[string]bool)
	for _, f := range names {
		entries, err := log.DecodeFile(filepath.Join(log.dir, f.Name()))
		if err != nil {
			t.Fatalf("decode %s: %v", f.Name(), err)
		}
		if len(entries) != 1 {
			t.Fatalf("%s holds %d entries, want 1", f.Name(), len(entries))
		}
		seen[entries[0].Action] = true
	}
	for _, action := range []string{"a", "b", "c"} {
		if !seen[action] {
			t.Fatalf("entry %q lost in rotation", action)
		}
	}
}

func TestAuditDecodeMissingFile(t *testing.T) {
	log, _ := newTestAudit(t, AuditConfig{})

	entries, err := log.DecodeFile(filepath.Join(log.dir, "audit-never-written.log"))
	if err != nil {
		t.Fatalf("decode missing file: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries for missing file, got %v", entries)
	}
}
