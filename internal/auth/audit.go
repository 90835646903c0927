package auth

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
	jsonx "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/shared/json"
)

const (
	auditStoreName      = "audit"
	defaultAuditMaxSize = 64 << 20 // bytes of plaintext per file
	defaultAuditMaxAge  = 24 * time.Hour
	auditStampLayout    = "20060102-150405"
)

// AuditEntry is one recorded event. Details are sanitized before they are
// written; secrets never reach the log even encrypted.
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Outcome   string         `json:"outcome"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditLog writes entries to rotating encrypted files. Each file is a single
// encrypted frame over JSON lines, so every append rewrites the current
// file; rotation at the size or age limit bounds the rewrite cost.
type AuditLog struct {
	dir    string
	sec    *secstore.Store
	logger logging.Logger

	maxSize int
	maxAge  time.Duration
	now     func() time.Time

	mu        sync.Mutex
	fileName  string
	openedAt  time.Time
	buf       []byte
	lastStamp string
	seq       int
}

// AuditConfig tunes rotation. Zero values take the 64 MiB / 24 h defaults.
type AuditConfig struct {
	Dir     string
	MaxSize int
	MaxAge  time.Duration
}

func NewAuditLog(config AuditConfig, sec *secstore.Store, logger logging.Logger) (*AuditLog, error) {
	if !sec.Available() {
		return nil, errs.NewConfigError("audit log requires an encryption key")
	}
	if config.Dir == "" {
		return nil, errs.NewConfigError("audit log directory is required")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultAuditMaxSize
	}
	if config.MaxAge <= 0 {
		config.MaxAge = defaultAuditMaxAge
	}
	return &AuditLog{
		dir:     config.Dir,
		sec:     sec,
		logger:  logging.OrNop(logger),
		maxSize: config.MaxSize,
		maxAge:  config.MaxAge,
		now:     time.Now,
	}, nil
}

// openLocked starts a fresh file. Callers hold a.mu. Same-second rotations
// get a numeric suffix so no file is ever overwritten.
func (a *AuditLog) openLocked() {
	now := a.now()
	stamp := now.UTC().Format(auditStampLayout)
	if stamp == a.lastStamp {
		a.seq++
		a.fileName = fmt.Sprintf("audit-%s-%d.log", stamp, a.seq)
	} else {
		a.lastStamp = stamp
		a.seq = 0
		a.fileName = fmt.Sprintf("audit-%s.log", stamp)
	}
	a.openedAt = now
	a.buf = nil
}

// Append records one entry, rotating first when the current file is full or
// stale. The whole file is re-encrypted and atomically replaced on each
// append so a crash never leaves plaintext or a torn frame behind.
func (a *AuditLog) Append(entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}
	entry.Details = errs.SanitizeDetails(entry.Details)

	line, err := jsonx.Marshal(entry)
	if err != nil {
		return fmt.Errorf("serialize audit entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fileName == "" || len(a.buf)+len(line)+1 > a.maxSize || a.now().Sub(a.openedAt) >= a.maxAge {
		a.openLocked()
	}
	a.buf = append(a.buf, line...)
	a.buf = append(a.buf, '\n')

	path := filepath.Join(a.dir, a.fileName)
	if err := a.sec.WriteFile(path, auditStoreName, a.buf); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// CurrentFile returns the path of the file receiving appends, or "" before
// the first entry is written.
func (a *AuditLog) CurrentFile() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fileName == "" {
		return ""
	}
	return filepath.Join(a.dir, a.fileName)
}

// DecodeFile decrypts one audit file back into entries.
func (a *AuditLog) DecodeFile(path string) ([]AuditEntry, error) {
	plain, err := a.sec.ReadFile(path, auditStoreName)
	if err != nil {
		return nil, err
	}
	if plain == nil {
		return nil, nil
	}

	var entries []AuditEntry
	scanner := bufio.NewScanner(bytes.NewReader(plain))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry AuditEntry
		if err := jsonx.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("parse audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
