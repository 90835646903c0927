package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsonx "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/shared/json"
)

// Codec transforms a collection document on its way to and from disk. The
// zero value stores plain JSON; the secret store installs an encrypting
// pair through its BindCollection helper.
type Codec struct {
	Encode func(plain []byte) ([]byte, error)
	Decode func(stored []byte) ([]byte, error)
}

// CollectionConfig names a collection and places its backing file.
type CollectionConfig struct {
	FilePath string      // empty keeps the collection in memory only
	Perm     os.FileMode // backing file mode, default 0o600
	Name     string      // prefixes error messages
}

// Collection is a map of records persisted as one document: every mutation
// rewrites the whole file atomically. That fits the stores here, which
// hold at most a few thousand small records and need crash consistency far
// more than write throughput.
type Collection[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
	cfg   CollectionConfig
	codec Codec
}

// NewCollection builds an empty collection. Load pulls in the backing file
// when one exists.
func NewCollection[K comparable, V any](cfg CollectionConfig) *Collection[K, V] {
	if cfg.Perm == 0 {
		cfg.Perm = 0o600
	}
	return &Collection[K, V]{items: make(map[K]V), cfg: cfg}
}

// UseCodec installs the on-disk transform. Install it before Load.
func (c *Collection[K, V]) UseCodec(codec Codec) {
	c.codec = codec
}

// EnsureDir creates the directory holding the backing file.
func (c *Collection[K, V]) EnsureDir() error {
	if c.cfg.FilePath == "" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(c.cfg.FilePath), 0o755)
}

// FilePath returns the backing file location, empty for in-memory use.
func (c *Collection[K, V]) FilePath() string { return c.cfg.FilePath }

// Load replaces the in-memory map with the backing file's contents. A
// missing or empty file leaves the collection empty.
func (c *Collection[K, V]) Load() error {
	if c.cfg.FilePath == "" {
		return nil
	}
	stored, err := ReadIfExists(c.cfg.FilePath)
	if err != nil {
		return fmt.Errorf("%s: read: %w", c.cfg.Name, err)
	}
	if len(stored) == 0 {
		return nil
	}
	if c.codec.Decode != nil {
		if stored, err = c.codec.Decode(stored); err != nil {
			return fmt.Errorf("%s: decode: %w", c.cfg.Name, err)
		}
	}
	next := make(map[K]V)
	if err := jsonx.Unmarshal(stored, &next); err != nil {
		return fmt.Errorf("%s: parse: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.items = next
	c.mu.Unlock()
	return nil
}

// Get returns the record stored under key.
func (c *Collection[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Put stores value under key and rewrites the backing file.
func (c *Collection[K, V]) Put(key K, value V) error {
	return c.Mutate(func(items map[K]V) error {
		items[key] = value
		return nil
	})
}

// Delete drops key and rewrites the backing file.
func (c *Collection[K, V]) Delete(key K) error {
	return c.Mutate(func(items map[K]V) error {
		delete(items, key)
		return nil
	})
}

// Len reports the number of records.
func (c *Collection[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Snapshot copies the map for iteration outside the lock. Values are
// shared, so callers treat them as read-only.
func (c *Collection[K, V]) Snapshot() map[K]V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[K]V, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}

// Mutate runs fn on the live map under the write lock, then persists once.
// When fn fails nothing is written and its error comes back unchanged.
func (c *Collection[K, V]) Mutate(fn func(items map[K]V) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fn(c.items); err != nil {
		return err
	}
	return c.flush()
}

// Persist rewrites the backing file from the current contents.
func (c *Collection[K, V]) Persist() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flush()
}

func (c *Collection[K, V]) flush() error {
	if c.cfg.FilePath == "" {
		return nil
	}
	doc, err := jsonx.MarshalIndentln(c.items)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", c.cfg.Name, err)
	}
	if c.codec.Encode != nil {
		if doc, err = c.codec.Encode(doc); err != nil {
			return fmt.Errorf("%s: encode: %w", c.cfg.Name, err)
		}
	}
	if err := AtomicWrite(c.cfg.FilePath, doc, c.cfg.Perm); err != nil {
		return fmt.Errorf("%s: write: %w", c.cfg.Name, err)
	}
	return nil
}
