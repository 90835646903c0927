package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultWorkingCapacity bounds working memory when the config leaves it zero.
const DefaultWorkingCapacity = 10

// workingStore is the bounded short-term buffer. Pushing past capacity drops
// the oldest entry. Contents never touch disk and are cleared on session end.
type workingStore struct {
	mu       sync.Mutex
	capacity int
	items    []Item // oldest first
}

func newWorkingStore(capacity int) *workingStore {
	if capacity <= 0 {
		capacity = DefaultWorkingCapacity
	}
	return &workingStore{capacity: capacity}
}

func (w *workingStore) push(item Item) Item {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, item)
	if len(w.items) > w.capacity {
		overflow := len(w.items) - w.capacity
		w.items = append(w.items[:0:0], w.items[overflow:]...)
	}
	return item
}

// recent returns up to n items, newest first.
func (w *workingStore) recent(n int) []Item {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= 0 || n > len(w.items) {
		n = len(w.items)
	}
	out := make([]Item, 0, n)
	for i := len(w.items) - 1; i >= len(w.items)-n; i-- {
		out = append(out, w.items[i])
	}
	return out
}

func (w *workingStore) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = nil
}

func (w *workingStore) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}
