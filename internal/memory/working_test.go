package memory

import (
	"fmt"
	"testing"
)

func TestWorkingStoreDropsOldestAtCapacity(t *testing.T) {
	w := newWorkingStore(3)
	for i := 0; i < 5; i++ {
		w.push(Item{ID: fmt.Sprintf("i%d", i), Content: fmt.Sprintf("turn %d", i)})
	}
	if w.len() != 3 {
		t.Fatalf("len = %d, want 3", w.len())
	}

	got := w.recent(0)
	if len(got) != 3 {
		t.Fatalf("recent = %d items", len(got))
	}
	// Newest first; i0 and i1 were dropped.
	wantOrder := []string{"i4", "i3", "i2"}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Fatalf("recent[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestWorkingStoreDefaultCapacity(t *testing.T) {
	w := newWorkingStore(0)
	for i := 0; i < DefaultWorkingCapacity+2; i++ {
		w.push(Item{Content: fmt.Sprintf("turn %d", i)})
	}
	if w.len() != DefaultWorkingCapacity {
		t.Fatalf("len = %d, want %d", w.len(), DefaultWorkingCapacity)
	}
}

func TestWorkingStoreClear(t *testing.T) {
	w := newWorkingStore(5)
	w.push(Item{Content: "a"})
	w.push(Item{Content: "b"})
	w.clear()
	if w.len() != 0 {
		t.Fatalf("len after clear = %d", w.len())
	}
	if got := w.recent(5); len(got) != 0 {
		t.Fatalf("recent after clear = %d items", len(got))
	}
}

func TestWorkingStoreAssignsIDAndTimestamp(t *testing.T) {
	w := newWorkingStore(5)
	item := w.push(Item{Content: "a"})
	if item.ID == "" {
		t.Fatal("id not assigned")
	}
	if item.Timestamp.IsZero() {
		t.Fatal("timestamp not assigned")
	}
}
