package agent

import (
	"strings"
	"testing"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/memory"
)

func turn(role, content string) memory.Item {
	return memory.Item{Content: content, Metadata: map[string]string{"role": role}}
}

func TestRenderHistoryChronologicalOrder(t *testing.T) {
	// Working memory hands out newest first; the block must read in order.
	items := []memory.Item{
		turn("assistant", "fine thanks"),
		turn("user", "how are you"),
		turn("assistant", "hello there"),
		turn("user", "hi"),
	}

	lines, tokens, _ := renderHistory(items, 10000)

	want := []string{
		"user: hi",
		"assistant: hello there",
		"user: how are you",
		"assistant: fine thanks",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if tokens <= 0 {
		t.Errorf("tokens = %d, want > 0", tokens)
	}
}

func TestRenderHistoryKeepsNewestUnderBudget(t *testing.T) {
	long := strings.Repeat("very long historical entry ", 40)
	items := []memory.Item{
		turn("user", "short one"),
		turn("assistant", "short two"),
		turn("user", long),
	}

	lines, tokens, _ := renderHistory(items, 40)

	want := []string{"assistant: short two", "user: short one"}
	if len(lines) != 2 || lines[0] != want[0] || lines[1] != want[1] {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
	if tokens <= 0 || tokens > 40 {
		t.Errorf("tokens = %d, want within budget", tokens)
	}
}

func TestRenderHistoryStopsAtFirstOverflow(t *testing.T) {
	// An entry that does not fit ends selection even when an older, smaller
	// one would. A gap in the middle of a conversation reads as missing
	// turns, not as a tighter summary.
	long := strings.Repeat("very long historical entry ", 40)
	items := []memory.Item{
		turn("user", "newest"),
		turn("assistant", long),
		turn("user", "oldest and tiny"),
	}

	lines, _, _ := renderHistory(items, 40)

	if len(lines) != 1 || lines[0] != "user: newest" {
		t.Fatalf("lines = %q, want just the newest entry", lines)
	}
}

func TestRenderHistoryRoleFallback(t *testing.T) {
	items := []memory.Item{{Content: "loose scratch note"}}

	lines, _, _ := renderHistory(items, 10000)

	if len(lines) != 1 || lines[0] != "note: loose scratch note" {
		t.Fatalf("lines = %q, want a note-role line", lines)
	}
}

func TestRenderHistoryTinyBudget(t *testing.T) {
	items := []memory.Item{turn("user", "hi")}

	lines, tokens, shown := renderHistory(items, 1)

	if lines != nil || tokens != 0 {
		t.Errorf("lines = %q tokens = %d, want none under a one-token budget", lines, tokens)
	}
	if len(shown) != 0 {
		t.Errorf("shown = %v, want empty", shown)
	}
}

func TestRenderHistoryEmpty(t *testing.T) {
	lines, tokens, shown := renderHistory(nil, 100)
	if lines != nil || tokens != 0 || len(shown) != 0 {
		t.Errorf("renderHistory(nil) = %q, %d, %v", lines, tokens, shown)
	}
}

func TestRenderHistoryTracksShownEpisodes(t *testing.T) {
	items := []memory.Item{
		{Content: "response text", Metadata: map[string]string{"role": "assistant", "episode": "ep1"}},
		{Content: "question text", Metadata: map[string]string{"role": "user", "episode": "ep1"}},
	}

	_, _, shown := renderHistory(items, 10000)

	if !shown["ep1"] {
		t.Fatalf("shown = %v, want ep1 tracked", shown)
	}
}
