package agent

import (
	"context"
	"sort"
	"strings"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/memory"
	tokenutil "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/shared/token"
)

const (
	historyHeader  = "Recent conversation:"
	memoriesHeader = "Relevant notes:"
)

// assembled is the context block handed to the cache plus the bookkeeping
// surfaced as reasoning metadata.
type assembled struct {
	text           string
	historyEntries int
	memoriesUsed   int
	kinds          []string
	tokens         int
}

// assembleContext renders recent conversation and retrieved memories into
// one text block, spending the token budget on conversation first and
// best-scoring memories second. Episodes already visible in the rendered
// conversation are not repeated as memories. An empty result is fine; the
// query then goes downstream without context.
func (a *Agent) assembleContext(ctx context.Context, query string, budget int) assembled {
	if budget <= 0 {
		budget = a.config.ContextBudget
	}

	historyLines, historyTokens, shown := renderHistory(a.memory.WorkingItems(a.config.HistoryEntries), budget)
	memoryLines, kinds, memoryTokens := a.renderMemories(ctx, query, budget-historyTokens, shown)

	var sections []string
	if len(historyLines) > 0 {
		sections = append(sections, historyHeader+"\n"+strings.Join(historyLines, "\n"))
	}
	if len(memoryLines) > 0 {
		sections = append(sections, memoriesHeader+"\n"+strings.Join(memoryLines, "\n"))
	}

	return assembled{
		text:           strings.Join(sections, "\n\n"),
		historyEntries: len(historyLines),
		memoriesUsed:   len(memoryLines),
		kinds:          kinds,
		tokens:         historyTokens + memoryTokens,
	}
}

// renderHistory turns newest-first working-memory items into chronological
// "role: content" lines, keeping the newest entries that fit the budget.
// Selection stops at the first entry that does not fit: skipping over it to
// an older one would leave a silent gap in the middle of the conversation.
// shown collects the episode ids of the kept lines so retrieval does not
// repeat them.
func renderHistory(items []memory.Item, budget int) (lines []string, tokens int, shown map[string]bool) {
	shown = make(map[string]bool)
	if len(items) == 0 || budget <= 0 {
		return nil, 0, shown
	}
	cost := lineTokens(historyHeader)
	if cost > budget {
		return nil, 0, shown
	}
	var kept []string
	for _, item := range items {
		role := item.Metadata["role"]
		if role == "" {
			role = "note"
		}
		line := role + ": " + item.Content
		c := lineTokens(line)
		if cost+c > budget {
			break
		}
		cost += c
		kept = append(kept, line)
		if ep := item.Metadata["episode"]; ep != "" {
			shown[ep] = true
		}
	}
	if len(kept) == 0 {
		return nil, 0, shown
	}
	// Selection walked newest to oldest; flip so the block reads in order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, cost, shown
}

// renderMemories retrieves episodic and semantic matches for the query and
// keeps the best-scoring ones that fit the remaining budget. An oversized
// memory is skipped, not terminal: a shorter lower-scored one may still fit.
// Retrieval failure degrades to no memories rather than failing the query.
func (a *Agent) renderMemories(ctx context.Context, query string, budget int, shown map[string]bool) (lines, kinds []string, tokens int) {
	if budget <= 0 {
		return nil, nil, 0
	}
	results, err := a.memory.Retrieve(ctx, query, memory.RetrieveOptions{
		Kinds: []memory.Kind{memory.KindEpisodic, memory.KindSemantic},
		K:     a.config.MemoryResults,
	})
	if err != nil {
		a.logger.Warn("agent: memory retrieval skipped: %v", err)
		return nil, nil, 0
	}
	if len(results) == 0 {
		return nil, nil, 0
	}

	cost := lineTokens(memoriesHeader)
	if cost > budget {
		return nil, nil, 0
	}
	seen := make(map[memory.Kind]bool)
	for _, r := range results {
		if r.Kind == memory.KindEpisodic && shown[r.Item.ID] {
			continue
		}
		line := "- " + r.Item.Content
		c := lineTokens(line)
		if cost+c > budget {
			continue
		}
		cost += c
		lines = append(lines, line)
		seen[r.Kind] = true
	}
	if len(lines) == 0 {
		return nil, nil, 0
	}
	for k := range seen {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return lines, kinds, cost
}

// lineTokens prices one line, counting the newline that joins it into the
// final block.
func lineTokens(line string) int {
	return tokenutil.CountTokens(line) + 1
}
