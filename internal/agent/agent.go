// Package agent wires authentication, memory, and the response cache into
// the single entry point the server and CLI call. It owns no domain logic
// of its own: every step of Process delegates to the component that
// implements it, and it is the only package allowed to reach across them.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/auth"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/cag"
	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/memory"
)

const (
	// DefaultHistoryEntries is how many working-memory entries are offered
	// to the context assembler per query.
	DefaultHistoryEntries = 8
	// DefaultMemoryResults is how many retrieved memories are considered.
	DefaultMemoryResults = 5
	// DefaultContextBudget caps the assembled context, in tokens.
	DefaultContextBudget = 2048
)

// DefaultSystemPrompt frames every generation unless the deployment
// overrides it.
const DefaultSystemPrompt = "You are a cybersecurity mentor. Explain offensive and defensive " +
	"techniques precisely, name the tools involved, and never invent flags, " +
	"options, or CVE identifiers."

// Config tunes how much surrounding knowledge each query is given.
type Config struct {
	HistoryEntries int    // working-memory entries offered per query
	MemoryResults  int    // retrieved memories considered per query
	ContextBudget  int    // token budget for the assembled context
	SystemPrompt   string // system prompt sent with every generation
}

func (c Config) withDefaults() Config {
	if c.HistoryEntries <= 0 {
		c.HistoryEntries = DefaultHistoryEntries
	}
	if c.MemoryResults <= 0 {
		c.MemoryResults = DefaultMemoryResults
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = DefaultContextBudget
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	return c
}

// Request is one user query plus the credentials and knobs that scope it.
type Request struct {
	AccessToken       string `json:"accessToken"`
	Query             string `json:"query"`
	AcceptApproximate bool   `json:"acceptApproximate,omitempty"`

	// ContextBudget overrides the configured token budget for this request.
	// Zero keeps the default.
	ContextBudget int `json:"contextBudget,omitempty"`
}

// Response carries the answer plus enough metadata to explain it.
type Response struct {
	Result    cag.Result `json:"result"`
	User      string     `json:"user"`
	SessionID string     `json:"sessionId"`
	Reasoning Reasoning  `json:"reasoning"`
}

// Reasoning describes how the answer's context was put together, so an
// operator can see why a response did or did not draw on stored knowledge.
type Reasoning struct {
	HistoryEntries int      `json:"historyEntries"`
	MemoriesUsed   int      `json:"memoriesUsed"`
	MemoryKinds    []string `json:"memoryKinds,omitempty"`
	ContextTokens  int      `json:"contextTokens"`
	ElapsedMs      int64    `json:"elapsedMs"`
}

// Statistics aggregates component snapshots for the status surfaces.
type Statistics struct {
	Cache  cag.Stats         `json:"cache"`
	Memory memory.Statistics `json:"memory"`
}

// Agent is the façade. All methods are safe for concurrent use.
type Agent struct {
	config Config
	auth   *auth.Service
	memory *memory.Service
	cache  *cag.Engine
	logger logging.Logger
}

// New validates the wiring. Every dependency is required.
func New(config Config, authSvc *auth.Service, mem *memory.Service, cache *cag.Engine, logger logging.Logger) (*Agent, error) {
	if authSvc == nil {
		return nil, errs.NewConfigError("agent requires the auth service")
	}
	if mem == nil {
		return nil, errs.NewConfigError("agent requires the memory service")
	}
	if cache == nil {
		return nil, errs.NewConfigError("agent requires the response cache")
	}
	return &Agent{
		config: config.withDefaults(),
		auth:   authSvc,
		memory: mem,
		cache:  cache,
		logger: logging.OrNop(logger),
	}, nil
}

// Process answers one query: authenticate, assemble context from memory,
// consult the cache, remember the interaction, audit it. Auth failures are
// audited and returned; a failed memory write degrades the response's
// bookkeeping but never loses the answer.
func (a *Agent) Process(ctx context.Context, req Request) (Response, error) {
	started := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Response{}, errs.NewConfigError("query must not be empty")
	}

	verify, err := a.auth.Verify(ctx, req.AccessToken)
	if err != nil {
		a.audit(ctx, map[string]any{
			"outcome": "denied",
			"error":   string(errs.CodeOf(err)),
		})
		return Response{}, err
	}
	principal := Principal{
		UserID:    verify.User.ID,
		Username:  verify.User.Username,
		Role:      verify.User.Role,
		SessionID: verify.Session.ID,
	}
	ctx = WithPrincipal(ctx, principal)

	asm := a.assembleContext(ctx, query, req.ContextBudget)

	result, err := a.cache.Query(ctx, query, cag.QueryOptions{
		AcceptApproximate: req.AcceptApproximate,
		Context:           asm.text,
		System:            a.config.SystemPrompt,
	})
	if err != nil {
		a.audit(ctx, map[string]any{
			"actor":   principal.Username,
			"session": principal.SessionID,
			"outcome": "error",
			"error":   string(errs.CodeOf(err)),
		})
		return Response{}, err
	}

	if _, err := a.memory.StoreInteraction(ctx, query, result.Response, map[string]string{
		"user":    principal.Username,
		"session": principal.SessionID,
		"hitType": string(result.CacheHitType),
	}); err != nil {
		a.logger.Warn("agent: interaction not stored: %v", err)
	}

	a.audit(ctx, map[string]any{
		"actor":   principal.Username,
		"session": principal.SessionID,
		"outcome": "answered",
		"cached":  result.Cached,
		"hitType": string(result.CacheHitType),
	})

	return Response{
		Result:    result,
		User:      principal.Username,
		SessionID: principal.SessionID,
		Reasoning: Reasoning{
			HistoryEntries: asm.historyEntries,
			MemoriesUsed:   asm.memoriesUsed,
			MemoryKinds:    asm.kinds,
			ContextTokens:  asm.tokens,
			ElapsedMs:      time.Since(started).Milliseconds(),
		},
	}, nil
}

// Statistics snapshots the cache and memory counters.
func (a *Agent) Statistics() Statistics {
	return Statistics{
		Cache:  a.cache.Statistics(),
		Memory: a.memory.Statistics(),
	}
}

func (a *Agent) audit(ctx context.Context, details map[string]any) {
	if err := a.auth.LogEvent(ctx, "query", "agent", details); err != nil {
		a.logger.Warn("agent: audit append failed: %v", err)
	}
}
