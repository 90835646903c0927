package llm

import (
	"context"
	"time"
)

// DefaultTimeout bounds a Generate call when the caller's context carries
// no deadline of its own.
const DefaultTimeout = 30 * time.Second

// Request is one completion request.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Client produces a completion for a request. Implementations classify
// failures as transient or permanent so the retry layer can decide what to
// do with them.
type Client interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// StreamingClient additionally delivers the completion incrementally. The
// caller owns the chunks channel and decides when to stop reading;
// implementations never close it.
type StreamingClient interface {
	Client
	GenerateStream(ctx context.Context, req Request, chunks chan<- string) error
}

func withDefaultTimeout(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	if fallback <= 0 {
		fallback = DefaultTimeout
	}
	return context.WithTimeout(ctx, fallback)
}
