package llm

import (
	"context"
	"sync"
	"time"

	tokenutil "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/shared/token"
)

// RequestRecorder receives one measurement per generation round trip.
// Token counts are estimates computed from the request and response text.
type RequestRecorder interface {
	RecordLLMRequest(ctx context.Context, model, status string, latency time.Duration, inputTokens, outputTokens int)
}

// InstrumentedClient decorates a Client with per-request measurements.
// It sits outside the resilient wrapper so one recorded request covers
// the whole retry envelope, not each attempt.
type InstrumentedClient struct {
	underlying Client
	recorder   RequestRecorder
}

// NewInstrumented wraps client. A nil recorder passes everything through
// unmeasured.
func NewInstrumented(client Client, recorder RequestRecorder) *InstrumentedClient {
	return &InstrumentedClient{underlying: client, recorder: recorder}
}

func (c *InstrumentedClient) Name() string { return c.underlying.Name() }

func (c *InstrumentedClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.recorder == nil {
		return c.underlying.Generate(ctx, req)
	}

	start := time.Now()
	text, err := c.underlying.Generate(ctx, req)
	status := "ok"
	outputTokens := 0
	if err != nil {
		status = "error"
	} else {
		outputTokens = tokenutil.CountTokens(text)
	}
	c.recorder.RecordLLMRequest(ctx, c.underlying.Name(), status, time.Since(start),
		requestTokens(req), outputTokens)
	return text, err
}

// GenerateStream measures a streamed generation by teeing the chunks
// through an intermediate channel, so output tokens can be counted
// without buffering the whole completion.
func (c *InstrumentedClient) GenerateStream(ctx context.Context, req Request, chunks chan<- string) error {
	streaming, ok := c.underlying.(StreamingClient)
	if !ok {
		text, err := c.Generate(ctx, req)
		if err != nil {
			return err
		}
		select {
		case chunks <- text:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	if c.recorder == nil {
		return streaming.GenerateStream(ctx, req, chunks)
	}

	inner := make(chan string)
	var wg sync.WaitGroup
	outputTokens := 0
	wg.Add(1)
	go func() {
		defer wg.Done()
		for chunk := range inner {
			outputTokens += tokenutil.CountTokens(chunk)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				// Keep draining so the producer never blocks on us.
			}
		}
	}()

	start := time.Now()
	err := streaming.GenerateStream(ctx, req, inner)
	close(inner)
	wg.Wait()

	status := "ok"
	if err != nil {
		status = "error"
	}
	c.recorder.RecordLLMRequest(ctx, c.underlying.Name(), status, time.Since(start),
		requestTokens(req), outputTokens)
	return err
}

func requestTokens(req Request) int {
	n := tokenutil.CountTokens(req.Prompt)
	if req.System != "" {
		n += tokenutil.CountTokens(req.System)
	}
	return n
}
