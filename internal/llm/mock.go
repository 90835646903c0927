package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient is an in-memory Client for tests and offline runs. It records
// every call and can inject canned responses and failures.
type MockClient struct {
	mu        sync.Mutex
	fallback  string
	responses map[string]string
	failNext  int
	failWith  error
	calls     int
	prompts   []string
}

func NewMockClient(fallback string) *MockClient {
	if fallback == "" {
		fallback = "mock response"
	}
	return &MockClient{fallback: fallback, responses: make(map[string]string)}
}

func (m *MockClient) Name() string { return "mock" }

// Respond fixes the response for one exact prompt.
func (m *MockClient) Respond(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailNext makes the next n calls return err.
func (m *MockClient) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failWith = err
}

// Calls reports how many Generate calls reached the mock.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the prompts seen, in call order.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func (m *MockClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, req.Prompt)
	if m.failNext > 0 {
		m.failNext--
		return "", m.failWith
	}
	if resp, ok := m.responses[req.Prompt]; ok {
		return resp, nil
	}
	return m.fallback, nil
}

// GenerateStream delivers the canned response in word-sized chunks.
func (m *MockClient) GenerateStream(ctx context.Context, req Request, chunks chan<- string) error {
	text, err := m.Generate(ctx, req)
	if err != nil {
		return err
	}
	for _, word := range strings.SplitAfter(text, " ") {
		select {
		case chunks <- word:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
