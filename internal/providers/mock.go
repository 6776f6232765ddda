package providers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const MockName = "mock"

// MockGenerator is a Generator for testing.
type MockGenerator struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	FailModels   map[string]bool
	ResponseText string
	CostPerCall  float64

	// State
	requestCount atomic.Int64
}

// NewMockGenerator creates a mock with sensible defaults.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		Latency:      time.Millisecond,
		ResponseText: "mock generated section content",
		CostPerCall:  0.001,
	}
}

// Name returns the provider identifier.
func (g *MockGenerator) Name() string {
	return MockName
}

// Generate produces a canned response after the configured latency.
func (g *MockGenerator) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	count := g.requestCount.Add(1)

	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if g.ShouldFail {
		return nil, fmt.Errorf("mock generator configured to fail")
	}
	if g.FailAfter > 0 && int(count) > g.FailAfter {
		return nil, fmt.Errorf("mock generator failed after %d requests", g.FailAfter)
	}
	if g.FailModels[req.Model] {
		return nil, fmt.Errorf("mock generator failing model %s", req.Model)
	}

	select {
	case <-time.After(g.Latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	text := fmt.Sprintf("%s: %s for %s", g.ResponseText, req.Section, req.TermName)
	prompt := BuildPrompt(req.TermName, req.Section, req.InputText)

	return &GenerateResult{
		OutputText:    text,
		InputTokens:   len(prompt) / 4,
		OutputTokens:  len(text) / 4,
		Provider:      MockName,
		Model:         req.Model,
		CostUSD:       g.CostPerCall,
		ExecutionTime: time.Since(start),
	}, nil
}

// RequestCount returns the number of requests made.
func (g *MockGenerator) RequestCount() int64 {
	return g.requestCount.Load()
}

// Reset resets the request counter.
func (g *MockGenerator) Reset() {
	g.requestCount.Store(0)
}

var _ Generator = (*MockGenerator)(nil)
