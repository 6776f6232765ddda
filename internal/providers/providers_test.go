package providers

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestModelSpecCostFor(t *testing.T) {
	spec := ModelSpec{
		Selector:        "gpt-4o-mini",
		Provider:        OpenAIName,
		Model:           "gpt-4o-mini",
		InputCostPer1M:  0.15,
		OutputCostPer1M: 0.60,
	}

	got := spec.CostFor(1_000_000, 1_000_000)
	if got != 0.75 {
		t.Errorf("CostFor(1M, 1M) = %v, want 0.75", got)
	}

	if got := spec.CostFor(0, 0); got != 0 {
		t.Errorf("CostFor(0, 0) = %v, want 0", got)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	mock := NewMockGenerator()
	reg.Register(mock)
	reg.AddModel(ModelSpec{
		Selector:        "mock-small",
		Provider:        MockName,
		Model:           "mock-small-1",
		InputCostPer1M:  0.10,
		OutputCostPer1M: 0.40,
	})

	t.Run("resolve known selector", func(t *testing.T) {
		client, spec, err := reg.Resolve("mock-small")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if client.Name() != MockName {
			t.Errorf("client name = %s, want %s", client.Name(), MockName)
		}
		if spec.Model != "mock-small-1" {
			t.Errorf("spec model = %s, want mock-small-1", spec.Model)
		}
	})

	t.Run("unknown selector", func(t *testing.T) {
		_, _, err := reg.Resolve("no-such-model")
		if err == nil {
			t.Fatal("expected error for unknown selector")
		}
		if !strings.Contains(err.Error(), "unknown model selector") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("selector without client", func(t *testing.T) {
		reg.AddModel(ModelSpec{Selector: "orphan", Provider: "missing"})
		_, _, err := reg.Resolve("orphan")
		if err == nil {
			t.Fatal("expected error for missing provider")
		}
	})

	t.Run("spec without client", func(t *testing.T) {
		spec, err := reg.Spec("orphan")
		if err != nil {
			t.Fatalf("Spec failed: %v", err)
		}
		if spec.Provider != "missing" {
			t.Errorf("provider = %s, want missing", spec.Provider)
		}
	})

	t.Run("models sorted", func(t *testing.T) {
		models := reg.Models()
		if len(models) != 2 {
			t.Fatalf("got %d models, want 2", len(models))
		}
		if models[0] != "mock-small" || models[1] != "orphan" {
			t.Errorf("models = %v, want [mock-small orphan]", models)
		}
	})

	t.Run("unregister", func(t *testing.T) {
		reg.Unregister(MockName)
		if reg.Has(MockName) {
			t.Error("mock still registered after Unregister")
		}
	})
}

func TestMockGenerator(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock := NewMockGenerator()
		result, err := mock.Generate(context.Background(), &GenerateRequest{
			TermName: "Gradient Descent",
			Section:  "How It Works",
			Model:    "mock-small-1",
		})
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if !strings.Contains(result.OutputText, "Gradient Descent") {
			t.Errorf("output missing term name: %q", result.OutputText)
		}
		if result.InputTokens <= 0 || result.OutputTokens <= 0 {
			t.Errorf("token counts not populated: in=%d out=%d", result.InputTokens, result.OutputTokens)
		}
		if mock.RequestCount() != 1 {
			t.Errorf("request count = %d, want 1", mock.RequestCount())
		}
	})

	t.Run("fail after N", func(t *testing.T) {
		mock := NewMockGenerator()
		mock.FailAfter = 2
		req := &GenerateRequest{TermName: "Test", Section: "Introduction"}

		for i := 0; i < 2; i++ {
			if _, err := mock.Generate(context.Background(), req); err != nil {
				t.Fatalf("call %d failed early: %v", i+1, err)
			}
		}
		if _, err := mock.Generate(context.Background(), req); err == nil {
			t.Fatal("expected failure on third call")
		}
	})

	t.Run("fail specific model", func(t *testing.T) {
		mock := NewMockGenerator()
		mock.FailModels = map[string]bool{"primary": true}

		if _, err := mock.Generate(context.Background(), &GenerateRequest{
			TermName: "Test", Section: "Introduction", Model: "primary",
		}); err == nil {
			t.Fatal("expected failure for primary model")
		}
		if _, err := mock.Generate(context.Background(), &GenerateRequest{
			TermName: "Test", Section: "Introduction", Model: "fallback",
		}); err != nil {
			t.Fatalf("fallback model failed: %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		mock := NewMockGenerator()
		mock.Latency = time.Second
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := mock.Generate(ctx, &GenerateRequest{TermName: "Test", Section: "Introduction"}); err == nil {
			t.Fatal("expected context error")
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("consumes available tokens immediately", func(t *testing.T) {
		limiter := NewRateLimiter(600)
		start := time.Now()
		for i := 0; i < 5; i++ {
			if err := limiter.Wait(context.Background()); err != nil {
				t.Fatalf("Wait failed: %v", err)
			}
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("waits took %v, expected near-instant", elapsed)
		}
	})

	t.Run("try consume drains bucket", func(t *testing.T) {
		limiter := NewRateLimiter(60)
		for i := 0; i < 60; i++ {
			if !limiter.TryConsume() {
				t.Fatalf("token %d unavailable with full bucket", i)
			}
		}
		if limiter.TryConsume() {
			t.Error("consumed token from empty bucket")
		}
	})

	t.Run("wait honors context cancellation", func(t *testing.T) {
		limiter := NewRateLimiter(60)
		for limiter.TryConsume() {
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if err := limiter.Wait(ctx); err == nil {
			t.Fatal("expected context deadline error")
		}
	})

	t.Run("throttle drains tokens", func(t *testing.T) {
		limiter := NewRateLimiter(600)
		limiter.RecordThrottle(time.Second)
		status := limiter.Status()
		if status.TokensAvailable > 1 {
			t.Errorf("tokens available = %d after throttle, want ~0", status.TokensAvailable)
		}
		if status.LastThrottle.IsZero() {
			t.Error("LastThrottle not recorded")
		}
	})

	t.Run("status reports limits", func(t *testing.T) {
		limiter := NewRateLimiter(120)
		status := limiter.Status()
		if status.TokensLimit != 120 {
			t.Errorf("tokens limit = %d, want 120", status.TokensLimit)
		}
	})
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("Transformer", "Applications", "")
	if !strings.Contains(prompt, "Transformer") || !strings.Contains(prompt, "Applications") {
		t.Errorf("prompt missing term or section: %q", prompt)
	}

	withInput := BuildPrompt("Transformer", "Applications", "attention mechanism")
	if !strings.Contains(withInput, "attention mechanism") {
		t.Error("prompt missing input text")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("parseRetryAfter(30) = %v, want 30s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(empty) = %v, want 0", got)
	}
	if got := parseRetryAfter("garbage"); got != 0 {
		t.Errorf("parseRetryAfter(garbage) = %v, want 0", got)
	}
}
