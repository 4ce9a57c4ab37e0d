package observability

import (
	"context"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/llm"
	"github.com/jkaninda/kazi/internal/tools"
)

// --- Test doubles ---

type stubProvider struct {
	resp *llm.Response
	err  error
}

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) SendMessage(context.Context, *llm.Request) (*llm.Response, error) {
	return s.resp, s.err
}

type stubTool struct {
	result *tools.Result
	err    error
}

func (s *stubTool) Name() string                  { return "stub_tool" }
func (s *stubTool) Description() string           { return "stub" }
func (s *stubTool) InputSchema() map[string]any   { return map[string]any{"type": "object"} }
func (s *stubTool) Validate(map[string]any) error { return nil }
func (s *stubTool) Execute(context.Context, map[string]any) (*tools.Result, error) {
	return s.result, s.err
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("reading metric: %v", err)
	}
	if m.GetCounter() != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}

// --- Facade ---

func TestNewNilConfig(t *testing.T) {
	obs, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("New(nil) should return nil")
	}

	// Nil-safe accessors and shutdown.
	if obs.MetricsOrNil() != nil {
		t.Error("MetricsOrNil on nil should return nil")
	}
	if obs.TracerOrNil() != nil {
		t.Error("TracerOrNil on nil should return nil")
	}
	obs.Shutdown(context.Background())
}

func TestNewMetricsOnly(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if obs.Metrics == nil {
		t.Fatal("metrics should be enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be disabled")
	}
}

func TestNewAllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if obs == nil {
		t.Fatal("non-nil config should produce a facade")
	}
	if obs.Metrics != nil || obs.Tracer != nil {
		t.Error("all components should be nil when disabled")
	}
}

// --- Metrics ---

func TestMetricsCollectorRegistersAll(t *testing.T) {
	m := NewMetricsCollector()

	m.ScriptExecutionsTotal.WithLabelValues("success").Inc()
	m.ScriptExecutionDuration.Observe(0.1)
	m.LoopIterationsTotal.Add(42)
	m.ToolExecutionsTotal.WithLabelValues("shell_exec", "success").Inc()
	m.ToolExecutionDuration.WithLabelValues("shell_exec").Observe(0.2)
	m.LLMRequestsTotal.WithLabelValues("openai", "success").Inc()
	m.LLMRequestDuration.WithLabelValues("openai").Observe(1.5)
	m.LLMTokensUsed.WithLabelValues("openai", "input").Add(100)
	m.MapItemsTotal.WithLabelValues("error").Inc()
	m.MapInFlight.Set(2)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gathering: %v", err)
	}
	if len(families) != 10 {
		t.Errorf("gathered %d metric families, want 10", len(families))
	}
}

// --- InstrumentedProvider ---

func TestInstrumentedProviderRecordsSuccess(t *testing.T) {
	m := NewMetricsCollector()
	inner := &stubProvider{resp: &llm.Response{
		Content: "hi",
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	p := NewInstrumentedProvider(inner, m, nil)

	resp, err := p.SendMessage(context.Background(), &llm.Request{})
	if err != nil || resp.Content != "hi" {
		t.Fatalf("got (%v, %v), want the inner response", resp, err)
	}
	if p.Name() != "stub" {
		t.Errorf("Name = %q, want stub", p.Name())
	}
	if v := counterValue(t, m.LLMRequestsTotal.WithLabelValues("stub", "success")); v != 1 {
		t.Errorf("llm_requests{success} = %v, want 1", v)
	}
	if v := counterValue(t, m.LLMTokensUsed.WithLabelValues("stub", "input")); v != 10 {
		t.Errorf("llm_tokens{input} = %v, want 10", v)
	}
	if v := counterValue(t, m.LLMTokensUsed.WithLabelValues("stub", "output")); v != 5 {
		t.Errorf("llm_tokens{output} = %v, want 5", v)
	}
}

func TestInstrumentedProviderRecordsError(t *testing.T) {
	m := NewMetricsCollector()
	p := NewInstrumentedProvider(&stubProvider{err: errors.New("rate limited")}, m, nil)

	if _, err := p.SendMessage(context.Background(), &llm.Request{}); err == nil {
		t.Fatal("expected the inner error to propagate")
	}
	if v := counterValue(t, m.LLMRequestsTotal.WithLabelValues("stub", "error")); v != 1 {
		t.Errorf("llm_requests{error} = %v, want 1", v)
	}
}

func TestInstrumentedProviderNilMetrics(t *testing.T) {
	p := NewInstrumentedProvider(&stubProvider{resp: &llm.Response{Content: "ok"}}, nil, nil)
	if _, err := p.SendMessage(context.Background(), &llm.Request{}); err != nil {
		t.Fatalf("nil metrics should not affect delivery: %v", err)
	}
}

// --- InstrumentedTool ---

func TestInstrumentedToolStatuses(t *testing.T) {
	tests := []struct {
		name       string
		tool       *stubTool
		wantStatus string
		wantErr    bool
	}{
		{"success", &stubTool{result: &tools.Result{Output: "ok", Success: true}}, "success", false},
		{"failed result", &stubTool{result: &tools.Result{Output: "nope", Success: false}}, "failed", false},
		{"execution error", &stubTool{err: errors.New("boom")}, "error", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetricsCollector()
			w := NewInstrumentedTool(tt.tool, m, nil)

			_, err := w.Execute(context.Background(), map[string]any{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if v := counterValue(t, m.ToolExecutionsTotal.WithLabelValues("stub_tool", tt.wantStatus)); v != 1 {
				t.Errorf("tool_executions{%s} = %v, want 1", tt.wantStatus, v)
			}
		})
	}
}

func TestInstrumentedToolDelegates(t *testing.T) {
	inner := &stubTool{result: &tools.Result{Output: "ok", Success: true}}
	w := NewInstrumentedTool(inner, nil, nil)

	if w.Name() != "stub_tool" || w.Description() != "stub" {
		t.Error("identity methods should delegate to the inner tool")
	}
	if w.InputSchema() == nil {
		t.Error("InputSchema should delegate")
	}
	if err := w.Validate(nil); err != nil {
		t.Errorf("Validate should delegate: %v", err)
	}
}
