package tools

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"google.golang.org/genai"

	"github.com/calyptra/sage/internal/log"
)

// countingTool records how many times it executed.
type countingTool struct {
	name  string
	calls atomic.Int64
}

func (t *countingTool) Name() string { return t.name }

func (t *countingTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:       t.name,
		Parameters: &genai.Schema{Type: genai.TypeObject},
	}
}

func (t *countingTool) Execute(_ context.Context, args map[string]any) string {
	n := t.calls.Add(1)
	return fmt.Sprintf("%s result %d", t.name, n)
}

func TestDedupKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		a, b      Call
		wantEqual bool
	}{
		{
			name:      "identical calls",
			a:         Call{Name: "get_weather", Args: map[string]any{"location": "London"}},
			b:         Call{Name: "get_weather", Args: map[string]any{"location": "London"}},
			wantEqual: true,
		},
		{
			name:      "argument order does not matter",
			a:         Call{Name: "t", Args: map[string]any{"a": 1.0, "b": 2.0}},
			b:         Call{Name: "t", Args: map[string]any{"b": 2.0, "a": 1.0}},
			wantEqual: true,
		},
		{
			name:      "different argument values",
			a:         Call{Name: "get_weather", Args: map[string]any{"location": "London"}},
			b:         Call{Name: "get_weather", Args: map[string]any{"location": "Paris"}},
			wantEqual: false,
		},
		{
			name:      "different tool names",
			a:         Call{Name: "get_weather", Args: map[string]any{"location": "London"}},
			b:         Call{Name: "calculate", Args: map[string]any{"location": "London"}},
			wantEqual: false,
		},
		{
			name:      "nil and empty args are distinct",
			a:         Call{Name: "t"},
			b:         Call{Name: "t", Args: map[string]any{}},
			wantEqual: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if gotEqual := tt.a.DedupKey() == tt.b.DedupKey(); gotEqual != tt.wantEqual {
				t.Errorf("DedupKey equality = %v, want %v (%q vs %q)",
					gotEqual, tt.wantEqual, tt.a.DedupKey(), tt.b.DedupKey())
			}
		})
	}
}

func TestDispatch_DeduplicatesWithinRound(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "get_weather"}
	r := NewRegistry(log.NewNop(), tool)

	results := r.Dispatch(context.Background(), []Call{
		{Name: "get_weather", Args: map[string]any{"location": "London"}},
		{Name: "get_weather", Args: map[string]any{"location": "London"}},
	})

	if got := tool.calls.Load(); got != 1 {
		t.Errorf("underlying tool executed %d times, want exactly 1", got)
	}
	if len(results) != 1 {
		t.Errorf("Dispatch() returned %d results, want 1 (duplicates collapsed)", len(results))
	}
}

func TestDispatch_DistinctArgsBothRun(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "get_weather"}
	r := NewRegistry(log.NewNop(), tool)

	results := r.Dispatch(context.Background(), []Call{
		{Name: "get_weather", Args: map[string]any{"location": "London"}},
		{Name: "get_weather", Args: map[string]any{"location": "Paris"}},
	})

	if got := tool.calls.Load(); got != 2 {
		t.Errorf("underlying tool executed %d times, want 2", got)
	}
	if len(results) != 2 {
		t.Errorf("Dispatch() returned %d results, want 2", len(results))
	}
}

func TestDispatch_UnknownToolSkippedSilently(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "calculate"}
	r := NewRegistry(log.NewNop(), tool)

	results := r.Dispatch(context.Background(), []Call{
		{Name: "summon_dragon", Args: map[string]any{"size": "large"}},
		{Name: "calculate", Args: map[string]any{"expression": "1+1"}},
	})

	if len(results) != 1 {
		t.Fatalf("Dispatch() returned %d results, want 1 (hallucinated name skipped)", len(results))
	}
	if results[0].Name != "calculate" {
		t.Errorf("surviving result is %q, want calculate", results[0].Name)
	}
}

func TestDispatch_ResultsInFirstOccurrenceOrder(t *testing.T) {
	t.Parallel()

	a := &countingTool{name: "alpha"}
	b := &countingTool{name: "beta"}
	r := NewRegistry(log.NewNop(), a, b)

	results := r.Dispatch(context.Background(), []Call{
		{Name: "beta", Args: map[string]any{"n": 1.0}},
		{Name: "alpha", Args: map[string]any{"n": 2.0}},
	})

	if len(results) != 2 {
		t.Fatalf("Dispatch() returned %d results, want 2", len(results))
	}
	if results[0].Name != "beta" || results[1].Name != "alpha" {
		t.Errorf("result order = [%s, %s], want [beta, alpha]", results[0].Name, results[1].Name)
	}
}

func TestDeclarations(t *testing.T) {
	t.Parallel()

	r := NewRegistry(log.NewNop(),
		NewWeatherTool("", log.NewNop()),
		NewCalcTool(log.NewNop()),
	)

	decls := r.Declarations()
	if len(decls) != 1 {
		t.Fatalf("Declarations() returned %d tool groups, want 1", len(decls))
	}
	if got := len(decls[0].FunctionDeclarations); got != 2 {
		t.Fatalf("declared %d functions, want 2", got)
	}
	if decls[0].FunctionDeclarations[0].Name != WeatherToolName {
		t.Errorf("first declaration = %q, want registration order preserved", decls[0].FunctionDeclarations[0].Name)
	}
}

func TestDeclarations_EmptyRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(log.NewNop())
	if got := r.Declarations(); got != nil {
		t.Errorf("Declarations() on empty registry = %v, want nil", got)
	}
}
