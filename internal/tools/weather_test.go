package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/calyptra/sage/internal/log"
)

// weatherPayload is a minimal weatherapi.com current.json response.
const weatherPayload = `{
	"location": {"name": "London", "country": "United Kingdom"},
	"current": {
		"temp_c": 18.5, "temp_f": 65.3, "feelslike_c": 17.0,
		"humidity": 72, "wind_kph": 13.0,
		"condition": {"text": "Partly cloudy"}
	}
}`

// newTestWeatherTool points a WeatherTool at a test server.
func newTestWeatherTool(t *testing.T, apiKey string, handler http.HandlerFunc) *WeatherTool {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	wt := NewWeatherTool(apiKey, log.NewNop())
	wt.baseURL = srv.URL
	return wt
}

func TestWeatherExecute_Success(t *testing.T) {
	t.Parallel()

	wt := newTestWeatherTool(t, "key123", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "London" {
			t.Errorf("upstream q = %q, want London", got)
		}
		_, _ = w.Write([]byte(weatherPayload))
	})

	got := wt.Execute(context.Background(), map[string]any{"location": "London"})
	for _, want := range []string{"London", "United Kingdom", "Partly cloudy", "18.5"} {
		if !strings.Contains(got, want) {
			t.Errorf("Execute() = %q, missing %q", got, want)
		}
	}
}

func TestWeatherExecute_CachesByNormalizedLocation(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	wt := newTestWeatherTool(t, "key123", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(weatherPayload))
	})

	first := wt.Execute(context.Background(), map[string]any{"location": "London"})
	second := wt.Execute(context.Background(), map[string]any{"location": "  LONDON "})

	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, want 1 (second call served from cache)", hits.Load())
	}
	if first != second {
		t.Errorf("cached result differs: %q vs %q", first, second)
	}
}

func TestWeatherExecute_UnknownLocation(t *testing.T) {
	t.Parallel()

	wt := newTestWeatherTool(t, "key123", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	got := wt.Execute(context.Background(), map[string]any{"location": "Atlantis"})
	if !strings.Contains(got, "couldn't find weather data") {
		t.Errorf("Execute() = %q, want a not-found message", got)
	}
}

func TestWeatherExecute_UpstreamErrorIsReadable(t *testing.T) {
	t.Parallel()

	wt := newTestWeatherTool(t, "key123", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	got := wt.Execute(context.Background(), map[string]any{"location": "London"})
	if !strings.Contains(got, "having trouble") {
		t.Errorf("Execute() = %q, want a readable failure message", got)
	}
}

func TestWeatherExecute_MockModeWithoutAPIKey(t *testing.T) {
	t.Parallel()

	wt := NewWeatherTool("", log.NewNop())

	got := wt.Execute(context.Background(), map[string]any{"location": "Oslo"})
	if !strings.Contains(got, "mock report for Oslo") {
		t.Errorf("Execute() without API key = %q, want mock report", got)
	}
}

func TestWeatherExecute_MissingLocation(t *testing.T) {
	t.Parallel()

	wt := NewWeatherTool("", log.NewNop())

	got := wt.Execute(context.Background(), map[string]any{})
	if !strings.Contains(got, "need a location") {
		t.Errorf("Execute() = %q, want a missing-location message", got)
	}
}
