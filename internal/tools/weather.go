package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"google.golang.org/genai"

	"github.com/calyptra/sage/internal/log"
)

// WeatherToolName is the weather lookup's registered name.
const WeatherToolName = "get_weather"

const (
	// weatherBaseURL is the current-conditions endpoint.
	weatherBaseURL = "https://api.weatherapi.com/v1/current.json"

	// weatherTimeout bounds each upstream call.
	weatherTimeout = 8 * time.Second

	// okTTL caches successful lookups; the weather does not change that fast.
	okTTL = 5 * time.Minute

	// errTTL caches failures briefly so a flapping upstream is not hammered.
	errTTL = time.Minute
)

// WeatherTool looks up current conditions via weatherapi.com. Results are
// cached per normalized location; with no API key configured it serves a
// deterministic mock report instead of failing.
type WeatherTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
	cache   *cache.Cache
	logger  log.Logger
}

// NewWeatherTool creates the weather tool. An empty apiKey enables mock mode.
func NewWeatherTool(apiKey string, logger log.Logger) *WeatherTool {
	return &WeatherTool{
		apiKey:  apiKey,
		baseURL: weatherBaseURL,
		client:  &http.Client{Timeout: weatherTimeout},
		cache:   cache.New(okTTL, 10*time.Minute),
		logger:  logger,
	}
}

// Name implements Tool.
func (t *WeatherTool) Name() string { return WeatherToolName }

// Declaration implements Tool.
func (t *WeatherTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        WeatherToolName,
		Description: "Get current weather information for any location worldwide.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"location": {
					Type:        genai.TypeString,
					Description: `City name, city and country, or coordinates, e.g. "London", "Paris, France", "New York, NY"`,
				},
			},
			Required: []string{"location"},
		},
	}
}

// currentResponse is the subset of the weatherapi.com payload we format.
type currentResponse struct {
	Location struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"location"`
	Current struct {
		TempC     float64 `json:"temp_c"`
		TempF     float64 `json:"temp_f"`
		FeelsC    float64 `json:"feelslike_c"`
		Humidity  int     `json:"humidity"`
		WindKPH   float64 `json:"wind_kph"`
		Condition struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
}

// Execute implements Tool. Every outcome (success, bad location, upstream
// failure, timeout) is a result string; failures are additionally cached
// with a short TTL.
func (t *WeatherTool) Execute(ctx context.Context, args map[string]any) string {
	location, ok := stringArg(args, "location")
	if !ok || strings.TrimSpace(location) == "" {
		return "I need a location to look up the weather."
	}

	key := strings.ToLower(strings.TrimSpace(location))
	if cached, found := t.cache.Get(key); found {
		return cached.(string)
	}

	if t.apiKey == "" {
		mock := fmt.Sprintf("Weather service is not configured. Here's a mock report for %s: partly cloudy, 22°C (72°F).", location)
		t.cache.Set(key, mock, okTTL)
		return mock
	}

	report, ttl := t.fetch(ctx, location)
	t.cache.Set(key, report, ttl)
	return report
}

// fetch performs the upstream call and returns the result string plus the TTL
// it should be cached with.
func (t *WeatherTool) fetch(ctx context.Context, location string) (string, time.Duration) {
	u := fmt.Sprintf("%s?key=%s&q=%s&aqi=no", t.baseURL, url.QueryEscape(t.apiKey), url.QueryEscape(location))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		t.logger.Error("building weather request", "error", err)
		return fmt.Sprintf("I'm having trouble getting weather data for %s right now. Please try again later.", location), errTTL
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("weather lookup failed", "location", location, "error", err)
		return fmt.Sprintf("The weather service is taking too long to respond for %s. Please try again in a moment.", location), errTTL
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Sprintf("I couldn't find weather data for %q. Please check the location name and try again.", location), okTTL
	case resp.StatusCode != http.StatusOK:
		t.logger.Warn("weather upstream error", "location", location, "status", resp.StatusCode)
		return fmt.Sprintf("I'm having trouble getting weather data for %s right now. Please try again later.", location), errTTL
	}

	var data currentResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.logger.Warn("decoding weather payload", "location", location, "error", err)
		return fmt.Sprintf("I'm having trouble getting weather data for %s right now. Please try again later.", location), errTTL
	}

	report := fmt.Sprintf("Current weather in %s, %s: %s, %.1f°C (%.1f°F), feels like %.1f°C, humidity %d%%, wind %.0f km/h.",
		data.Location.Name, data.Location.Country,
		data.Current.Condition.Text,
		data.Current.TempC, data.Current.TempF,
		data.Current.FeelsC,
		data.Current.Humidity,
		data.Current.WindKPH)
	return report, okTTL
}
