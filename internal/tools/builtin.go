package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/dispatch"
	"github.com/parley-ai/parley/pkg/types"
)

const (
	wttrBaseURL       = "https://wttr.in"
	duckDuckGoBaseURL = "https://api.duckduckgo.com"

	userAgent = "parley/1.0"

	maxSearchResults    = 3
	maxSearchTextLength = 2000
)

// RegisterBuiltins registers the named in-process tools. Valid names are
// "get_weather" and "search_web". client may be nil for a default client.
func RegisterBuiltins(r *Registry, names []string, client *http.Client) error {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	for _, name := range names {
		switch name {
		case "get_weather":
			if err := r.Register(weatherDefinition(), &WeatherTool{Client: client, BaseURL: wttrBaseURL}); err != nil {
				return err
			}
		case "search_web":
			if err := r.Register(searchDefinition(), &SearchTool{Client: client, BaseURL: duckDuckGoBaseURL}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("tools: unknown builtin %q", name)
		}
	}
	return nil
}

func weatherDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "get_weather",
		Description: "Get the current weather for a city as a one-line brief (condition, temperature, wind).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City or location name, e.g. \"Tokyo\".",
				},
			},
			"required": []any{"city"},
		},
		Retryable: true,
	}
}

// WeatherTool fetches a compact weather brief from wttr.in.
type WeatherTool struct {
	Client  *http.Client
	BaseURL string
}

var _ dispatch.Executor = (*WeatherTool)(nil)

// Execute fetches the ?format=4 one-liner for the requested city.
func (t *WeatherTool) Execute(ctx context.Context, call types.ToolCall) (string, error) {
	var args struct {
		City string `json:"city"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return "", dispatch.Errorf(dispatch.OutcomeValidation, "tools: get_weather args: %v", err)
	}

	endpoint := fmt.Sprintf("%s/%s?format=4", t.BaseURL, url.PathEscape(args.City))
	body, err := fetch(ctx, t.Client, endpoint)
	if err != nil {
		return "", err
	}

	brief := strings.TrimSpace(string(body))
	// wttr prefixes the line with "City:"; strip it for a cleaner spoken reply.
	prefix := args.City + ":"
	if len(brief) >= len(prefix) && strings.EqualFold(brief[:len(prefix)], prefix) {
		brief = strings.TrimSpace(brief[len(prefix):])
	}
	return fmt.Sprintf("The current weather in %s is %s.", args.City, brief), nil
}

func searchDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "search_web",
		Description: "Search the web and return a short text summary of the top results.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query.",
				},
			},
			"required": []any{"query"},
		},
		Retryable: true,
	}
}

// SearchTool queries the DuckDuckGo instant-answer API.
type SearchTool struct {
	Client  *http.Client
	BaseURL string
}

var _ dispatch.Executor = (*SearchTool)(nil)

type duckDuckGoResponse struct {
	AbstractText  string `json:"AbstractText"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}

// Execute returns the instant answer when present, otherwise the first few
// related-topic snippets.
func (t *SearchTool) Execute(ctx context.Context, call types.ToolCall) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return "", dispatch.Errorf(dispatch.OutcomeValidation, "tools: search_web args: %v", err)
	}

	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1",
		t.BaseURL, url.QueryEscape(args.Query))
	body, err := fetch(ctx, t.Client, endpoint)
	if err != nil {
		return "", err
	}

	var resp duckDuckGoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", dispatch.Errorf(dispatch.OutcomeTransient, "tools: search_web: decode response: %v", err)
	}

	var parts []string
	switch {
	case resp.Answer != "":
		parts = append(parts, resp.Answer)
	case resp.AbstractText != "":
		parts = append(parts, resp.AbstractText)
	default:
		for _, topic := range resp.RelatedTopics {
			if topic.Text == "" {
				continue
			}
			parts = append(parts, topic.Text)
			if len(parts) == maxSearchResults {
				break
			}
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("No results found for %q.", args.Query), nil
	}

	out := strings.Join(parts, "\n")
	if len(out) > maxSearchTextLength {
		out = out[:maxSearchTextLength]
	}
	return out, nil
}

// fetch performs a GET and classifies failures for the dispatcher: network
// errors and 5xx are transient, other non-200 statuses are fatal.
func fetch(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, dispatch.Errorf(dispatch.OutcomeFatal, "tools: build request: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, dispatch.Errorf(dispatch.OutcomeTransient, "tools: fetch: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, dispatch.Errorf(dispatch.OutcomeTransient, "tools: fetch: upstream status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, dispatch.Errorf(dispatch.OutcomeFatal, "tools: fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, dispatch.Errorf(dispatch.OutcomeTransient, "tools: read response: %v", err)
	}
	return body, nil
}
