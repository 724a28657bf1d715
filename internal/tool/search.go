package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	searchTimeout   = 15 * time.Second
	userAgentString = "tradedesk/0.1"
)

// WebSearchName is the one tool name whose calls surface as external
// searching / search_done events.
const WebSearchName = "webSearch"

// WebSearchTool searches the web using the DuckDuckGo Instant Answer API.
type WebSearchTool struct {
	client *http.Client
}

func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{
		client: &http.Client{Timeout: searchTimeout},
	}
}

func (t *WebSearchTool) Name() string { return WebSearchName }
func (t *WebSearchTool) Description() string {
	return "Search the web for information. Returns a summary of search results. Use for current events, facts, or anything you're unsure about."
}
func (t *WebSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "Search query to look up on the web"},
		},
		[]string{"query"},
	)
}

type searchResult struct {
	Success bool   `json:"success"`
	Summary string `json:"summary"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := ArgsString(args, "query")
	if query == "" {
		return Failure("No search query was provided."), nil
	}

	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1&skip_disambig=1",
		url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		// Search failure degrades gracefully: the model proceeds without
		// search context.
		return Failure(fmt.Sprintf("Web search is unavailable right now (%v). Answer from existing knowledge.", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failure("Web search returned an unreadable response. Answer from existing knowledge."), nil
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return Failure("Web search returned an unreadable response. Answer from existing knowledge."), nil
	}

	var results []string
	if ddg.Abstract != "" {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", ddg.Heading, ddg.Abstract, ddg.AbstractURL))
	}
	if ddg.Answer != "" {
		results = append(results, fmt.Sprintf("Answer: %s", ddg.Answer))
	}
	for i, topic := range ddg.RelatedTopics {
		if i >= 5 {
			break
		}
		if topic.Text != "" {
			results = append(results, fmt.Sprintf("- %s", topic.Text))
		}
	}

	summary := strings.Join(results, "\n\n")
	if summary == "" {
		summary = fmt.Sprintf("No instant results found for: %s. Try a more specific query.", query)
	}
	return Result(searchResult{Success: true, Summary: summary})
}

type ddgResponse struct {
	Heading       string `json:"Heading"`
	Abstract      string `json:"Abstract"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}
