package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	analyzeTimeout  = 30 * time.Second
	analyzeMaxBytes = 512 * 1024
	analyzeSnippet  = 4000
)

// AnalyzeFileTool fetches a file or media URL and returns a description the
// model can reason over. Fetch expiry is a tool-level failure, not a crash.
type AnalyzeFileTool struct {
	client *http.Client
}

func NewAnalyzeFileTool() *AnalyzeFileTool {
	return &AnalyzeFileTool{
		client: &http.Client{Timeout: analyzeTimeout},
	}
}

func (t *AnalyzeFileTool) Name() string { return "analyzeFile" }
func (t *AnalyzeFileTool) Description() string {
	return "Fetch a file or media URL and return its type, size, and a text snippet when it is textual. Use when the user shares a link to a document."
}
func (t *AnalyzeFileTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"url": {Type: "string", Description: "Full URL to fetch (http or https)"},
		},
		[]string{"url"},
	)
}

type analyzeResult struct {
	Success     bool   `json:"success"`
	ContentType string `json:"contentType"`
	SizeBytes   int    `json:"sizeBytes"`
	Truncated   bool   `json:"truncated"`
	Snippet     string `json:"snippet,omitempty"`
}

func (t *AnalyzeFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL := ArgsString(args, "url")
	if rawURL == "" {
		return Failure("No URL was provided."), nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Failure("Only http and https URLs can be analyzed."), nil
	}

	ctx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Failure("Fetching the file timed out. Please check the link and try again."), nil
		}
		return Failure(fmt.Sprintf("Fetching the file failed: %v.", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Failure(fmt.Sprintf("The server returned status %d for that link.", resp.StatusCode)), nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, analyzeMaxBytes+1))
	if err != nil {
		return Failure("Reading the file failed partway. Please try again."), nil
	}
	truncated := len(data) > analyzeMaxBytes
	if truncated {
		data = data[:analyzeMaxBytes]
	}

	result := analyzeResult{
		Success:     true,
		ContentType: resp.Header.Get("Content-Type"),
		SizeBytes:   len(data),
		Truncated:   truncated,
	}
	if isTextual(result.ContentType, data) {
		snippet := string(data)
		if len(snippet) > analyzeSnippet {
			snippet = snippet[:analyzeSnippet]
		}
		result.Snippet = snippet
	}
	return Result(result)
}

func isTextual(contentType string, data []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "xml") ||
		strings.Contains(ct, "csv") {
		return true
	}
	return utf8.Valid(data)
}
