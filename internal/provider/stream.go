package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tradedesk/internal/domain"
)

type oaiStreamChunk struct {
	Choices []oaiStreamChoice `json:"choices"`
}

type oaiStreamChoice struct {
	Delta        oaiStreamDelta `json:"delta"`
	FinishReason string         `json:"finish_reason"`
}

type oaiStreamDelta struct {
	Content          string        `json:"content"`
	ReasoningContent string        `json:"reasoning_content"` // reasoning models
	ToolCalls        []oaiToolCall `json:"tool_calls"`
}

// ChatStream performs a streamed generation, forwarding each event to out as
// it arrives. Tool-call fragments are accumulated and delivered complete on
// the terminal StreamDone event. out is closed before returning.
func (g *Gateway) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	body := g.buildBody(req, true)
	httpReq, err := g.newRequest(ctx, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gateway stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway %d: %s", resp.StatusCode, string(respBody))
	}

	// Tool-call fragments arrive keyed by index; name and id on the first
	// fragment, argument text spread across the rest.
	acc := make(map[int]*oaiToolCall)
	maxIdx := -1

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			break
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			g.logger.Warn("skipping malformed stream chunk", "err", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.ReasoningContent != "" {
			if err := emit(ctx, out, domain.StreamEvent{Type: domain.StreamThinking, Content: delta.ReasoningContent}); err != nil {
				return err
			}
		}
		if delta.Content != "" {
			if err := emit(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: delta.Content}); err != nil {
				return err
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if idx > maxIdx {
				maxIdx = idx
			}
			cur, ok := acc[idx]
			if !ok {
				cur = &oaiToolCall{}
				acc[idx] = cur
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Function.Name = tc.Function.Name
			}
			cur.Function.Arguments += tc.Function.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	var toolCalls []domain.ToolCall
	for i := 0; i <= maxIdx; i++ {
		if tc, ok := acc[i]; ok && tc.Function.Name != "" {
			toolCalls = append(toolCalls, decodeToolCall(*tc))
		}
	}

	return emit(ctx, out, domain.StreamEvent{Type: domain.StreamDone, ToolCalls: toolCalls})
}

func emit(ctx context.Context, out chan<- domain.StreamEvent, evt domain.StreamEvent) error {
	select {
	case out <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
