// Package orchestrator mediates one user turn against the model gateway:
// attachment pre-processing, prompt rewriting, tool execution, and the
// translation of the gateway's stream into the normalized event protocol.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tradedesk/internal/domain"
	"tradedesk/internal/history"
	"tradedesk/internal/metrics"
	"tradedesk/internal/tool"
)

const (
	defaultMaxSteps    = 5
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
)

// Orchestrator owns the per-turn request flow. It is stateless across turns;
// everything cross-turn lives in the key-value store or in the history the
// caller supplies.
type Orchestrator struct {
	provider domain.StreamingProvider
	tools    *tool.Registry
	preproc  *Preprocessor
	system   string
	maxSteps int
	logger   *slog.Logger
}

type Config struct {
	Provider     domain.StreamingProvider
	Tools        *tool.Registry
	Preprocessor *Preprocessor
	SystemPrompt string
	MaxSteps     int
	Logger       *slog.Logger
}

func New(cfg Config) *Orchestrator {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		provider: cfg.Provider,
		tools:    cfg.Tools,
		preproc:  cfg.Preprocessor,
		system:   cfg.SystemPrompt,
		maxSteps: cfg.MaxSteps,
		logger:   cfg.Logger,
	}
}

// TurnInput is one inbound user turn.
type TurnInput struct {
	Prompt      string
	History     []domain.ConversationMessage // caller-supplied, already bounded
	Attachments []domain.Attachment
}

// TurnResult reports a completed turn. Reply is the final assistant text;
// Prompt is the effective (possibly rewritten) user prompt, which the caller
// persists into history instead of the raw input.
type TurnResult struct {
	Reply  string
	Prompt string
}

// EmitFunc receives normalized events strictly in arrival order. It must not
// block indefinitely; a slow consumer slows the turn (intentional
// backpressure, never reordering).
type EmitFunc func(domain.Event)

// Stream runs one turn, forwarding normalized events as they arrive and
// returning the completed exchange. On a gateway error the event sequence is
// terminated by a single error event and err is non-nil; the caller must not
// persist the incomplete exchange.
func (o *Orchestrator) Stream(ctx context.Context, in TurnInput, emit EmitFunc) (*TurnResult, error) {
	metrics.TurnsTotal.Inc()
	prompt, attachments := in.Prompt, in.Attachments

	// Product-file staging happens before the model ever sees the turn.
	if o.preproc != nil {
		pre, err := o.preproc.Run(ctx, prompt, attachments)
		if err != nil {
			// Degraded, not fatal: continue without the attachment.
			o.logger.Warn("attachment pre-processing failed", "err", err)
		} else if pre != nil {
			emit(domain.UploadEvent(pre.UploadKey, pre.RowCount, pre.Columns, pre.AlreadyExists))
			prompt = pre.Prompt
			attachments = pre.RemainingAttachments
		}
	}

	// If this turn is not itself an upload, make sure a pending upload key
	// from earlier in the conversation stays recoverable.
	if !strings.Contains(prompt, uploadKeyMarker) {
		if key := findPendingUploadKey(in.History); key != "" {
			prompt = fmt.Sprintf("[UPLOAD_KEY: %s]\n%s", key, prompt)
		}
	}

	messages := buildMessages(in.History, prompt, attachments)

	reply, err := o.runStream(ctx, messages, emit)
	if err != nil {
		metrics.TurnErrorsTotal.Inc()
		emit(domain.ErrorEvent(errorMessage(err)))
		return nil, err
	}

	emit(domain.DoneEvent())
	return &TurnResult{Reply: reply, Prompt: prompt}, nil
}

// Respond runs one complete (non-streamed) turn and returns the final text.
func (o *Orchestrator) Respond(ctx context.Context, in TurnInput) (*TurnResult, error) {
	res, err := o.Stream(ctx, in, func(domain.Event) {})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// buildMessages assembles the gateway message list: bounded history plus the
// current user message. Remaining (non-product) attachments are listed in a
// manifest line since the gateway transport is text-only.
func buildMessages(hist []domain.ConversationMessage, prompt string, attachments []domain.Attachment) []domain.Message {
	bounded := history.Bound(hist)
	messages := make([]domain.Message, 0, len(bounded)+1)
	for _, m := range bounded {
		messages = append(messages, domain.Message{Role: m.Role, Content: m.Content})
	}

	content := prompt
	if len(attachments) > 0 {
		var names []string
		for _, a := range attachments {
			names = append(names, fmt.Sprintf("%s (%s, %d bytes)", a.Name, a.MimeType, len(a.Data)))
		}
		content = fmt.Sprintf("%s\n\n[Attached files: %s]", content, strings.Join(names, "; "))
	}
	messages = append(messages, domain.Message{Role: "user", Content: content})
	return messages
}

// runStream is the stream-consumption state machine: call the gateway,
// forward deltas as they arrive, execute any tool calls, and iterate until
// the model answers without tools or the step budget runs out.
func (o *Orchestrator) runStream(ctx context.Context, messages []domain.Message, emit EmitFunc) (string, error) {
	var toolDefs []domain.ToolDefinition
	if o.tools != nil {
		toolDefs = o.tools.GetDefinitions()
	}

	var final strings.Builder
	for step := 0; step < o.maxSteps; step++ {
		streamCh := make(chan domain.StreamEvent, 64)
		streamErrCh := make(chan error, 1)
		go func() {
			streamErrCh <- o.provider.ChatStream(ctx, domain.ChatRequest{
				System:      o.system,
				Messages:    messages,
				Tools:       toolDefs,
				MaxTokens:   defaultMaxTokens,
				Temperature: defaultTemperature,
			}, streamCh)
		}()

		var stepText strings.Builder
		var toolCalls []domain.ToolCall
		for evt := range streamCh {
			switch evt.Type {
			case domain.StreamToken:
				stepText.WriteString(evt.Content)
				emit(domain.TextEvent(evt.Content))
			case domain.StreamThinking:
				emit(domain.ReasoningEvent(evt.Content))
			case domain.StreamDone:
				toolCalls = evt.ToolCalls
			case domain.StreamError:
				// The terminal error arrives via streamErrCh below.
			}
		}
		// ChatStream closes streamCh before returning; block on the error
		// channel so the goroutine's result is visible.
		if err := <-streamErrCh; err != nil {
			return "", fmt.Errorf("gateway stream: %w", err)
		}

		final.WriteString(stepText.String())

		if len(toolCalls) == 0 {
			return final.String(), nil
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   stepText.String(),
			ToolCalls: toolCalls,
		})
		messages = append(messages, o.executeToolCalls(ctx, toolCalls, emit)...)
	}

	if final.Len() == 0 {
		return "I've completed processing but have no additional response.", nil
	}
	return final.String(), nil
}

// executeToolCalls runs the model's tool calls in order. Only webSearch
// surfaces externally; every other tool stays internal so tool mechanics
// don't leak to the UI.
func (o *Orchestrator) executeToolCalls(ctx context.Context, calls []domain.ToolCall, emit EmitFunc) []domain.Message {
	results := make([]domain.Message, 0, len(calls))
	for _, tc := range calls {
		searching := tc.Name == tool.WebSearchName
		if searching {
			emit(domain.SearchingEvent())
		} else {
			o.logger.Info("executing tool", "tool", tc.Name)
		}

		metrics.ToolExecutions.Inc()
		start := time.Now()
		result, err := o.tools.Execute(ctx, tc.Name, tc.Arguments)
		metrics.ToolLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			o.logger.Error("tool execution failed", "tool", tc.Name, "err", err)
			result = tool.Failure(fmt.Sprintf("The %s tool failed to run. Please try again.", tc.Name))
		}

		if searching {
			emit(domain.SearchDoneEvent())
		}

		results = append(results, domain.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
		})
	}
	return results
}

// errorMessage extracts a user-presentable message from a stream error,
// falling back to a generic line when there is nothing usable.
func errorMessage(err error) string {
	if err == nil || strings.TrimSpace(err.Error()) == "" {
		return "Something went wrong while generating the response. Please try again."
	}
	return err.Error()
}
