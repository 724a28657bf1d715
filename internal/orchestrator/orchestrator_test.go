package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"tradedesk/internal/catalog"
	"tradedesk/internal/domain"
	"tradedesk/internal/kvstore"
	"tradedesk/internal/tool"
	"tradedesk/internal/upload"
)

// scriptedProvider replays one event script per ChatStream call, recording
// the requests it receives.
type scriptedProvider struct {
	scripts  [][]domain.StreamEvent
	errs     []error
	requests []domain.ChatRequest
	call     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, errors.New("not used")
}

func (p *scriptedProvider) ChatStream(_ context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	p.requests = append(p.requests, req)
	i := p.call
	p.call++
	if i >= len(p.scripts) {
		return errors.New("no script for call")
	}
	for _, evt := range p.scripts[i] {
		out <- evt
	}
	if i < len(p.errs) {
		return p.errs[i]
	}
	return nil
}

// echoTool records its invocations and returns a fixed result.
type echoTool struct {
	name  string
	calls []map[string]any
}

func (t *echoTool) Name() string               { return t.name }
func (t *echoTool) Description() string        { return "test tool" }
func (t *echoTool) Parameters() map[string]any { return tool.ToolParameters(nil, nil) }

func (t *echoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	t.calls = append(t.calls, args)
	return `{"success":true}`, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func token(s string) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.StreamToken, Content: s}
}

func streamDone(calls ...domain.ToolCall) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.StreamDone, ToolCalls: calls}
}

func collectEvents(t *testing.T, o *Orchestrator, in TurnInput) ([]domain.Event, *TurnResult, error) {
	t.Helper()
	var events []domain.Event
	res, err := o.Stream(context.Background(), in, func(e domain.Event) {
		events = append(events, e)
	})
	return events, res, err
}

func TestStream_PlainText(t *testing.T) {
	p := &scriptedProvider{scripts: [][]domain.StreamEvent{
		{token("Hello"), token(" there"), streamDone()},
	}}
	o := New(Config{Provider: p, Logger: discardLogger()})

	events, res, err := collectEvents(t, o, TurnInput{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "Hello there" {
		t.Errorf("reply = %q", res.Reply)
	}
	if res.Prompt != "hi" {
		t.Errorf("effective prompt = %q", res.Prompt)
	}

	var types []string
	for _, e := range events {
		types = append(types, e.T)
	}
	want := []string{domain.EventText, domain.EventText, domain.EventDone}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("event sequence = %v, want %v", types, want)
	}
}

func TestStream_ReasoningForwarded(t *testing.T) {
	p := &scriptedProvider{scripts: [][]domain.StreamEvent{
		{{Type: domain.StreamThinking, Content: "mulling"}, token("answer"), streamDone()},
	}}
	o := New(Config{Provider: p, Logger: discardLogger()})

	events, res, err := collectEvents(t, o, TurnInput{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "answer" {
		t.Errorf("reply = %q; reasoning must not leak into the reply", res.Reply)
	}
	if events[0].T != domain.EventReasoning || events[0].V != "mulling" {
		t.Errorf("first event = %+v", events[0])
	}
}

func TestStream_GatewayErrorTerminatesWithErrorEvent(t *testing.T) {
	p := &scriptedProvider{
		scripts: [][]domain.StreamEvent{{token("partial")}},
		errs:    []error{errors.New("upstream closed")},
	}
	o := New(Config{Provider: p, Logger: discardLogger()})

	events, res, err := collectEvents(t, o, TurnInput{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if res != nil {
		t.Error("result returned alongside error")
	}

	last := events[len(events)-1]
	if last.T != domain.EventError || !strings.Contains(last.Msg, "upstream closed") {
		t.Errorf("terminal event = %+v", last)
	}
	for _, e := range events {
		if e.T == domain.EventDone {
			t.Error("done emitted on a failed turn")
		}
	}
	errCount := 0
	for _, e := range events {
		if e.T == domain.EventError {
			errCount++
		}
	}
	if errCount != 1 {
		t.Errorf("error events = %d, want exactly 1", errCount)
	}
}

func TestStream_ToolLoop(t *testing.T) {
	lookup := &echoTool{name: "catalogLookup"}
	reg := tool.NewRegistry(discardLogger())
	reg.Register(lookup)

	p := &scriptedProvider{scripts: [][]domain.StreamEvent{
		{streamDone(domain.ToolCall{ID: "1", Name: "catalogLookup", Arguments: map[string]any{"sku": "AB-1"}})},
		{token("Found it."), streamDone()},
	}}
	o := New(Config{Provider: p, Tools: reg, Logger: discardLogger()})

	events, res, err := collectEvents(t, o, TurnInput{Prompt: "price of AB-1?"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "Found it." {
		t.Errorf("reply = %q", res.Reply)
	}
	if len(lookup.calls) != 1 || lookup.calls[0]["sku"] != "AB-1" {
		t.Errorf("tool calls = %v", lookup.calls)
	}

	// Internal tools never surface searching events.
	for _, e := range events {
		if e.T == domain.EventSearching || e.T == domain.EventSearchDone {
			t.Errorf("tool mechanics leaked: %+v", e)
		}
	}

	// Second request must carry the assistant tool-call message and the
	// tool result.
	second := p.requests[1]
	n := len(second.Messages)
	if second.Messages[n-1].Role != "tool" || second.Messages[n-2].Role != "assistant" {
		t.Errorf("tool exchange missing from follow-up request: %+v", second.Messages)
	}
}

func TestStream_WebSearchSurfacesEvents(t *testing.T) {
	search := &echoTool{name: tool.WebSearchName}
	reg := tool.NewRegistry(discardLogger())
	reg.Register(search)

	p := &scriptedProvider{scripts: [][]domain.StreamEvent{
		{streamDone(domain.ToolCall{ID: "1", Name: tool.WebSearchName, Arguments: map[string]any{"query": "steel prices"}})},
		{token("Here's what I found."), streamDone()},
	}}
	o := New(Config{Provider: p, Tools: reg, Logger: discardLogger()})

	events, _, err := collectEvents(t, o, TurnInput{Prompt: "look it up"})
	if err != nil {
		t.Fatal(err)
	}

	var types []string
	for _, e := range events {
		types = append(types, e.T)
	}
	joined := strings.Join(types, ",")
	if !strings.Contains(joined, domain.EventSearching+","+domain.EventSearchDone) {
		t.Errorf("searching bracket missing: %v", types)
	}
}

func TestStream_StepBudgetFallback(t *testing.T) {
	loop := &echoTool{name: "catalogLookup"}
	reg := tool.NewRegistry(discardLogger())
	reg.Register(loop)

	// Every step asks for another tool call; the budget must end the turn
	// with the fallback text instead of spinning.
	call := streamDone(domain.ToolCall{ID: "1", Name: "catalogLookup", Arguments: nil})
	p := &scriptedProvider{scripts: [][]domain.StreamEvent{
		{call}, {call}, {call},
	}}
	o := New(Config{Provider: p, Tools: reg, MaxSteps: 3, Logger: discardLogger()})

	_, res, err := collectEvents(t, o, TurnInput{Prompt: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Reply, "no additional response") {
		t.Errorf("reply = %q, want the step-budget fallback", res.Reply)
	}
	if len(loop.calls) != 3 {
		t.Errorf("tool ran %d times, want 3", len(loop.calls))
	}
}

func TestStream_HistoryBoundedInRequest(t *testing.T) {
	p := &scriptedProvider{scripts: [][]domain.StreamEvent{
		{token("ok"), streamDone()},
	}}
	o := New(Config{Provider: p, Logger: discardLogger()})

	var hist []domain.ConversationMessage
	for i := 0; i < 30; i++ {
		hist = append(hist, domain.ConversationMessage{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	if _, _, err := collectEvents(t, o, TurnInput{Prompt: "now", History: hist}); err != nil {
		t.Fatal(err)
	}

	msgs := p.requests[0].Messages
	if len(msgs) != 21 { // 20 bounded history + current user message
		t.Errorf("request carried %d messages", len(msgs))
	}
	if msgs[0].Content != "m10" {
		t.Errorf("oldest retained = %q", msgs[0].Content)
	}
}

func uploadFixture(t *testing.T) (*Preprocessor, *upload.Manager) {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	uploads := upload.NewManager(kv)
	cat := catalog.NewStore(kv)
	return NewPreprocessor(uploads, cat, discardLogger()), uploads
}

func csvAttachment() domain.Attachment {
	return domain.Attachment{
		Name:     "products.csv",
		MimeType: "text/csv",
		Data:     []byte("SKU,Name,Price\nAB-1,Widget,9.99\nAB-2,Gadget,5.00\n"),
	}
}

func TestStream_UploadEventAndPromptRewrite(t *testing.T) {
	pre, _ := uploadFixture(t)
	p := &scriptedProvider{scripts: [][]domain.StreamEvent{
		{token("Got your file."), streamDone()},
	}}
	o := New(Config{Provider: p, Preprocessor: pre, Logger: discardLogger()})

	events, res, err := collectEvents(t, o, TurnInput{
		Prompt:      "here you go",
		Attachments: []domain.Attachment{csvAttachment()},
	})
	if err != nil {
		t.Fatal(err)
	}

	if events[0].T != domain.EventUpload {
		t.Fatalf("first event = %+v, want upload", events[0])
	}
	up := events[0]
	if up.UploadKey == "" || up.RowCount != 3 {
		t.Errorf("upload event = %+v", up)
	}
	if len(up.Columns) != 3 {
		t.Errorf("columns = %v", up.Columns)
	}
	if up.AlreadyExists == nil || *up.AlreadyExists {
		t.Errorf("alreadyExists = %v, want false on first upload", up.AlreadyExists)
	}

	if !strings.Contains(res.Prompt, uploadKeyMarker+up.UploadKey) {
		t.Errorf("rewritten prompt missing upload key: %q", res.Prompt)
	}
	if !strings.Contains(res.Prompt, "here you go") {
		t.Errorf("original prompt text dropped: %q", res.Prompt)
	}
}

func TestStream_RepeatUploadReportsExisting(t *testing.T) {
	pre, _ := uploadFixture(t)
	p := &scriptedProvider{scripts: [][]domain.StreamEvent{
		{token("ok"), streamDone()},
		{token("ok"), streamDone()},
	}}
	o := New(Config{Provider: p, Preprocessor: pre, Logger: discardLogger()})

	in := TurnInput{Prompt: "file", Attachments: []domain.Attachment{csvAttachment()}}
	first, _, err := collectEvents(t, o, in)
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := collectEvents(t, o, in)
	if err != nil {
		t.Fatal(err)
	}

	if first[0].UploadKey != second[0].UploadKey {
		t.Error("identical content staged under different keys")
	}
	if second[0].AlreadyExists == nil || !*second[0].AlreadyExists {
		t.Error("repeat upload not flagged as existing")
	}
}

func TestStream_PendingUploadKeyRecovered(t *testing.T) {
	p := &scriptedProvider{scripts: [][]domain.StreamEvent{
		{token("proceeding"), streamDone()},
	}}
	o := New(Config{Provider: p, Logger: discardLogger()})

	hist := []domain.ConversationMessage{
		{Role: "user", Content: "[PRODUCT FILE UPLOADED]\nUpload key: k-abc123\n[END PRODUCT FILE]\n\nhere"},
		{Role: "assistant", Content: "Got it. Say the confirmation code to proceed."},
	}
	_, res, err := collectEvents(t, o, TurnInput{Prompt: "the code is ABC123", History: hist})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Prompt, "[UPLOAD_KEY: k-abc123]\n") {
		t.Errorf("pending key not recovered: %q", res.Prompt)
	}
}

func TestFindPendingUploadKey_NewestWins(t *testing.T) {
	hist := []domain.ConversationMessage{
		{Role: "user", Content: "Upload key: old-key"},
		{Role: "assistant", Content: "Upload key: assistant-key"}, // ignored
		{Role: "user", Content: "Upload key: new-key"},
	}
	if got := findPendingUploadKey(hist); got != "new-key" {
		t.Errorf("got %q", got)
	}
	if got := findPendingUploadKey(nil); got != "" {
		t.Errorf("empty history returned %q", got)
	}
}

func TestBuildMessages_AttachmentManifest(t *testing.T) {
	msgs := buildMessages(nil, "see attached", []domain.Attachment{
		{Name: "photo.png", MimeType: "image/png", Data: make([]byte, 10)},
	})
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "photo.png (image/png, 10 bytes)") {
		t.Errorf("manifest missing: %q", last.Content)
	}
}
