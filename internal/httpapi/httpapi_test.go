package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tradedesk/internal/catalog"
	"tradedesk/internal/config"
	"tradedesk/internal/domain"
	"tradedesk/internal/guard"
	"tradedesk/internal/history"
	"tradedesk/internal/kvstore"
	"tradedesk/internal/orchestrator"
	"tradedesk/internal/rfq"
)

type fixedProvider struct {
	reply string
}

func (p *fixedProvider) Name() string { return "fixed" }

func (p *fixedProvider) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{Content: p.reply}, nil
}

func (p *fixedProvider) ChatStream(_ context.Context, _ domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)
	out <- domain.StreamEvent{Type: domain.StreamToken, Content: p.reply}
	out <- domain.StreamEvent{Type: domain.StreamDone}
	return nil
}

type nullMailer struct{}

func (nullMailer) Send(context.Context, string, string, string) error { return nil }

func testServer(t *testing.T, guardCfg guard.Config) (*Server, *rfq.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := kvstore.NewMemoryStore()

	cfg := config.Defaults()
	cfg.Metrics.Enabled = false

	g, err := guard.New(guardCfg)
	if err != nil {
		t.Fatal(err)
	}

	cat := catalog.NewStore(kv)
	unit := 4.5
	if err := cat.Save(context.Background(), map[string]catalog.Entry{
		"AB-1": {SKU: "AB-1", Name: "Widget", Price: &unit},
	}); err != nil {
		t.Fatal(err)
	}

	rfqSvc := rfq.NewService(rfq.ServiceConfig{
		KV:      kv,
		Catalog: cat,
		Mailer:  nullMailer{},
		Logger:  logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Provider: &fixedProvider{reply: "hello back"},
		Logger:   logger,
	})

	srv := NewServer(Deps{
		Config:  cfg,
		Orch:    orch,
		History: history.NewStore(kv),
		RFQ:     rfqSvc,
		Guard:   g,
		Logger:  logger,
	})
	return srv, rfqSvc
}

func TestHealthzOpen(t *testing.T) {
	srv, _ := testServer(t, guard.Config{APIKey: "sekrit"})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz behind the guard: %d", rec.Code)
	}
}

func TestChat_RequiresAPIKey(t *testing.T) {
	srv, _ := testServer(t, guard.Config{APIKey: "sekrit"})
	router := srv.Router()

	r := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"prompt":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("keyless request admitted: %d", rec.Code)
	}

	r = httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"prompt":"hi"}`))
	r.Header.Set(guard.APIKeyHeader, "sekrit")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["reply"] != "hello back" {
		t.Errorf("reply = %q", out["reply"])
	}
}

func TestChat_DailyLimit(t *testing.T) {
	srv, _ := testServer(t, guard.Config{
		LimitedHosts: []string{"example.com"},
		DailyLimit:   2,
		Timezone:     "UTC",
	})
	router := srv.Router()

	do := func() int {
		r := httptest.NewRequest("POST", "http://example.com/api/chat", strings.NewReader(`{"prompt":"hi"}`))
		r.RemoteAddr = "203.0.113.7:1000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec.Code
	}

	if c := do(); c != http.StatusOK {
		t.Fatalf("first request: %d", c)
	}
	if c := do(); c != http.StatusOK {
		t.Fatalf("second request: %d", c)
	}
	if c := do(); c != http.StatusTooManyRequests {
		t.Fatalf("third request: %d, want 429", c)
	}
}

func TestChat_BadRequests(t *testing.T) {
	srv, _ := testServer(t, guard.Config{})
	router := srv.Router()

	r := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: %d", rec.Code)
	}

	r = httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty prompt: %d", rec.Code)
	}
}

func TestChatStream_EventProtocol(t *testing.T) {
	srv, _ := testServer(t, guard.Config{})
	router := srv.Router()

	r := httptest.NewRequest("POST", "/api/chat/stream", strings.NewReader(`{"prompt":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var types []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		types = append(types, ev.T)
	}
	if len(types) < 2 || types[len(types)-1] != domain.EventDone {
		t.Errorf("event types = %v, want text events ending in done", types)
	}
}

func TestQuoteEndpoint(t *testing.T) {
	srv, rfqSvc := testServer(t, guard.Config{})
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/quotes/RFQ-20250101-XXXX", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown quote: %d", rec.Code)
	}

	res, err := rfqSvc.Process(context.Background(), rfq.ProcessInput{
		ContactName: "Dana Cruz",
		Items:       []rfq.Item{{SKU: "AB-1", Qty: 2, Price: 4.5}},
		ShipTo:      "12 Dock St",
	})
	if err != nil || !res.Success {
		t.Fatalf("process: %v %+v", err, res)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/quotes/"+res.QuoteNumber, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), res.QuoteNumber) {
		t.Error("document missing the quote number")
	}
}

func TestFollowupsRun(t *testing.T) {
	srv, _ := testServer(t, guard.Config{})
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/followups/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var out rfq.SweepResult
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Sent != 0 {
		t.Errorf("sent = %d on an empty store", out.Sent)
	}
}
