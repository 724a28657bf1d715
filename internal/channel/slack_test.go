package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"tradedesk/internal/config"
	"tradedesk/internal/history"
	"tradedesk/internal/kvstore"
)

func newTestSlack(cfg config.SlackConfig) (*Slack, *history.Store) {
	hist := history.NewStore(kvstore.NewMemoryStore())
	return NewSlack(cfg, testOrchestrator("hello back"), hist, kvstore.NewMemoryStore(), discardLogger()), hist
}

// signSlack computes the v0 request signature Slack would send.
func signSlack(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSlackURLVerification(t *testing.T) {
	s, _ := newTestSlack(config.SlackConfig{})

	body := `{"type":"url_verification","challenge":"c-12345"}`
	r := httptest.NewRequest("POST", "/webhook/slack", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandleEvents(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "c-12345" {
		t.Errorf("challenge echo = %q", rec.Body.String())
	}
}

func TestSlackSignatureRejected(t *testing.T) {
	s, _ := newTestSlack(config.SlackConfig{SigningSecret: "sekrit"})

	body := `{"type":"url_verification","challenge":"c"}`
	r := httptest.NewRequest("POST", "/webhook/slack", strings.NewReader(body))
	r.Header.Set("X-Slack-Request-Timestamp", fmt.Sprint(time.Now().Unix()))
	r.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec := httptest.NewRecorder()
	s.HandleEvents(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Errorf("forged signature admitted: %d", rec.Code)
	}
}

func TestSlackSignatureAccepted(t *testing.T) {
	s, _ := newTestSlack(config.SlackConfig{SigningSecret: "sekrit"})

	body := []byte(`{"type":"url_verification","challenge":"c-ok"}`)
	ts := fmt.Sprint(time.Now().Unix())
	r := httptest.NewRequest("POST", "/webhook/slack", strings.NewReader(string(body)))
	r.Header.Set("X-Slack-Request-Timestamp", ts)
	r.Header.Set("X-Slack-Signature", signSlack("sekrit", ts, body))
	rec := httptest.NewRecorder()
	s.HandleEvents(rec, r)

	if rec.Code != http.StatusOK || rec.Body.String() != "c-ok" {
		t.Errorf("status %d body %q", rec.Code, rec.Body.String())
	}
}

func TestSlackStaleTimestampRejected(t *testing.T) {
	s, _ := newTestSlack(config.SlackConfig{SigningSecret: "sekrit"})

	body := []byte(`{"type":"url_verification","challenge":"c"}`)
	ts := fmt.Sprint(time.Now().Add(-10 * time.Minute).Unix())
	r := httptest.NewRequest("POST", "/webhook/slack", strings.NewReader(string(body)))
	r.Header.Set("X-Slack-Request-Timestamp", ts)
	r.Header.Set("X-Slack-Signature", signSlack("sekrit", ts, body))
	rec := httptest.NewRecorder()
	s.HandleEvents(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Errorf("replayed request admitted: %d", rec.Code)
	}
}

func TestSlackEventCallbackDeduplicated(t *testing.T) {
	s, _ := newTestSlack(config.SlackConfig{})

	// Channel-type message: parsed and marked, but never dispatched to a
	// turn, so the handler stays synchronous.
	body := `{"token":"t","team_id":"T1","api_app_id":"A1","type":"event_callback","event_id":"Ev123","event_time":1,` +
		`"event":{"type":"message","user":"U1","text":"hi","channel":"C1","channel_type":"channel","ts":"1"}}`

	deliver := func() int {
		r := httptest.NewRequest("POST", "/webhook/slack", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.HandleEvents(rec, r)
		return rec.Code
	}

	if c := deliver(); c != http.StatusOK {
		t.Fatalf("first delivery: %d", c)
	}
	if _, err := s.kv.Get(context.Background(), "slack:event:Ev123"); err != nil {
		t.Fatalf("dedup marker not written: %v", err)
	}
	if c := deliver(); c != http.StatusOK {
		t.Errorf("redelivery: %d, want 200 no-op", c)
	}
}

func TestSlackHistoryScopedPerChannel(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		fmt.Fprint(rw, `{"ok":true,"channel":"C1","ts":"1"}`)
	}))
	defer api.Close()

	s, hist := newTestSlack(config.SlackConfig{BotToken: "tok"})
	s.client = slack.New("tok", slack.OptionAPIURL(api.URL+"/api/"))

	s.processMessage("U1", "C_A", "", "hello from A")
	s.processMessage("U1", "C_B", "", "hello from B")

	ctx := context.Background()
	msgsA, err := hist.Load(ctx, history.Key("slack", "C_A:U1"))
	if err != nil {
		t.Fatal(err)
	}
	msgsB, err := hist.Load(ctx, history.Key("slack", "C_B:U1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgsA) != 2 || msgsA[0].Content != "hello from A" {
		t.Errorf("channel A history = %+v", msgsA)
	}
	if len(msgsB) != 2 || msgsB[0].Content != "hello from B" {
		t.Errorf("channel B history = %+v", msgsB)
	}
}

func TestSlackSeenEvent(t *testing.T) {
	s, _ := newTestSlack(config.SlackConfig{})
	ctx := context.Background()

	if s.seenEvent(ctx, "Ev1") {
		t.Error("first delivery reported as seen")
	}
	if !s.seenEvent(ctx, "Ev1") {
		t.Error("redelivery not deduplicated")
	}
	if s.seenEvent(ctx, "") {
		t.Error("empty event ID treated as seen")
	}
}

func TestSplitSlackMessage(t *testing.T) {
	if got := splitSlackMessage("short", 4000); len(got) != 1 || got[0] != "short" {
		t.Errorf("short message split: %v", got)
	}

	// Prefers a newline boundary in the back half of the chunk.
	msg := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	got := splitSlackMessage(msg, 40)
	if len(got) != 2 {
		t.Fatalf("chunks = %d: %q", len(got), got)
	}
	if !strings.HasSuffix(got[0], "\n") {
		t.Errorf("first chunk did not cut at the newline: %q", got[0])
	}
	if rejoined := strings.Join(got, ""); rejoined != msg {
		t.Error("chunks do not reassemble to the original")
	}
}
