// Package channel holds the messaging-channel adapters. Each adapter turns
// a platform webhook into an orchestrator turn and posts the reply back in
// the platform's own format.
package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tradedesk/internal/config"
	"tradedesk/internal/domain"
	"tradedesk/internal/history"
	"tradedesk/internal/orchestrator"
)

const whatsappAPIBase = "https://graph.facebook.com/v21.0"

// turnTimeout bounds one full webhook-triggered turn including tool calls.
const turnTimeout = 120 * time.Second

// WhatsApp adapts the WhatsApp Business Cloud API webhook. Replies are sent
// complete (no streaming) since WhatsApp has no incremental delivery.
type WhatsApp struct {
	cfg     config.WhatsAppConfig
	orch    *orchestrator.Orchestrator
	history *history.Store
	logger  *slog.Logger
	client  *http.Client
	apiBase string
}

func NewWhatsApp(cfg config.WhatsAppConfig, orch *orchestrator.Orchestrator, hist *history.Store, logger *slog.Logger) *WhatsApp {
	return &WhatsApp{
		cfg:     cfg,
		orch:    orch,
		history: hist,
		logger:  logger,
		client:  &http.Client{Timeout: 30 * time.Second},
		apiBase: whatsappAPIBase,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// HandleVerify answers Meta's webhook verification challenge.
func (w *WhatsApp) HandleVerify(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// HandleIncoming processes inbound message notifications. The webhook is
// acknowledged immediately; the turn runs in the background so Meta does
// not retry slow turns.
func (w *WhatsApp) HandleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					continue
				}
				go w.processMessage(msg)
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

func (w *WhatsApp) processMessage(msg waMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	w.logger.Info("whatsapp message received", "from", msg.From, "text_len", len(msg.Text.Body))

	// Read receipt and typing indicator are best effort.
	if err := w.markAsRead(ctx, msg.ID); err != nil {
		w.logger.Warn("whatsapp mark-as-read failed", "err", err)
	}

	histKey := history.Key("whatsapp", msg.From)
	hist, err := w.history.Load(ctx, histKey)
	if err != nil {
		w.logger.Error("whatsapp history load failed", "err", err)
		hist = nil
	}

	ctx = domain.WithUserID(ctx, "wa:"+msg.From)
	res, err := w.orch.Respond(ctx, orchestrator.TurnInput{
		Prompt:  msg.Text.Body,
		History: hist,
	})
	if err != nil {
		w.logger.Error("whatsapp turn failed", "err", err, "from", msg.From)
		if sendErr := w.sendMessage(ctx, msg.From, msg.ID, "Sorry, something went wrong on my end. Please try again."); sendErr != nil {
			w.logger.Error("whatsapp error notice failed", "err", sendErr)
		}
		return
	}

	if err := w.sendMessage(ctx, msg.From, msg.ID, res.Reply); err != nil {
		w.logger.Error("whatsapp send failed", "err", err, "from", msg.From)
		return
	}

	// Persist the exchange only after the reply went out.
	if err := w.history.Append(ctx, histKey,
		domain.ConversationMessage{Role: "user", Content: res.Prompt},
		domain.ConversationMessage{Role: "assistant", Content: res.Reply},
	); err != nil {
		w.logger.Error("whatsapp history append failed", "err", err)
	}
}

// verifySignature checks the X-Hub-Signature-256 header.
func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// markAsRead flags the inbound message read and shows a typing indicator
// while the turn runs.
func (w *WhatsApp) markAsRead(ctx context.Context, messageID string) error {
	return w.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
		"typing_indicator":  map[string]string{"type": "text"},
	})
}

// sendMessage sends a text reply referencing the original message.
func (w *WhatsApp) sendMessage(ctx context.Context, to, replyTo, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	if replyTo != "" {
		payload["context"] = map[string]string{"message_id": replyTo}
	}
	return w.post(ctx, payload)
}

func (w *WhatsApp) post(ctx context.Context, payload map[string]any) error {
	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.cfg.PhoneNumberID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From string  `json:"from"`
	ID   string  `json:"id"`
	Type string  `json:"type"`
	Text *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}
