package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"tradedesk/internal/config"
	"tradedesk/internal/domain"
	"tradedesk/internal/history"
	"tradedesk/internal/kvstore"
	"tradedesk/internal/orchestrator"
)

const (
	slackMaxMsgLen   = 4000
	slackReplayLimit = 5 * time.Minute
	slackDedupTTL    = 5 * time.Minute
)

var slackMentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)

// Slack adapts the Slack Events API over HTTP. Replies are posted complete,
// in-thread when the trigger came from a thread.
type Slack struct {
	cfg     config.SlackConfig
	client  *slack.Client
	orch    *orchestrator.Orchestrator
	history *history.Store
	kv      kvstore.Store
	logger  *slog.Logger
	botUID  string
	now     func() time.Time
}

func NewSlack(cfg config.SlackConfig, orch *orchestrator.Orchestrator, hist *history.Store, kv kvstore.Store, logger *slog.Logger) *Slack {
	s := &Slack{
		cfg:     cfg,
		client:  slack.New(cfg.BotToken),
		orch:    orch,
		history: hist,
		kv:      kv,
		logger:  logger,
		now:     time.Now,
	}
	if cfg.SigningSecret == "" {
		logger.Warn("slack signing secret not configured, request signatures will not be verified")
	}
	return s
}

func (s *Slack) Name() string { return "slack" }

// Connect resolves the bot's own user ID so it can ignore its own messages.
// Call once at startup; failure is non-fatal (self-messages are also caught
// by the BotID check).
func (s *Slack) Connect() error {
	authResp, err := s.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)
	return nil
}

// HandleEvents is the Events API webhook endpoint.
func (s *Slack) HandleEvents(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if s.cfg.SigningSecret != "" {
		if err := s.verifyRequest(r.Header, body); err != nil {
			s.logger.Warn("slack signature rejected", "err", err)
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		s.logger.Warn("slack bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(rw, "Bad request", http.StatusBadRequest)
			return
		}
		rw.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(rw, challenge.Challenge)
		return

	case slackevents.CallbackEvent:
		// Slack retries undelivered events; a short-lived marker keyed by
		// event ID makes redelivery a no-op. The ID lives on the callback
		// envelope, not on the parsed event itself.
		if cb, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok && s.seenEvent(r.Context(), cb.EventID) {
			rw.WriteHeader(http.StatusOK)
			return
		}
		s.dispatch(event.InnerEvent)
		rw.WriteHeader(http.StatusOK)
		return
	}

	rw.WriteHeader(http.StatusOK)
}

// verifyRequest checks the v0 request signature and rejects stale timestamps.
func (s *Slack) verifyRequest(header http.Header, body []byte) error {
	verifier, err := slack.NewSecretsVerifier(header, s.cfg.SigningSecret)
	if err != nil {
		return err
	}
	if _, err := verifier.Write(body); err != nil {
		return err
	}
	if err := verifier.Ensure(); err != nil {
		return err
	}

	ts, err := parseSlackTimestamp(header.Get("X-Slack-Request-Timestamp"))
	if err != nil {
		return err
	}
	if s.now().Sub(ts).Abs() > slackReplayLimit {
		return fmt.Errorf("stale request timestamp: %s", ts)
	}
	return nil
}

func parseSlackTimestamp(raw string) (time.Time, error) {
	var secs int64
	if _, err := fmt.Sscanf(raw, "%d", &secs); err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", raw)
	}
	return time.Unix(secs, 0), nil
}

// seenEvent marks the event ID seen and reports whether it already was.
func (s *Slack) seenEvent(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}
	key := "slack:event:" + eventID
	if _, err := s.kv.Get(ctx, key); err == nil {
		return true
	}
	if err := s.kv.Set(ctx, key, []byte("1"), slackDedupTTL); err != nil {
		s.logger.Warn("slack dedup marker failed", "err", err)
	}
	return false
}

func (s *Slack) dispatch(inner slackevents.EventsAPIInnerEvent) {
	switch ev := inner.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.User == "" || ev.User == s.botUID || ev.BotID != "" || ev.SubType != "" {
			return
		}
		// Only direct messages; channel traffic goes through app mentions.
		if ev.ChannelType != "im" {
			return
		}
		go s.processMessage(ev.User, ev.Channel, ev.ThreadTimeStamp, ev.Text)

	case *slackevents.AppMentionEvent:
		if ev.User == "" || ev.User == s.botUID || ev.BotID != "" {
			return
		}
		text := strings.TrimSpace(slackMentionRe.ReplaceAllString(ev.Text, ""))
		thread := ev.ThreadTimeStamp
		if thread == "" {
			thread = ev.TimeStamp
		}
		go s.processMessage(ev.User, ev.Channel, thread, text)
	}
}

func (s *Slack) processMessage(user, channelID, threadTS, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	s.logger.Info("slack message received", "user", user, "channel", channelID, "text_len", len(text))

	// History is scoped per channel so a user's DM thread and their
	// mentions in different channels stay separate transcripts.
	histKey := history.Key("slack", channelID+":"+user)
	hist, err := s.history.Load(ctx, histKey)
	if err != nil {
		s.logger.Error("slack history load failed", "err", err)
		hist = nil
	}

	ctx = domain.WithUserID(ctx, "slack:"+user)
	res, err := s.orch.Respond(ctx, orchestrator.TurnInput{
		Prompt:  text,
		History: hist,
	})
	if err != nil {
		s.logger.Error("slack turn failed", "err", err, "user", user)
		s.sendMessage(channelID, threadTS, "Sorry, something went wrong on my end. Please try again.")
		return
	}

	s.sendMessage(channelID, threadTS, res.Reply)

	if err := s.history.Append(ctx, histKey,
		domain.ConversationMessage{Role: "user", Content: res.Prompt},
		domain.ConversationMessage{Role: "assistant", Content: res.Reply},
	); err != nil {
		s.logger.Error("slack history append failed", "err", err)
	}
}

func (s *Slack) sendMessage(channelID, threadTS, content string) {
	for _, chunk := range splitSlackMessage(content, slackMaxMsgLen) {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if threadTS != "" {
			opts = append(opts, slack.MsgOptionTS(threadTS))
		}
		if _, _, err := s.client.PostMessage(channelID, opts...); err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
		}
	}
}

func splitSlackMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
