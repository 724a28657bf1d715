// Package httpapi exposes the web-facing surface: the chat endpoints, the
// product-upload endpoint, quote download, the follow-up trigger, the
// messaging webhooks, and operational endpoints.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tradedesk/internal/channel"
	"tradedesk/internal/config"
	"tradedesk/internal/guard"
	"tradedesk/internal/history"
	"tradedesk/internal/metrics"
	"tradedesk/internal/orchestrator"
	"tradedesk/internal/rfq"
)

// Server bundles the handler dependencies behind one router.
type Server struct {
	cfg      *config.Config
	orch     *orchestrator.Orchestrator
	history  *history.Store
	rfq      *rfq.Service
	guard    *guard.Guard
	whatsapp *channel.WhatsApp
	slack    *channel.Slack
	logger   *slog.Logger
}

type Deps struct {
	Config   *config.Config
	Orch     *orchestrator.Orchestrator
	History  *history.Store
	RFQ      *rfq.Service
	Guard    *guard.Guard
	WhatsApp *channel.WhatsApp
	Slack    *channel.Slack
	Logger   *slog.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		orch:     d.Orch,
		history:  d.History,
		rfq:      d.RFQ,
		guard:    d.Guard,
		whatsapp: d.WhatsApp,
		slack:    d.Slack,
		logger:   d.Logger,
	}
}

// Router assembles the chi mux. Webhooks sit outside the guard since each
// one carries its own platform-level verification.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", guard.APIKeyHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics.Enabled {
		r.Get(s.cfg.Metrics.Endpoint, metrics.Collector.Handler())
	}

	if s.whatsapp != nil {
		path := s.cfg.Channels.WhatsApp.WebhookPath
		r.Get(path, s.whatsapp.HandleVerify)
		r.Post(path, s.whatsapp.HandleIncoming)
	}
	if s.slack != nil {
		r.Post(s.cfg.Channels.Slack.WebhookPath, s.slack.HandleEvents)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.admission)

		r.Post("/api/chat", s.handleChat)
		r.Post("/api/chat/stream", s.handleChatStream)
		r.Post("/api/upload", s.handleUpload)
		r.Get("/api/quotes/{number}", s.handleQuote)
		r.Post("/api/followups/run", s.handleFollowupsRun)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
