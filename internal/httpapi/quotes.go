package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tradedesk/internal/rfq"
)

// handleQuote serves the printable quote document.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	q, err := s.rfq.GetQuote(r.Context(), number)
	if errors.Is(err, rfq.ErrQuoteNotFound) {
		writeError(w, http.StatusNotFound, "quote expired or not found, please re-submit the request for quote")
		return
	}
	if err != nil {
		s.logger.Error("quote load failed", "quote", number, "err", err)
		writeError(w, http.StatusInternalServerError, "cannot load quote")
		return
	}

	doc, err := rfq.RenderDocument(q)
	if err != nil {
		s.logger.Error("quote render failed", "quote", number, "err", err)
		writeError(w, http.StatusInternalServerError, "cannot render quote")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// handleFollowupsRun triggers one follow-up sweep. Intended to be called on
// an external schedule; safe to re-run within the same day.
func (s *Server) handleFollowupsRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.rfq.SweepFollowups(r.Context())
	if err != nil {
		s.logger.Error("followup sweep failed", "err", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
