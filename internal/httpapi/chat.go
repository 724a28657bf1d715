package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"tradedesk/internal/domain"
	"tradedesk/internal/metrics"
	"tradedesk/internal/orchestrator"
)

type chatRequest struct {
	Prompt      string                       `json:"prompt"`
	History     []domain.ConversationMessage `json:"history,omitempty"`
	Attachments []attachmentPayload          `json:"attachments,omitempty"`
}

type attachmentPayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

func (a attachmentPayload) decode() (domain.Attachment, error) {
	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return domain.Attachment{}, err
	}
	return domain.Attachment{Name: a.Name, MimeType: a.MimeType, Data: data}, nil
}

// handleChat is the complete-response path: one prompt in, full text out.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	res, err := s.orch.Respond(r.Context(), orchestrator.TurnInput{
		Prompt:  req.Prompt,
		History: req.History,
	})
	if err != nil {
		s.logger.Error("chat turn failed", "err", err)
		writeError(w, http.StatusBadGateway, "the assistant is unavailable right now, please try again")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"reply": res.Reply})
}

// handleChatStream is the streaming path. The response is a server-sent
// event stream where each event's data field is one JSON event object.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	attachments := make([]domain.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		att, err := a.decode()
		if err != nil {
			writeError(w, http.StatusBadRequest, "attachment data must be base64")
			return
		}
		attachments = append(attachments, att)
	}

	s.streamTurn(w, r, orchestrator.TurnInput{
		Prompt:      req.Prompt,
		History:     req.History,
		Attachments: attachments,
	})
}

// handleUpload accepts a multipart product file plus optional prompt and
// serialized history, and answers with the same event stream as the chat
// streaming path.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.Upload.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large or malformed multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read uploaded file")
		return
	}

	var hist []domain.ConversationMessage
	if raw := r.FormValue("history"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &hist); err != nil {
			writeError(w, http.StatusBadRequest, "history must be a JSON message array")
			return
		}
	}

	s.streamTurn(w, r, orchestrator.TurnInput{
		Prompt:  r.FormValue("prompt"),
		History: hist,
		Attachments: []domain.Attachment{{
			Name:     header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Data:     data,
		}},
	})
}

// streamTurn runs the orchestrator with an SSE emitter. Events flush as
// they arrive; a dropped client cancels the turn via the request context.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, in orchestrator.TurnInput) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.SSEConnections.Inc()
	defer metrics.SSEConnections.Dec()

	emit := func(ev domain.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if _, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
			return
		}
		flusher.Flush()
	}

	if _, err := s.orch.Stream(r.Context(), in, emit); err != nil {
		// The terminal error event already went out; just log.
		s.logger.Error("stream turn failed", "err", err)
	}
}
