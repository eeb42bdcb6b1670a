package api

import (
	"io"
	"net/http"

	"github.com/jacobjmc/lightpad/internal/chat"
	"github.com/jacobjmc/lightpad/internal/db"
	"github.com/jacobjmc/lightpad/internal/obs"
	"github.com/jacobjmc/lightpad/internal/ratelimit"
)

// streamWriter sends generated text as a chunked text/plain body. The status
// line is only written with the first chunk, so errors raised before any
// text is produced still get their own status.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	f, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: f}
}

func (s *streamWriter) write(chunk string) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("X-Content-Type-Options", "nosniff")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := io.WriteString(s.w, chunk); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// finish handles the outcome of a generation. An empty successful reply
// still gets a 200.
func (s *streamWriter) finish(r *http.Request, err error) {
	if err == nil {
		if !s.started {
			s.write("")
		}
		return
	}
	if s.started {
		obs.From(r.Context()).Error("stream_failed_after_start", "error", err)
		return
	}
	writeErr(s.w, r, err)
}

// PostChat handles POST /api/chat.
func (h *Handler) PostChat(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req chat.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}

	out := newStreamWriter(w)
	_, err = h.Chat.Chat(r.Context(), user, ratelimit.ClientIP(r), req, out.write)
	out.finish(r, err)
}

// PostCompletion handles POST /api/completion.
func (h *Handler) PostCompletion(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req chat.CompletionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}

	out := newStreamWriter(w)
	_, err = h.Chat.Complete(r.Context(), user, ratelimit.ClientIP(r), req, out.write)
	out.finish(r, err)
}

// DeleteChat handles DELETE /api/chat.
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.Chat.ClearHistory(r.Context(), user); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": []db.Message{}})
}

// EditMessageRequest is the body of PUT /api/chat.
type EditMessageRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// PutChat handles PUT /api/chat.
func (h *Handler) PutChat(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req EditMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	msg, err := h.Chat.EditMessage(r.Context(), user, req.ID, req.Content)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

// GetMessages handles GET /api/messages.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	msgs, err := h.Chat.ListMessages(r.Context(), user)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
