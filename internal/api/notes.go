package api

import (
	"net/http"

	"github.com/jacobjmc/lightpad/internal/notes"
)

// ListNotes handles GET /api/notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	list, err := h.Notes.List(r.Context(), user.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": list})
}

// GetNote handles GET /api/notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	note, err := h.Notes.Get(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note": note})
}

// CreateNote handles POST /api/notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var params notes.CreateNoteParams
	if err := decodeJSON(w, r, &params); err != nil {
		writeErr(w, r, err)
		return
	}
	note, err := h.Notes.Create(r.Context(), user.ID, params)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"note": note})
}

// UpdateNote handles PUT /api/notes.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var params notes.UpdateNoteParams
	if err := decodeJSON(w, r, &params); err != nil {
		writeErr(w, r, err)
		return
	}
	note, err := h.Notes.Update(r.Context(), user.ID, params)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note": note})
}

// DeleteNote handles DELETE /api/notes.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var params notes.DeleteNoteParams
	if err := decodeJSON(w, r, &params); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.Notes.Delete(r.Context(), user.ID, params.ID); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Note deleted"})
}
