package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/notably/notably/internal/logging"
	"github.com/notably/notably/internal/notes"
)

// noteRequest is the create/update body for a note.
type noteRequest struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	ReminderDate string `json:"reminderDate"`
	ReminderTime string `json:"reminderTime"`
}

// sessionID resolves the request's session without touching the credential
// manager. Note handlers never call a provider, so an expired access token
// is no reason to refuse them.
func (a *App) sessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	if _, found := a.sessions.Get(cookie.Value); !found {
		return "", false
	}
	return cookie.Value, true
}

// handleNotes serves /api/notes: GET lists, POST creates.
func (a *App) handleNotes(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.sessionID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errorResponse{Error: "no active session", Action: ActionSignin})
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := a.notes.List(owner)
		if err != nil {
			a.logger.Error("note list failed", logging.Err(err))
			writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var req noteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if req.Title == "" {
			writeError(w, http.StatusBadRequest, errorResponse{Error: "title is required"})
			return
		}
		created, err := a.notes.Create(owner, notes.Note{
			Title:        req.Title,
			Content:      req.Content,
			ReminderDate: req.ReminderDate,
			ReminderTime: req.ReminderTime,
		})
		if err != nil {
			a.logger.Error("note create failed", logging.Err(err))
			writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		writeError(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	}
}

// handleNoteByID serves /api/notes/{id}: GET, PUT, DELETE.
func (a *App) handleNoteByID(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.sessionID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errorResponse{Error: "no active session", Action: ActionSignin})
		return
	}

	noteID := strings.TrimPrefix(r.URL.Path, "/api/notes/")
	if noteID == "" || strings.Contains(noteID, "/") {
		writeError(w, http.StatusNotFound, errorResponse{Error: "note not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		note, err := a.notes.Get(owner, noteID)
		if err != nil {
			a.writeNoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)

	case http.MethodPut:
		var req noteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if req.Title == "" {
			writeError(w, http.StatusBadRequest, errorResponse{Error: "title is required"})
			return
		}
		updated, err := a.notes.Update(owner, notes.Note{
			ID:           noteID,
			Title:        req.Title,
			Content:      req.Content,
			ReminderDate: req.ReminderDate,
			ReminderTime: req.ReminderTime,
		})
		if err != nil {
			a.writeNoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case http.MethodDelete:
		if err := a.notes.Delete(owner, noteID); err != nil {
			a.writeNoteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	}
}

func (a *App) writeNoteError(w http.ResponseWriter, err error) {
	if errors.Is(err, notes.ErrNotFound) {
		writeError(w, http.StatusNotFound, errorResponse{Error: "note not found"})
		return
	}
	a.logger.Error("note operation failed", logging.Err(err))
	writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}
