package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/legal-qa-backend-go/internal/middleware"
	"github.com/legal-qa-backend-go/internal/models"
	"github.com/legal-qa-backend-go/internal/services/conversation"
	"github.com/legal-qa-backend-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// SessionHandler serves the conversation history CRUD endpoints. All of
// these require a registered identity; every operation is scoped to the
// caller's own sessions.
type SessionHandler struct {
	store  *conversation.Store
	logger *logrus.Logger
}

// NewSessionHandler creates the session CRUD handler
func NewSessionHandler(store *conversation.Store, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// HandleList returns the caller's sessions
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRegistered(w, r)
	if !ok {
		return
	}

	sessions, err := h.store.ListSessions(r.Context(), id.Email)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []models.ConversationSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": sessions,
	})
}

// HandleMessages returns one session's messages in creation order
func (h *SessionHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRegistered(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionIDFrom(w, r)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(r.Context(), id.Email, sessionID)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []models.ConversationMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"messages": messages,
	})
}

// HandleRename updates a session title
func (h *SessionHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRegistered(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionIDFrom(w, r)
	if !ok {
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Title) == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request"})
		return
	}

	if err := h.store.RenameSession(r.Context(), id.Email, sessionID, strings.TrimSpace(body.Title)); err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleDelete removes a session and its messages
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRegistered(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionIDFrom(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteSession(r.Context(), id.Email, sessionID); err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleExport renders a session transcript as HTML, with assistant
// markdown rendered
func (h *SessionHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireRegistered(w, r)
	if !ok {
		return
	}
	sessionID, ok := sessionIDFrom(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	sess, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if sess.OwnerID != id.Email {
		h.storeError(w, r, conversation.ErrNotOwner)
		return
	}
	messages, err := h.store.ListMessages(ctx, id.Email, sessionID)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(sess.Title))
	b.WriteString("</title></head><body>\n")
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(sess.Title))
	for _, msg := range messages {
		if msg.Role == models.RoleAssistant {
			fmt.Fprintf(&b, "<h3>Assistant</h3>\n<div>%s</div>\n", markdown.ToHTML(msg.Content))
		} else {
			fmt.Fprintf(&b, "<h3>You</h3>\n<p>%s</p>\n", html.EscapeString(msg.Content))
		}
	}
	b.WriteString("</body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func (h *SessionHandler) requireRegistered(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id := middleware.IdentityFrom(r.Context())
	if !id.Registered {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized"})
		return id, false
	}
	return id, true
}

func (h *SessionHandler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "not_found"})
	case errors.Is(err, conversation.ErrNotOwner):
		writeJSON(w, http.StatusForbidden, models.ErrorResponse{Error: "forbidden"})
	default:
		h.logger.WithError(err).WithField("request_id", middleware.RequestIDFrom(r.Context())).Error("Session store operation failed")
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "internal_error"})
	}
}

func sessionIDFrom(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid_request"})
		return 0, false
	}
	return id, true
}
