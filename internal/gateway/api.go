package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tabulant/tabulant/internal/auth"
	"github.com/tabulant/tabulant/internal/dataset"
	"github.com/tabulant/tabulant/internal/store"
	"github.com/tabulant/tabulant/pkg/models"
)

type sessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type fileInfo struct {
	Filename    string           `json:"filename"`
	RowCount    int64            `json:"row_count"`
	ColumnCount int              `json:"column_count"`
	Columns     []string         `json:"columns"`
	Preview     []map[string]any `json:"preview"`
}

type sessionDetail struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	CreatedAt time.Time         `json:"created_at"`
	File      *fileInfo         `json:"file"`
	Messages  []*models.Message `json:"messages"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := s.store.ListSessions(r.Context(), user.ID)
	if err != nil {
		s.logger.Error(r.Context(), "failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]sessionSummary, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, sessionSummary{ID: session.ID, Title: session.Title, CreatedAt: session.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	session, err := s.store.GetSession(r.Context(), user.ID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error(r.Context(), "failed to load session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	detail := sessionDetail{
		ID:        session.ID,
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
		Messages:  []*models.Message{},
	}

	if profile, err := s.store.GetProfile(r.Context(), session.ID); err == nil {
		detail.File = &fileInfo{
			Filename:    profile.Filename,
			RowCount:    profile.RowCount,
			ColumnCount: profile.ColumnCount,
			Columns:     profile.ColumnNames(),
			Preview:     profile.Preview,
		}
	}

	messages, err := s.store.ListMessages(r.Context(), session.ID)
	if err != nil {
		s.logger.Error(r.Context(), "failed to load messages", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	for _, m := range messages {
		// Query results and internal reasoning feed the model on later
		// turns but are never restored to the client.
		if m.Kind == models.KindQueryResult || m.Kind == models.KindInternal {
			continue
		}
		detail.Messages = append(detail.Messages, m)
	}

	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := chi.URLParam(r, "id")

	if _, err := s.store.GetSession(r.Context(), user.ID, sessionID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	} else if err != nil {
		s.logger.Error(r.Context(), "failed to load session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	s.runtime.CloseSession(sessionID)

	if err := s.store.DeleteSession(r.Context(), user.ID, sessionID); err != nil {
		s.logger.Error(r.Context(), "failed to delete session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	// A failed file removal leaves the directory for GC; the session itself
	// is already gone.
	if err := dataset.RemoveSessionDir(s.dataDir, sessionID); err != nil {
		s.logger.Warn(r.Context(), "failed to remove session dir", "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
