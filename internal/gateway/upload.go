package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tabulant/tabulant/internal/auth"
	"github.com/tabulant/tabulant/internal/dataset"
	"github.com/tabulant/tabulant/pkg/models"
)

type uploadResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	File      fileInfo  `json:"file"`
}

// handleUpload creates a session from a multipart file. The session is
// ready for turns as soon as this returns.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		// Parsing the multipart body trips the byte cap before SaveUpload
		// ever sees the file.
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	sessionID := uuid.NewString()
	path, err := dataset.SaveUpload(s.dataDir, sessionID, header.Filename, file, s.maxUploadBytes)
	switch {
	case errors.Is(err, dataset.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, "only .csv and .parquet files are supported")
		return
	case errors.Is(err, dataset.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
		return
	case err != nil:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
			return
		}
		s.logger.Error(r.Context(), "failed to save upload", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save upload")
		return
	}

	session := &models.Session{
		ID:       sessionID,
		UserID:   user.ID,
		Title:    models.DefaultSessionTitle,
		Filename: header.Filename,
		FilePath: path,
	}

	handle, err := s.runtime.LoadDataset(r.Context(), session)
	if err != nil {
		s.logger.Error(r.Context(), "failed to load dataset", "error", err, "filename", header.Filename)
		_ = dataset.RemoveSessionDir(s.dataDir, sessionID)
		writeError(w, http.StatusBadRequest, "file could not be parsed")
		return
	}
	profile := handle.Profile()

	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.logger.Error(r.Context(), "failed to create session", "error", err)
		s.runtime.CloseSession(sessionID)
		_ = dataset.RemoveSessionDir(s.dataDir, sessionID)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if err := s.store.SaveProfile(r.Context(), sessionID, profile); err != nil {
		s.logger.Error(r.Context(), "failed to save profile", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:        session.ID,
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
		File: fileInfo{
			Filename:    profile.Filename,
			RowCount:    profile.RowCount,
			ColumnCount: profile.ColumnCount,
			Columns:     profile.ColumnNames(),
			Preview:     profile.Preview,
		},
	})
}
