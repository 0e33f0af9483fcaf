// Package dataset stores uploaded files, loads them into an in-memory SQL
// table, and derives the cached profile the agent reasons over.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for uploads that are neither CSV nor
// Parquet.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrFileTooLarge is returned when an upload exceeds the configured cap.
var ErrFileTooLarge = errors.New("file exceeds size limit")

var allowedExtensions = map[string]bool{
	".csv":     true,
	".parquet": true,
	".pq":      true,
}

// ValidateFilename checks the extension of an uploaded file.
func ValidateFilename(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return nil
}

// SaveUpload writes the uploaded stream under dataDir/{sessionID}/original.<ext>
// and returns the stored path. The original filename is kept only as
// metadata; the on-disk name is fixed so path construction never depends on
// user input.
func SaveUpload(dataDir, sessionID, filename string, r io.Reader, maxBytes int64) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}

	dir := filepath.Join(dataDir, sessionID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create session dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(dir, "original"+ext)
	f, err := os.Create(path) // #nosec G304 -- path is built from a server-generated session id
	if err != nil {
		return "", fmt.Errorf("failed to create dataset file: %w", err)
	}
	defer f.Close()

	// Read one byte past the cap to distinguish "exactly at" from "over".
	n, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write dataset file: %w", err)
	}
	if n > maxBytes {
		os.Remove(path)
		return "", ErrFileTooLarge
	}
	return path, nil
}

// RemoveSessionDir deletes a session's storage directory. Missing
// directories are not an error.
func RemoveSessionDir(dataDir, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id required")
	}
	return os.RemoveAll(filepath.Join(dataDir, sessionID))
}
