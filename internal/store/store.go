// Package store persists sessions and their append-only message history.
package store

import (
	"context"
	"errors"

	"github.com/tabulant/tabulant/pkg/models"
)

// ErrNotFound is returned when a session does not exist or is not visible
// to the requesting user.
var ErrNotFound = errors.New("session not found")

// Store is the persistence boundary for sessions, messages, and dataset
// profiles. Message history is append-only with ids that increase
// monotonically within a session.
type Store interface {
	// CreateSession inserts a new session row.
	CreateSession(ctx context.Context, session *models.Session) error

	// GetSession returns the session if it exists and belongs to userID.
	GetSession(ctx context.Context, userID, sessionID string) (*models.Session, error)

	// ListSessions returns the user's sessions, newest first.
	ListSessions(ctx context.Context, userID string) ([]*models.Session, error)

	// DeleteSession removes a session and all its messages. Deleting a
	// session that does not exist is not an error.
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// SetTitle updates the session title.
	SetTitle(ctx context.Context, sessionID, title string) error

	// SaveProfile stores the dataset profile computed at upload time.
	SaveProfile(ctx context.Context, sessionID string, profile *models.Profile) error

	// GetProfile loads the stored dataset profile.
	GetProfile(ctx context.Context, sessionID string) (*models.Profile, error)

	// AppendMessage persists a message and returns its assigned id.
	AppendMessage(ctx context.Context, message *models.Message) (int64, error)

	// ListMessages returns all messages for a session in id order.
	ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error)

	// Close releases the underlying database handle.
	Close() error
}
