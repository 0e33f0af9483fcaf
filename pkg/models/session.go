package models

import "time"

// User is the authenticated principal attached to a request or socket.
type User struct {
	ID string `json:"id"`
}

// DefaultSessionTitle is the placeholder a session carries until the agent
// names it.
const DefaultSessionTitle = "New session"

// Session is one uploaded dataset plus its conversation.
// A session is owned by exactly one user and bound to exactly one file.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	Filename  string    `json:"filename,omitempty"`
	FilePath  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
