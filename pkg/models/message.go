package models

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageKind tags how a message body should be interpreted.
//
// Kind internal carries the model's intermediate reasoning: it is replayed
// into the LLM context on later turns but never streamed to the client and
// never returned on restore. Kind query_result is persisted for LLM context
// but excluded from restore as well.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindTable       MessageKind = "table"
	KindPlot        MessageKind = "plot"
	KindQueryResult MessageKind = "query_result"
	KindInternal    MessageKind = "internal"
)

// Message is one entry in a session's append-only log. IDs are assigned by
// the store and increase monotonically within a session.
type Message struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"-"`
	Role      Role            `json:"role"`
	Kind      MessageKind     `json:"type"`
	Body      string          `json:"text"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
