package models

import "encoding/json"

// Event is one server-to-client frame: {"event": ..., "data": {...}}.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Event names carried over the session socket.
const (
	EventStatus        = "status"
	EventText          = "text"
	EventTable         = "table"
	EventPlot          = "plot"
	EventQueryResult   = "query_result"
	EventSessionUpdate = "session_update"
	EventError         = "error"
	EventDone          = "done"
)

// StatusData is advisory progress text; the transport may drop it under
// backpressure.
type StatusData struct {
	Message string `json:"message"`
}

// TextData carries a markdown body.
type TextData struct {
	Text string `json:"text"`
}

// TableData carries a structured table.
type TableData struct {
	Title   string   `json:"title"`
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

// PlotData carries an opaque declarative chart spec. The server validates
// only the discriminator and data presence; rendering belongs to the client.
type PlotData struct {
	Title string          `json:"title"`
	Spec  json.RawMessage `json:"spec"`
}

// QueryResultData mirrors one sql_query tool execution.
type QueryResultData struct {
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Columns     []string `json:"columns"`
	Rows        [][]any  `json:"rows"`
	RowCount    int64    `json:"row_count"`
	IsError     bool     `json:"is_error"`
	Error       string   `json:"error,omitempty"`
}

// SessionUpdateData announces a session metadata change.
type SessionUpdateData struct {
	Title string `json:"title"`
}

// ErrorData carries a user-facing error message.
type ErrorData struct {
	Message string `json:"message"`
}

// DoneData terminates a turn. Exactly one done event is emitted per turn.
// Incomplete marks a turn that hit the iteration cap without a clean
// finalize; it is diagnostic, not an error.
type DoneData struct {
	Aborted     bool     `json:"aborted,omitempty"`
	DataUpdated bool     `json:"data_updated"`
	Suggestions []string `json:"suggestions,omitempty"`
	Incomplete  bool     `json:"incomplete,omitempty"`
}

// StatusEvent builds a status event.
func StatusEvent(message string) Event {
	return Event{Event: EventStatus, Data: StatusData{Message: message}}
}

// TextEvent builds a text event.
func TextEvent(text string) Event {
	return Event{Event: EventText, Data: TextData{Text: text}}
}

// ErrorEvent builds an error event.
func ErrorEvent(message string) Event {
	return Event{Event: EventError, Data: ErrorData{Message: message}}
}

// DoneEvent builds a done event.
func DoneEvent(data DoneData) Event {
	return Event{Event: EventDone, Data: data}
}
