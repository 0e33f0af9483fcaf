// Package query validates and executes read-only SQL against a loaded
// dataset.
package query

import "fmt"

// ErrorKind classifies query failures for callers that need to branch on
// them; everything is reported back to the LLM as text either way.
type ErrorKind string

const (
	// KindSyntax covers statements rejected before execution for shape
	// problems (wrong leading keyword, multiple statements).
	KindSyntax ErrorKind = "syntax"

	// KindForbidden covers statements rejected by the keyword and table
	// reference checks.
	KindForbidden ErrorKind = "forbidden"

	// KindExecution covers failures reported by the engine itself.
	KindExecution ErrorKind = "execution"

	// KindTimeout covers queries that exceeded the wall-clock deadline.
	KindTimeout ErrorKind = "timeout"
)

// Error is the query engine's failure type.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func syntaxErr(format string, args ...any) *Error {
	return &Error{Kind: KindSyntax, Message: fmt.Sprintf(format, args...)}
}

func forbiddenErr(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}
