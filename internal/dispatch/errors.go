package dispatch

import "fmt"

// Kind is the stable failure classification surfaced to callers. The API
// layer maps kinds to HTTP statuses; everything else matches with errors.Is.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindAlreadyResolved   Kind = "already_resolved"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrForbidden)
// works regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidInput      = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrAlreadyResolved   = &Error{Kind: KindAlreadyResolved, Message: "already resolved"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "conflict"}
)

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
