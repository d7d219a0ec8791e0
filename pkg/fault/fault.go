// Package fault classifies business errors so transports can map them to responses
// without knowing which domain package produced them.
package fault

import "errors"

// Kind groups errors by how a caller is expected to react.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindUnauthorized
)

// Error is a classified business error.
type Error struct {
	kind    Kind
	message string
}

func (e *Error) Error() string { return e.message }

// Kind reports the classification.
func (e *Error) Kind() Kind { return e.kind }

func newError(kind Kind, msg string) error {
	return &Error{kind: kind, message: msg}
}

// Validation reports input that breaks a business rule.
func Validation(msg string) error { return newError(KindValidation, msg) }

// NotFound reports a missing record.
func NotFound(msg string) error { return newError(KindNotFound, msg) }

// Forbidden reports an authenticated actor acting outside their role.
func Forbidden(msg string) error { return newError(KindForbidden, msg) }

// Conflict reports an operation that is not valid in the record's current state.
func Conflict(msg string) error { return newError(KindConflict, msg) }

// Unauthorized reports missing or stale credentials.
func Unauthorized(msg string) error { return newError(KindUnauthorized, msg) }

// KindOf unwraps err until it finds a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// IsValidation helps callers distinguish between business and infrastructure failures.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
