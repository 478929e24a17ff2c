package omr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalid       = errors.New("invalid input")
	ErrTemplateInUse = errors.New("template in use")
	ErrVision        = errors.New("vision model failed")
)

// Error carries the message shown to API clients next to its kind.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string { return e.Detail }
func (e *Error) Unwrap() error { return e.Kind }
func (e *Error) Cause() error  { return e.Kind }

func notFound(what string) error {
	return &Error{Kind: ErrNotFound, Detail: what + " not found"}
}

func invalid(format string, args ...any) error {
	return &Error{Kind: ErrInvalid, Detail: fmt.Sprintf(format, args...)}
}

func visionFailed(prefix string, err error) error {
	return &Error{Kind: ErrVision, Detail: prefix + ": " + err.Error()}
}
