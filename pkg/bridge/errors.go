package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable category carried by every caller-facing bridge error.
type Kind string

const (
	KindInvalidArguments Kind = "InvalidArguments"
	KindDeliveryFailed   Kind = "DeliveryFailed"
	KindTimeout          Kind = "Timeout"
	KindInvalidInput     Kind = "InvalidInput"
	KindBusy             Kind = "Busy"
	KindCancelled        Kind = "Cancelled"
	KindUnauthorized     Kind = "Unauthorized"
	KindUnknownOperation Kind = "UnknownOperation"
	KindInternal         Kind = "Internal"
)

// Sentinels for errors.Is checks. They match any Error of the same kind.
var (
	ErrInvalidArguments = &Error{Kind: KindInvalidArguments}
	ErrDeliveryFailed   = &Error{Kind: KindDeliveryFailed}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrBusy             = &Error{Kind: KindBusy}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrUnknownOperation = &Error{Kind: KindUnknownOperation}
)

// Error represents a categorized bridge or tool failure.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	message := e.Message()
	if message == "" {
		return string(e.Kind)
	}

	return fmt.Sprintf("%s: %s", e.Kind, message)
}

// Message returns the human-readable part of the error without the kind prefix.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}

	switch {
	case e.Detail != "" && e.Err != nil:
		return e.Detail + ": " + e.Err.Error()
	case e.Detail != "":
		return e.Detail
	case e.Err != nil:
		return e.Err.Error()
	default:
		return ""
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}

	return t.Detail == "" && t.Err == nil && t.Kind == e.Kind
}

// NewError creates a categorized error with a detail message.
func NewError(kind Kind, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}

// Errorf creates a categorized error with a formatted detail message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError categorizes an underlying error, keeping it reachable through errors.Unwrap.
func WrapError(kind Kind, detail string, err error) error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the category of err. Context errors map to Cancelled and
// Timeout; anything else uncategorized is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	return KindInternal
}

// MessageOf returns the detail part of err, without a kind prefix when err is categorized.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Message()
	}

	return err.Error()
}
