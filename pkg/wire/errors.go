package wire

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrMalformedPayload       = errors.New("malformed payload")
	ErrAlreadyRegistered      = errors.New("already registered")
	ErrNotServable            = errors.New("message is not servable")
	ErrTimeout                = errors.New("timed out")
	ErrClosed                 = errors.New("closed")
	ErrNoTopic                = errors.New("no topic to publish to")
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

// ErrorCode represents a numeric error code for efficient error handling
type ErrorCode int

const (
	ErrorCodeUnknown ErrorCode = 0

	// Usage error codes (1000-1999)

	ErrorCodeValidation             ErrorCode = 1001
	ErrorCodeAlreadyRegistered      ErrorCode = 1002
	ErrorCodeNotServable            ErrorCode = 1003
	ErrorCodeNoTopic                ErrorCode = 1004
	ErrorCodeUnsupportedContentType ErrorCode = 1005

	// Payload error codes (2000-2999)

	ErrorCodeMalformedPayload ErrorCode = 2001

	// Transport error codes (3000-3999)

	ErrorCodeTimeout ErrorCode = 3001
	ErrorCodeClosed  ErrorCode = 3002
)

var sentinelByCode = map[ErrorCode]error{
	ErrorCodeValidation:             ErrValidation,
	ErrorCodeAlreadyRegistered:      ErrAlreadyRegistered,
	ErrorCodeNotServable:            ErrNotServable,
	ErrorCodeNoTopic:                ErrNoTopic,
	ErrorCodeUnsupportedContentType: ErrUnsupportedContentType,
	ErrorCodeMalformedPayload:       ErrMalformedPayload,
	ErrorCodeTimeout:                ErrTimeout,
	ErrorCodeClosed:                 ErrClosed,
}

// Error carries an ErrorCode plus optional cause and context. It matches the
// sentinel of its code with errors.Is.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	sentinel, ok := sentinelByCode[e.Code]
	return ok && sentinel == target
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsTemporary reports whether retrying the same operation may succeed.
func (e *Error) IsTemporary() bool {
	return e.Code == ErrorCodeTimeout
}

// GetErrorCode returns the error code for a given error
func GetErrorCode(err error) ErrorCode {
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr.Code
	}
	for code, sentinel := range sentinelByCode {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrorCodeUnknown
}

func Validationf(format string, args ...any) *Error {
	return NewError(ErrorCodeValidation, fmt.Sprintf(format, args...), nil)
}

func MalformedPayload(schema string, cause error) *Error {
	return NewError(ErrorCodeMalformedPayload, "cannot decode payload as "+schema, cause).
		WithContext("schema", schema)
}

func UnsupportedContentType(ct ContentType) *Error {
	return NewError(ErrorCodeUnsupportedContentType, fmt.Sprintf("unsupported content type %q", string(ct)), nil)
}
