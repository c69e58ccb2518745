package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// StatusCode is the outcome class attached to every reply.
type StatusCode int32

const (
	StatusUnknown StatusCode = iota
	StatusOK
	StatusCancelled
	StatusInvalidArgument
	StatusDeadlineExceeded
	StatusNotFound
	StatusAlreadyExists
	StatusPermissionDenied
	StatusUnauthenticated
	StatusFailedPrecondition
	StatusOutOfRange
	StatusUnimplemented
	StatusInternalError
)

var statusCodeNames = [...]string{
	StatusUnknown:            "UNKNOWN",
	StatusOK:                 "OK",
	StatusCancelled:          "CANCELLED",
	StatusInvalidArgument:    "INVALID_ARGUMENT",
	StatusDeadlineExceeded:   "DEADLINE_EXCEEDED",
	StatusNotFound:           "NOT_FOUND",
	StatusAlreadyExists:      "ALREADY_EXISTS",
	StatusPermissionDenied:   "PERMISSION_DENIED",
	StatusUnauthenticated:    "UNAUTHENTICATED",
	StatusFailedPrecondition: "FAILED_PRECONDITION",
	StatusOutOfRange:         "OUT_OF_RANGE",
	StatusUnimplemented:      "UNIMPLEMENTED",
	StatusInternalError:      "INTERNAL_ERROR",
}

func (c StatusCode) String() string {
	if c >= 0 && int(c) < len(statusCodeNames) {
		return statusCodeNames[c]
	}
	return "StatusCode(" + strconv.Itoa(int(c)) + ")"
}

// ParseStatusCode accepts a code name such as "DEADLINE_EXCEEDED" or its
// decimal value.
func ParseStatusCode(s string) (StatusCode, error) {
	for i, name := range statusCodeNames {
		if name == s {
			return StatusCode(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(statusCodeNames) {
		return StatusCode(n), nil
	}
	return StatusUnknown, Validationf("unknown status code %q", s)
}

func (c StatusCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *StatusCode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseStatusCode(name)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return Validationf("status code must be a name or a number, got %s", string(data))
	}
	parsed, err := ParseStatusCode(strconv.Itoa(n))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Status is the result descriptor of an RPC.
type Status struct {
	Code StatusCode `json:"code"`
	Why  string     `json:"why"`
}

func NewStatus(code StatusCode, why string) Status {
	return Status{Code: code, Why: why}
}

func Statusf(code StatusCode, format string, args ...any) Status {
	return Status{Code: code, Why: fmt.Sprintf(format, args...)}
}

func (s Status) OK() bool {
	return s.Code == StatusOK
}

func (s Status) String() string {
	if s.Why == "" {
		return s.Code.String()
	}
	return s.Code.String() + ": " + s.Why
}

// Err returns nil for OK and a *StatusError otherwise.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &StatusError{Status: s}
}

// EncodeStatus produces the rpc-status header value.
func EncodeStatus(s Status) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeStatus parses an rpc-status header value.
func DecodeStatus(raw string) (Status, error) {
	var s Status
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Status{}, MalformedPayload("rpc-status", err)
	}
	return s, nil
}

type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return "rpc status " + e.Status.String()
}

// StatusFromError extracts a Status carried by err, or UNKNOWN with the
// error text.
func StatusFromError(err error) Status {
	if err == nil {
		return NewStatus(StatusOK, "")
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return NewStatus(StatusUnknown, err.Error())
}
