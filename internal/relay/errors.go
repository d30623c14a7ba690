package relay

import "errors"

// ErrorCode is the machine-readable code carried by error events.
type ErrorCode string

// Protocol error codes reported to clients.
const (
	CodeMalformed      ErrorCode = "malformed"
	CodeUnknownType    ErrorCode = "unknown_type"
	CodeInvalidRoom    ErrorCode = "invalid_room"
	CodeInvalidPayload ErrorCode = "invalid_payload"
	CodeNotJoined      ErrorCode = "not_joined"
	CodeRateLimited    ErrorCode = "rate_limited"
	CodeUnavailable    ErrorCode = "unavailable"
)

var (
	// ErrSessionClosed is returned when an operation targets a session that
	// is no longer active.
	ErrSessionClosed = errors.New("session is closed")
	// ErrDispatcherClosed is returned by Submit after the dispatcher stopped.
	ErrDispatcherClosed = errors.New("dispatcher is closed")

	errAlreadyJoined = errors.New("already joined")
	errNotMember     = errors.New("not a room member")
	errRoomEvicted   = errors.New("room evicted")
)

// ProtocolError describes a malformed or out-of-state client request. It is
// reported to the offending session and never closes the connection.
type ProtocolError struct {
	Code    ErrorCode
	Context string
}

// NewProtocolError builds a ProtocolError.
func NewProtocolError(code ErrorCode, context string) *ProtocolError {
	return &ProtocolError{Code: code, Context: context}
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Context == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Context
}

// Is reports whether target is a ProtocolError with the same code.
func (e *ProtocolError) Is(target error) bool {
	if t, ok := target.(*ProtocolError); ok {
		return e.Code == t.Code
	}
	return false
}

// AsProtocolError converts any error into a ProtocolError suitable for the
// wire. Unknown errors map to CodeUnavailable.
func AsProtocolError(err error) *ProtocolError {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr
	}
	return NewProtocolError(CodeUnavailable, err.Error())
}
