// Package mockerr defines the error kinds a mockupdb server can surface to
// a test, per the error handling design: parse/protocol failures terminate
// a connection, while expectation failures (unexpected request, timeout)
// are raised back to the calling test.
package mockerr

import "fmt"

// ErrServerStopped is returned by the Replies, Ok, Fail, CommandErr and
// Hangup helpers when their Receives call finds the server stopped; Receives
// itself returns (nil, nil) then. Autoresponds and Got do not check whether
// the server is stopped and never return it.
var ErrServerStopped = fmt.Errorf("mockupdb: server stopped")

// WireParseError reports a malformed frame: bad length, truncated body,
// invalid UTF-8 in a c-string, and so on.
type WireParseError struct {
	Reason string
}

func (e *WireParseError) Error() string { return "mockupdb: wire parse error: " + e.Reason }

// UnsupportedOpcodeError reports an opcode outside the table in wire.
type UnsupportedOpcodeError struct {
	Opcode int32
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("mockupdb: unsupported opcode %d", e.Opcode)
}

// UnexpectedRequestError is raised when Receives pops a request that does
// not match the given spec. Error formats Prototype and Actual with %v;
// both are kept as `any` so message/server don't need to import each
// other just to build this error.
type UnexpectedRequestError struct {
	Prototype any
	Actual    any
}

func (e *UnexpectedRequestError) Error() string {
	return fmt.Sprintf("mockupdb: expected to receive %v, got %v", e.Prototype, e.Actual)
}

// TimeoutError is raised when Receives, WaitUntil, or a Future exceed their
// deadline. Got reports a deadline by returning false instead.
type TimeoutError struct {
	Description string
}

func (e *TimeoutError) Error() string { return "mockupdb: timed out waiting for " + e.Description }

// BadSpecError reports a reply or request spec that cannot be interpreted,
// per the reply/request spec polymorphism rules.
type BadSpecError struct {
	Reason string
}

func (e *BadSpecError) Error() string { return "mockupdb: bad spec: " + e.Reason }

// UserResponderError wraps a panic raised from inside an autoresponder
// callable. It terminates the connection it occurred on. The server keeps
// the most recent one and returns it from its next Receives or Autoresponds
// call (including the helpers built on Receives); Got does not report it.
type UserResponderError struct {
	Err error
}

func (e *UserResponderError) Error() string {
	return "mockupdb: error in responder: " + e.Err.Error()
}

func (e *UserResponderError) Unwrap() error { return e.Err }
