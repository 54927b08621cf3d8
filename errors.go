package mcp

import (
	"errors"
	"fmt"
)

// Error represents an error response in the JSON-RPC 2.0 protocol.
type Error struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// For invalid params it carries the first failing parameter and its expected type.
	Data any `json:"data,omitempty"`
}

// DomainError reports an expected failure of a well-formed call, such as a division by zero
// or a missing key. Handlers return it to produce a successful response that carries
// success=false instead of a protocol error.
type DomainError struct {
	Message string
}

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeShuttingDown   = -32000
	CodeNotInitialized = -32002
)

var (
	// ErrParse is matched by errors carrying CodeParseError.
	ErrParse = errors.New("parse error")
	// ErrInvalidRequest is matched by errors carrying CodeInvalidRequest.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrMethodNotFound is matched by errors carrying CodeMethodNotFound.
	ErrMethodNotFound = errors.New("method not found")
	// ErrInvalidParams is matched by errors carrying CodeInvalidParams.
	ErrInvalidParams = errors.New("invalid params")
	// ErrInternal is matched by errors carrying CodeInternalError.
	ErrInternal = errors.New("internal error")
	// ErrShuttingDown is matched by errors carrying CodeShuttingDown.
	ErrShuttingDown = errors.New("server shutting down")
	// ErrNotInitialized is matched by errors carrying CodeNotInitialized.
	ErrNotInitialized = errors.New("server not initialized")

	// ErrUnsupportedProtocolVersion is returned when the caller requests a protocol version
	// the server does not speak. It is reported with CodeInvalidParams.
	ErrUnsupportedProtocolVersion = errors.New("unsupported protocol version")
	// ErrAlreadyInitialized is returned for a second initialize on a stateful session.
	// It is reported with CodeInvalidRequest.
	ErrAlreadyInitialized = errors.New("session already initialized")

	// ErrDuplicateName is returned when a descriptor name or namespace scheme is registered twice.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrRegistrySealed is returned when registering after the registry was sealed.
	ErrRegistrySealed = errors.New("registry sealed")
	// ErrInvalidDescriptor is returned for descriptors that cannot be registered.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	errConnClosed = errors.New("connection closed")

	codeSentinels = map[int]error{
		CodeParseError:     ErrParse,
		CodeInvalidRequest: ErrInvalidRequest,
		CodeMethodNotFound: ErrMethodNotFound,
		CodeInvalidParams:  ErrInvalidParams,
		CodeInternalError:  ErrInternal,
		CodeShuttingDown:   ErrShuttingDown,
		CodeNotInitialized: ErrNotInitialized,
	}
)

// NewDomainError returns a DomainError with the formatted message.
func NewDomainError(format string, args ...any) *DomainError {
	return &DomainError{Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("request error, code: %d, message: %s, data: %v", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("request error, code: %d, message: %s", e.Code, e.Message)
}

// Is reports whether target is the sentinel error of e's code, so callers can match
// protocol errors with errors.Is(err, ErrMethodNotFound).
func (e *Error) Is(target error) bool {
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

func (e *DomainError) Error() string {
	return e.Message
}

func newError(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

func invalidParams(message, param, expected string) *Error {
	return newError(CodeInvalidParams, message, map[string]any{
		"param":    param,
		"expected": expected,
	})
}

// toError converts any error returned during dispatch into a protocol error. Errors wrapping
// one of the code sentinels keep that code; everything else is an internal error whose
// details stay out of the response.
func toError(err error) (*Error, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	for _, code := range []int{CodeInvalidParams, CodeInvalidRequest, CodeMethodNotFound} {
		if errors.Is(err, codeSentinels[code]) {
			return newError(code, err.Error(), nil), true
		}
	}
	return newError(CodeInternalError, "internal error", nil), false
}
