package mcp

import (
	"fmt"
	"slices"
	"sync"
)

// SessionState is the handshake state of a Session.
type SessionState int

// Session states. A session only moves forward: Uninitialized, Initialized, ShuttingDown.
const (
	StateUninitialized SessionState = iota
	StateInitialized
	StateShuttingDown
)

// Session tracks the handshake state of a single connection.
//
// Stateful sessions back long-lived connections (stdio and SSE) and start Uninitialized.
// Stateless sessions back independent HTTP requests: they start Initialized, validate
// initialize without transitioning and never leave the Initialized state.
type Session struct {
	id        string
	stateless bool

	mu              sync.Mutex
	state           SessionState
	protocolVersion string
	clientInfo      Info
}

// NewSession creates a stateful session in the Uninitialized state.
func NewSession(id string) *Session {
	return &Session{id: id}
}

// NewStatelessSession creates a session that is already Initialized and never transitions.
func NewStatelessSession(id string) *Session {
	return &Session{id: id, stateless: true, state: StateInitialized}
}

// ID returns the identifier of the session.
func (s *Session) ID() string { return s.id }

// Stateless reports whether the session was created with NewStatelessSession.
func (s *Session) Stateless() bool { return s.stateless }

// State returns the current state of the session.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProtocolVersion returns the protocol version negotiated by initialize.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// ClientInfo returns the client information sent with initialize.
func (s *Session) ClientInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// admit decides whether method may run in the current state.
func (s *Session) admit(method string) *Error {
	switch s.State() {
	case StateUninitialized:
		if method != MethodInitialize {
			return newError(CodeNotInitialized, ErrNotInitialized.Error(), nil)
		}
	case StateShuttingDown:
		return newError(CodeShuttingDown, ErrShuttingDown.Error(), nil)
	}
	return nil
}

// initialize performs the Uninitialized to Initialized transition. The version check
// happens before any state change so a rejected handshake leaves the session untouched.
func (s *Session) initialize(params InitializeParams, supported []string) error {
	if !slices.Contains(supported, params.ProtocolVersion) {
		return &Error{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("%s: %q", ErrUnsupportedProtocolVersion, params.ProtocolVersion),
			Data: map[string]any{
				"requested": params.ProtocolVersion,
				"supported": supported,
			},
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateless {
		return nil
	}
	switch s.state {
	case StateInitialized:
		return newError(CodeInvalidRequest, ErrAlreadyInitialized.Error(), nil)
	case StateShuttingDown:
		return newError(CodeShuttingDown, ErrShuttingDown.Error(), nil)
	}

	s.state = StateInitialized
	s.protocolVersion = params.ProtocolVersion
	s.clientInfo = params.ClientInfo
	return nil
}

func (s *Session) shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateless {
		return nil
	}
	switch s.state {
	case StateUninitialized:
		return newError(CodeNotInitialized, ErrNotInitialized.Error(), nil)
	case StateShuttingDown:
		return newError(CodeShuttingDown, ErrShuttingDown.Error(), nil)
	}
	s.state = StateShuttingDown
	return nil
}

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}
