package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server drives a ServerTransport: it consumes the connections the transport yields, runs
// each in its own goroutine and feeds its messages to the Dispatcher one at a time, so
// responses on a connection keep the order of their requests.
type Server struct {
	dispatcher *Dispatcher
	transport  ServerTransport

	sendTimeout time.Duration
	logger      *slog.Logger

	onClientConnected    func(string)
	onClientDisconnected func(string)

	connsWaitGroup *sync.WaitGroup
	done           chan struct{}
	doneOnce       *sync.Once
}

var defaultServerSendTimeout = 30 * time.Second

// NewServer creates a server that serves the connections of transport with dispatcher.
func NewServer(dispatcher *Dispatcher, transport ServerTransport, options ...ServerOption) Server {
	s := Server{
		dispatcher:     dispatcher,
		transport:      transport,
		logger:         slog.Default(),
		connsWaitGroup: &sync.WaitGroup{},
		done:           make(chan struct{}),
		doneOnce:       &sync.Once{},
	}
	for _, opt := range options {
		opt(&s)
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}
	return s
}

// WithServerSendTimeout returns a ServerOption that configures the server's send timeout.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback for when a client connects.
// The callback's parameter is the ID of the connection.
func WithServerOnClientConnected(onClientConnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = onClientConnected
	}
}

// WithServerOnClientDisconnected sets the callback for when a client disconnects.
// The callback's parameter is the ID of the connection.
func WithServerOnClientDisconnected(onClientDisconnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = onClientDisconnected
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "mcpbase"),
			slog.String("component", "server"),
		)
	}
}

// Serve consumes the connections of the transport until the transport stops yielding them,
// then waits for the active connections to finish.
//
// Serve blocks until the transport is shut down, or for single connection transports such
// as StdIO, until that connection ends.
func (s Server) Serve() {
	// This loop would break when the transport is closed.
	for conn := range s.transport.Sessions() {
		s.connsWaitGroup.Add(1)
		go func() {
			defer s.connsWaitGroup.Done()
			s.serveConn(conn)
		}()
	}
	s.connsWaitGroup.Wait()
}

// Shutdown gracefully shuts down the server by stopping all active connections and then
// the transport. It returns an error if the context is cancelled before shutdown completes.
func (s Server) Shutdown(ctx context.Context) error {
	// Signal the connections to stop.
	s.doneOnce.Do(func() { close(s.done) })

	connsDone := make(chan struct{})
	go func() {
		s.connsWaitGroup.Wait()
		close(connsDone)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for connections: %w", ctx.Err())
	case <-connsDone:
	}

	// Close the transport so the Sessions loop in Serve breaks.
	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}
	return nil
}

func (s Server) serveConn(conn Conn) {
	logger := s.logger.With(slog.String("sessionID", conn.ID()))
	sess := NewSession(conn.ID())

	if s.onClientConnected != nil {
		s.onClientConnected(conn.ID())
	}
	logger.Info("client connected")

	// Stop the connection when the server shuts down, which breaks the Messages loop below.
	finished := make(chan struct{})
	go func() {
		select {
		case <-s.done:
			conn.Stop()
		case <-finished:
		}
	}()

	for msg := range conn.Messages() {
		res := s.dispatcher.HandleMessage(context.Background(), sess, msg)
		if res == nil {
			continue
		}
		if err := s.send(conn, res); err != nil {
			logger.Error("failed to send response", slog.String("err", err.Error()))
			break
		}
		// The channel is closed once the shutdown response is flushed.
		if sess.State() == StateShuttingDown {
			logger.Info("client requested shutdown")
			break
		}
	}

	close(finished)
	conn.Stop()

	logger.Info("client disconnected", slog.String("state", sess.State().String()))
	if s.onClientDisconnected != nil {
		s.onClientDisconnected(conn.ID())
	}
}

func (s Server) send(conn Conn, res *Response) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	return conn.Send(ctx, EncodeResponse(res))
}
