package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer implements a framework-agnostic Server-Sent Events (SSE) server transport.
// Server-to-client messages are streamed as "message" events and client-to-server messages
// arrive through HTTP POST requests on the message endpoint.
//
// Every connection owns its inbound queue, its outbound queue and its writer goroutine. A
// POST is routed straight to the queue of its connection, so a slow or vanished subscriber
// only ever blocks itself.
//
// Instances should be created using NewSSEServer and mounted with HandleSSE and
// HandleMessage, which can be integrated with any HTTP framework.
type SSEServer struct {
	messageURL     string
	queueSize      int
	maxPayloadSize int64
	logger         *slog.Logger

	conns    *sync.Map // map[string]*sseConn
	sessions chan *sseConn

	done     chan struct{}
	doneOnce *sync.Once
	closed   chan struct{}
}

// SSEServerOption represents the options for the SSEServer.
type SSEServerOption func(*SSEServer)

// SSEClient implements a Server-Sent Events (SSE) client transport. It reads server
// messages from the event stream and posts client messages to the endpoint announced by
// the server. Instances should be created using NewSSEClient.
type SSEClient struct {
	httpClient *http.Client
	connectURL string
	logger     *slog.Logger

	maxPayloadSize int
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

type sseConn struct {
	id       string
	sess     *sse.Session
	logger   *slog.Logger
	sendMsgs chan sseSendMsg
	received chan []byte
	eventID  atomic.Uint64

	done       chan struct{}
	doneOnce   sync.Once
	sendClosed chan struct{}
}

type sseSendMsg struct {
	msg  *sse.Message
	errs chan error
}

type sseClientConn struct {
	id         string
	httpClient *http.Client
	messageURL string
	logger     *slog.Logger

	messages chan []byte
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

var (
	defaultSSEQueueSize      = 16
	defaultSSEMaxPayloadSize = int64(1 << 20)
)

// NewSSEServer creates and initializes a new SSE server whose clients post their messages
// to messageURL. The server is immediately operational upon creation.
func NewSSEServer(messageURL string, options ...SSEServerOption) SSEServer {
	s := SSEServer{
		messageURL:     messageURL,
		queueSize:      defaultSSEQueueSize,
		maxPayloadSize: defaultSSEMaxPayloadSize,
		logger:         slog.Default(),
		conns:          &sync.Map{},
		sessions:       make(chan *sseConn),
		done:           make(chan struct{}),
		doneOnce:       &sync.Once{},
		closed:         make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

// WithSSEServerLogger sets the logger for the SSE server.
func WithSSEServerLogger(logger *slog.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger.With(
			slog.String("package", "mcpbase"),
			slog.String("component", "sse"),
		)
	}
}

// WithSSEServerQueueSize sets how many messages each connection buffers in each direction.
func WithSSEServerQueueSize(size int) SSEServerOption {
	return func(s *SSEServer) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithSSEServerMaxPayloadSize sets the maximum size of a posted message body.
func WithSSEServerMaxPayloadSize(size int64) SSEServerOption {
	return func(s *SSEServer) {
		if size > 0 {
			s.maxPayloadSize = size
		}
	}
}

// NewSSEClient creates an SSE client that connects to the specified connectURL. The optional
// httpClient parameter allows custom HTTP client configuration - if nil, the default HTTP
// client is used.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	s := &SSEClient{
		connectURL: connectURL,
		httpClient: cli,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithSSEClientMaxPayloadSize sets the maximum size of the payload that can be received
// from the server. If the payload size exceeds this limit, the error will be logged and
// the client will be disconnected.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(s *SSEClient) {
		s.maxPayloadSize = size
	}
}

// WithSSEClientLogger sets the logger for the SSE client.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(s *SSEClient) {
		s.logger = logger.With(
			slog.String("package", "mcpbase"),
			slog.String("component", "sse-client"),
		)
	}
}

// Sessions returns an iterator over new client connections. The iteration ends when
// Shutdown is called.
func (s SSEServer) Sessions() iter.Seq[Conn] {
	return func(yield func(Conn) bool) {
		defer close(s.closed)

		for {
			select {
			case <-s.done:
				return
			case conn := <-s.sessions:
				// Forward the connection to the caller.
				if !yield(conn) {
					return
				}
			}
		}
	}
}

// Shutdown stops accepting connections and ends the Sessions iteration.
func (s SSEServer) Shutdown(ctx context.Context) error {
	// Signal the server to shutdown.
	s.doneOnce.Do(func() { close(s.done) })

	// Wait for main loop to finish.
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleSSE returns an http.Handler for managing SSE connections over GET requests.
// The handler upgrades HTTP connections to SSE, assigns unique session IDs, and
// provides clients with their message endpoints. The connection remains active until
// either the client disconnects or the connection is stopped.
func (s SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Received the request to establish a new SSE session.
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		conn := &sseConn{
			id:         uuid.New().String(),
			sess:       sess,
			sendMsgs:   make(chan sseSendMsg, s.queueSize),
			received:   make(chan []byte, s.queueSize),
			done:       make(chan struct{}),
			sendClosed: make(chan struct{}),
		}
		conn.logger = s.logger.With(slog.String("sessionID", conn.id))

		// Use the type "endpoint" to indicate the URL the client posts its messages to.
		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(fmt.Sprintf("%s?sessionID=%s", s.messageURL, conn.id))
		if err := sess.Send(&msg); err != nil {
			s.logger.Error("failed to write SSE endpoint", slog.String("err", err.Error()))
			return
		}
		if err := sess.Flush(); err != nil {
			s.logger.Error("failed to flush SSE endpoint", slog.String("err", err.Error()))
			return
		}

		s.conns.Store(conn.id, conn)
		defer s.conns.Delete(conn.id)

		// Hand the connection to the Sessions loop so it gets served.
		select {
		case s.sessions <- conn:
		case <-s.done:
			return
		case <-r.Context().Done():
			return
		}

		// Block until the connection is closed, so the response stays open.
		conn.processSendMessages(r.Context())
	})
}

// HandleMessage returns an http.Handler for processing client messages sent via POST
// requests. The handler expects a sessionID query parameter and queues the body on that
// connection. Responses are delivered on the event stream, so the handler answers
// 202 Accepted once the message is queued.
func (s SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			s.logger.Warn("missing sessionID query parameter")
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		v, ok := s.conns.Load(sessID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		conn := v.(*sseConn)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxPayloadSize))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, fmt.Sprintf("failed to read message: %s", err), http.StatusBadRequest)
			return
		}

		select {
		case conn.received <- body:
			w.WriteHeader(http.StatusAccepted)
		case <-conn.done:
			http.Error(w, "session closed", http.StatusServiceUnavailable)
		case <-s.done:
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		case <-r.Context().Done():
		}
	})
}

func (c *sseConn) ID() string { return c.id }

func (c *sseConn) Send(ctx context.Context, msg []byte) error {
	sseMsg := &sse.Message{
		ID:   sse.ID(strconv.FormatUint(c.eventID.Add(1), 10)),
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(msg))

	errs := make(chan error, 1)

	// Queue the message for sending to avoid race in the sse library.
	select {
	case c.sendMsgs <- sseSendMsg{sseMsg, errs}:
	case <-ctx.Done():
		return fmt.Errorf("failed to queue message: %w", ctx.Err())
	case <-c.done:
		return errConnClosed
	}

	// Wait and return the error if any.
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for write result: %w", ctx.Err())
	case <-c.done:
		return errConnClosed
	}
}

func (c *sseConn) Messages() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			select {
			case msg := <-c.received:
				if !yield(msg) {
					return
				}
			case <-c.done:
				return
			}
		}
	}
}

func (c *sseConn) Stop() {
	c.close()
	<-c.sendClosed
}

func (c *sseConn) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

// processSendMessages writes queued messages until the connection is stopped or the
// client goes away, in which case the connection is stopped as well.
func (c *sseConn) processSendMessages(ctx context.Context) {
	defer close(c.sendClosed)
	defer c.close()

	for {
		select {
		case sm := <-c.sendMsgs:
			// Send and flush the message to the client.
			err := c.sess.Send(sm.msg)
			if err == nil {
				err = c.sess.Flush()
			}
			if err != nil {
				c.logger.Warn("failed to send message", slog.String("err", err.Error()))
			}
			sm.errs <- err
			if err != nil {
				return
			}
		case <-ctx.Done():
			c.logger.Info("client closed the event stream")
			return
		case <-c.done:
			return
		}
	}
}

// StartSession connects to the event stream and waits for the server to announce the
// message endpoint. The stream stays open until the returned connection is stopped.
func (s *SSEClient) StartSession(ctx context.Context) (Conn, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.connectURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	conn := &sseClientConn{
		httpClient: s.httpClient,
		logger:     s.logger,
		messages:   make(chan []byte, defaultSSEQueueSize),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	ready := make(chan error, 1)
	go s.listenSSEMessages(conn, resp.Body, ready)

	select {
	case err := <-ready:
		if err != nil {
			conn.Stop()
			return nil, err
		}
	case <-ctx.Done():
		conn.Stop()
		return nil, fmt.Errorf("failed to wait for endpoint: %w", ctx.Err())
	}
	return conn, nil
}

func (s *SSEClient) listenSSEMessages(conn *sseClientConn, body io.ReadCloser, ready chan<- error) {
	defer func() {
		body.Close()
		close(conn.messages)
	}()

	var config *sse.ReadConfig
	if s.maxPayloadSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: s.maxPayloadSize,
		}
	}

	endpointReady := false
	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("failed to read SSE message", slog.String("err", err.Error()))
			}
			if !endpointReady {
				ready <- fmt.Errorf("failed to read endpoint: %w", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			if endpointReady {
				continue
			}
			base, err := url.Parse(s.connectURL)
			if err != nil {
				ready <- fmt.Errorf("failed to parse connect URL: %w", err)
				return
			}
			ref, err := url.Parse(ev.Data)
			if err != nil || ev.Data == "" {
				ready <- fmt.Errorf("invalid endpoint URL %q", ev.Data)
				return
			}
			u := base.ResolveReference(ref)
			conn.messageURL = u.String()
			conn.id = u.Query().Get("sessionID")
			endpointReady = true
			ready <- nil
		case "message":
			if !endpointReady {
				s.logger.Error("received message before endpoint URL")
				continue
			}
			select {
			case conn.messages <- []byte(ev.Data):
			case <-conn.done:
				return
			}
		default:
			s.logger.Warn("unhandled event type", slog.String("type", ev.Type))
		}
	}

	if !endpointReady {
		ready <- errors.New("event stream ended before the endpoint was announced")
	}
}

func (c *sseClientConn) ID() string { return c.id }

// Send posts msg to the message endpoint announced by the server.
func (c *sseClientConn) Send(ctx context.Context, msg []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messageURL, bytes.NewReader(msg))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func (c *sseClientConn) Messages() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			select {
			case msg, ok := <-c.messages:
				if !ok {
					return
				}
				if !yield(msg) {
					return
				}
			case <-c.done:
				return
			}
		}
	}
}

func (c *sseClientConn) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}
