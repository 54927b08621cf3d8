package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client is a small JSON-RPC client for the gateway. It runs over any ClientTransport and
// correlates responses with their requests by ID, so calls may be issued concurrently.
//
// A Client must be created using NewClient() and requires Connect() to be called before
// any operations can be performed. The handshake is explicit: call Initialize before the
// other methods. The client should be closed using Close() when it's no longer needed.
type Client struct {
	info            Info
	protocolVersion string
	transport       ClientTransport

	writeTimeout time.Duration
	readTimeout  time.Duration
	logger       *slog.Logger

	conn    Conn
	pending *sync.Map // map[string]chan *Response

	mu         sync.Mutex
	serverInfo Info

	done      chan struct{}
	closeOnce sync.Once
}

var (
	defaultClientWriteTimeout = 30 * time.Second
	defaultClientReadTimeout  = 30 * time.Second

	// ErrClientClosed is returned by calls made after the connection ended.
	ErrClientClosed = errors.New("client closed")
)

// WithClientWriteTimeout sets the timeout for sending a request.
func WithClientWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}

// WithClientReadTimeout sets how long a call waits for its response.
func WithClientReadTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.readTimeout = timeout
	}
}

// WithClientProtocolVersion sets the protocol version proposed by Initialize.
func WithClientProtocolVersion(version string) ClientOption {
	return func(c *Client) {
		c.protocolVersion = version
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "mcpbase"),
			slog.String("component", "client"),
		)
	}
}

// NewClient creates a client that identifies itself with info and talks over transport.
func NewClient(info Info, transport ClientTransport, options ...ClientOption) *Client {
	c := &Client{
		info:            info,
		protocolVersion: DefaultProtocolVersion,
		transport:       transport,
		writeTimeout:    defaultClientWriteTimeout,
		readTimeout:     defaultClientReadTimeout,
		logger:          slog.Default(),
		pending:         &sync.Map{},
		done:            make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Connect starts a session on the transport and begins reading responses. It does not
// perform the handshake.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.transport.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	c.conn = conn

	go c.listenMessages()
	return nil
}

// Initialize performs the handshake and acknowledges it with notifications/initialized.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: c.protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.info,
	}
	res, err := call[InitializeResult](ctx, c, MethodInitialize, params)
	if err != nil {
		return InitializeResult{}, err
	}

	c.mu.Lock()
	c.serverInfo = res.ServerInfo
	c.mu.Unlock()

	if err := c.Notify(ctx, methodNotificationsInitialized, nil); err != nil {
		return InitializeResult{}, fmt.Errorf("failed to send initialized notification: %w", err)
	}
	return res, nil
}

// ServerInfo returns the server information received by Initialize.
func (c *Client) ServerInfo() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Ping checks that the server is alive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, MethodPing, nil)
	return err
}

// ListTools lists the tools of the server in registration order.
func (c *Client) ListTools(ctx context.Context) (ListToolsResult, error) {
	return call[ListToolsResult](ctx, c, MethodToolsList, nil)
}

// CallTool invokes the named tool. A domain failure is reported in the result, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (ToolCallResult, error) {
	return call[ToolCallResult](ctx, c, MethodToolsCall, CallToolParams{Name: name, Arguments: args})
}

// ListResources lists the resources of every namespace.
func (c *Client) ListResources(ctx context.Context) (ListResourcesResult, error) {
	return call[ListResourcesResult](ctx, c, MethodResourcesList, nil)
}

// MatchResources lists the resources whose URI matches the glob pattern.
func (c *Client) MatchResources(ctx context.Context, pattern string) (ListResourcesResult, error) {
	return call[ListResourcesResult](ctx, c, MethodResourcesList, ListResourcesParams{Pattern: pattern})
}

// ReadResource reads the resource at uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (ReadResourceResult, error) {
	return call[ReadResourceResult](ctx, c, MethodResourcesRead, ReadResourceParams{URI: uri})
}

// WriteResource creates or replaces the resource at uri.
func (c *Client) WriteResource(ctx context.Context, uri string, value any) (WriteResourceResult, error) {
	return call[WriteResourceResult](ctx, c, MethodResourcesWrite, WriteResourceParams{URI: uri, Value: value})
}

// DeleteResource removes the resource at uri.
func (c *Client) DeleteResource(ctx context.Context, uri string) (DeleteResourceResult, error) {
	return call[DeleteResourceResult](ctx, c, MethodResourcesDelete, ReadResourceParams{URI: uri})
}

// ListPrompts lists the prompts of the server in registration order.
func (c *Client) ListPrompts(ctx context.Context) (ListPromptsResult, error) {
	return call[ListPromptsResult](ctx, c, MethodPromptsList, nil)
}

// GetPrompt renders the named prompt with args.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (GetPromptResult, error) {
	return call[GetPromptResult](ctx, c, MethodPromptsGet, GetPromptParams{Name: name, Arguments: args})
}

// Shutdown moves the server session to its terminal state. The server closes the
// connection afterwards.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Call(ctx, MethodShutdown, nil)
	return err
}

// Call sends a request and waits for its response. A protocol error is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.conn == nil {
		return nil, errors.New("client not connected")
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	msgID := uuid.New().String()
	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(strconv.Quote(msgID)),
		Method:  method,
		Params:  raw,
	}

	results := make(chan *Response, 1)
	c.pending.Store(msgID, results)
	defer c.pending.Delete(msgID)

	if err := c.send(ctx, req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()

	var res *Response
	select {
	case res = <-results:
	case <-timer.C:
		return nil, fmt.Errorf("request timeout: %s", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}

	if res.Error != nil {
		return nil, res.Error
	}
	return res.RawResult()
}

// Notify sends a notification, which receives no response.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if c.conn == nil {
		return errors.New("client not connected")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.send(ctx, Request{JSONRPC: JSONRPCVersion, Method: method, Params: raw})
}

// Close stops the connection. Pending calls return ErrClientClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Stop()
		}
	})
}

// Done returns a channel that is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) send(ctx context.Context, req Request) error {
	bs, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	if err := c.conn.Send(sCtx, bs); err != nil {
		return fmt.Errorf("failed to send %s: %w", req.Method, err)
	}
	return nil
}

func (c *Client) listenMessages() {
	// The server ending the stream, e.g. after shutdown, closes the client.
	defer c.Close()

	for msg := range c.conn.Messages() {
		var res Response
		if err := json.Unmarshal(msg, &res); err != nil {
			c.logger.Error("failed to unmarshal response", slog.String("err", err.Error()))
			continue
		}

		var msgID string
		if err := json.Unmarshal(res.ID, &msgID); err != nil {
			if res.Error != nil {
				c.logger.Warn("received error without request id",
					slog.Int("code", res.Error.Code),
					slog.String("err", res.Error.Message))
				continue
			}
			c.logger.Warn("received response with unexpected id", slog.String("id", string(res.ID)))
			continue
		}

		v, ok := c.pending.Load(msgID)
		if !ok {
			c.logger.Warn("received response for unknown request", slog.String("id", msgID))
			continue
		}
		select {
		case v.(chan *Response) <- &res:
		default:
		}
	}
}

func call[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var result T
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return result, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	bs, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return bs, nil
}
