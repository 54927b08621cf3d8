package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/gobwas/glob"
)

// DispatcherOption represents the options for the dispatcher.
type DispatcherOption func(*Dispatcher)

// Dispatcher turns decoded requests into responses. It enforces the session handshake,
// routes methods by exact name, validates params against the declared schemas and hands
// admitted calls to its Backend.
//
// A Dispatcher holds no per-connection state, so a single instance serves every transport
// and every session concurrently.
type Dispatcher struct {
	registry     *Registry
	backend      Backend
	info         Info
	instructions string
	versions     []string
	logger       *slog.Logger
}

var (
	nameParam      = Param{Name: "name", Type: TypeString, Required: true}
	argumentsParam = Param{Name: "arguments", Type: TypeObject}
	uriParam       = Param{Name: "uri", Type: TypeString, Required: true}
	valueParam     = Param{Name: "value", Type: TypeAny, Required: true}
	patternParam   = Param{Name: "pattern", Type: TypeString}

	initializeParams = []Param{
		{Name: "protocolVersion", Type: TypeString, Required: true},
		{Name: "capabilities", Type: TypeObject},
		{Name: "clientInfo", Type: TypeObject},
	}

	// routes maps every routable method to the params of its envelope.
	routes = map[string][]Param{
		MethodToolsList:       nil,
		MethodToolsCall:       {nameParam, argumentsParam},
		MethodResourcesList:   {patternParam},
		MethodResourcesRead:   {uriParam},
		MethodResourcesWrite:  {uriParam, valueParam},
		MethodResourcesDelete: {uriParam},
		MethodPromptsList:     nil,
		MethodPromptsGet:      {nameParam, argumentsParam},
	}
)

// NewDispatcher creates a dispatcher over registry and seals it. A nil backend selects the
// NativeBackend.
func NewDispatcher(registry *Registry, backend Backend, info Info, options ...DispatcherOption) *Dispatcher {
	registry.Seal()
	if backend == nil {
		backend = NewNativeBackend(registry)
	}

	d := &Dispatcher{
		registry: registry,
		backend:  backend,
		info:     info,
		versions: SupportedProtocolVersions,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// WithInstructions sets the instructions returned by initialize.
func WithInstructions(instructions string) DispatcherOption {
	return func(d *Dispatcher) {
		d.instructions = instructions
	}
}

// WithProtocolVersions overrides the protocol versions accepted by initialize.
func WithProtocolVersions(versions ...string) DispatcherOption {
	return func(d *Dispatcher) {
		if len(versions) > 0 {
			d.versions = append([]string(nil), versions...)
		}
	}
}

// WithDispatcherLogger sets the logger for the dispatcher.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger.With(
			slog.String("package", "mcpbase"),
			slog.String("component", "dispatcher"),
		)
	}
}

// Backend returns the backend selected at construction.
func (d *Dispatcher) Backend() Backend { return d.backend }

// Info returns the server name and version reported by initialize.
func (d *Dispatcher) Info() Info { return d.info }

// Registry returns the sealed registry the dispatcher routes to.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// HandleMessage decodes a raw message and dispatches it. Malformed messages produce a parse
// or invalid request error. It returns nil for notifications, which expect no response.
func (d *Dispatcher) HandleMessage(ctx context.Context, sess *Session, raw []byte) *Response {
	req, rpcErr := parseRequest(raw)
	if rpcErr != nil {
		d.logger.Info("rejected message",
			slog.String("sessionID", sess.ID()),
			slog.Int("code", rpcErr.Code),
			slog.String("err", rpcErr.Message))
		return &Response{ID: req.ID, Error: rpcErr}
	}
	return d.Handle(ctx, sess, req)
}

// Handle dispatches a decoded request within sess. It returns nil for notifications.
func (d *Dispatcher) Handle(ctx context.Context, sess *Session, req Request) *Response {
	if req.IsNotification() {
		d.notify(sess, req)
		return nil
	}

	start := time.Now()
	result, err := d.dispatch(ctx, sess, req)
	logger := d.logger.With(
		slog.String("sessionID", sess.ID()),
		slog.String("method", req.Method),
		slog.String("id", string(req.ID)),
	)

	if err != nil {
		rpcErr, known := toError(err)
		if !known {
			logger.Error("failed to handle request", slog.String("err", err.Error()))
		} else {
			logger.Debug("request failed", slog.Int("code", rpcErr.Code), slog.String("err", rpcErr.Message))
		}
		return &Response{ID: req.ID, Error: rpcErr}
	}

	logger.Debug("handled request", slog.Duration("duration", time.Since(start)))
	return &Response{ID: req.ID, Result: result}
}

func (d *Dispatcher) dispatch(ctx context.Context, sess *Session, req Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("recovered from panic while handling request",
				slog.String("method", req.Method),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = newError(CodeInternalError, "internal error", nil)
		}
	}()

	if rpcErr := sess.admit(req.Method); rpcErr != nil {
		return nil, rpcErr
	}

	switch req.Method {
	case MethodInitialize:
		return d.initialize(sess, req.Params)
	case MethodShutdown:
		if err := sess.shutdown(); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	case MethodPing:
		return struct{}{}, nil
	}

	envelope, ok := routes[req.Method]
	if !ok {
		return nil, newError(CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}

	call, rpcErr := d.bind(req.Method, envelope, req.Params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return d.backend.Handle(ctx, call)
}

func (d *Dispatcher) initialize(sess *Session, raw json.RawMessage) (any, error) {
	values, rpcErr := decodeParams(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if _, rpcErr := validateArguments(initializeParams, values); rpcErr != nil {
		return nil, rpcErr
	}

	var params InitializeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, newError(CodeInvalidParams, fmt.Sprintf("failed to unmarshal params: %s", err), nil)
	}

	if err := sess.initialize(params, d.versions); err != nil {
		return nil, err
	}

	d.logger.Info("session initialized",
		slog.String("sessionID", sess.ID()),
		slog.String("protocolVersion", params.ProtocolVersion),
		slog.String("client", params.ClientInfo.Name))

	return InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		Capabilities:    d.registry.Capabilities(),
		ServerInfo:      d.info,
		Instructions:    d.instructions,
	}, nil
}

// bind validates the params of a routed method and resolves the descriptors they name.
func (d *Dispatcher) bind(method string, envelope []Param, raw json.RawMessage) (Call, *Error) {
	values, rpcErr := decodeParams(raw)
	if rpcErr != nil {
		return Call{}, rpcErr
	}
	env, rpcErr := validateArguments(envelope, values)
	if rpcErr != nil {
		return Call{}, rpcErr
	}

	call := Call{Method: method}
	switch method {
	case MethodToolsCall:
		tool, ok := d.registry.LookupTool(env.String("name"))
		if !ok {
			return Call{}, invalidParams(fmt.Sprintf("unknown tool: %s", env.String("name")), "name", "registered tool name")
		}
		inner, _ := env["arguments"].(map[string]any)
		args, rpcErr := validateArguments(tool.Params, inner)
		if rpcErr != nil {
			return Call{}, rpcErr
		}
		call.Tool = tool
		call.Arguments = normalizeArguments(args)
	case MethodPromptsGet:
		prompt, ok := d.registry.LookupPrompt(env.String("name"))
		if !ok {
			return Call{}, invalidParams(fmt.Sprintf("unknown prompt: %s", env.String("name")), "name", "registered prompt name")
		}
		inner, _ := env["arguments"].(map[string]any)
		args, rpcErr := validateArguments(prompt.Params, inner)
		if rpcErr != nil {
			return Call{}, rpcErr
		}
		call.Prompt = prompt
		call.Arguments = normalizeArguments(args)
	case MethodResourcesList:
		if pattern := env.String("pattern"); pattern != "" {
			g, err := glob.Compile(pattern)
			if err != nil {
				return Call{}, invalidParams(fmt.Sprintf("invalid pattern %q: %s", pattern, err), "pattern", "glob pattern")
			}
			call.Pattern = g
		}
	case MethodResourcesRead, MethodResourcesWrite, MethodResourcesDelete:
		uri, err := ParseResourceURI(env.String("uri"))
		if err != nil {
			return Call{}, invalidParams(err.Error(), "uri", "<scheme>://<key>")
		}
		ns, ok := d.registry.LookupNamespace(uri.Scheme)
		if !ok {
			return Call{}, invalidParams(fmt.Sprintf("unknown resource scheme: %s", uri.Scheme), "uri", "registered scheme")
		}
		call.Namespace = ns
		call.URI = uri
		if method == MethodResourcesWrite {
			call.Value = normalize(env["value"])
		}
	}
	return call, nil
}

func (d *Dispatcher) notify(sess *Session, req Request) {
	switch req.Method {
	case methodNotificationsInitialized:
		d.logger.Debug("client acknowledged initialization", slog.String("sessionID", sess.ID()))
	case methodNotificationsCancelled:
		// Handlers run to completion, so cancellation has nothing to act on.
		d.logger.Debug("ignoring cancellation", slog.String("sessionID", sess.ID()))
	default:
		d.logger.Debug("ignoring notification",
			slog.String("sessionID", sess.ID()),
			slog.String("method", req.Method))
	}
}

func normalizeArguments(args Arguments) Arguments {
	normalize(map[string]any(args))
	return args
}

// parseRequest decodes a single JSON-RPC request object. On failure the returned Request
// carries the ID when it could still be recovered.
func parseRequest(raw []byte) (Request, *Error) {
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return Request{}, newError(CodeParseError, ErrParse.Error(), nil)
	}
	switch raw[0] {
	case '{':
	case '[':
		return Request{}, newError(CodeInvalidRequest, "batch requests are not supported", nil)
	default:
		return Request{}, newError(CodeInvalidRequest, "request must be a json object", nil)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Request{}, newError(CodeParseError, ErrParse.Error(), nil)
	}

	var req Request
	if id, ok := fields["id"]; ok {
		switch id[0] {
		case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			req.ID = id
		default:
			return Request{}, newError(CodeInvalidRequest, "id must be a string or a number", nil)
		}
	}

	if err := json.Unmarshal(fields["jsonrpc"], &req.JSONRPC); err != nil || req.JSONRPC != JSONRPCVersion {
		return req, newError(CodeInvalidRequest, `jsonrpc must be "2.0"`, nil)
	}
	if err := json.Unmarshal(fields["method"], &req.Method); err != nil || req.Method == "" {
		return req, newError(CodeInvalidRequest, "method must be a non-empty string", nil)
	}
	req.Params = fields["params"]
	return req, nil
}
