// Package mcpgo provides an alternate dispatch backend built on github.com/mark3labs/mcp-go.
//
// The backend mirrors the tools and prompts of a sealed registry into an upstream
// server.MCPServer and forwards the standard methods through its HandleMessage entry point,
// converting replies back to the wire shapes of the native backend. Resource methods, of
// which resources/write and resources/delete have no upstream counterpart, are served by a
// NativeBackend over the same registry.
package mcpgo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	mgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ravikant1918/mcpbase-server"
)

// Name identifies this backend in configuration and logs.
const Name = "mcp-go"

// Backend forwards calls to an upstream MCPServer. It implements mcp.Backend.
type Backend struct {
	upstream *server.MCPServer
	registry *mcp.Registry
	fallback *mcp.NativeBackend
	logger   *slog.Logger

	nextID atomic.Int64
}

// Option represents the options for the Backend.
type Option func(*Backend)

type callKey struct{}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *mcp.Error      `json:"error"`
}

type listedTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listedTools struct {
	Tools []listedTool `json:"tools"`
}

// WithLogger sets the logger for the backend.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger.With(
			slog.String("package", "mcpbase"),
			slog.String("component", "mcpgo"),
		)
	}
}

// New mirrors the tools and prompts of registry into a new upstream server. The registry
// should be fully populated, descriptors registered later are not mirrored.
func New(registry *mcp.Registry, info mcp.Info, options ...Option) (*Backend, error) {
	b := &Backend{
		upstream: server.NewMCPServer(info.Name, info.Version,
			server.WithToolCapabilities(false),
			server.WithPromptCapabilities(false),
			server.WithRecovery(),
		),
		registry: registry,
		fallback: mcp.NewNativeBackend(registry),
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(b)
	}

	for _, tool := range registry.Tools() {
		schema, err := json.Marshal(tool.Tool().InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal input schema of %s: %w", tool.Name, err)
		}
		b.upstream.AddTool(mgo.NewToolWithRawSchema(tool.Name, tool.Description, schema), toolHandler(tool))
	}

	for _, prompt := range registry.Prompts() {
		opts := []mgo.PromptOption{mgo.WithPromptDescription(prompt.Description)}
		for _, p := range prompt.Params {
			argOpts := []mgo.ArgumentOption{mgo.ArgumentDescription(p.Description)}
			if p.Required {
				argOpts = append(argOpts, mgo.RequiredArgument())
			}
			opts = append(opts, mgo.WithArgument(p.Name, argOpts...))
		}
		b.upstream.AddPrompt(mgo.NewPrompt(prompt.Name, opts...), promptHandler(prompt))
	}

	return b, nil
}

// Name implements mcp.Backend.
func (b *Backend) Name() string { return Name }

// Handle implements mcp.Backend.
func (b *Backend) Handle(ctx context.Context, call mcp.Call) (any, error) {
	switch call.Method {
	case mcp.MethodToolsList:
		return b.listTools(ctx)
	case mcp.MethodToolsCall:
		raw, err := b.forward(ctx, call, map[string]any{
			"name":      call.Tool.Name,
			"arguments": call.Arguments,
		})
		if err != nil {
			return nil, err
		}
		return toolCallResult(raw)
	case mcp.MethodPromptsList:
		return b.listPrompts(ctx)
	case mcp.MethodPromptsGet:
		raw, err := b.forward(ctx, call, map[string]any{
			"name":      call.Prompt.Name,
			"arguments": promptArguments(call.Arguments),
		})
		if err != nil {
			return nil, err
		}
		var res mcp.GetPromptResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prompt result: %w", err)
		}
		return res, nil
	}
	return b.fallback.Handle(ctx, call)
}

func (b *Backend) listTools(ctx context.Context) (any, error) {
	raw, err := b.forward(ctx, mcp.Call{Method: mcp.MethodToolsList}, nil)
	if err != nil {
		return nil, err
	}
	var list listedTools
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tools list: %w", err)
	}

	// The upstream server orders tools by name, registration order is restored here.
	order := make(map[string]int)
	for i, t := range b.registry.Tools() {
		order[t.Name] = i
	}
	tools := slices.DeleteFunc(list.Tools, func(t listedTool) bool {
		_, ok := order[t.Name]
		return !ok
	})
	slices.SortFunc(tools, func(x, y listedTool) int { return order[x.Name] - order[y.Name] })

	return listedTools{Tools: tools}, nil
}

func (b *Backend) listPrompts(ctx context.Context) (any, error) {
	raw, err := b.forward(ctx, mcp.Call{Method: mcp.MethodPromptsList}, nil)
	if err != nil {
		return nil, err
	}
	var list mcp.ListPromptsResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts list: %w", err)
	}

	order := make(map[string]int)
	for i, p := range b.registry.Prompts() {
		order[p.Name] = i
	}
	prompts := slices.DeleteFunc(list.Prompts, func(p mcp.Prompt) bool {
		_, ok := order[p.Name]
		return !ok
	})
	slices.SortFunc(prompts, func(x, y mcp.Prompt) int { return order[x.Name] - order[y.Name] })

	return mcp.ListPromptsResult{Prompts: prompts}, nil
}

// forward sends a single request to the upstream server and returns its raw result.
// The validated call travels in the context so the mirrored handlers see the exact
// arguments the dispatcher produced.
func (b *Backend) forward(ctx context.Context, call mcp.Call, params any) (json.RawMessage, error) {
	req := map[string]any{
		"jsonrpc": mcp.JSONRPCVersion,
		"id":      b.nextID.Add(1),
		"method":  call.Method,
	}
	if params != nil {
		req["params"] = params
	}
	bs, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", call.Method, err)
	}

	reply := b.upstream.HandleMessage(context.WithValue(ctx, callKey{}, call), bs)
	if reply == nil {
		return nil, fmt.Errorf("upstream returned no reply for %s", call.Method)
	}
	replyBs, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upstream reply: %w", err)
	}

	var res rpcReply
	if err := json.Unmarshal(replyBs, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upstream reply: %w", err)
	}
	if res.Error != nil {
		if res.Error.Code == mcp.CodeInternalError {
			// Internal details stay in the logs.
			return nil, fmt.Errorf("upstream %s failed: %s", call.Method, res.Error.Message)
		}
		return nil, res.Error
	}

	b.logger.Debug("forwarded call", slog.String("method", call.Method))
	return res.Result, nil
}

// toolCallResult extracts the native result the mirrored handler encoded as text.
func toolCallResult(raw json.RawMessage) (any, error) {
	var res struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool result: %w", err)
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" {
		return nil, fmt.Errorf("unexpected tool result with %d contents", len(res.Content))
	}
	text := []byte(res.Content[0].Text)
	if !json.Valid(text) {
		return nil, errors.New("tool result is not JSON")
	}
	return json.RawMessage(text), nil
}

func toolHandler(tool *mcp.ToolDescriptor) server.ToolHandlerFunc {
	return func(ctx context.Context, request mgo.CallToolRequest) (*mgo.CallToolResult, error) {
		args := callArguments(ctx, func() mcp.Arguments { return request.GetArguments() })

		res, err := mcp.NewToolCallResult(tool.Handler(ctx, args))
		if err != nil {
			return nil, err
		}
		bs, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool result: %w", err)
		}
		return mgo.NewToolResultText(string(bs)), nil
	}
}

func promptHandler(prompt *mcp.PromptDescriptor) server.PromptHandlerFunc {
	return func(ctx context.Context, request mgo.GetPromptRequest) (*mgo.GetPromptResult, error) {
		args := callArguments(ctx, func() mcp.Arguments {
			args := make(mcp.Arguments, len(request.Params.Arguments))
			for k, v := range request.Params.Arguments {
				args[k] = v
			}
			return args
		})

		text, err := prompt.Render(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("failed to render prompt %q: %w", prompt.Name, err)
		}
		return mgo.NewGetPromptResult(prompt.Description, []mgo.PromptMessage{
			mgo.NewPromptMessage(mgo.RoleUser, mgo.NewTextContent(text)),
		}), nil
	}
}

func callArguments(ctx context.Context, fallback func() mcp.Arguments) mcp.Arguments {
	if call, ok := ctx.Value(callKey{}).(mcp.Call); ok && call.Arguments != nil {
		return call.Arguments
	}
	return fallback()
}

func promptArguments(args mcp.Arguments) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
