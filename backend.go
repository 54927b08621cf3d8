package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gobwas/glob"
)

// Backend executes validated calls. The Dispatcher owns session gating and parameter
// validation and hands every admitted call to the single Backend chosen at construction.
type Backend interface {
	// Name identifies the backend in logs and diagnostics.
	Name() string
	// Handle executes the call and returns the value to place in the response result.
	// Returning a *Error, or an error wrapping one of the code sentinels, produces that
	// protocol error. Any other error is reported as an internal error.
	Handle(ctx context.Context, call Call) (any, error)
}

// Call is a validated method invocation. Which fields are set depends on Method.
type Call struct {
	Method string

	// Tool is set for tools/call.
	Tool *ToolDescriptor
	// Prompt is set for prompts/get.
	Prompt *PromptDescriptor
	// Arguments holds validated tool or prompt arguments with defaults applied.
	Arguments Arguments

	// Namespace and URI are set for resources/read, resources/write and resources/delete.
	Namespace ResourceNamespace
	URI       ResourceURI
	// Value is the value to store for resources/write.
	Value any

	// Pattern filters resources/list by URI when set.
	Pattern glob.Glob
}

// NativeBackend executes calls by invoking the registered descriptors directly.
type NativeBackend struct {
	registry *Registry
}

// NewNativeBackend creates a backend over the given registry.
func NewNativeBackend(registry *Registry) *NativeBackend {
	return &NativeBackend{registry: registry}
}

// Name implements Backend.
func (b *NativeBackend) Name() string { return "native" }

// Handle implements Backend.
func (b *NativeBackend) Handle(ctx context.Context, call Call) (any, error) {
	switch call.Method {
	case MethodToolsList:
		return ListTools(b.registry), nil
	case MethodToolsCall:
		res, err := call.Tool.Handler(ctx, call.Arguments)
		return NewToolCallResult(res, err)
	case MethodPromptsList:
		return ListPrompts(b.registry), nil
	case MethodPromptsGet:
		text, err := call.Prompt.Render(ctx, call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to render prompt %q: %w", call.Prompt.Name, err)
		}
		return NewGetPromptResult(call.Prompt, text), nil
	case MethodResourcesList:
		return ListResources(ctx, b.registry, call.Pattern)
	case MethodResourcesRead:
		return ReadResource(ctx, call)
	case MethodResourcesWrite:
		return WriteResource(ctx, call)
	case MethodResourcesDelete:
		return DeleteResource(ctx, call)
	}
	return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, call.Method)
}

// ProbeBackend checks that b serves the tools of registry, in registration order. It is
// used at startup to decide whether an alternate backend can replace the native one.
func ProbeBackend(ctx context.Context, b Backend, registry *Registry) error {
	res, err := b.Handle(ctx, Call{Method: MethodToolsList})
	if err != nil {
		return fmt.Errorf("failed to list tools with %s backend: %w", b.Name(), err)
	}
	bs, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal tools list: %w", err)
	}
	var list ListToolsResult
	if err := json.Unmarshal(bs, &list); err != nil {
		return fmt.Errorf("failed to unmarshal tools list: %w", err)
	}

	tools := registry.Tools()
	if len(list.Tools) != len(tools) {
		return fmt.Errorf("%s backend lists %d tools, want %d", b.Name(), len(list.Tools), len(tools))
	}
	for i, t := range tools {
		if list.Tools[i].Name != t.Name {
			return fmt.Errorf("%s backend lists tool %q at position %d, want %q", b.Name(), list.Tools[i].Name, i, t.Name)
		}
	}
	return nil
}

// ListTools returns the published tools of registry in registration order.
func ListTools(registry *Registry) ListToolsResult {
	tools := registry.Tools()
	res := ListToolsResult{Tools: make([]Tool, 0, len(tools))}
	for _, t := range tools {
		res.Tools = append(res.Tools, t.Tool())
	}
	return res
}

// ListPrompts returns the published prompts of registry in registration order.
func ListPrompts(registry *Registry) ListPromptsResult {
	prompts := registry.Prompts()
	res := ListPromptsResult{Prompts: make([]Prompt, 0, len(prompts))}
	for _, p := range prompts {
		res.Prompts = append(res.Prompts, p.Prompt())
	}
	return res
}

// NewGetPromptResult wraps rendered prompt text as a single user message.
func NewGetPromptResult(prompt *PromptDescriptor, text string) GetPromptResult {
	return GetPromptResult{
		Description: prompt.Description,
		Messages: []PromptMessage{
			{Role: RoleUser, Content: Content{Type: ContentTypeText, Text: text}},
		},
	}
}

// NewToolCallResult normalizes the outcome of a ToolHandler. A *DomainError becomes a
// result with Success set to false, any other error is returned unchanged.
func NewToolCallResult(res ToolResult, err error) (ToolCallResult, error) {
	if err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			return ToolCallResult{}, err
		}
		return ToolCallResult{
			Success: false,
			Error:   domainErr.Message,
			Content: []Content{{Type: ContentTypeText, Text: domainErr.Message}},
			IsError: true,
		}, nil
	}

	text, ok := res.Value.(string)
	if !ok {
		bs, mErr := json.Marshal(res.Value)
		if mErr != nil {
			return ToolCallResult{}, fmt.Errorf("failed to marshal tool result: %w", mErr)
		}
		text = string(bs)
	}
	return ToolCallResult{
		Success:  true,
		Result:   res.Value,
		Metadata: res.Metadata,
		Content:  []Content{{Type: ContentTypeText, Text: text}},
	}, nil
}

// ListResources lists every entry of every namespace. Namespaces keep registration order,
// entries within a namespace are sorted by key. A non-nil pattern keeps only the entries
// whose URI it matches.
func ListResources(ctx context.Context, registry *Registry, pattern glob.Glob) (ListResourcesResult, error) {
	res := ListResourcesResult{Resources: []Resource{}}
	for _, ns := range registry.Namespaces() {
		entries, err := ns.List(ctx)
		if err != nil {
			return ListResourcesResult{}, fmt.Errorf("failed to list %s resources: %w", ns.Scheme(), err)
		}
		for _, e := range entries {
			uri := ResourceURI{Scheme: ns.Scheme(), Key: e.Key}.String()
			if pattern != nil && !pattern.Match(uri) {
				continue
			}
			res.Resources = append(res.Resources, Resource{
				URI:         uri,
				Name:        e.Key,
				Description: ns.Description(),
				MimeType:    mimeTypeJSON,
			})
		}
	}
	return res, nil
}

// ReadResource reads the resource named by call.URI. A missing key is a domain failure.
func ReadResource(ctx context.Context, call Call) (ReadResourceResult, error) {
	uri := call.URI.String()
	entry, ok, err := call.Namespace.Read(ctx, call.URI.Key)
	if err != nil {
		return ReadResourceResult{}, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	if !ok {
		return ReadResourceResult{
			Success:  false,
			URI:      uri,
			Error:    fmt.Sprintf("resource not found: %s", uri),
			Contents: []ResourceContents{},
		}, nil
	}

	updatedAt := entry.UpdatedAt.UTC().Truncate(time.Microsecond)
	return ReadResourceResult{
		Success:   true,
		URI:       uri,
		Value:     entry.Value,
		UpdatedAt: &updatedAt,
		Contents: []ResourceContents{
			{URI: uri, MimeType: mimeTypeJSON, Text: string(entry.Value)},
		},
	}, nil
}

// WriteResource stores call.Value under call.URI.
func WriteResource(ctx context.Context, call Call) (WriteResourceResult, error) {
	uri := call.URI.String()
	prev, existed, err := call.Namespace.Write(ctx, call.URI.Key, call.Value)
	if err != nil {
		return WriteResourceResult{}, fmt.Errorf("failed to write %s: %w", uri, err)
	}
	res := WriteResourceResult{Success: true, URI: uri, Created: !existed}
	if existed {
		res.Previous = prev.Value
	}
	return res, nil
}

// DeleteResource removes the resource named by call.URI.
func DeleteResource(ctx context.Context, call Call) (DeleteResourceResult, error) {
	uri := call.URI.String()
	deleted, err := call.Namespace.Delete(ctx, call.URI.Key)
	if err != nil {
		return DeleteResourceResult{}, fmt.Errorf("failed to delete %s: %w", uri, err)
	}
	return DeleteResourceResult{Success: true, URI: uri, Deleted: deleted}, nil
}
