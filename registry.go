package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ToolHandler executes a tool with validated arguments. Returning a *DomainError produces a
// successful response reporting success=false, any other error is an internal error.
type ToolHandler func(ctx context.Context, args Arguments) (ToolResult, error)

// PromptRenderer renders a prompt from validated arguments with defaults applied.
type PromptRenderer func(ctx context.Context, args Arguments) (string, error)

// ToolResult is the value produced by a ToolHandler.
type ToolResult struct {
	Value    any
	Metadata map[string]any
}

// ToolDescriptor describes a registered tool. It is immutable once registered.
type ToolDescriptor struct {
	// Name is the qualified tool name, such as "tools.echo".
	Name        string
	Description string
	Params      []Param
	Handler     ToolHandler
}

// PromptDescriptor describes a registered prompt template. Parameter defaults are carried
// on Params.
type PromptDescriptor struct {
	Name        string
	Description string
	Params      []Param
	Render      PromptRenderer
}

// ResourceEntry is a single value stored behind a resource namespace.
type ResourceEntry struct {
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
}

// ResourceNamespace backs every resource URI of a single scheme, such as kv://<key>.
// Implementations must be safe for concurrent use.
type ResourceNamespace interface {
	// Scheme returns the URI scheme served by this namespace, without "://".
	Scheme() string
	// Description returns a short human readable description of the namespace.
	Description() string
	// Read returns the entry stored under key, reporting false if it does not exist.
	Read(ctx context.Context, key string) (ResourceEntry, bool, error)
	// Write stores value under key, returning the entry it replaced, if any.
	Write(ctx context.Context, key string, value any) (previous ResourceEntry, existed bool, err error)
	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns every entry, sorted by key.
	List(ctx context.Context) ([]ResourceEntry, error)
}

// ResourceURI is a parsed <scheme>://<key> resource identifier.
type ResourceURI struct {
	Scheme string
	Key    string
}

// Registry holds the tools, prompts and resource namespaces exposed by a server.
//
// Registration happens at startup. Once Seal is called the registry is read-only and every
// lookup is safe for concurrent use without locking. A Dispatcher seals its registry when
// it is constructed.
type Registry struct {
	mu     sync.Mutex
	sealed atomic.Bool

	tools      []*ToolDescriptor
	toolIndex  map[string]*ToolDescriptor
	prompts    []*PromptDescriptor
	promptIdx  map[string]*PromptDescriptor
	namespaces []ResourceNamespace
	nsIndex    map[string]ResourceNamespace
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		toolIndex: make(map[string]*ToolDescriptor),
		promptIdx: make(map[string]*PromptDescriptor),
		nsIndex:   make(map[string]ResourceNamespace),
	}
}

// RegisterTool adds a tool to the registry.
func (r *Registry) RegisterTool(tool ToolDescriptor) error {
	if tool.Name == "" || tool.Handler == nil {
		return fmt.Errorf("%w: tool %q needs a name and a handler", ErrInvalidDescriptor, tool.Name)
	}
	if err := checkParams(tool.Params); err != nil {
		return fmt.Errorf("failed to register tool %q: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("failed to register tool %q: %w", tool.Name, ErrRegistrySealed)
	}
	if _, ok := r.toolIndex[tool.Name]; ok {
		return fmt.Errorf("failed to register tool %q: %w", tool.Name, ErrDuplicateName)
	}

	tool.Params = append([]Param(nil), tool.Params...)
	r.tools = append(r.tools, &tool)
	r.toolIndex[tool.Name] = &tool
	return nil
}

// RegisterPrompt adds a prompt template to the registry.
func (r *Registry) RegisterPrompt(prompt PromptDescriptor) error {
	if prompt.Name == "" || prompt.Render == nil {
		return fmt.Errorf("%w: prompt %q needs a name and a renderer", ErrInvalidDescriptor, prompt.Name)
	}
	if err := checkParams(prompt.Params); err != nil {
		return fmt.Errorf("failed to register prompt %q: %w", prompt.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("failed to register prompt %q: %w", prompt.Name, ErrRegistrySealed)
	}
	if _, ok := r.promptIdx[prompt.Name]; ok {
		return fmt.Errorf("failed to register prompt %q: %w", prompt.Name, ErrDuplicateName)
	}

	prompt.Params = append([]Param(nil), prompt.Params...)
	r.prompts = append(r.prompts, &prompt)
	r.promptIdx[prompt.Name] = &prompt
	return nil
}

// RegisterNamespace adds a resource namespace to the registry, keyed by its scheme.
func (r *Registry) RegisterNamespace(ns ResourceNamespace) error {
	if ns == nil || ns.Scheme() == "" || strings.Contains(ns.Scheme(), ":") {
		return fmt.Errorf("%w: namespace needs a plain scheme", ErrInvalidDescriptor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("failed to register namespace %q: %w", ns.Scheme(), ErrRegistrySealed)
	}
	if _, ok := r.nsIndex[ns.Scheme()]; ok {
		return fmt.Errorf("failed to register namespace %q: %w", ns.Scheme(), ErrDuplicateName)
	}

	r.namespaces = append(r.namespaces, ns)
	r.nsIndex[ns.Scheme()] = ns
	return nil
}

// Seal makes the registry read-only. Further registrations fail with ErrRegistrySealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// LookupTool returns the tool registered under name.
func (r *Registry) LookupTool(name string) (*ToolDescriptor, bool) {
	t, ok := r.toolIndex[name]
	return t, ok
}

// LookupPrompt returns the prompt registered under name.
func (r *Registry) LookupPrompt(name string) (*PromptDescriptor, bool) {
	p, ok := r.promptIdx[name]
	return p, ok
}

// LookupNamespace returns the namespace registered for scheme.
func (r *Registry) LookupNamespace(scheme string) (ResourceNamespace, bool) {
	ns, ok := r.nsIndex[scheme]
	return ns, ok
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []*ToolDescriptor {
	return append([]*ToolDescriptor(nil), r.tools...)
}

// Prompts returns the registered prompts in registration order.
func (r *Registry) Prompts() []*PromptDescriptor {
	return append([]*PromptDescriptor(nil), r.prompts...)
}

// Namespaces returns the registered namespaces in registration order.
func (r *Registry) Namespaces() []ResourceNamespace {
	return append([]ResourceNamespace(nil), r.namespaces...)
}

// Capabilities derives the advertised server capabilities from the registered entries.
func (r *Registry) Capabilities() ServerCapabilities {
	var caps ServerCapabilities
	if len(r.tools) > 0 {
		caps.Tools = &ToolsCapability{}
	}
	if len(r.namespaces) > 0 {
		caps.Resources = &ResourcesCapability{Writable: true}
	}
	if len(r.prompts) > 0 {
		caps.Prompts = &PromptsCapability{}
	}
	return caps
}

// Tool returns the published description of the tool.
func (t *ToolDescriptor) Tool() Tool {
	return Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: inputSchema(t.Params),
	}
}

// Prompt returns the published description of the prompt.
func (p *PromptDescriptor) Prompt() Prompt {
	args := make([]PromptArgument, 0, len(p.Params))
	for _, param := range p.Params {
		args = append(args, PromptArgument{
			Name:        param.Name,
			Description: param.Description,
			Required:    param.Required,
		})
	}
	return Prompt{
		Name:        p.Name,
		Description: p.Description,
		Arguments:   args,
	}
}

// ParseResourceURI splits uri into its scheme and key.
func ParseResourceURI(uri string) (ResourceURI, error) {
	scheme, key, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return ResourceURI{}, fmt.Errorf("%w: malformed resource uri %q", ErrInvalidParams, uri)
	}
	if key == "" {
		return ResourceURI{}, fmt.Errorf("%w: resource uri %q has an empty key", ErrInvalidParams, uri)
	}
	return ResourceURI{Scheme: scheme, Key: key}, nil
}

func (u ResourceURI) String() string {
	return u.Scheme + "://" + u.Key
}
