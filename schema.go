package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Request represents a JSON-RPC 2.0 request or notification as received from the caller.
//
// The ID is kept as raw JSON so it can be echoed back byte-for-byte, preserving whether
// the caller used a string or a number. An absent or null ID marks a notification.
type Request struct {
	// JSONRPC must always be "2.0".
	JSONRPC string `json:"jsonrpc"`
	// ID correlates the response with this request, it must be a string or a number.
	ID json.RawMessage `json:"id,omitempty"`
	// Method is the name of the method to invoke.
	Method string `json:"method"`
	// Params holds the named parameters of the call as a raw JSON object.
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response. Exactly one of Result or Error is
// serialized: a response carrying an Error never emits a result field, and a successful
// response always emits one.
type Response struct {
	ID     json.RawMessage
	Result any
	Error  *Error
}

// Info contains the name and version of a server or client implementation.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams contains the parameters of the initialize handshake.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      Info           `json:"clientInfo"`
}

// InitializeResult is returned to the caller once the handshake succeeds.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ServerCapabilities advertises which capability families the server exposes.
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
}

// ToolsCapability represents the tools capability of the server.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ResourcesCapability represents the resources capability of the server.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
	Writable    bool `json:"writable"`
}

// PromptsCapability represents the prompts capability of the server.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// Tool is the published description of a registered tool.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// ListToolsResult is the result of tools/list, in registration order.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams contains the parameters of tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResult is the normalized result of tools/call.
//
// Success reports whether the requested operation completed. A domain failure, such as a
// division by zero, is a successful JSON-RPC response with Success set to false and Error
// describing the failure. Content and IsError mirror the same outcome as text content.
type ToolCallResult struct {
	Success  bool           `json:"success"`
	Result   any            `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Content  []Content      `json:"content"`
	IsError  bool           `json:"isError"`
}

// Content is a single piece of text content in a tool or prompt result.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

// ContentType represents the type of content in results.
type ContentType string

// Resource is the published description of a single resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult is the result of resources/list.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// ListResourcesParams contains the parameters of resources/list.
type ListResourcesParams struct {
	// Pattern is a glob matched against resource URIs, for example "kv://user:*".
	Pattern string `json:"pattern,omitempty"`
}

// ReadResourceParams contains the parameters of resources/read and resources/delete.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// WriteResourceParams contains the parameters of resources/write.
type WriteResourceParams struct {
	URI   string `json:"uri"`
	Value any    `json:"value"`
}

// ReadResourceResult is the result of resources/read. A missing key is reported with
// Success set to false rather than as a protocol error.
type ReadResourceResult struct {
	Success   bool               `json:"success"`
	URI       string             `json:"uri"`
	Value     json.RawMessage    `json:"value,omitempty"`
	UpdatedAt *time.Time         `json:"updatedAt,omitempty"`
	Error     string             `json:"error,omitempty"`
	Contents  []ResourceContents `json:"contents"`
}

// ResourceContents is the text representation of a resource value.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// WriteResourceResult is the result of resources/write.
type WriteResourceResult struct {
	Success  bool            `json:"success"`
	URI      string          `json:"uri"`
	Created  bool            `json:"created"`
	Previous json.RawMessage `json:"previous,omitempty"`
}

// DeleteResourceResult is the result of resources/delete.
type DeleteResourceResult struct {
	Success bool   `json:"success"`
	URI     string `json:"uri"`
	Deleted bool   `json:"deleted"`
}

// Prompt is the published description of a registered prompt.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes a single argument of a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// ListPromptsResult is the result of prompts/list, in registration order.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

// GetPromptParams contains the parameters of prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// GetPromptResult is the rendered prompt.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// PromptMessage is a single message of a rendered prompt.
type PromptMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Role represents the role of a prompt message author.
type Role string

const (
	// RoleUser marks content authored by the user.
	RoleUser Role = "user"
	// RoleAssistant marks content authored by the assistant.
	RoleAssistant Role = "assistant"

	// ContentTypeText marks text content.
	ContentTypeText ContentType = "text"
)

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// MethodInitialize is the method name of the handshake.
	MethodInitialize = "initialize"
	// MethodPing is the method name of the liveness check.
	MethodPing = "ping"
	// MethodShutdown moves the session to its terminal state.
	MethodShutdown = "shutdown"

	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	// MethodResourcesList is the method name for listing available resources.
	MethodResourcesList = "resources/list"
	// MethodResourcesRead is the method name for reading the value of a specific resource.
	MethodResourcesRead = "resources/read"
	// MethodResourcesWrite is the method name for creating or replacing the value of a resource.
	MethodResourcesWrite = "resources/write"
	// MethodResourcesDelete is the method name for removing a resource.
	MethodResourcesDelete = "resources/delete"

	// MethodPromptsList is the method name for retrieving a list of available prompts.
	MethodPromptsList = "prompts/list"
	// MethodPromptsGet is the method name for rendering a specific prompt.
	MethodPromptsGet = "prompts/get"

	methodNotificationsInitialized = "notifications/initialized"
	methodNotificationsCancelled   = "notifications/cancelled"

	// DefaultProtocolVersion is the protocol version the client proposes by default.
	DefaultProtocolVersion = "2024-11-05"

	mimeTypeJSON = "application/json"
)

// SupportedProtocolVersions lists the protocol versions accepted by default during the handshake.
var SupportedProtocolVersions = []string{"2024-11-05", "2025-03-26", "2025-06-18"}

// IsNotification reports whether the request carries no ID and therefore expects no response.
func (r Request) IsNotification() bool {
	id := bytes.TrimSpace(r.ID)
	return len(id) == 0 || bytes.Equal(id, []byte("null"))
}

// MarshalJSON implements json.Marshaler, emitting exactly one of result or error.
func (r Response) MarshalJSON() ([]byte, error) {
	id := r.ID
	if len(bytes.TrimSpace(id)) == 0 {
		id = json.RawMessage("null")
	}

	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      json.RawMessage `json:"id"`
			Error   *Error          `json:"error"`
		}{JSONRPCVersion, id, r.Error})
	}

	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  any             `json:"result"`
	}{JSONRPCVersion, id, r.Result})
}

// UnmarshalJSON implements json.Unmarshaler. The result is kept as json.RawMessage so the
// receiver can decode it into the type matching the request.
func (r *Response) UnmarshalJSON(data []byte) error {
	var aux struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("invalid jsonrpc version %q", aux.JSONRPC)
	}

	r.ID = aux.ID
	r.Error = aux.Error
	r.Result = nil
	if aux.Error == nil {
		r.Result = aux.Result
	}
	return nil
}

// RawResult returns the result as raw JSON, marshaling it if needed.
func (r Response) RawResult() (json.RawMessage, error) {
	switch v := r.Result.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return v, nil
	default:
		bs, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return bs, nil
	}
}

// EncodeResponse marshals res. A result that cannot be represented as JSON is replaced by
// an internal error carrying the same ID, so the caller always receives a response.
func EncodeResponse(res *Response) []byte {
	bs, err := json.Marshal(res)
	if err == nil {
		return bs
	}
	bs, _ = json.Marshal(&Response{ID: res.ID, Error: newError(CodeInternalError, "internal error", nil)})
	return bs
}
