package mcp_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/ravikant1918/mcpbase-server"
	"github.com/ravikant1918/mcpbase-server/kvstore"
	"github.com/ravikant1918/mcpbase-server/servers/mcpbase"
)

const panicToolName = "tests.panic"

var testInfo = mcp.Info{Name: "test-server", Version: "1.0.0"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRegistry returns the demo capabilities plus a tool that always panics.
func newTestRegistry(t *testing.T) *mcp.Registry {
	t.Helper()

	reg := mcp.NewRegistry()
	if err := mcpbase.Register(reg, kvstore.New()); err != nil {
		t.Fatalf("failed to register capabilities: %v", err)
	}
	err := reg.RegisterTool(mcp.ToolDescriptor{
		Name:        panicToolName,
		Description: "Always panics",
		Handler: func(context.Context, mcp.Arguments) (mcp.ToolResult, error) {
			panic("boom")
		},
	})
	if err != nil {
		t.Fatalf("failed to register panic tool: %v", err)
	}
	return reg
}

func newTestDispatcher(t *testing.T) *mcp.Dispatcher {
	t.Helper()
	return mcp.NewDispatcher(newTestRegistry(t), nil, testInfo, mcp.WithDispatcherLogger(discardLogger()))
}

// send dispatches msg and returns the response as a client would decode it.
func send(t *testing.T, d *mcp.Dispatcher, sess *mcp.Session, msg string) *mcp.Response {
	t.Helper()

	res := d.HandleMessage(context.Background(), sess, []byte(msg))
	if res == nil {
		return nil
	}
	var decoded mcp.Response
	if err := json.Unmarshal(mcp.EncodeResponse(res), &decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return &decoded
}

func initialize(t *testing.T, d *mcp.Dispatcher, sess *mcp.Session) {
	t.Helper()

	res := send(t, d, sess, `{"jsonrpc":"2.0","id":0,"method":"initialize","params":{
		"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0.0"}}}`)
	if res.Error != nil {
		t.Fatalf("failed to initialize: %v", res.Error)
	}
}

func newInitializedSession(t *testing.T, d *mcp.Dispatcher) *mcp.Session {
	t.Helper()

	sess := mcp.NewSession("test")
	initialize(t, d, sess)
	return sess
}

func decodeResult[T any](t *testing.T, res *mcp.Response) T {
	t.Helper()

	var v T
	if res == nil {
		t.Fatal("expected a response, got none")
	}
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	raw, err := res.RawResult()
	if err != nil {
		t.Fatalf("failed to get raw result: %v", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	return v
}

func expectErrorCode(t *testing.T, res *mcp.Response, code int) {
	t.Helper()

	if res == nil {
		t.Fatal("expected a response, got none")
	}
	if res.Error == nil {
		t.Fatalf("expected error code %d, got result %v", code, res.Result)
	}
	if res.Error.Code != code {
		t.Fatalf("expected error code %d, got %d (%s)", code, res.Error.Code, res.Error.Message)
	}
}

func errorParam(t *testing.T, e *mcp.Error) string {
	t.Helper()

	data, ok := e.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected error data to be an object, got %T", e.Data)
	}
	param, _ := data["param"].(string)
	return param
}
