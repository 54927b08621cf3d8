package mcp_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ravikant1918/mcpbase-server"
)

// newStdIOClient serves a test dispatcher over pipes and returns a connected client.
func newStdIOClient(t *testing.T, options ...mcp.ClientOption) *mcp.Client {
	t.Helper()

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	srv := mcp.NewServer(newTestDispatcher(t),
		mcp.NewStdIO(serverReader, serverWriter, mcp.WithStdIOLogger(discardLogger())),
		mcp.WithServerLogger(discardLogger()))
	go func() {
		srv.Serve()
		_ = serverWriter.Close()
	}()

	options = append([]mcp.ClientOption{mcp.WithClientLogger(discardLogger())}, options...)
	client := mcp.NewClient(mcp.Info{Name: "test-client", Version: "1.0.0"},
		mcp.NewStdIO(clientReader, clientWriter, mcp.WithStdIOLogger(discardLogger())), options...)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		_ = clientWriter.Close()
		_ = serverWriter.Close()
	})
	return client
}

func TestClientRoundTrip(t *testing.T) {
	client := newStdIOClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); !errors.Is(err, mcp.ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}

	if _, err := client.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if client.ServerInfo() != testInfo {
		t.Errorf("unexpected server info %v", client.ServerInfo())
	}
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("failed to ping: %v", err)
	}

	write, err := client.WriteResource(ctx, "kv://client", "value")
	if err != nil || !write.Created {
		t.Fatalf("failed to write: %+v %v", write, err)
	}
	read, err := client.ReadResource(ctx, "kv://client")
	if err != nil || string(read.Value) != `"value"` {
		t.Fatalf("failed to read: %+v %v", read, err)
	}
	matched, err := client.MatchResources(ctx, "kv://cli*")
	if err != nil || len(matched.Resources) != 1 || matched.Resources[0].URI != "kv://client" {
		t.Fatalf("failed to match resources: %+v %v", matched, err)
	}
	del, err := client.DeleteResource(ctx, "kv://client")
	if err != nil || !del.Deleted {
		t.Fatalf("failed to delete: %+v %v", del, err)
	}

	prompt, err := client.GetPrompt(ctx, "code_review", nil)
	if err != nil || len(prompt.Messages) != 1 {
		t.Fatalf("failed to get prompt: %+v %v", prompt, err)
	}

	_, err = client.CallTool(ctx, "tools.unknown", nil)
	var rpcErr *mcp.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != mcp.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %v", err)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	client := newStdIOClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, err := client.CallTool(ctx, "tools.calculator", map[string]any{"operation": "add", "a": i, "b": 1})
			if err != nil {
				errs <- err
				return
			}
			if res.Result != float64(i+1) {
				errs <- fmt.Errorf("call %d: expected %d, got %v", i, i+1, res.Result)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestClientShutdownClosesConnection(t *testing.T) {
	client := newStdIOClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if err := client.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shutdown: %v", err)
	}

	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("expected the connection to end after shutdown")
	}

	if err := client.Ping(ctx); err == nil {
		t.Error("expected calls after the connection ended to fail")
	}
}

func TestClientNotConnected(t *testing.T) {
	client := mcp.NewClient(mcp.Info{Name: "c", Version: "1"}, mcp.NewStdIO(nil, nil))

	if _, err := client.Call(context.Background(), mcp.MethodPing, nil); err == nil {
		t.Error("expected an error before Connect")
	}
}
