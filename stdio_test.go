package mcp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ravikant1918/mcpbase-server"
)

// stdioPair wires a server and a client StdIO through two pipes.
type stdioPair struct {
	server mcp.StdIO
	client mcp.StdIO
}

func newStdIOPair(t *testing.T) stdioPair {
	t.Helper()

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()
	t.Cleanup(func() {
		_ = clientWriter.Close()
		_ = serverWriter.Close()
	})

	return stdioPair{
		server: mcp.NewStdIO(serverReader, serverWriter, mcp.WithStdIOLogger(discardLogger())),
		client: mcp.NewStdIO(clientReader, clientWriter, mcp.WithStdIOLogger(discardLogger())),
	}
}

func TestStdIOBidirectionalMessageFlow(t *testing.T) {
	pair := newStdIOPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientConn, err := pair.client.StartSession(ctx)
	if err != nil {
		t.Fatalf("failed to start client session: %v", err)
	}
	defer clientConn.Stop()

	var serverConn mcp.Conn
	sessions := make(chan mcp.Conn, 1)
	go func() {
		for conn := range pair.server.Sessions() {
			sessions <- conn
		}
	}()
	serverConn = <-sessions
	defer serverConn.Stop()

	if serverConn.ID() == "" {
		t.Fatal("expected a connection id")
	}

	received := make(chan []byte, 3)
	go func() {
		for msg := range serverConn.Messages() {
			received <- msg
		}
	}()

	msgs := []string{`{"n":1}`, `  {"n":2}  `, `{"n":3}`}
	for _, msg := range msgs {
		if err := clientConn.Send(ctx, []byte(msg)); err != nil {
			t.Fatalf("failed to send: %v", err)
		}
	}
	for _, msg := range msgs {
		select {
		case got := <-received:
			if string(got) != strings.TrimSpace(msg) {
				t.Errorf("expected %s, got %s", strings.TrimSpace(msg), got)
			}
		case <-ctx.Done():
			t.Fatal("timeout waiting for message")
		}
	}

	reply := make(chan []byte, 1)
	go func() {
		for msg := range clientConn.Messages() {
			reply <- msg
			return
		}
	}()
	if err := serverConn.Send(ctx, []byte(`{"reply":true}`)); err != nil {
		t.Fatalf("failed to send reply: %v", err)
	}
	select {
	case got := <-reply:
		if string(got) != `{"reply":true}` {
			t.Errorf("unexpected reply %s", got)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for reply")
	}
}

func TestStdIOStopIsIdempotent(t *testing.T) {
	pair := newStdIOPair(t)

	conn, err := pair.client.StartSession(context.Background())
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	conn.Stop()
	conn.Stop()

	if err := conn.Send(context.Background(), []byte(`{}`)); err == nil {
		t.Error("expected send on a stopped connection to fail")
	}
}

func TestStdIOServerSession(t *testing.T) {
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()
	t.Cleanup(func() {
		_ = clientWriter.Close()
		_ = serverWriter.Close()
	})

	d := newTestDispatcher(t)
	transport := mcp.NewStdIO(serverReader, serverWriter, mcp.WithStdIOLogger(discardLogger()))
	srv := mcp.NewServer(d, transport, mcp.WithServerLogger(discardLogger()))

	served := make(chan struct{})
	go func() {
		srv.Serve()
		close(served)
	}()

	lines := bufio.NewReader(clientReader)
	write := func(msg string) {
		t.Helper()
		if _, err := clientWriter.Write([]byte(msg + "\n")); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
	}
	read := func() mcp.Response {
		t.Helper()
		line, err := lines.ReadBytes('\n')
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		var res mcp.Response
		if err := json.Unmarshal(line, &res); err != nil {
			t.Fatalf("failed to decode %s: %v", line, err)
		}
		return res
	}

	write(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if res := read(); res.Error == nil || res.Error.Code != mcp.CodeNotInitialized {
		t.Fatalf("expected not initialized, got %+v", res)
	}

	write(`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)
	if res := read(); res.Error != nil {
		t.Fatalf("failed to initialize: %v", res.Error)
	}

	// A notification produces no line, so the next response belongs to the parse error.
	write(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	write(`not json`)
	if res := read(); res.Error == nil || res.Error.Code != mcp.CodeParseError || string(res.ID) != "null" {
		t.Fatalf("expected a parse error, got %+v", res)
	}

	write(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"tools.reverse","arguments":{"text":"abc"}}}`)
	if res := read(); string(res.ID) != "3" || res.Error != nil {
		t.Fatalf("unexpected response %+v", res)
	}

	write(`{"jsonrpc":"2.0","id":4,"method":"shutdown"}`)
	if res := read(); string(res.ID) != "4" || res.Error != nil {
		t.Fatalf("unexpected shutdown response %+v", res)
	}

	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("expected the server to stop after shutdown")
	}
}
