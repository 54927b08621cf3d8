package mcp_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ravikant1918/mcpbase-server"
)

func newHTTPTestServer(t *testing.T, options ...mcp.HTTPHandlerOption) *httptest.Server {
	t.Helper()

	options = append([]mcp.HTTPHandlerOption{mcp.WithHTTPHandlerLogger(discardLogger())}, options...)
	srv := httptest.NewServer(mcp.NewHTTPHandler(newTestDispatcher(t), options...))
	t.Cleanup(srv.Close)
	return srv
}

func doHTTP(t *testing.T, srv *httptest.Server, method, path, body string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("failed to do request: %v", err)
	}
	defer resp.Body.Close()

	bs, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp.StatusCode, bs
}

func TestHTTPHealth(t *testing.T) {
	srv := newHTTPTestServer(t)

	status, body := doHTTP(t, srv, http.MethodGet, "/health", "")
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d", status)
	}

	var health map[string]string
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("failed to decode %s: %v", body, err)
	}
	want := map[string]string{"status": "ok", "name": "test-server", "version": "1.0.0", "backend": "native"}
	for k, v := range want {
		if health[k] != v {
			t.Errorf("expected %s=%q, got %q", k, v, health[k])
		}
	}
}

func TestHTTPRPCIsStateless(t *testing.T) {
	srv := newHTTPTestServer(t)

	// No handshake is needed.
	status, body := doHTTP(t, srv, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`)
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d", status)
	}
	var res mcp.Response
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("failed to decode %s: %v", body, err)
	}
	if res.Error != nil || string(res.ID) != `"a"` {
		t.Fatalf("unexpected response %s", body)
	}

	// Initialize is still validated.
	_, body = doHTTP(t, srv, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"0.0"}}`)
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("failed to decode %s: %v", body, err)
	}
	if res.Error == nil || res.Error.Code != mcp.CodeInvalidParams {
		t.Errorf("expected invalid params, got %s", body)
	}

	// Protocol errors are reported in the body with status 200.
	status, body = doHTTP(t, srv, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":2,"method":"nope"}`)
	if status != http.StatusOK || !strings.Contains(string(body), `"code":-32601`) {
		t.Errorf("expected method not found with status 200, got %d %s", status, body)
	}
}

func TestHTTPRPCNotification(t *testing.T) {
	srv := newHTTPTestServer(t)

	status, body := doHTTP(t, srv, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if status != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", status)
	}
	if len(body) != 0 {
		t.Errorf("expected an empty body, got %s", body)
	}
}

func TestHTTPRPCPayloadLimit(t *testing.T) {
	srv := newHTTPTestServer(t, mcp.WithHTTPHandlerMaxPayloadSize(64))

	msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"tools.echo","arguments":{"message":%q}}}`,
		strings.Repeat("x", 128))
	status, body := doHTTP(t, srv, http.MethodPost, "/mcp", msg)
	if status != http.StatusBadRequest || !strings.Contains(string(body), `"code":-32600`) {
		t.Errorf("expected invalid request with status 400, got %d %s", status, body)
	}
}

func TestHTTPREST(t *testing.T) {
	srv := newHTTPTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "list tools",
			method:     http.MethodGet,
			path:       "/tools/list",
			wantStatus: http.StatusOK,
			wantBody:   `"name":"tools.echo"`,
		},
		{
			name:       "invoke calculator",
			method:     http.MethodPost,
			path:       "/tools/invoke",
			body:       `{"name":"tools.calculator","arguments":{"operation":"multiply","a":6,"b":7}}`,
			wantStatus: http.StatusOK,
			wantBody:   `"result":42`,
		},
		{
			name:       "domain failure is not an http error",
			method:     http.MethodPost,
			path:       "/tools/invoke",
			body:       `{"name":"tools.calculator","arguments":{"operation":"divide","a":6,"b":0}}`,
			wantStatus: http.StatusOK,
			wantBody:   `"success":false`,
		},
		{
			name:       "unknown tool",
			method:     http.MethodPost,
			path:       "/tools/invoke",
			body:       `{"name":"tools.unknown"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `"code":-32602`,
		},
		{
			name:       "invalid json",
			method:     http.MethodPost,
			path:       "/tools/invoke",
			body:       `{"name":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `"code":-32700`,
		},
		{
			name:       "panic",
			method:     http.MethodPost,
			path:       "/tools/invoke",
			body:       `{"name":"tests.panic"}`,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `"code":-32603`,
		},
		{
			name:       "set resource",
			method:     http.MethodPost,
			path:       "/resources/set",
			body:       `{"uri":"kv://rest","value":[1,2,3]}`,
			wantStatus: http.StatusOK,
			wantBody:   `"created":true`,
		},
		{
			name:       "get resource",
			method:     http.MethodPost,
			path:       "/resources/get",
			body:       `{"uri":"kv://rest"}`,
			wantStatus: http.StatusOK,
			wantBody:   `"value":[1,2,3]`,
		},
		{
			name:       "list resources",
			method:     http.MethodGet,
			path:       "/resources/list",
			wantStatus: http.StatusOK,
			wantBody:   `"uri":"kv://rest"`,
		},
		{
			name:       "list resources by pattern",
			method:     http.MethodGet,
			path:       "/resources/list?pattern=kv://re*",
			wantStatus: http.StatusOK,
			wantBody:   `"uri":"kv://rest"`,
		},
		{
			name:       "invalid pattern",
			method:     http.MethodGet,
			path:       "/resources/list?pattern=%5B",
			wantStatus: http.StatusBadRequest,
			wantBody:   `"param":"pattern"`,
		},
		{
			name:       "delete resource",
			method:     http.MethodPost,
			path:       "/resources/delete",
			body:       `{"uri":"kv://rest"}`,
			wantStatus: http.StatusOK,
			wantBody:   `"deleted":true`,
		},
		{
			name:       "bad uri",
			method:     http.MethodPost,
			path:       "/resources/get",
			body:       `{"uri":"rest"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `"param":"uri"`,
		},
		{
			name:       "list prompts",
			method:     http.MethodGet,
			path:       "/prompts/list",
			wantStatus: http.StatusOK,
			wantBody:   `"name":"code_review"`,
		},
		{
			name:       "get prompt",
			method:     http.MethodPost,
			path:       "/prompts/get",
			body:       `{"name":"code_review","arguments":{"code":"x := 1"}}`,
			wantStatus: http.StatusOK,
			wantBody:   `"role":"user"`,
		},
		{
			name:       "wrong http method",
			method:     http.MethodGet,
			path:       "/tools/invoke",
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	// The cases share one store, so they run in order.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doHTTP(t, srv, tt.method, tt.path, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, status, body)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("expected body containing %s, got %s", tt.wantBody, body)
			}
		})
	}
}

func TestHTTPConcurrentRequests(t *testing.T) {
	srv := newHTTPTestServer(t)
	client := srv.Client()

	post := func(path, body string) (string, error) {
		resp, err := client.Post(srv.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		bs, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("status %d: %s", resp.StatusCode, bs)
		}
		return string(bs), nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if _, err := post("/resources/set", fmt.Sprintf(`{"uri":"kv://key-%d","value":%d}`, i, i)); err != nil {
				errs <- fmt.Errorf("set %d: %w", i, err)
				return
			}
			body, err := post("/resources/get", fmt.Sprintf(`{"uri":"kv://key-%d"}`, i))
			if err != nil {
				errs <- fmt.Errorf("get %d: %w", i, err)
				return
			}
			if !strings.Contains(body, fmt.Sprintf(`"value":%d`, i)) {
				errs <- fmt.Errorf("get %d: unexpected body %s", i, body)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
