package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPHandler serves the Dispatcher over plain HTTP request/response. It exposes the
// JSON-RPC endpoint at POST /mcp and a REST projection of the same methods. Every request
// runs against a fresh stateless session, so no handshake is required.
//
// Instances should be created using NewHTTPHandler. HTTPHandler implements http.Handler.
type HTTPHandler struct {
	dispatcher     *Dispatcher
	maxPayloadSize int64
	logger         *slog.Logger
	mux            *http.ServeMux
}

// HTTPHandlerOption represents the options for the HTTPHandler.
type HTTPHandlerOption func(*HTTPHandler)

type healthResponse struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Backend string `json:"backend"`
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

var defaultHTTPMaxPayloadSize = int64(1 << 20)

// NewHTTPHandler creates a handler that serves dispatcher.
func NewHTTPHandler(dispatcher *Dispatcher, options ...HTTPHandlerOption) *HTTPHandler {
	h := &HTTPHandler{
		dispatcher:     dispatcher,
		maxPayloadSize: defaultHTTPMaxPayloadSize,
		logger:         slog.Default(),
		mux:            http.NewServeMux(),
	}
	for _, opt := range options {
		opt(h)
	}

	h.mux.HandleFunc("POST /mcp", h.handleRPC)
	h.mux.HandleFunc("GET /health", h.handleHealth)

	h.mux.HandleFunc("GET /tools/list", h.handleREST(MethodToolsList))
	h.mux.HandleFunc("POST /tools/list", h.handleREST(MethodToolsList))
	h.mux.HandleFunc("POST /tools/invoke", h.handleREST(MethodToolsCall))

	h.mux.HandleFunc("GET /resources/list", h.handleREST(MethodResourcesList))
	h.mux.HandleFunc("POST /resources/get", h.handleREST(MethodResourcesRead))
	h.mux.HandleFunc("POST /resources/set", h.handleREST(MethodResourcesWrite))
	h.mux.HandleFunc("POST /resources/delete", h.handleREST(MethodResourcesDelete))

	h.mux.HandleFunc("GET /prompts/list", h.handleREST(MethodPromptsList))
	h.mux.HandleFunc("POST /prompts/get", h.handleREST(MethodPromptsGet))

	return h
}

// WithHTTPHandlerLogger sets the logger for the HTTP handler.
func WithHTTPHandlerLogger(logger *slog.Logger) HTTPHandlerOption {
	return func(h *HTTPHandler) {
		h.logger = logger.With(
			slog.String("package", "mcpbase"),
			slog.String("component", "http"),
		)
	}
}

// WithHTTPHandlerMaxPayloadSize sets the maximum size of a request body.
func WithHTTPHandlerMaxPayloadSize(size int64) HTTPHandlerOption {
	return func(h *HTTPHandler) {
		if size > 0 {
			h.maxPayloadSize = size
		}
	}
}

// ServeHTTP implements http.Handler.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	h.logger.Debug("handled http request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Duration("duration", time.Since(start)))
}

func (h *HTTPHandler) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, rpcErr := h.readBody(w, r)
	if rpcErr != nil {
		writeJSON(w, statusForError(rpcErr), &Response{Error: rpcErr})
		return
	}

	sess := NewStatelessSession(uuid.New().String())
	res := h.dispatcher.HandleMessage(r.Context(), sess, body)
	if res == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeRaw(w, http.StatusOK, EncodeResponse(res))
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := h.dispatcher.Info()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Name:    info.Name,
		Version: info.Version,
		Backend: h.dispatcher.Backend().Name(),
	})
}

// handleREST maps a REST endpoint onto method. The request body, if any, is used as the
// params object of the call.
func (h *HTTPHandler) handleREST(method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, rpcErr := h.readBody(w, r)
		if rpcErr != nil {
			writeJSON(w, statusForError(rpcErr), rpcErr)
			return
		}
		if len(body) == 0 && len(r.URL.RawQuery) > 0 {
			body = queryParams(r)
		}
		if len(body) > 0 && !json.Valid(body) {
			rpcErr := newError(CodeParseError, ErrParse.Error(), nil)
			writeJSON(w, statusForError(rpcErr), rpcErr)
			return
		}

		req := Request{
			JSONRPC: JSONRPCVersion,
			ID:      json.RawMessage(`"rest"`),
			Method:  method,
			Params:  body,
		}
		sess := NewStatelessSession(uuid.New().String())
		res := h.dispatcher.Handle(r.Context(), sess, req)
		if res.Error != nil {
			writeJSON(w, statusForError(res.Error), res.Error)
			return
		}
		writeJSON(w, http.StatusOK, res.Result)
	}
}

// queryParams turns the query string of a bodyless request into a params object. Only the
// first value of each key is kept.
func queryParams(r *http.Request) []byte {
	params := make(map[string]string)
	for k, v := range r.URL.Query() {
		params[k] = v[0]
	}
	bs, _ := json.Marshal(params)
	return bs
}

func (h *HTTPHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, *Error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxPayloadSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, newError(CodeInvalidRequest, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), nil)
		}
		return nil, newError(CodeInvalidRequest, fmt.Sprintf("failed to read request body: %s", err), nil)
	}
	return bytes.TrimSpace(body), nil
}

// statusForError maps a protocol error onto the HTTP status of a REST response.
func statusForError(err *Error) int {
	switch err.Code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return http.StatusBadRequest
	case CodeMethodNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	bs, err := json.Marshal(v)
	if err != nil {
		bs, _ = json.Marshal(newError(CodeInternalError, "internal error", nil))
		status = http.StatusInternalServerError
	}
	writeRaw(w, status, bs)
}

func writeRaw(w http.ResponseWriter, status int, bs []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bs)
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
