package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ravikant1918/mcpbase-server"
	"github.com/ravikant1918/mcpbase-server/config"
	"github.com/ravikant1918/mcpbase-server/kvstore"
	"github.com/ravikant1918/mcpbase-server/mcpgo"
	"github.com/ravikant1918/mcpbase-server/servers/mcpbase"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := buildDispatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	printStartup(cfg, d)

	logger.Info("starting mcpbase-server",
		slog.String("transport", cfg.Transport),
		slog.String("backend", d.Backend().Name()),
		slog.String("version", version))

	switch cfg.Transport {
	case config.TransportHTTP:
		return serveHTTP(ctx, cfg, d, logger)
	case config.TransportSSE:
		return serveSSE(ctx, cfg, d, logger)
	default:
		return serveStdio(ctx, cfg, d, logger)
	}
}

// loadConfig loads the config file and applies the command line overrides, which take
// precedence over both the file and the environment.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if len(args) == 1 {
		cfg.Transport = args[0]
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.HTTPAddr = addr
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = backendName
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating flags: %w", err)
	}
	return cfg, nil
}

// buildDispatcher wires the store, the declared capabilities and the selected backend.
func buildDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mcp.Dispatcher, error) {
	store := kvstore.New()
	if cfg.SeedKV() {
		if err := kvstore.Seed(store, cfg.Server.Name, cfg.Server.Version); err != nil {
			return nil, fmt.Errorf("seeding kv store: %w", err)
		}
	}

	reg := mcp.NewRegistry()
	if err := mcpbase.Register(reg, store); err != nil {
		return nil, fmt.Errorf("registering capabilities: %w", err)
	}

	info := mcp.Info{Name: cfg.Server.Name, Version: cfg.Server.Version}
	backend, err := selectBackend(ctx, cfg.Backend, reg, info, logger)
	if err != nil {
		return nil, err
	}

	return mcp.NewDispatcher(reg, backend, info,
		mcp.WithInstructions(cfg.Server.Instructions),
		mcp.WithProtocolVersions(cfg.Protocol.Versions...),
		mcp.WithDispatcherLogger(logger),
	), nil
}

// selectBackend returns the configured backend. With auto, the mcp-go backend is kept only
// if it serves the registry faithfully, otherwise the native backend is used.
func selectBackend(
	ctx context.Context,
	name string,
	reg *mcp.Registry,
	info mcp.Info,
	logger *slog.Logger,
) (mcp.Backend, error) {
	switch name {
	case config.BackendNative:
		return mcp.NewNativeBackend(reg), nil
	case config.BackendMCPGo:
		b, err := mcpgo.New(reg, info, mcpgo.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("creating mcp-go backend: %w", err)
		}
		return b, nil
	}

	b, err := mcpgo.New(reg, info, mcpgo.WithLogger(logger))
	if err == nil {
		err = mcp.ProbeBackend(ctx, b, reg)
	}
	if err != nil {
		logger.Warn("mcp-go backend unavailable, using native backend", slog.String("err", err.Error()))
		return mcp.NewNativeBackend(reg), nil
	}
	return b, nil
}

func serveStdio(ctx context.Context, cfg *config.Config, d *mcp.Dispatcher, logger *slog.Logger) error {
	transport := mcp.NewStdIO(os.Stdin, os.Stdout, mcp.WithStdIOLogger(logger))
	srv := mcp.NewServer(d, transport,
		mcp.WithServerLogger(logger),
		mcp.WithServerSendTimeout(cfg.Server.SendTimeout),
	)

	served := make(chan struct{})
	go func() {
		srv.Serve()
		close(served)
	}()

	select {
	case <-served:
		// The client closed stdin or requested shutdown.
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	return srv.Shutdown(sctx)
}

func serveHTTP(ctx context.Context, cfg *config.Config, d *mcp.Dispatcher, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mcp.NewHTTPHandler(d, mcp.WithHTTPHandlerLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	return httpServer.Shutdown(sctx)
}

func serveSSE(ctx context.Context, cfg *config.Config, d *mcp.Dispatcher, logger *slog.Logger) error {
	sseServer := mcp.NewSSEServer(cfg.MessageURL(), mcp.WithSSEServerLogger(logger))
	srv := mcp.NewServer(d, sseServer,
		mcp.WithServerLogger(logger),
		mcp.WithServerSendTimeout(cfg.Server.SendTimeout),
	)

	// The SSE endpoints share the listener with the stateless HTTP binding.
	mux := http.NewServeMux()
	mux.Handle("GET "+cfg.Server.SSEPath, sseServer.HandleSSE())
	mux.Handle("POST "+cfg.Server.MessagePath, sseServer.HandleMessage())
	mux.Handle("/", mcp.NewHTTPHandler(d, mcp.WithHTTPHandlerLogger(logger)))

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go srv.Serve()

	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errs:
		serveErr = fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()

	// Stopping the sessions first ends the open event streams, so the HTTP server can
	// drain its connections.
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("failed to shutdown server", slog.String("err", err.Error()))
	}
	if err := httpServer.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to shutdown http server", slog.String("err", err.Error()))
	}
	return serveErr
}

func printStartup(cfg *config.Config, d *mcp.Dispatcher) {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	out := os.Stderr
	gray.Fprintf(out, "    %s %s\n\n", cfg.Server.Name, cfg.Server.Version)

	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Transport: %s\n", cfg.Transport)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Backend:   %s\n", d.Backend().Name())
	if cfg.Transport != config.TransportStdio {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "Listen:    %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Transport == config.TransportSSE {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "SSE:       %s (messages: %s)\n", cfg.Server.SSEPath, cfg.MessageURL())
	}
	fmt.Fprintln(out)
}
