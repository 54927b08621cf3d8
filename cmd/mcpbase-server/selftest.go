package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ravikant1918/mcpbase-server"
	"github.com/ravikant1918/mcpbase-server/servers/mcpbase"
)

const selfTestTimeout = 30 * time.Second

type selfTestCheck struct {
	name string
	run  func(ctx context.Context, c *mcp.Client) error
}

// runSelfTest serves the configured gateway over an in-process stdio pipe and drives every
// capability through a client, printing one line per check.
func runSelfTest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	logOut := io.Discard
	if verbose {
		logOut = os.Stderr
	}
	logger := setupLogger(cfg, logOut)

	ctx, cancel := context.WithTimeout(context.Background(), selfTestTimeout)
	defer cancel()

	d, err := buildDispatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()
	defer func() {
		_ = clientWriter.Close()
		_ = serverWriter.Close()
	}()

	srv := mcp.NewServer(d, mcp.NewStdIO(serverReader, serverWriter, mcp.WithStdIOLogger(logger)),
		mcp.WithServerLogger(logger))
	go func() {
		srv.Serve()
		// EOF on the client side ends the client once the server hung up.
		_ = serverWriter.Close()
	}()

	client := mcp.NewClient(mcp.Info{Name: "mcpbase-self-test", Version: version},
		mcp.NewStdIO(clientReader, clientWriter, mcp.WithStdIOLogger(logger)),
		mcp.WithClientLogger(logger))
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting self-test client: %w", err)
	}
	defer client.Close()

	fmt.Printf("Self-test against %s backend\n\n", d.Backend().Name())

	failed := 0
	for _, check := range selfTestChecks() {
		if err := check.run(ctx, client); err != nil {
			failed++
			color.Red("  ✗ %s: %v", check.name, err)
			continue
		}
		color.Green("  ✓ %s", check.name)
	}

	fmt.Println()
	if failed > 0 {
		return fmt.Errorf("%d self-test checks failed", failed)
	}
	fmt.Println("All checks passed")
	return nil
}

func selfTestChecks() []selfTestCheck {
	return []selfTestCheck{
		{"initialize", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.Initialize(ctx)
			if err != nil {
				return err
			}
			if res.Capabilities.Tools == nil || res.Capabilities.Resources == nil || res.Capabilities.Prompts == nil {
				return errors.New("missing capabilities")
			}
			return nil
		}},
		{"ping", func(ctx context.Context, c *mcp.Client) error {
			return c.Ping(ctx)
		}},
		{"tools/list", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.ListTools(ctx)
			if err != nil {
				return err
			}
			want := []string{mcpbase.EchoToolName, mcpbase.ReverseToolName, mcpbase.CalculatorToolName}
			if len(res.Tools) != len(want) {
				return fmt.Errorf("got %d tools, want %d", len(res.Tools), len(want))
			}
			for i, name := range want {
				if res.Tools[i].Name != name {
					return fmt.Errorf("tool %d is %q, want %q", i, res.Tools[i].Name, name)
				}
			}
			return nil
		}},
		{"tools.echo", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.CallTool(ctx, mcpbase.EchoToolName, map[string]any{"message": "hello"})
			if err != nil {
				return err
			}
			return expectResult(res, "Echo: hello")
		}},
		{"tools.reverse", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.CallTool(ctx, mcpbase.ReverseToolName, map[string]any{"text": "hello"})
			if err != nil {
				return err
			}
			return expectResult(res, "olleh")
		}},
		{"tools.calculator add", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.CallTool(ctx, mcpbase.CalculatorToolName, map[string]any{"operation": "add", "a": 15, "b": 25})
			if err != nil {
				return err
			}
			return expectResult(res, float64(40))
		}},
		{"tools.calculator divide by zero", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.CallTool(ctx, mcpbase.CalculatorToolName, map[string]any{"operation": "divide", "a": 1, "b": 0})
			if err != nil {
				return err
			}
			if res.Success || !strings.Contains(res.Error, "division by zero") {
				return fmt.Errorf("expected a division by zero failure, got success=%v error=%q", res.Success, res.Error)
			}
			return nil
		}},
		{"resources/write", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.WriteResource(ctx, "kv://self_test", map[string]any{"ok": true})
			if err != nil {
				return err
			}
			if !res.Success {
				return errors.New("write reported failure")
			}
			return nil
		}},
		{"resources/read", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.ReadResource(ctx, "kv://self_test")
			if err != nil {
				return err
			}
			if !res.Success || string(res.Value) != `{"ok":true}` {
				return fmt.Errorf("unexpected value %s", res.Value)
			}
			return nil
		}},
		{"resources/list", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.MatchResources(ctx, "kv://self_*")
			if err != nil {
				return err
			}
			if len(res.Resources) != 1 || res.Resources[0].URI != "kv://self_test" {
				return fmt.Errorf("unexpected resources %v", res.Resources)
			}
			return nil
		}},
		{"resources/delete", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.DeleteResource(ctx, "kv://self_test")
			if err != nil {
				return err
			}
			if !res.Deleted {
				return errors.New("key was not deleted")
			}
			read, err := c.ReadResource(ctx, "kv://self_test")
			if err != nil {
				return err
			}
			if read.Success {
				return errors.New("deleted key is still readable")
			}
			return nil
		}},
		{"prompts/list", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.ListPrompts(ctx)
			if err != nil {
				return err
			}
			if len(res.Prompts) != 1 || res.Prompts[0].Name != mcpbase.CodeReviewPromptName {
				return fmt.Errorf("unexpected prompts %v", res.Prompts)
			}
			return nil
		}},
		{"prompts/get", func(ctx context.Context, c *mcp.Client) error {
			res, err := c.GetPrompt(ctx, mcpbase.CodeReviewPromptName, map[string]string{
				"code":     "def add(a, b): return a + b",
				"language": "python",
				"focus":    "performance",
			})
			if err != nil {
				return err
			}
			if len(res.Messages) != 1 || !strings.Contains(res.Messages[0].Content.Text, "def add(a, b)") {
				return errors.New("rendered prompt does not contain the code")
			}
			return nil
		}},
		{"unknown method", func(ctx context.Context, c *mcp.Client) error {
			_, err := c.Call(ctx, "tools/unknown", nil)
			if !errors.Is(err, mcp.ErrMethodNotFound) {
				return fmt.Errorf("expected method not found, got %v", err)
			}
			return nil
		}},
		{"shutdown", func(ctx context.Context, c *mcp.Client) error {
			if err := c.Shutdown(ctx); err != nil {
				return err
			}
			select {
			case <-c.Done():
				return nil
			case <-ctx.Done():
				return errors.New("server did not close the connection")
			}
		}},
	}
}

func expectResult(res mcp.ToolCallResult, want any) error {
	if !res.Success {
		return fmt.Errorf("tool failed: %s", res.Error)
	}
	if res.Result != want {
		return fmt.Errorf("got %v, want %v", res.Result, want)
	}
	return nil
}
