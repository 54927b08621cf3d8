package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ravikant1918/mcpbase-server"
)

type client struct {
	cli   *mcp.Client
	input *bufio.Scanner
}

const callTimeout = 30 * time.Second

var errExit = errors.New("exit")

func newClient(url string) *client {
	sse := mcp.NewSSEClient(url, http.DefaultClient)
	return &client{
		cli: mcp.NewClient(mcp.Info{
			Name:    "mcpbase-sse-client",
			Version: "1.0",
		}, sse),
		input: bufio.NewScanner(os.Stdin),
	}
}

func (c *client) run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Println("Connecting to server...")
	if err := c.cli.Connect(ctx); err != nil {
		return err
	}
	defer c.cli.Close()

	res, err := c.cli.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	fmt.Printf("Connected to %s %s (protocol %s)\n", res.ServerInfo.Name, res.ServerInfo.Version, res.ProtocolVersion)
	if res.Instructions != "" {
		fmt.Println(res.Instructions)
	}

	commands := map[string]func(context.Context) error{
		"1": c.runTools,
		"2": c.runResources,
		"3": c.runPrompts,
		"4": func(ctx context.Context) error {
			if err := c.cli.Shutdown(ctx); err != nil {
				return err
			}
			return errExit
		},
	}

	for {
		fmt.Println()
		fmt.Println("1. Tools")
		fmt.Println("2. Resources")
		fmt.Println("3. Prompts")
		fmt.Println("4. Exit")
		fmt.Print("\nEnter command number: ")

		input, ok := c.readLine()
		if !ok || ctx.Err() != nil {
			return nil
		}
		cmd, found := commands[input]
		if !found {
			fmt.Printf("Invalid input: %s\n", input)
			continue
		}

		cctx, ccancel := context.WithTimeout(ctx, callTimeout)
		err := cmd(cctx)
		ccancel()
		if errors.Is(err, errExit) {
			fmt.Println("Exiting...")
			return nil
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func (c *client) runTools(ctx context.Context) error {
	list, err := c.cli.ListTools(ctx)
	if err != nil {
		return err
	}
	for _, tool := range list.Tools {
		fmt.Printf("%s: %s\n", tool.Name, tool.Description)
	}

	fmt.Print("\nTool name (empty to go back): ")
	name, ok := c.readLine()
	if !ok || name == "" {
		return nil
	}
	fmt.Print("Arguments as JSON object: ")
	raw, _ := c.readLine()

	var args map[string]any
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fmt.Errorf("invalid arguments: %w", err)
		}
	}

	res, err := c.cli.CallTool(ctx, name, args)
	if err != nil {
		return err
	}
	if !res.Success {
		fmt.Printf("Tool failed: %s\n", res.Error)
		return nil
	}
	return printJSON(res)
}

func (c *client) runResources(ctx context.Context) error {
	list, err := c.cli.ListResources(ctx)
	if err != nil {
		return err
	}
	for _, r := range list.Resources {
		fmt.Println(r.URI)
	}

	fmt.Print("\nget <uri> | set <uri> <json> | delete <uri> (empty to go back): ")
	line, ok := c.readLine()
	if !ok || line == "" {
		return nil
	}
	op, rest, _ := strings.Cut(line, " ")
	uri, value, _ := strings.Cut(rest, " ")

	switch op {
	case "get":
		res, err := c.cli.ReadResource(ctx, uri)
		if err != nil {
			return err
		}
		return printJSON(res)
	case "set":
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			return fmt.Errorf("invalid value: %w", err)
		}
		res, err := c.cli.WriteResource(ctx, uri, v)
		if err != nil {
			return err
		}
		return printJSON(res)
	case "delete":
		res, err := c.cli.DeleteResource(ctx, uri)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	return fmt.Errorf("unknown operation %q", op)
}

func (c *client) runPrompts(ctx context.Context) error {
	list, err := c.cli.ListPrompts(ctx)
	if err != nil {
		return err
	}
	for _, p := range list.Prompts {
		fmt.Printf("%s: %s\n", p.Name, p.Description)
	}

	fmt.Print("\nPrompt name (empty to go back): ")
	name, ok := c.readLine()
	if !ok || name == "" {
		return nil
	}

	var prompt *mcp.Prompt
	for i := range list.Prompts {
		if list.Prompts[i].Name == name {
			prompt = &list.Prompts[i]
		}
	}
	if prompt == nil {
		return fmt.Errorf("prompt not found: %s", name)
	}

	args := make(map[string]string)
	for _, arg := range prompt.Arguments {
		fmt.Printf("%s (%s): ", arg.Name, arg.Description)
		if v, _ := c.readLine(); v != "" {
			args[arg.Name] = v
		}
	}

	res, err := c.cli.GetPrompt(ctx, name, args)
	if err != nil {
		return err
	}
	for _, msg := range res.Messages {
		fmt.Printf("\n[%s]\n%s\n", msg.Role, msg.Content.Text)
	}
	return nil
}

func (c *client) readLine() (string, bool) {
	if !c.input.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.input.Text()), true
}

func printJSON(v any) error {
	bs, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(bs))
	return nil
}
