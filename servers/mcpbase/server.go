// Package mcpbase declares the capability set served by mcpbase-server: the echo, reverse
// and calculator tools, the code_review prompt and the kv resource namespace.
package mcpbase

import (
	"fmt"

	"github.com/ravikant1918/mcpbase-server"
	"github.com/ravikant1918/mcpbase-server/kvstore"
)

// Register adds every declared capability to reg. The kv namespace is backed by store.
func Register(reg *mcp.Registry, store *kvstore.Store) error {
	clock := &monotonicClock{}

	for _, tool := range []mcp.ToolDescriptor{
		echoTool(clock),
		reverseTool(),
		calculatorTool(),
	} {
		if err := reg.RegisterTool(tool); err != nil {
			return fmt.Errorf("registering tool %s: %w", tool.Name, err)
		}
	}

	if err := reg.RegisterPrompt(codeReviewPrompt()); err != nil {
		return fmt.Errorf("registering prompt: %w", err)
	}

	if err := reg.RegisterNamespace(NewKVNamespace(store)); err != nil {
		return fmt.Errorf("registering kv namespace: %w", err)
	}
	return nil
}
