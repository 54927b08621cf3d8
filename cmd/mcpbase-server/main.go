package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath  string
	addr        string
	backendName string
	verbose     bool
)

func main() {
	root := &cobra.Command{
		Use:           "mcpbase-server",
		Short:         "JSON-RPC gateway exposing tools, resources and prompts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: built-in defaults)")

	serveCmd := &cobra.Command{
		Use:       "serve [stdio|http|sse]",
		Short:     "Start the server on the given transport",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"stdio", "http", "sse"},
		RunE:      runServe,
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address for the http and sse transports")
	serveCmd.Flags().StringVar(&backendName, "backend", "", "dispatch backend (native, mcp-go, auto)")

	selfTestCmd := &cobra.Command{
		Use:   "self-test",
		Short: "Exercise every capability in-process over a stdio pipe",
		Args:  cobra.NoArgs,
		RunE:  runSelfTest,
	}
	selfTestCmd.Flags().StringVar(&backendName, "backend", "", "dispatch backend (native, mcp-go, auto)")
	selfTestCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print server logs to stderr")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcpbase-server %s\n", version)
		},
	}

	root.AddCommand(serveCmd, selfTestCmd, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
