// Command sse is an interactive client for a gateway started with
// "mcpbase-server serve sse". It connects to the event stream, performs the handshake and
// lets the user browse and invoke tools, resources and prompts.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	url := flag.String("url", "http://localhost:8000/sse", "event stream URL of the gateway")
	flag.Parse()

	c := newClient(*url)
	if err := c.run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
