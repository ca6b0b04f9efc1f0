// ntfy-mcp keeps a durable streaming subscription to an ntfy topic, caches
// the messages it observes, and exposes them to MCP clients over stdio.
//
// Usage:
//
//	ntfy-mcp serve     # start the daemon (MCP stdio transport)
//	ntfy-mcp publish   # publish one message from the command line
//	ntfy-mcp status    # print the process journal
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/loykin/ntfy-mcp/internal/supervisor"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, supervisor.ErrAnotherInstance) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
