// Access ledger MCP server.
// Exposes facade tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	mcptools "github.com/gateway-fm/accessledger/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	facadeURL := os.Getenv("FACADE_URL")
	if facadeURL == "" {
		facadeURL = "http://localhost:3000"
	}

	s := server.NewMCPServer(
		"accessledger",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(facadeURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
