// Command recon-mcp runs the recon MCP server over stdio.
// This is used for testing the MCP client integration.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"
	"github.com/opsploit/core/pkg/mcpserver/recon"
)

func main() {
	s := recon.NewServer()
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
