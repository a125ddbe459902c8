// Command crabeye-mcp-bridge aggregates many upstream MCP servers behind a
// single search_tools/run_tool interface for one downstream MCP client.
package main

import (
	"os"

	"github.com/crabeye/mcp-bridge/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
