// Package mcpclient wraps github.com/modelcontextprotocol/go-sdk so the
// mcp_setup graph node can discover callable tools from the Model Context
// Protocol servers configured for a run before generation starts. The
// discovered tool list is not filtered; individual calls made through the
// graph/nodes Builder.CallTool are gated by the Policy Engine (runtime/policy).
package mcpclient

// TransportType names which wire transport a configured server speaks.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
)

// ServerConfig describes one MCP server a run may connect to.
type ServerConfig struct {
	ID        string
	Transport TransportType

	// Stdio transport.
	Command string
	Args    []string
	Env     map[string]string

	// HTTP (streamable) transport.
	URL         string
	BearerToken string
}
