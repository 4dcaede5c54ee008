package mcpclient

import (
	"context"
	"fmt"
	"os"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/siteforge-ai/core/runtime/telemetry"
)

// Tool is the narrow shape the mcp_setup node and Policy Engine need out of
// an MCP tool descriptor; callers that need the full SDK type can still
// reach it via ListTools.
type Tool struct {
	ServerID    string
	Name        string
	Description string
	InputSchema any
}

// Client manages MCP SDK sessions for every server configured for a run.
// One Client is created per run (mirrors the run-scoped session lifetime
// the example pack's MCP client uses) and closed when the run's mcp_setup
// node completes or the run ends.
type Client struct {
	servers map[string]ServerConfig
	logger  telemetry.Logger

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
	failed   map[string]string
}

// New builds a Client for the given server configs. A nil logger falls
// back to a noop.
func New(servers []ServerConfig, logger telemetry.Logger) *Client {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	byID := make(map[string]ServerConfig, len(servers))
	for _, s := range servers {
		byID[s.ID] = s
	}
	return &Client{
		servers:  byID,
		logger:   logger,
		sessions: make(map[string]*mcpsdk.ClientSession),
		failed:   make(map[string]string),
	}
}

// Connect establishes sessions with every configured server. A server that
// fails to connect is recorded in FailedServers rather than aborting the
// others; the mcp_setup node decides whether a partial connect is fatal.
func (c *Client) Connect(ctx context.Context, appName, appVersion string) {
	for id, cfg := range c.servers {
		if err := c.connectOne(ctx, cfg, appName, appVersion); err != nil {
			c.mu.Lock()
			c.failed[id] = err.Error()
			c.mu.Unlock()
			c.logger.Warn(ctx, "mcpclient: server failed to connect", "server", id, "error", err)
		}
	}
}

func (c *Client) connectOne(ctx context.Context, cfg ServerConfig, appName, appVersion string) error {
	transport, err := buildTransport(cfg)
	if err != nil {
		return fmt.Errorf("mcpclient: build transport for %q: %w", cfg.ID, err)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: appName, Version: appVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcpclient: connect %q: %w", cfg.ID, err)
	}

	c.mu.Lock()
	c.sessions[cfg.ID] = session
	delete(c.failed, cfg.ID)
	c.mu.Unlock()
	return nil
}

func buildTransport(cfg ServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: newCommand(cfg.Command, cfg.Args, env)}, nil
	case TransportHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http transport requires a url")
		}
		t := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		if cfg.BearerToken != "" {
			t.HTTPClient = bearerHTTPClient(cfg.BearerToken)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// ListAllTools returns every tool exposed by every connected server, flattened
// and tagged with the server that owns it so the Policy Engine can narrow
// the set by server id or tool name uniformly.
func (c *Client) ListAllTools(ctx context.Context) ([]Tool, error) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	var out []Tool
	var lastErr error
	for _, id := range ids {
		tools, err := c.listTools(ctx, id)
		if err != nil {
			lastErr = err
			c.logger.Warn(ctx, "mcpclient: list tools failed", "server", id, "error", err)
			continue
		}
		out = append(out, tools...)
	}
	if out == nil && lastErr != nil {
		return nil, fmt.Errorf("mcpclient: all servers failed to list tools: %w", lastErr)
	}
	return out, nil
}

func (c *Client) listTools(ctx context.Context, serverID string) ([]Tool, error) {
	c.mu.RLock()
	session, ok := c.sessions[serverID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcpclient: no session for server %q", serverID)
	}

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: list tools from %q: %w", serverID, err)
	}

	out := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, Tool{ServerID: serverID, Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out, nil
}

// CallTool invokes one tool on the server that owns it.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	c.mu.RLock()
	session, ok := c.sessions[serverID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcpclient: no session for server %q", serverID)
	}
	return session.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
}

// FailedServers reports which configured servers could not be connected.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.failed))
	for k, v := range c.failed {
		out[k] = v
	}
	return out
}

// Close shuts down every open session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcpclient: close %q: %w", id, err)
		}
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	return firstErr
}
