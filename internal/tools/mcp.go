package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/parley-ai/parley/internal/dispatch"
	"github.com/parley-ai/parley/pkg/types"
)

// MCPServerConfig describes how to connect to one external MCP server.
type MCPServerConfig struct {
	// Name is the unique identifier used in logs and errors.
	Name string

	// Command spawns a stdio subprocess server ("npx some-server --flag").
	// Mutually exclusive with URL.
	Command string

	// URL is a streamable-HTTP endpoint. Mutually exclusive with Command.
	URL string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string
}

// MCPConnector connects to MCP servers, imports their tool catalogues into a
// [Registry], and routes tool calls to the owning session.
// Safe for concurrent use.
type MCPConnector struct {
	client   *mcpsdk.Client
	registry *Registry

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession // by server name
}

// NewMCPConnector creates a connector importing tools into registry.
func NewMCPConnector(registry *Registry) *MCPConnector {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "parley", Version: "1.0.0"},
		nil,
	)
	return &MCPConnector{
		client:   client,
		registry: registry,
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect establishes a session with the server described by cfg and
// registers every discovered tool. MCP tools are registered non-retryable:
// the connector cannot know whether a remote tool is idempotent.
func (c *MCPConnector) Connect(ctx context.Context, cfg MCPServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: mcp server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch {
	case cfg.Command != "":
		parts := strings.Fields(cfg.Command)
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case cfg.URL != "":
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("tools: mcp server %q needs either command or url", cfg.Name)
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect to mcp server %q: %w", cfg.Name, err)
	}

	var count int
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: list tools for mcp server %q: %w", cfg.Name, err)
		}
		def := types.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		}
		exec := &mcpExecutor{connector: c, server: cfg.Name}
		if err := c.registry.Register(def, exec); err != nil {
			_ = session.Close()
			return err
		}
		count++
	}

	c.mu.Lock()
	if old, ok := c.sessions[cfg.Name]; ok {
		_ = old.Close()
	}
	c.sessions[cfg.Name] = session
	c.mu.Unlock()

	slog.Info("mcp server connected", "server", cfg.Name, "tools", count)
	return nil
}

// Close shuts down all server sessions.
func (c *MCPConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: close mcp server %q: %w", name, err)
		}
		delete(c.sessions, name)
	}
	return firstErr
}

// mcpExecutor routes one tool's calls to its owning server session.
type mcpExecutor struct {
	connector *MCPConnector
	server    string
}

var _ dispatch.Executor = (*mcpExecutor)(nil)

func (e *mcpExecutor) Execute(ctx context.Context, call types.ToolCall) (string, error) {
	e.connector.mu.Lock()
	session, ok := e.connector.sessions[e.server]
	e.connector.mu.Unlock()
	if !ok {
		return "", dispatch.Errorf(dispatch.OutcomeUnavailable, "tools: mcp server %q not connected", e.server)
	}

	var argsMap map[string]any
	if call.Arguments != "" && call.Arguments != "{}" {
		if err := json.Unmarshal([]byte(call.Arguments), &argsMap); err != nil {
			return "", dispatch.Errorf(dispatch.OutcomeValidation, "tools: mcp args for %q: %v", call.Name, err)
		}
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      call.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return "", dispatch.Errorf(dispatch.OutcomeTransient, "tools: mcp call %q: %v", call.Name, err)
	}

	// Concatenate all text content from the result.
	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		// Application-level failure: the tool ran and rejected the call, so
		// retrying the same arguments cannot help.
		return "", dispatch.Errorf(dispatch.OutcomeFatal, "tools: mcp tool %q: %s", call.Name, sb.String())
	}
	return sb.String(), nil
}

// schemaToMap normalises the SDK's schema representation into the plain map
// the dispatcher validates against.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
