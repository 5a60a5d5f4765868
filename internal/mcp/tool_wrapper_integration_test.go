package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opsploit/core/internal/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startReconServer builds the recon-mcp binary, connects a client to it
// over stdio, and registers its tools into a fresh registry.
func startReconServer(t *testing.T, serverName string) (*Client, *tool.Registry, context.Context) {
	t.Helper()

	binaryPath := buildReconMCP(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	client := NewClient()
	t.Cleanup(func() { client.Close() })

	config := &Config{
		Enabled: true,
		Type:    TransportTypeStdio,
		Command: []string{binaryPath},
		Timeout: 10000,
	}

	err := client.AddServer(ctx, serverName, config)
	require.NoError(t, err, "failed to add recon server")

	registry := tool.NewRegistry("")
	RegisterMCPTools(client, registry)

	return client, registry, ctx
}

// TestRegisterMCPTools_WithReconServer tests that MCP tools can be
// registered in the tool registry and executed via the tool.Tool
// interface.
func TestRegisterMCPTools_WithReconServer(t *testing.T) {
	_, registry, ctx := startReconServer(t, "recon")

	// Verify the cidr_hosts tool is registered with prefixed name
	cidrTool, ok := registry.Get("recon_cidr_hosts")
	require.True(t, ok, "cidr_hosts tool should be registered in registry")

	// Verify tool interface methods
	assert.Equal(t, "recon_cidr_hosts", cidrTool.ID())
	assert.Contains(t, cidrTool.Description(), "CIDR")
	assert.NotNil(t, cidrTool.Parameters())

	// Execute tool via the registry's tool interface
	input := json.RawMessage(`{"cidr":"10.0.0.0/30"}`)
	result, err := cidrTool.Execute(ctx, input, nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1,10.0.0.2", result.Output)
}

// TestRegisterMCPTools_EinoToolExecution tests that MCP tools can be
// executed via the Eino tool interface.
func TestRegisterMCPTools_EinoToolExecution(t *testing.T) {
	_, registry, ctx := startReconServer(t, "recon")

	cidrTool, ok := registry.Get("recon_cidr_hosts")
	require.True(t, ok)

	einoTool := cidrTool.EinoTool()
	require.NotNil(t, einoTool)

	info, err := einoTool.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "recon_cidr_hosts", info.Name)

	result, err := einoTool.InvokableRun(ctx, `{"cidr":"192.168.1.0/30"}`)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1,192.168.1.2", result)
}

// TestRegisterMCPTools_ToolListContainsMCPTools tests that the registry's
// List() method returns MCP tools alongside built-in tools.
func TestRegisterMCPTools_ToolListContainsMCPTools(t *testing.T) {
	binaryPath := buildReconMCP(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := NewClient()
	defer client.Close()

	config := &Config{
		Enabled: true,
		Type:    TransportTypeStdio,
		Command: []string{binaryPath},
		Timeout: 10000,
	}

	err := client.AddServer(ctx, "recon", config)
	require.NoError(t, err)

	// Create tool registry with built-in tools (using a temp dir for workDir)
	registry := tool.DefaultRegistry(t.TempDir())

	// Count built-in tools before MCP registration
	builtInCount := len(registry.List())

	RegisterMCPTools(client, registry)

	allTools := registry.List()

	// Should have more tools now (built-in + MCP)
	assert.Greater(t, len(allTools), builtInCount, "should have MCP tools added")

	var foundCidr bool
	for _, tl := range allTools {
		if tl.ID() == "recon_cidr_hosts" {
			foundCidr = true
			break
		}
	}
	assert.True(t, foundCidr, "recon_cidr_hosts should be in the tool list")
}

// TestMCPToolWrapper_ExecuteWithContext tests that tool execution works
// with a proper tool.Context.
func TestMCPToolWrapper_ExecuteWithContext(t *testing.T) {
	_, registry, ctx := startReconServer(t, "recon")

	cidrTool, ok := registry.Get("recon_cidr_hosts")
	require.True(t, ok)

	var metadataReceived bool
	toolCtx := &tool.Context{
		SessionID: "test-session",
		MessageID: "test-message",
		CallID:    "test-call",
		WorkDir:   t.TempDir(),
		OnMetadata: func(title string, meta map[string]any) {
			metadataReceived = true
			assert.Equal(t, "recon_cidr_hosts", title)
		},
	}

	input := json.RawMessage(`{"cidr":"10.5.0.0/30"}`)
	result, err := cidrTool.Execute(ctx, input, toolCtx)
	require.NoError(t, err)
	assert.Equal(t, "10.5.0.1,10.5.0.2", result.Output)
	assert.True(t, metadataReceived, "metadata callback should have been called")
}

// TestMCPToolWrapper_ErrorHandling tests that tool-level errors from MCP
// execution are propagated.
func TestMCPToolWrapper_ErrorHandling(t *testing.T) {
	_, registry, ctx := startReconServer(t, "recon")

	cidrTool, ok := registry.Get("recon_cidr_hosts")
	require.True(t, ok)

	// Missing cidr argument produces a tool error from the server.
	input := json.RawMessage(`{}`)
	_, err := cidrTool.Execute(ctx, input, nil)
	assert.Error(t, err, "missing argument should surface as an error")
}
