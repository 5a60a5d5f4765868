// Package recon provides an MCP server with deterministic recon helper
// tools, used to exercise the MCP client integration.
package recon

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with recon tools.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"recon",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	// cidr_hosts expands a CIDR block to its usable host addresses.
	cidrTool := mcp.NewTool("cidr_hosts",
		mcp.WithDescription("Expands a CIDR block to the comma-separated list of usable host addresses"),
		mcp.WithString("cidr",
			mcp.Required(),
			mcp.Description("CIDR block, e.g. 10.0.0.0/30"),
		),
	)
	s.AddTool(cidrTool, cidrHostsHandler)

	// banner simulates a banner grab, returning a raw_output envelope the
	// way bulky scanner wrappers do.
	bannerTool := mcp.NewTool("banner",
		mcp.WithDescription("Grabs the service banner for a host:port, returning a raw_output envelope"),
		mcp.WithString("host",
			mcp.Required(),
			mcp.Description("Target host"),
		),
		mcp.WithNumber("port",
			mcp.Required(),
			mcp.Description("Target TCP port"),
		),
	)
	s.AddTool(bannerTool, bannerHandler)

	return s
}

// cidrHostsHandler handles the cidr_hosts tool call.
func cidrHostsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	cidrArg, ok := args["cidr"].(string)
	if !ok || cidrArg == "" {
		return mcp.NewToolResultError("cidr argument is required"), nil
	}

	hosts, err := expandCIDR(cidrArg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cidr: %v", err)), nil
	}

	return mcp.NewToolResultText(strings.Join(hosts, ",")), nil
}

// bannerHandler handles the banner tool call. The banner content is
// deterministic so clients can assert on it.
func bannerHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	host, _ := args["host"].(string)
	port, _ := args["port"].(float64)
	if host == "" || port == 0 {
		return mcp.NewToolResultError("host and port arguments are required"), nil
	}

	raw := fmt.Sprintf("banner grab %s:%d\nSSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5\n", host, int(port))
	envelope, err := json.Marshal(map[string]any{
		"tool":       "banner",
		"target":     fmt.Sprintf("%s:%d", host, int(port)),
		"raw_output": raw,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(envelope)), nil
}

// expandCIDR returns the usable host addresses of an IPv4 CIDR block in
// ascending order, excluding the network and broadcast addresses. A /31
// or /32 has no usable hosts.
func expandCIDR(cidr string) ([]string, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("only IPv4 blocks are supported")
	}

	ones, bits := ipnet.Mask.Size()
	if bits-ones < 2 {
		return nil, nil
	}

	base := binary.BigEndian.Uint32(ip4)
	size := uint32(1) << (bits - ones)

	hosts := make([]string, 0, size-2)
	for off := uint32(1); off < size-1; off++ {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, base+off)
		hosts = append(hosts, net.IP(buf).String())
	}
	return hosts, nil
}
