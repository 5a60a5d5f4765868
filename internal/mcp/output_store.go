package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opsploit/core/internal/hierarchy"
)

// inlineOutputLimit is the size below which raw scanner output stays
// inline in the conversation instead of being spooled to disk.
const inlineOutputLimit = 2048

// previewLen is how much of a stored output the summary quotes.
const previewLen = 400

// OutputStore spools bulky raw_output payloads from MCP tools to disk so
// the conversation only carries a short summary. Like the engagement
// store, every operation bubbles through the hierarchy registry: no
// matter which session in a tree produced the output, it lands under the
// tree root's loot directory, <baseDir>/<rootID>/artifacts/loot/<id>.txt,
// alongside the rest of the engagement's collected evidence.
type OutputStore struct {
	baseDir string
	tree    *hierarchy.Registry
	mu      sync.Mutex
}

// NewOutputStore creates an OutputStore rooted at baseDir, resolving
// session IDs to their tree root through tree.
func NewOutputStore(baseDir string, tree *hierarchy.Registry) *OutputStore {
	if tree == nil {
		tree = hierarchy.NewRegistry()
	}
	return &OutputStore{baseDir: baseDir, tree: tree}
}

// lootDir returns the loot directory for sessionID's tree root.
func (s *OutputStore) lootDir(sessionID string) string {
	root := s.tree.RootOf(sessionID)
	return filepath.Join(s.baseDir, root, "artifacts", "loot")
}

// StoreOutput persists rawOutput when it is large enough to be worth
// spooling. It returns the replacement summary, whether the payload was
// stored, and the output's ID for later retrieval.
func (s *OutputStore) StoreOutput(sessionID, toolName, rawOutput string) (summary string, stored bool, outputID string, err error) {
	if len(rawOutput) <= inlineOutputLimit {
		return rawOutput, false, "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.lootDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, "", fmt.Errorf("output store: create dir: %w", err)
	}

	outputID = ulid.Make().String()
	path := filepath.Join(dir, outputID+".txt")
	if err := os.WriteFile(path, []byte(rawOutput), 0644); err != nil {
		return "", false, "", fmt.Errorf("output store: write: %w", err)
	}

	preview := rawOutput
	if len(preview) > previewLen {
		preview = preview[:previewLen] + "..."
	}
	lines := strings.Count(rawOutput, "\n") + 1

	summary = fmt.Sprintf("%s produced %d bytes (%d lines), stored as output %s.\nPreview:\n%s",
		toolName, len(rawOutput), lines, outputID, preview)
	return summary, true, outputID, nil
}

// Read returns a previously stored output by ID. sessionID may be any
// session in the owning tree.
func (s *OutputStore) Read(sessionID, outputID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.lootDir(sessionID), outputID+".txt"))
	if err != nil {
		return "", fmt.Errorf("output store: read %s: %w", outputID, err)
	}
	return string(data), nil
}

// ToolIndex lazily caches which registry tool names belong to connected
// MCP servers, so the stream processor can cheaply test membership.
// Invalidate drops the cache after a server configuration change.
type ToolIndex struct {
	mu     sync.Mutex
	client *Client
	names  map[string]bool
}

// NewToolIndex builds an index over client's connected servers.
func NewToolIndex(client *Client) *ToolIndex {
	return &ToolIndex{client: client}
}

// IsMCPTool reports whether name is a tool exported by an MCP server.
func (i *ToolIndex) IsMCPTool(name string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.names == nil {
		i.names = make(map[string]bool)
		if i.client != nil {
			for _, t := range i.client.Tools() {
				i.names[t.Name] = true
			}
		}
	}
	return i.names[name]
}

// Invalidate drops the cached name set; the next IsMCPTool rebuilds it.
func (i *ToolIndex) Invalidate() {
	i.mu.Lock()
	i.names = nil
	i.mu.Unlock()
}
