package engagement

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/opsploit/core/internal/hierarchy"
	"github.com/opsploit/core/internal/storage"
	"github.com/opsploit/core/pkg/types"
)

// Store owns the per-root-session engagement directory: state.yaml plus
// findings/ and artifacts/{screenshots,loot} subdirectories.
type Store struct {
	basePath string
	tree     *hierarchy.Registry

	mu    sync.Mutex
	locks map[string]*storage.FileLock // rootID -> file lock, serializing read-modify-write
}

// New creates a Store rooted at basePath, bubbling every operation through
// tree to resolve the caller's session to its tree's root.
func New(basePath string, tree *hierarchy.Registry) *Store {
	if tree == nil {
		tree = hierarchy.NewRegistry()
	}
	return &Store{
		basePath: basePath,
		tree:     tree,
		locks:    make(map[string]*storage.FileLock),
	}
}

// RootDir returns the engagement directory for sessionID's tree root,
// creating it (and its findings/artifacts subdirectories) if absent.
func (s *Store) RootDir(sessionID string) (string, error) {
	root := s.tree.RootOf(sessionID)
	dir := filepath.Join(s.basePath, root)
	for _, sub := range []string{"findings", filepath.Join("artifacts", "screenshots"), filepath.Join("artifacts", "loot")} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return "", fmt.Errorf("engagement: create %s: %w", sub, err)
		}
	}
	return dir, nil
}

func (s *Store) statePath(sessionID string) (dir, path string) {
	root := s.tree.RootOf(sessionID)
	dir = filepath.Join(s.basePath, root)
	return dir, filepath.Join(dir, "state.yaml")
}

func (s *Store) lockFor(root string) *storage.FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[root]
	if !ok {
		lock = storage.NewFileLock(filepath.Join(s.basePath, root, "state"))
		s.locks[root] = lock
	}
	return lock
}

// Read returns the parsed document for sessionID's tree, or an empty
// document if nothing has been written yet.
func (s *Store) Read(sessionID string) (*types.EngagementState, error) {
	_, path := s.statePath(sessionID)
	return readState(path)
}

func readState(path string) (*types.EngagementState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &types.EngagementState{}, nil
		}
		return nil, fmt.Errorf("engagement: read state: %w", err)
	}
	var state types.EngagementState
	if err := yaml.Unmarshal(data, &state); err != nil {
		// Malformed YAML is tolerated: treat the document as empty rather
		// than failing the caller's update.
		return &types.EngagementState{}, nil
	}
	return &state, nil
}

// Update merges partial into sessionID's tree-root document and persists
// the result, serializing concurrent updates from sibling sub-agents
// around a per-root file lock so no interleaved partial YAML is ever
// observed. Applying the same partial twice is idempotent at the key
// level.
func (s *Store) Update(sessionID string, partial *types.EngagementState) (*types.EngagementState, error) {
	root := s.tree.RootOf(sessionID)
	dir, path := s.statePath(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("engagement: create dir: %w", err)
	}

	lock := s.lockFor(root)
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("engagement: lock: %w", err)
	}
	defer lock.Unlock()

	current, err := readState(path)
	if err != nil {
		return nil, err
	}
	merged := Merge(current, partial)

	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("engagement: marshal state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nil, fmt.Errorf("engagement: write temp state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("engagement: rename state: %w", err)
	}

	return merged, nil
}

// MarshalState renders a state document as YAML, for mirroring into an
// archive.
func MarshalState(state *types.EngagementState) ([]byte, error) {
	return yaml.Marshal(state)
}

// FormatForInjection returns a human-readable block describing the root
// session directory and the current engagement state, for seeding a
// sub-agent's prompt. It reports ok=false when the document is empty, in
// which case callers fall back to an empty-state hint.
func (s *Store) FormatForInjection(sessionID string) (block string, ok bool) {
	root := s.tree.RootOf(sessionID)
	dir := filepath.Join(s.basePath, root)
	state, err := s.Read(sessionID)
	if err != nil || state.IsEmpty() {
		return "", false
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return "", false
	}

	var b strings.Builder
	b.WriteString("## Engagement State\n")
	b.WriteString(fmt.Sprintf("Session directory: %s\n\n", dir))
	b.WriteString("```yaml\n")
	b.Write(data)
	if !strings.HasSuffix(string(data), "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	return b.String(), true
}
