package trajectory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/opsploit/core/internal/engagement"
	"github.com/opsploit/core/pkg/types"
)

// Archiver persists an engagement's trajectory and metadata under a base
// directory, one subdirectory per root session:
//
//	<base>/<rootID>/session.json     - metadata snapshot
//	<base>/<rootID>/trajectory.jsonl - one entry per line, timestamp-sorted
//	<base>/<rootID>/state.yaml       - mirror of the live engagement state
//
// Writes are composed in memory and land via rename so a crash mid-save
// never leaves a truncated file, and a per-root mutex keeps concurrent
// saves from overlapping.
type Archiver struct {
	baseDir    string
	aggregator *Aggregator
	state      *engagement.Store

	mu    sync.Mutex
	roots map[string]*sync.Mutex
}

// NewArchiver creates an Archiver writing under baseDir.
func NewArchiver(baseDir string, aggregator *Aggregator, state *engagement.Store) *Archiver {
	return &Archiver{
		baseDir:    baseDir,
		aggregator: aggregator,
		state:      state,
		roots:      make(map[string]*sync.Mutex),
	}
}

func (a *Archiver) lockFor(rootID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.roots[rootID]
	if !ok {
		m = &sync.Mutex{}
		a.roots[rootID] = m
	}
	return m
}

// Dir returns the archive directory for rootID.
func (a *Archiver) Dir(rootID string) string {
	return filepath.Join(a.baseDir, rootID)
}

// Save aggregates rootID's tree and writes the full archive layout.
func (a *Archiver) Save(ctx context.Context, rootID string) (*types.EngagementLog, error) {
	lock := a.lockFor(rootID)
	lock.Lock()
	defer lock.Unlock()

	log, err := a.aggregator.FromEngagement(ctx, rootID)
	if err != nil {
		return nil, err
	}

	dir := a.Dir(rootID)
	for _, sub := range []string{"findings", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("trajectory: create archive dir: %w", err)
		}
	}

	// session.json: the aggregate metadata without the entry list.
	meta := struct {
		RootID          string         `json:"rootID"`
		TotalAgents     int            `json:"totalAgents"`
		AgentNames      []string       `json:"agentNames"`
		ToolCalls       int            `json:"toolCalls"`
		SuccessfulTools int            `json:"successfulTools"`
		FailedTools     int            `json:"failedTools"`
		Phases          map[string]int `json:"phases"`
	}{log.RootID, log.TotalAgents, log.AgentNames, log.ToolCalls, log.SuccessfulTools, log.FailedTools, log.Phases}

	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(filepath.Join(dir, "session.json"), metaData); err != nil {
		return nil, err
	}

	// trajectory.jsonl: one JSON entry per line, already timestamp-sorted.
	var lines []byte
	for _, e := range log.Entries {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line...)
		lines = append(lines, '\n')
	}
	if err := writeAtomic(filepath.Join(dir, "trajectory.jsonl"), lines); err != nil {
		return nil, err
	}

	// state.yaml: mirror the live engagement state at archival time.
	if a.state != nil {
		if block, ok := stateYAML(a.state, rootID); ok {
			if err := writeAtomic(filepath.Join(dir, "state.yaml"), block); err != nil {
				return nil, err
			}
		}
	}

	return log, nil
}

// stateYAML reads the live state document and re-marshals it.
func stateYAML(store *engagement.Store, rootID string) ([]byte, bool) {
	state, err := store.Read(rootID)
	if err != nil || state.IsEmpty() {
		return nil, false
	}
	data, err := engagement.MarshalState(state)
	if err != nil {
		return nil, false
	}
	return data, true
}

// writeAtomic writes data to path through a temp file and rename.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("trajectory: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("trajectory: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
