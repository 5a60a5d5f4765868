package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// DoomLoopThreshold is how many byte-identical calls in a row trip the
// detector.
const DoomLoopThreshold = 3

// doomLoopHistoryCap bounds per-session history retention.
const doomLoopHistoryCap = 10

// DoomLoopDetector notices an agent re-issuing the same tool call with
// the same input over and over, the usual signature of a stuck loop
// (retrying a dead host, re-reading an unchanged file).
type DoomLoopDetector struct {
	mu      sync.Mutex
	history map[string][]string // sessionID -> recent call digests
}

// NewDoomLoopDetector creates an empty detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{
		history: make(map[string][]string),
	}
}

// Check records the call and reports whether it is the DoomLoopThreshold-th
// identical call in a row for sessionID.
func (d *DoomLoopDetector) Check(sessionID, toolName string, input any) bool {
	digest := callDigest(toolName, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	recent := d.history[sessionID]
	looping := len(recent) >= DoomLoopThreshold-1
	if looping {
		for _, h := range recent[len(recent)-(DoomLoopThreshold-1):] {
			if h != digest {
				looping = false
				break
			}
		}
	}

	recent = append(recent, digest)
	if len(recent) > doomLoopHistoryCap {
		recent = recent[len(recent)-doomLoopHistoryCap:]
	}
	d.history[sessionID] = recent

	return looping
}

// callDigest hashes a tool name with its marshaled input so equality is
// byte-level on the serialized arguments.
func callDigest(toolName string, input any) string {
	data, _ := json.Marshal(map[string]any{
		"tool":  toolName,
		"input": input,
	})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Clear forgets a session entirely, for session deletion.
func (d *DoomLoopDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, sessionID)
}

// Reset empties a session's history so an authorized repeat does not
// immediately re-trip on its next call.
func (d *DoomLoopDetector) Reset(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history[sessionID] = nil
}
