package permission

import "context"

// DoomLoopGuard wires a DoomLoopDetector to a Checker so that a detected
// repeat raises a real doom_loop permission ask instead of merely
// reporting a bool to the caller.
type DoomLoopGuard struct {
	detector *DoomLoopDetector
	checker  *Checker
}

// NewDoomLoopGuard builds a guard with a fresh detector over checker.
func NewDoomLoopGuard(checker *Checker) *DoomLoopGuard {
	return &DoomLoopGuard{
		detector: NewDoomLoopDetector(),
		checker:  checker,
	}
}

// CheckToolCall inspects whether the current call is the
// DoomLoopThreshold-th identical call in a row for sessionID; if so it raises a doom_loop
// permission ask (defaulting to PermDoomLoop's configured action) rather
// than letting the loop continue silently. agentDoomLoopAction is the
// agent's configured action for PermDoomLoop (allow/deny/ask).
func (g *DoomLoopGuard) CheckToolCall(ctx context.Context, sessionID, callID, toolName string, input any, agentDoomLoopAction PermissionAction) error {
	if !g.detector.Check(sessionID, toolName, input) {
		return nil
	}

	req := Request{
		Type:      PermDoomLoop,
		SessionID: sessionID,
		CallID:    callID,
		Pattern:   []string{toolName},
		Title:     "Repeated tool call detected (" + toolName + ")",
		Metadata:  map[string]any{"tool": toolName},
	}

	if err := g.checker.Check(ctx, req, agentDoomLoopAction); err != nil {
		return err
	}

	// Whether allowed or approved via ask, reset so the same call doesn't
	// immediately re-trigger on its very next repetition.
	g.detector.Reset(sessionID)
	return nil
}

// Clear forgets a session's call history (e.g. on session deletion).
func (g *DoomLoopGuard) Clear(sessionID string) {
	g.detector.Clear(sessionID)
}
