package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opsploit/core/internal/permission"
	"github.com/opsploit/core/internal/provider"
	"github.com/opsploit/core/internal/storage"
	"github.com/opsploit/core/internal/tool"
	"github.com/opsploit/core/pkg/types"
)

// Processor handles message processing and the agentic loop.
type Processor struct {
	mu sync.Mutex

	providerRegistry  *provider.Registry
	toolRegistry      *tool.Registry
	storage           *storage.Storage
	permissionChecker *permission.Checker
	doomLoopGuard     *permission.DoomLoopGuard

	// Default provider and model to use when not specified
	defaultProviderID string
	defaultModelID    string

	// Optional MCP result post-processing collaborators.
	mcpRegistry MCPRegistry
	outputStore ToolOutputStore

	// Active sessions being processed
	sessions map[string]*sessionState
}

// SetMCPOutputHandling installs the collaborators that spool bulky MCP
// raw_output payloads out of the conversation.
func (p *Processor) SetMCPOutputHandling(reg MCPRegistry, store ToolOutputStore) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mcpRegistry = reg
	p.outputStore = store
}

// sessionState tracks the state of an active session being processed.
type sessionState struct {
	ctx     context.Context
	cancel  context.CancelFunc
	message *types.Message
	parts   []types.Part
	waiters []chan error

	// blocked is set when a permission rejection should end the loop.
	blocked bool
	// needsCompaction is set when the loop returned StatusCompact.
	needsCompaction bool
}

// ProcessCallback is called with message updates during processing.
type ProcessCallback func(msg *types.Message, parts []types.Part)

// MCPRegistry reports whether a tool name belongs to a connected MCP
// server. Implemented by internal/mcp's ToolIndex.
type MCPRegistry interface {
	IsMCPTool(name string) bool
}

// ToolOutputStore persists bulky raw tool output outside the
// conversation, returning a replacement summary.
type ToolOutputStore interface {
	StoreOutput(sessionID, tool, rawOutput string) (summary string, stored bool, outputID string, err error)
}

// NewProcessor creates a new session processor.
func NewProcessor(
	providerReg *provider.Registry,
	toolReg *tool.Registry,
	store *storage.Storage,
	permChecker *permission.Checker,
	defaultProviderID string,
	defaultModelID string,
) *Processor {
	// Use reasonable defaults if not specified
	if defaultProviderID == "" {
		defaultProviderID = "anthropic"
	}
	if defaultModelID == "" {
		defaultModelID = "claude-sonnet-4-20250514"
	}
	var guard *permission.DoomLoopGuard
	if permChecker != nil {
		guard = permission.NewDoomLoopGuard(permChecker)
	}

	return &Processor{
		providerRegistry:  providerReg,
		toolRegistry:      toolReg,
		storage:           store,
		permissionChecker: permChecker,
		doomLoopGuard:     guard,
		defaultProviderID: defaultProviderID,
		defaultModelID:    defaultModelID,
		sessions:          make(map[string]*sessionState),
	}
}

// Process handles a new user message and generates an assistant response.
// This is the main entry point for the agentic loop.
func (p *Processor) Process(ctx context.Context, sessionID string, agent *Agent, callback ProcessCallback) error {
	p.mu.Lock()

	// Check if session is already processing
	if state, ok := p.sessions[sessionID]; ok {
		// Queue this request
		waiter := make(chan error, 1)
		state.waiters = append(state.waiters, waiter)
		p.mu.Unlock()

		// Wait for current processing to complete
		select {
		case err := <-waiter:
			if err != nil {
				return err
			}
			// Retry processing
			return p.Process(ctx, sessionID, agent, callback)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Create new session state
	loopCtx, cancel := context.WithCancel(ctx)
	state := &sessionState{
		ctx:    loopCtx,
		cancel: cancel,
	}
	p.sessions[sessionID] = state
	p.mu.Unlock()

	// Ensure cleanup
	defer func() {
		p.mu.Lock()
		delete(p.sessions, sessionID)

		// Notify waiters
		for _, waiter := range state.waiters {
			waiter <- nil
		}
		p.mu.Unlock()
	}()

	// Run the agentic loop. A compact status means the context would
	// overflow: compact history, reset the per-run state, and rerun.
	for {
		status, err := p.runLoop(loopCtx, sessionID, state, agent, callback)
		if status != StatusCompact {
			return err
		}

		messages, err := p.loadMessages(loopCtx, sessionID)
		if err != nil {
			return err
		}
		if err := p.compactMessages(loopCtx, sessionID, messages); err != nil {
			return fmt.Errorf("compaction failed: %w", err)
		}

		// The rerun needs a user turn at the tail of history; after
		// compaction the last message may be the interrupted assistant
		// one.
		if err := p.ensureContinueTurn(loopCtx, sessionID); err != nil {
			return err
		}

		state.parts = nil
		state.blocked = false
		state.needsCompaction = false
	}
}

// ensureContinueTurn appends a short user message asking the model to
// carry on from the compaction summary, unless the history already ends
// with a user turn.
func (p *Processor) ensureContinueTurn(ctx context.Context, sessionID string) error {
	messages, err := p.loadMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(messages) > 0 && messages[len(messages)-1].Role == "user" {
		return nil
	}

	now := time.Now().UnixMilli()
	msg := &types.Message{
		ID:        generatePartID(),
		SessionID: sessionID,
		Role:      "user",
		Time:      types.MessageTime{Created: now},
	}
	if len(messages) > 0 {
		msg.Model = messages[len(messages)-1].Model
	}
	if err := p.storage.Put(ctx, []string{"message", sessionID, msg.ID}, msg); err != nil {
		return err
	}

	part := &types.TextPart{
		ID:        generatePartID(),
		SessionID: sessionID,
		MessageID: msg.ID,
		Type:      "text",
		Text:      "Continue from the summary above.",
	}
	return p.storage.Put(ctx, []string{"part", msg.ID, part.ID}, part)
}

// Abort cancels processing for a session.
func (p *Processor) Abort(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not processing: %s", sessionID)
	}

	state.cancel()
	return nil
}

// IsProcessing returns whether a session is currently processing.
func (p *Processor) IsProcessing(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionID]
	return ok
}

// GetActiveState returns the current state for a processing session.
func (p *Processor) GetActiveState(sessionID string) (*types.Message, []types.Part, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.sessions[sessionID]
	if !ok {
		return nil, nil, false
	}

	return state.message, state.parts, true
}
