// Package executor provides task execution implementations.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opsploit/core/internal/agent"
	"github.com/opsploit/core/internal/engagement"
	"github.com/opsploit/core/internal/event"
	"github.com/opsploit/core/internal/hierarchy"
	"github.com/opsploit/core/internal/permission"
	"github.com/opsploit/core/internal/provider"
	"github.com/opsploit/core/internal/session"
	"github.com/opsploit/core/internal/storage"
	"github.com/opsploit/core/internal/tool"
	"github.com/opsploit/core/pkg/types"
)

// SubagentExecutor implements tool.TaskExecutor to run subagent tasks.
type SubagentExecutor struct {
	storage           *storage.Storage
	providerRegistry  *provider.Registry
	toolRegistry      *tool.Registry
	permissionChecker *permission.Checker
	agentRegistry     *agent.Registry
	tree              *hierarchy.Registry
	engagementStore   *engagement.Store
	workDir           string

	// Default provider and model settings
	defaultProviderID string
	defaultModelID    string
}

// SubagentExecutorConfig holds configuration for creating a SubagentExecutor.
type SubagentExecutorConfig struct {
	Storage           *storage.Storage
	ProviderRegistry  *provider.Registry
	ToolRegistry      *tool.Registry
	PermissionChecker *permission.Checker
	AgentRegistry     *agent.Registry
	Tree              *hierarchy.Registry
	EngagementStore   *engagement.Store
	WorkDir           string
	DefaultProviderID string
	DefaultModelID    string
}

// NewSubagentExecutor creates a new SubagentExecutor.
func NewSubagentExecutor(cfg SubagentExecutorConfig) *SubagentExecutor {
	tree := cfg.Tree
	if tree == nil {
		tree = hierarchy.NewRegistry()
	}
	return &SubagentExecutor{
		storage:           cfg.Storage,
		providerRegistry:  cfg.ProviderRegistry,
		toolRegistry:      cfg.ToolRegistry,
		permissionChecker: cfg.PermissionChecker,
		agentRegistry:     cfg.AgentRegistry,
		tree:              tree,
		engagementStore:   cfg.EngagementStore,
		workDir:           cfg.WorkDir,
		defaultProviderID: cfg.DefaultProviderID,
		defaultModelID:    cfg.DefaultModelID,
	}
}

// ExecuteSubtask implements tool.TaskExecutor.ExecuteSubtask.
// It creates (or resumes) a child session, runs the subagent to completion,
// and returns its last text part. Cancellation of ctx propagates to the
// child's loop since the child processor derives its own context from it.
func (e *SubagentExecutor) ExecuteSubtask(
	ctx context.Context,
	parentSessionID string,
	agentName string,
	prompt string,
	opts tool.TaskOptions,
) (*tool.TaskResult, error) {
	// Get the agent configuration
	agentConfig, err := e.agentRegistry.Get(agentName)
	if err != nil {
		return nil, fmt.Errorf("agent not found: %s: %w", agentName, err)
	}

	// Verify it can be used as a subagent
	if !agentConfig.IsSubagent() {
		return nil, fmt.Errorf("agent %s cannot be used as subagent (mode: %s)", agentName, agentConfig.Mode)
	}

	parentSession, _ := e.findSession(ctx, parentSessionID)
	bypass := e.permissionChecker != nil && e.permissionChecker.IsUltrasploit(parentSessionID)
	if denied := checkSubagentPermission(parentSession, agentName, bypass); denied {
		return nil, fmt.Errorf("dispatch of subagent_type %q is denied by the caller's permission ruleset", agentName)
	}

	rootID := parentSessionID
	if e.tree != nil {
		rootID = e.tree.RootOf(parentSessionID)
	}

	var childSession *types.Session
	resuming := false
	if opts.ResumeFrom != "" {
		if existing, err := e.findSession(ctx, opts.ResumeFrom); err == nil {
			childSession = existing
			resuming = true
		}
	}
	if childSession == nil {
		childSession, err = e.createChildSession(ctx, parentSessionID, agentName)
		if err != nil {
			return nil, fmt.Errorf("failed to create child session: %w", err)
		}
	}

	if e.tree != nil {
		e.tree.Register(childSession.ID, parentSessionID)
	}

	sessionDir := ""
	if e.engagementStore != nil {
		if dir, err := e.engagementStore.RootDir(rootID); err == nil {
			sessionDir = dir
		}
	}

	// Convert agent.Agent to session.Agent
	sessionAgent := convertToSessionAgent(agentConfig)

	// Resolve model from options
	providerID, modelID := e.resolveModel(opts.Model)

	finalPrompt := prompt
	if !resuming {
		finalPrompt = e.enrichPrompt(agentName, prompt, sessionDir, rootID)
	}

	// Create user message with the (possibly enriched) prompt
	userMsg, err := e.createUserMessage(ctx, childSession, finalPrompt, providerID, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to create user message: %w", err)
	}

	// Create and run processor
	processor := session.NewProcessor(
		e.providerRegistry,
		e.toolRegistry,
		e.storage,
		e.permissionChecker,
		providerID,
		modelID,
	)

	// Collect response parts
	var responseParts []types.Part
	var responseMsg *types.Message

	// Run the processing loop
	err = processor.Process(ctx, childSession.ID, sessionAgent, func(msg *types.Message, parts []types.Part) {
		responseMsg = msg
		responseParts = parts
	})

	if err != nil {
		return &tool.TaskResult{
			Output:    fmt.Sprintf("Error executing subtask: %s", err.Error()),
			SessionID: childSession.ID,
			Error:     err.Error(),
			Metadata: map[string]any{
				"parentSessionID": parentSessionID,
				"userMessageID":   userMsg.ID,
			},
		}, nil
	}

	// Extract text content from response
	output := extractTextContent(responseParts)

	return &tool.TaskResult{
		Output:    output,
		SessionID: childSession.ID,
		AgentID:   agentName,
		Metadata: map[string]any{
			"parentSessionID":    parentSessionID,
			"assistantMessageID": responseMsg.ID,
			"userMessageID":      userMsg.ID,
		},
	}, nil
}

// checkSubagentPermission reports whether dispatching subagentType is denied
// by the caller's permission ruleset. The check is skipped entirely when the
// caller has the bypass flag set (ultrasploit) or subagentType belongs to the
// always-authorized pentest/ family.
func checkSubagentPermission(caller *types.Session, subagentType string, bypass bool) bool {
	if bypass || strings.HasPrefix(subagentType, "pentest/") {
		return false
	}
	if caller == nil {
		return false
	}
	for _, rule := range caller.Permission {
		if rule.Permission != "task" {
			continue
		}
		if rule.Pattern == "" || permission.MatchWildcard(rule.Pattern, subagentType) {
			if rule.Action == "deny" {
				return true
			}
		}
	}
	return false
}

// enrichPrompt builds the enriched prompt seen by the subagent: the
// engagement-state injection (or an empty-state hint), then the
// caller-supplied prompt, then a header naming the session directory.
// Injection only happens for pentest/ subagents or when engagement state
// exists.
func (e *SubagentExecutor) enrichPrompt(agentName, prompt, sessionDir, rootID string) string {
	isPentest := strings.HasPrefix(agentName, "pentest/")

	var block string
	var haveState bool
	if e.engagementStore != nil {
		block, haveState = e.engagementStore.FormatForInjection(rootID)
	}

	if !isPentest && !haveState {
		return prompt
	}

	var b strings.Builder
	if haveState {
		b.WriteString(block)
		b.WriteString("\n")
	} else {
		b.WriteString("## Engagement State\nNo findings recorded yet.\n\n")
	}
	b.WriteString(prompt)
	if sessionDir != "" {
		fmt.Fprintf(&b, "\n\n## Session Directory\n%s\n", sessionDir)
	}
	return b.String()
}

// findSession looks up a session by ID across all known projects.
func (e *SubagentExecutor) findSession(ctx context.Context, sessionID string) (*types.Session, error) {
	projects, err := e.storage.List(ctx, []string{"session"})
	if err != nil {
		return nil, err
	}
	for _, projectID := range projects {
		var sess types.Session
		if err := e.storage.Get(ctx, []string{"session", projectID, sessionID}, &sess); err == nil {
			return &sess, nil
		}
	}
	return nil, fmt.Errorf("session not found: %s", sessionID)
}

// createChildSession creates a new session as a child of the parent session.
func (e *SubagentExecutor) createChildSession(ctx context.Context, parentSessionID string, agentName string) (*types.Session, error) {
	now := time.Now().UnixMilli()
	sessionID := ulid.Make().String()

	// Get parent session to inherit directory
	var parentSession types.Session
	var directory string

	// Try to find parent session
	projects, err := e.storage.List(ctx, []string{"session"})
	if err == nil {
		for _, projectID := range projects {
			if err := e.storage.Get(ctx, []string{"session", projectID, parentSessionID}, &parentSession); err == nil {
				directory = parentSession.Directory
				break
			}
		}
	}

	// Use work directory if parent not found
	if directory == "" {
		directory = e.workDir
	}

	// Create project ID from directory
	projectID := hashDirectory(directory)

	sess := &types.Session{
		ID:        sessionID,
		ProjectID: projectID,
		Directory: directory,
		Title:     fmt.Sprintf("@%s subagent", agentName),
		ParentID:  &parentSessionID,
		Version:   "1",
		// Recursive dispatch and scratchpad todos are forbidden on a child
		// session; it may only read/write outside its directory under the
		// engagement root.
		Permission: []types.PermissionRule{
			{Permission: "task", Action: "deny"},
			{Permission: "todowrite", Action: "deny"},
			{Permission: "todoread", Action: "deny"},
			{Permission: "external_directory", Pattern: filepath.Join(e.rootDirFor(parentSessionID), "*"), Action: "allow"},
		},
		Summary: types.SessionSummary{
			Additions: 0,
			Deletions: 0,
			Files:     0,
		},
		Time: types.SessionTime{
			Created: now,
			Updated: now,
		},
	}

	if err := e.storage.Put(ctx, []string{"session", projectID, sess.ID}, sess); err != nil {
		return nil, fmt.Errorf("failed to save child session: %w", err)
	}

	// Publish session created event
	event.PublishSync(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Info: sess},
	})

	return sess, nil
}

// createUserMessage creates a user message with the prompt.
func (e *SubagentExecutor) createUserMessage(
	ctx context.Context,
	sess *types.Session,
	prompt string,
	providerID string,
	modelID string,
) (*types.Message, error) {
	now := time.Now().UnixMilli()
	msgID := ulid.Make().String()

	msg := &types.Message{
		ID:         msgID,
		SessionID:  sess.ID,
		Role:       "user",
		ProviderID: providerID,
		ModelID:    modelID,
		Model: &types.ModelRef{
			ProviderID: providerID,
			ModelID:    modelID,
		},
		Path: &types.MessagePath{
			Cwd:  sess.Directory,
			Root: sess.Directory,
		},
		Time: types.MessageTime{
			Created: now,
		},
	}

	// Save message
	if err := e.storage.Put(ctx, []string{"message", sess.ID, msg.ID}, msg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	// Create text part for the prompt
	partID := ulid.Make().String()
	textPart := &types.TextPart{
		ID:        partID,
		SessionID: sess.ID,
		MessageID: msg.ID,
		Type:      "text",
		Text:      prompt,
	}

	// Save part
	if err := e.storage.Put(ctx, []string{"part", msg.ID, partID}, textPart); err != nil {
		return nil, fmt.Errorf("failed to save text part: %w", err)
	}

	// Publish message created event
	event.PublishSync(event.Event{
		Type: event.MessageCreated,
		Data: event.MessageCreatedData{Info: msg},
	})

	// Publish part updated event
	event.PublishSync(event.Event{
		Type: event.PartUpdated,
		Data: event.PartUpdatedData{Part: textPart},
	})

	return msg, nil
}

// resolveModel resolves provider and model IDs from the options.
func (e *SubagentExecutor) resolveModel(modelOption string) (providerID, modelID string) {
	providerID = e.defaultProviderID
	modelID = e.defaultModelID

	// Handle model override from options
	switch modelOption {
	case "sonnet":
		modelID = "claude-sonnet-4-20250514"
	case "opus":
		modelID = "claude-opus-4-20250514"
	case "haiku":
		modelID = "claude-haiku-3-20240307"
	default:
		// Keep defaults
	}

	return providerID, modelID
}

// convertToSessionAgent converts agent.Agent to session.Agent.
func convertToSessionAgent(a *agent.Agent) *session.Agent {
	// Build enabled/disabled tool lists from the map
	var enabledTools []string
	var disabledTools []string

	hasWildcard := false
	wildcardEnabled := false

	for tool, enabled := range a.Tools {
		if tool == "*" {
			hasWildcard = true
			wildcardEnabled = enabled
			continue
		}
		if enabled {
			enabledTools = append(enabledTools, tool)
		} else {
			disabledTools = append(disabledTools, tool)
		}
	}

	// If wildcard is enabled but not explicitly set, we treat it as all enabled
	// The DisabledTools list will handle exceptions
	if hasWildcard && wildcardEnabled {
		enabledTools = nil // Empty means all enabled
	}

	// Convert bash permission to simple string
	bashPerm := "ask"
	if a.Permission.Bash != nil {
		if action, ok := a.Permission.Bash["*"]; ok {
			bashPerm = string(action)
		}
	}

	// Convert write/edit permission
	writePerm := "ask"
	if a.Permission.Edit != "" {
		writePerm = string(a.Permission.Edit)
	}

	// Convert doom loop permission
	doomLoopPerm := "ask"
	if a.Permission.DoomLoop != "" {
		doomLoopPerm = string(a.Permission.DoomLoop)
	}

	return &session.Agent{
		Name:          a.Name,
		Prompt:        a.Prompt,
		Temperature:   a.Temperature,
		TopP:          a.TopP,
		MaxSteps:      50, // Default max steps for subagents
		Tools:         enabledTools,
		DisabledTools: disabledTools,
		Permission: session.AgentPermission{
			DoomLoop: doomLoopPerm,
			Bash:     bashPerm,
			Write:    writePerm,
		},
	}
}

// extractTextContent extracts text content from response parts.
func extractTextContent(parts []types.Part) string {
	var texts []string
	for _, part := range parts {
		switch p := part.(type) {
		case *types.TextPart:
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
	}
	return strings.Join(texts, "\n")
}

// rootDirFor returns the engagement directory for sessionID's tree root
// without creating it, for use in permission-rule patterns.
func (e *SubagentExecutor) rootDirFor(sessionID string) string {
	root := sessionID
	if e.tree != nil {
		root = e.tree.RootOf(sessionID)
	}
	if e.engagementStore != nil {
		if dir, err := e.engagementStore.RootDir(root); err == nil {
			return dir
		}
	}
	return root
}

// hashDirectory creates a project ID from a directory path.
func hashDirectory(directory string) string {
	h := sha256.New()
	h.Write([]byte(directory))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
