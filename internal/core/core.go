// Package core assembles the orchestration engine as one explicit
// instance: the hierarchy registry, permission checker, engagement
// store, tool registry, processor, sub-agent executor and trajectory
// aggregator, all sharing one session tree. Tests and embedders build
// isolated cores instead of reaching for process-wide singletons.
package core

import (
	"context"
	"path/filepath"

	"github.com/opsploit/core/internal/agent"
	"github.com/opsploit/core/internal/engagement"
	"github.com/opsploit/core/internal/executor"
	"github.com/opsploit/core/internal/hierarchy"
	"github.com/opsploit/core/internal/permission"
	"github.com/opsploit/core/internal/provider"
	"github.com/opsploit/core/internal/session"
	"github.com/opsploit/core/internal/storage"
	"github.com/opsploit/core/internal/tool"
	"github.com/opsploit/core/internal/trajectory"
)

// Config carries the knobs a Core is built from.
type Config struct {
	// DataDir is where storage and engagement directories live.
	DataDir string

	// WorkDir is the default working directory for sessions and tools.
	WorkDir string

	// Providers is the initialized model-transport registry. Optional
	// for cores that never run a loop (e.g. trajectory-only use).
	Providers *provider.Registry

	// DefaultProviderID / DefaultModelID select the model when a
	// message carries no explicit reference.
	DefaultProviderID string
	DefaultModelID    string
}

// Core owns one engine instance. Every subsystem shares the same
// hierarchy registry, so permissions, engagement state and trajectory
// all resolve against the same roots.
type Core struct {
	Tree        *hierarchy.Registry
	Permissions *permission.Checker
	Engagement  *engagement.Store
	Storage     *storage.Storage
	Tools       *tool.Registry
	Agents      *agent.Registry
	Sessions    *session.Service
	Executor    *executor.SubagentExecutor
	Trajectory  *trajectory.Aggregator
}

// New wires a Core from cfg.
func New(cfg Config) *Core {
	tree := hierarchy.NewRegistry()
	checker := permission.NewChecker(tree)
	store := storage.New(filepath.Join(cfg.DataDir, "storage"))
	engagementStore := engagement.New(filepath.Join(cfg.DataDir, "engagement"), tree)

	toolReg := tool.DefaultRegistry(cfg.WorkDir)
	toolReg.RegisterStateTools(engagementStore)

	agentReg := agent.NewRegistry()
	toolReg.RegisterTaskTool(agentReg)

	svc := session.NewServiceWithProcessor(
		store, cfg.Providers, toolReg, checker, tree,
		cfg.DefaultProviderID, cfg.DefaultModelID,
	)

	subExecutor := executor.NewSubagentExecutor(executor.SubagentExecutorConfig{
		Storage:           store,
		ProviderRegistry:  cfg.Providers,
		ToolRegistry:      toolReg,
		PermissionChecker: checker,
		AgentRegistry:     agentReg,
		Tree:              tree,
		EngagementStore:   engagementStore,
		WorkDir:           cfg.WorkDir,
		DefaultProviderID: cfg.DefaultProviderID,
		DefaultModelID:    cfg.DefaultModelID,
	})
	toolReg.SetTaskExecutor(subExecutor)

	return &Core{
		Tree:        tree,
		Permissions: checker,
		Engagement:  engagementStore,
		Storage:     store,
		Tools:       toolReg,
		Agents:      agentReg,
		Sessions:    svc,
		Executor:    subExecutor,
		Trajectory:  trajectory.New(svc, tree),
	}
}

// Teardown rejects every outstanding permission ask. Call it once on
// shutdown; in-flight loops observe the rejection and stop.
func (c *Core) Teardown() {
	c.Permissions.Teardown()
}

// RegisterRoot records sessionID as the root of its own tree. Call it
// for every top-level session before dispatching sub-agents under it.
func (c *Core) RegisterRoot(sessionID string) {
	c.Tree.Register(sessionID, "")
}

// Archiver returns an Archiver persisting engagement timelines under
// baseDir.
func (c *Core) Archiver(baseDir string) *trajectory.Archiver {
	return trajectory.NewArchiver(baseDir, c.Trajectory, c.Engagement)
}

// DeleteSession removes a session and releases its shared state.
func (c *Core) DeleteSession(ctx context.Context, sessionID string) error {
	return c.Sessions.Delete(ctx, sessionID)
}
