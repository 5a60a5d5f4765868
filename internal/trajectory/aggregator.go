package trajectory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/opsploit/core/internal/hierarchy"
	"github.com/opsploit/core/internal/session"
	"github.com/opsploit/core/pkg/types"
)

// Aggregator walks a session tree's stored messages and parts to build
// TrajectoryEntry timelines.
type Aggregator struct {
	service *session.Service
	tree    *hierarchy.Registry
}

// New creates an Aggregator reading sessions through svc and resolving
// tree membership through tree.
func New(svc *session.Service, tree *hierarchy.Registry) *Aggregator {
	if tree == nil {
		tree = hierarchy.NewRegistry()
	}
	return &Aggregator{service: svc, tree: tree}
}

// FromSession walks one session's messages in timestamp order, collecting
// TVAR and tool events. A TVAR part that carries a ToolCallID is attached
// to the corresponding tool's name and completion status.
func (a *Aggregator) FromSession(ctx context.Context, sessionID string) (*types.SessionTrajectory, error) {
	messages, err := a.service.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("trajectory: get messages: %w", err)
	}

	traj := &types.SessionTrajectory{SessionID: sessionID}

	toolByCallID := make(map[string]*types.ToolPart)
	var allParts []struct {
		msg  *types.Message
		part types.Part
	}

	for _, msg := range messages {
		if traj.Model == "" && msg.ModelID != "" {
			traj.Model = msg.ModelID
		}
		if traj.StartTime == 0 || msg.Time.Created < traj.StartTime {
			traj.StartTime = msg.Time.Created
		}
		if msg.Time.Completed != nil {
			if traj.EndTime == nil || *msg.Time.Completed > *traj.EndTime {
				traj.EndTime = msg.Time.Completed
			}
		}

		parts, err := a.service.GetParts(ctx, msg.ID)
		if err != nil {
			continue // malformed/missing parts are skipped, not fatal
		}
		for _, part := range parts {
			if tp, ok := part.(*types.ToolPart); ok {
				toolByCallID[tp.CallID] = tp
			}
			allParts = append(allParts, struct {
				msg  *types.Message
				part types.Part
			}{msg, part})
		}
	}

	for _, entry := range allParts {
		switch p := entry.part.(type) {
		case *types.TVARPart:
			te := types.TrajectoryEntry{
				SessionID: sessionID,
				Kind:      "tvar",
				Phase:     p.Phase,
				Summary:   p.Thought,
				Timestamp: entry.msg.Time.Created,
			}
			if p.Time.Start != nil {
				te.Timestamp = *p.Time.Start
			}
			if p.ToolCallID != "" {
				if tp, ok := toolByCallID[p.ToolCallID]; ok {
					te.Tool = tp.Tool
					te.ToolStatus = tp.State.Status
				}
			}
			traj.Steps = append(traj.Steps, te)

		case *types.ToolPart:
			te := types.TrajectoryEntry{
				SessionID:  sessionID,
				Kind:       "tool",
				Summary:    fmt.Sprintf("%s -> %s", p.Tool, p.State.Status),
				Tool:       p.Tool,
				ToolStatus: p.State.Status,
				Timestamp:  entry.msg.Time.Created,
			}
			if p.State.Time != nil {
				te.Timestamp = p.State.Time.Start
				if p.State.Time.End != nil {
					dur := *p.State.Time.End - p.State.Time.Start
					te.DurationMs = &dur
				}
			}
			traj.Steps = append(traj.Steps, te)
		}
	}

	sortEntries(traj.Steps)
	return traj, nil
}

// FromEngagement recursively collects every descendant session of rootID,
// extracts an agent name from each session's title, and produces a single
// timestamp-sorted EngagementLog across the whole tree.
func (a *Aggregator) FromEngagement(ctx context.Context, rootID string) (*types.EngagementLog, error) {
	sessionIDs := append([]string{rootID}, a.tree.Descendants(rootID)...)

	log := &types.EngagementLog{RootID: rootID, Phases: make(map[string]int)}
	agentNameSet := make(map[string]bool)

	for _, sid := range sessionIDs {
		name := "subagent"
		if sid == rootID {
			name = "master"
		} else if sess, err := a.service.Get(ctx, sid); err == nil {
			name = agentNameFromTitle(sess.Title)
		}
		agentNameSet[name] = true

		traj, err := a.FromSession(ctx, sid)
		if err != nil {
			continue
		}
		for _, e := range traj.Steps {
			e.AgentName = name
			log.Entries = append(log.Entries, e)
			if e.Kind == "tool" {
				log.ToolCalls++
				switch e.ToolStatus {
				case "completed":
					log.SuccessfulTools++
				case "error":
					log.FailedTools++
				}
			}
			if e.Phase != "" {
				log.Phases[e.Phase]++
			}
		}
	}

	log.TotalAgents = len(sessionIDs)
	for name := range agentNameSet {
		log.AgentNames = append(log.AgentNames, name)
	}
	sort.Strings(log.AgentNames)

	sortEntries(log.Entries)
	return log, nil
}

func sortEntries(entries []types.TrajectoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})
}

var (
	atNameRe  = regexp.MustCompile(`@(\S+)\s+subagent`)
	forNameRe = regexp.MustCompile(`(?i)child session.*\bfor\s+([A-Za-z0-9_-]+)`)
)

// agentNameFromTitle extracts a sub-agent's display name from its session
// title (the "@name subagent" and "child session ... for name" forms used
// when dispatching sub-agents), falling back to "subagent".
func agentNameFromTitle(title string) string {
	if m := atNameRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	if m := forNameRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSuffix(m[1], ".")
	}
	return "subagent"
}
