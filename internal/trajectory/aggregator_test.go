package trajectory

import (
	"context"
	"strings"
	"testing"

	"github.com/opsploit/core/internal/hierarchy"
	"github.com/opsploit/core/internal/session"
	"github.com/opsploit/core/internal/storage"
	"github.com/opsploit/core/pkg/types"
)

func newTestFixture(t *testing.T) (*session.Service, *storage.Storage) {
	t.Helper()
	store := storage.New(t.TempDir())
	return session.NewService(store), store
}

func putPart(t *testing.T, store *storage.Storage, msgID string, part types.Part) {
	t.Helper()
	if err := store.Put(context.Background(), []string{"part", msgID, part.PartID()}, part); err != nil {
		t.Fatalf("put part: %v", err)
	}
}

func TestFromSessionOrdersAndLinksTVARToTool(t *testing.T) {
	svc, store := newTestFixture(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "/work", "master")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg := &types.Message{ID: "msg1", SessionID: sess.ID, Role: "assistant", Time: types.MessageTime{Created: 1000}}
	if err := svc.AddMessage(ctx, sess.ID, msg); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	toolStart := int64(1500)
	toolEnd := int64(2000)
	toolPart := &types.ToolPart{
		ID: "part-tool", SessionID: sess.ID, MessageID: msg.ID, Type: "tool",
		CallID: "call-1", Tool: "nmap",
		State: types.ToolState{Status: "completed", Time: &types.ToolTime{Start: toolStart, End: &toolEnd}},
	}
	putPart(t, store, msg.ID, toolPart)

	tvarStart := int64(1200)
	tvarPart := &types.TVARPart{
		ID: "part-tvar", SessionID: sess.ID, MessageID: msg.ID, Type: "tvar",
		Thought: "scan the host", Verify: "ports discovered", ToolCallID: "call-1",
		Phase: "reconnaissance",
		Time:  types.PartTime{Start: &tvarStart},
	}
	putPart(t, store, msg.ID, tvarPart)

	agg := New(svc, hierarchy.NewRegistry())
	traj, err := agg.FromSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("FromSession: %v", err)
	}

	if len(traj.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(traj.Steps))
	}
	if traj.Steps[0].Kind != "tvar" || traj.Steps[0].Timestamp != tvarStart {
		t.Fatalf("step 0 = %+v, want the tvar entry first (earlier timestamp)", traj.Steps[0])
	}
	if traj.Steps[0].Tool != "nmap" || traj.Steps[0].ToolStatus != "completed" {
		t.Fatalf("tvar entry not linked to its tool call: %+v", traj.Steps[0])
	}
	if traj.Steps[1].Kind != "tool" || traj.Steps[1].DurationMs == nil || *traj.Steps[1].DurationMs != 500 {
		t.Fatalf("step 1 = %+v, want tool entry with 500ms duration", traj.Steps[1])
	}
}

func TestFromEngagementSortsAcrossSessionTree(t *testing.T) {
	svc, store := newTestFixture(t)
	ctx := context.Background()
	tree := hierarchy.NewRegistry()

	root, err := svc.Create(ctx, "/work", "master")
	if err != nil {
		t.Fatalf("Create root: %v", err)
	}
	tree.Register(root.ID, "")

	child1, err := svc.Create(ctx, "/work", "@recon subagent")
	if err != nil {
		t.Fatalf("Create child1: %v", err)
	}
	tree.Register(child1.ID, root.ID)

	child2, err := svc.Create(ctx, "/work", "@enum subagent")
	if err != nil {
		t.Fatalf("Create child2: %v", err)
	}
	tree.Register(child2.ID, root.ID)

	addTVAR := func(sessID, msgID string, ts int64) {
		msg := &types.Message{ID: msgID, SessionID: sessID, Role: "assistant", Time: types.MessageTime{Created: ts}}
		if err := svc.AddMessage(ctx, sessID, msg); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
		putPart(t, store, msgID, &types.TVARPart{
			ID: msgID + "-tvar", SessionID: sessID, MessageID: msgID, Type: "tvar",
			Thought: "thought", Verify: "verify",
			Time: types.PartTime{Start: &ts},
		})
	}

	addTVAR(root.ID, "m0", 100)
	addTVAR(child1.ID, "m1", 200)
	addTVAR(child2.ID, "m2", 300)

	agg := New(svc, tree)
	log, err := agg.FromEngagement(ctx, root.ID)
	if err != nil {
		t.Fatalf("FromEngagement: %v", err)
	}

	if len(log.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(log.Entries))
	}
	wantOrder := []struct {
		agent string
		ts    int64
	}{
		{"master", 100}, {"recon", 200}, {"enum", 300},
	}
	for i, want := range wantOrder {
		if log.Entries[i].AgentName != want.agent || log.Entries[i].Timestamp != want.ts {
			t.Fatalf("entry %d = %+v, want agent=%s ts=%d", i, log.Entries[i], want.agent, want.ts)
		}
	}
	if log.TotalAgents != 3 {
		t.Fatalf("TotalAgents = %d, want 3", log.TotalAgents)
	}
}

func TestFormatEngagementLogBlanksRepeatedAgent(t *testing.T) {
	log := &types.EngagementLog{
		Entries: []types.TrajectoryEntry{
			{Timestamp: 1, AgentName: "master", Summary: "first"},
			{Timestamp: 2, AgentName: "master", Summary: "second"},
			{Timestamp: 3, AgentName: "recon", Summary: "third"},
		},
		AgentNames: []string{"master", "recon"},
	}
	out := FormatEngagementLog(log)
	if out == "" {
		t.Fatal("expected non-empty formatted output")
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 || !strings.Contains(lines[0], "master") || strings.Contains(lines[1], "master") || !strings.Contains(lines[2], "recon") {
		t.Fatalf("expected the repeated agent name blanked on the second line, got:\n%s", out)
	}
}
