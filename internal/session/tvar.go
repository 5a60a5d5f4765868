package session

import (
	"context"
	"time"

	"github.com/opsploit/core/internal/event"
	"github.com/opsploit/core/internal/logging"
	"github.com/opsploit/core/internal/tvar"
	"github.com/opsploit/core/pkg/types"
)

// processTVARBlocks extracts thought/verify/action/result blocks out of a
// just-finalized text part, emits one TVARPart per block, inserts them into
// state.parts right after the text part they came from, and strips the
// parsed ranges out of the text part's final text.
func (p *Processor) processTVARBlocks(ctx context.Context, state *sessionState, textPart *types.TextPart) {
	blocks := tvar.Parse(textPart.Text)
	if len(blocks) == 0 {
		return
	}

	insertAt := -1
	for i, part := range state.parts {
		if tp, ok := part.(*types.TextPart); ok && tp.ID == textPart.ID {
			insertAt = i
			break
		}
	}

	tvarParts := make([]types.Part, 0, len(blocks))
	for _, b := range blocks {
		now := time.Now().UnixMilli()
		tp := &types.TVARPart{
			ID:        generatePartID(),
			SessionID: state.message.SessionID,
			MessageID: state.message.ID,
			Type:      "tvar",
			Thought:   b.Thought,
			Verify:    b.Verify,
			Action:    b.Action,
			Result:    b.Result,
			Phase:     b.Phase,
			Time:      types.PartTime{Start: &now, End: &now},
		}
		p.savePart(ctx, state.message.ID, tp)
		event.Publish(event.Event{
			Type: event.PartUpdated,
			Data: event.PartUpdatedData{Part: tp},
		})
		tvarParts = append(tvarParts, tp)
	}

	if insertAt >= 0 {
		tail := append([]types.Part{}, state.parts[insertAt+1:]...)
		state.parts = append(state.parts[:insertAt+1], append(tvarParts, tail...)...)
	} else {
		state.parts = append(state.parts, tvarParts...)
	}

	textPart.Text = tvar.Strip(textPart.Text, blocks)
	p.savePart(ctx, state.message.ID, textPart)
}

// linkTVARToToolCalls walks state.parts in emission order and, at each
// unclaimed tool call, attaches the most recent preceding TVAR part whose
// ToolCallID is still unset, matching how a TVAR block precedes the tool
// call it justifies. A step may carry several TVAR blocks ahead of several
// tool calls (parallel tool-calling), so every unset TVAR stays eligible
// until a call claims it. A tool call with no unset TVAR before it logs a
// warning; the link is optional and its absence recoverable. Linked parts
// are re-saved and re-published.
func (p *Processor) linkTVARToToolCalls(ctx context.Context, state *sessionState) {
	// Call IDs already claimed by a TVAR from an earlier step.
	claimed := make(map[string]bool)
	for _, part := range state.parts {
		if tv, ok := part.(*types.TVARPart); ok && tv.ToolCallID != "" {
			claimed[tv.ToolCallID] = true
		}
	}

	for i, part := range state.parts {
		toolPart, ok := part.(*types.ToolPart)
		if !ok || toolPart.CallID == "" || claimed[toolPart.CallID] {
			continue
		}

		var match *types.TVARPart
		for j := i - 1; j >= 0; j-- {
			if tv, ok := state.parts[j].(*types.TVARPart); ok && tv.ToolCallID == "" {
				match = tv
				break
			}
		}
		if match == nil {
			logging.Warn().
				Str("tool", toolPart.Tool).
				Str("callID", toolPart.CallID).
				Msg("no unlinked TVAR block precedes tool call")
			continue
		}

		match.ToolCallID = toolPart.CallID
		claimed[toolPart.CallID] = true
		p.savePart(ctx, state.message.ID, match)
		event.Publish(event.Event{
			Type: event.PartUpdated,
			Data: event.PartUpdatedData{Part: match},
		})
	}
}
