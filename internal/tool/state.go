package tool

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"gopkg.in/yaml.v3"

	"github.com/opsploit/core/internal/engagement"
	"github.com/opsploit/core/pkg/types"
)

const stateUpdateDescription = `Records findings in the shared engagement state.

The state is a YAML document owned by the root of the session tree and visible
to every agent working the engagement. Pass only the fields you discovered;
they are merged into the existing document:
- ports are deduplicated by (port, protocol), credentials by (username, service),
  sessions by id; on a duplicate the incoming fields win per-field
- flags is a set; vulnerabilities, files, failedAttempts and notes append
- scalars (accessLevel, phase) and target fields replace the stored value

Record findings as soon as they are confirmed so sibling agents can build on them.`

const stateReadDescription = `Reads the shared engagement state for this session tree.

Returns the full YAML document: target, ports, credentials, vulnerabilities,
sessions, files, failedAttempts, accessLevel, flags, phase and notes.`

// StateUpdateTool merges partial findings into the engagement state.
type StateUpdateTool struct {
	store *engagement.Store
}

// NewStateUpdateTool creates a state_update tool over store.
func NewStateUpdateTool(store *engagement.Store) *StateUpdateTool {
	return &StateUpdateTool{store: store}
}

func (t *StateUpdateTool) ID() string          { return "state_update" }
func (t *StateUpdateTool) Description() string { return stateUpdateDescription }

func (t *StateUpdateTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"state": {
				"type": "object",
				"description": "Partial engagement state to merge: any of target, ports, credentials, vulnerabilities, sessions, files, failedAttempts, accessLevel, flags, phase, notes"
			}
		},
		"required": ["state"]
	}`)
}

func (t *StateUpdateTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	var partial types.EngagementState
	if err := yaml.Unmarshal(params.State, &partial); err != nil {
		return nil, fmt.Errorf("invalid state document: %w", err)
	}

	if toolCtx == nil || toolCtx.SessionID == "" {
		return nil, fmt.Errorf("state_update requires a session context")
	}

	merged, err := t.store.Update(toolCtx.SessionID, &partial)
	if err != nil {
		return nil, err
	}

	out, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged state: %w", err)
	}

	return &Result{
		Title:  "Engagement state updated",
		Output: string(out),
		Metadata: map[string]any{
			"ports":       len(merged.Ports),
			"credentials": len(merged.Credentials),
			"flags":       len(merged.Flags),
		},
	}, nil
}

func (t *StateUpdateTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}

// StateReadTool returns the current engagement state.
type StateReadTool struct {
	store *engagement.Store
}

// NewStateReadTool creates a state_read tool over store.
func NewStateReadTool(store *engagement.Store) *StateReadTool {
	return &StateReadTool{store: store}
}

func (t *StateReadTool) ID() string          { return "state_read" }
func (t *StateReadTool) Description() string { return stateReadDescription }

func (t *StateReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {}
	}`)
}

func (t *StateReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	if toolCtx == nil || toolCtx.SessionID == "" {
		return nil, fmt.Errorf("state_read requires a session context")
	}

	state, err := t.store.Read(toolCtx.SessionID)
	if err != nil {
		return nil, err
	}

	if state.IsEmpty() {
		return &Result{
			Title:  "Engagement state",
			Output: "No findings recorded yet.",
		}, nil
	}

	out, err := yaml.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	return &Result{
		Title:  "Engagement state",
		Output: string(out),
	}, nil
}

func (t *StateReadTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t}
}
