package types

import "encoding/json"

// Part represents a component of an assistant message. Every kind shares
// the id/sessionID/messageID envelope.
type Part interface {
	PartType() string
	PartID() string
	PartSessionID() string
	PartMessageID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents a text content part.
type TextPart struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID"`
	Type      string         `json:"type"` // always "text"
	Text      string         `json:"text"`
	Time      PartTime       `json:"time,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (p *TextPart) PartType() string      { return "text" }
func (p *TextPart) PartID() string        { return p.ID }
func (p *TextPart) PartSessionID() string { return p.SessionID }
func (p *TextPart) PartMessageID() string { return p.MessageID }

// ReasoningPart represents extended thinking/reasoning content.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "reasoning"
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartType() string      { return "reasoning" }
func (p *ReasoningPart) PartID() string        { return p.ID }
func (p *ReasoningPart) PartSessionID() string { return p.SessionID }
func (p *ReasoningPart) PartMessageID() string { return p.MessageID }

// ToolTime records when a tool call started and (if finished) ended.
type ToolTime struct {
	Start int64  `json:"start"`
	End   *int64 `json:"end,omitempty"`
}

// ToolState is the tagged-variant state of a tool call:
// pending | running{input} | completed{input,output,metadata,title,attachments} | error{input,error}.
// Status carries the tag; the remaining fields are populated according to it.
type ToolState struct {
	Status      string            `json:"status"` // "pending" | "running" | "completed" | "error"
	Input       map[string]any    `json:"input,omitempty"`
	Raw         string            `json:"raw,omitempty"` // accumulating raw JSON while streaming
	Output      string            `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	Title       string            `json:"title,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Attachments []FilePart        `json:"attachments,omitempty"`
	Time        *ToolTime         `json:"time,omitempty"`
}

// Regress guards against a completed/error tool state being overwritten by a
// stale pending/running transition arriving out of order.
func (s *ToolState) Regress(next string) bool {
	rank := map[string]int{"pending": 0, "running": 1, "completed": 2, "error": 2}
	return rank[next] < rank[s.Status]
}

// ToolPart represents a tool call and its result.
type ToolPart struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionID"`
	MessageID string    `json:"messageID"`
	Type      string    `json:"type"` // always "tool"
	CallID    string    `json:"callID"`
	Tool      string    `json:"tool"`
	State     ToolState `json:"state"`
}

func (p *ToolPart) PartType() string      { return "tool" }
func (p *ToolPart) PartID() string        { return p.ID }
func (p *ToolPart) PartSessionID() string { return p.SessionID }
func (p *ToolPart) PartMessageID() string { return p.MessageID }

// FilePart represents a file attachment.
type FilePart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"` // always "file"
	Filename  string `json:"filename"`
	Mime      string `json:"mime"`
	URL       string `json:"url"`
}

func (p *FilePart) PartType() string      { return "file" }
func (p *FilePart) PartID() string        { return p.ID }
func (p *FilePart) PartSessionID() string { return p.SessionID }
func (p *FilePart) PartMessageID() string { return p.MessageID }

// TVARPart is a parsed structured-reasoning block: Thought, Verify, an
// optional Action, and an optional Result, classified into one of the
// five engagement phases and optionally linked to the tool call it led to.
type TVARPart struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"sessionID"`
	MessageID  string  `json:"messageID"`
	Type       string  `json:"type"` // always "tvar"
	Thought    string  `json:"thought"`
	Verify     string  `json:"verify"`
	Action     string  `json:"action,omitempty"`
	Result     string  `json:"result,omitempty"`
	Phase      string  `json:"phase,omitempty"`
	ToolCallID string  `json:"toolCallID,omitempty"`
	Time       PartTime `json:"time,omitempty"`
}

func (p *TVARPart) PartType() string      { return "tvar" }
func (p *TVARPart) PartID() string        { return p.ID }
func (p *TVARPart) PartSessionID() string { return p.SessionID }
func (p *TVARPart) PartMessageID() string { return p.MessageID }

// SnapshotRef is an opaque handle returned by the snapshot collaborator,
// carried on step-start so the matching step-finish can diff against it.
type SnapshotRef struct {
	Handle string `json:"handle"`
}

// StepStartPart marks the beginning of one model step within an assistant
// message, optionally carrying a workspace snapshot handle.
type StepStartPart struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionID"`
	MessageID string       `json:"messageID"`
	Type      string       `json:"type"` // always "step-start"
	Snapshot  *SnapshotRef `json:"snapshot,omitempty"`
}

func (p *StepStartPart) PartType() string      { return "step-start" }
func (p *StepStartPart) PartID() string        { return p.ID }
func (p *StepStartPart) PartSessionID() string { return p.SessionID }
func (p *StepStartPart) PartMessageID() string { return p.MessageID }

// StepFinishPart marks the end of one model step, carrying the finish
// reason and the step's token/cost usage.
type StepFinishPart struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	MessageID string      `json:"messageID"`
	Type      string      `json:"type"` // always "step-finish"
	Reason    string      `json:"reason"`
	Cost      float64     `json:"cost,omitempty"`
	Tokens    *TokenUsage `json:"tokens,omitempty"`
}

func (p *StepFinishPart) PartType() string      { return "step-finish" }
func (p *StepFinishPart) PartID() string        { return p.ID }
func (p *StepFinishPart) PartSessionID() string { return p.SessionID }
func (p *StepFinishPart) PartMessageID() string { return p.MessageID }

// PatchPart carries a filesystem diff produced between a step-start and
// its step-finish, when the workspace snapshot diff was non-empty.
type PatchPart struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionID"`
	MessageID string     `json:"messageID"`
	Type      string     `json:"type"` // always "patch"
	Hash      string     `json:"hash,omitempty"`
	Files     []FileDiff `json:"files"`
}

func (p *PatchPart) PartType() string      { return "patch" }
func (p *PatchPart) PartID() string        { return p.ID }
func (p *PatchPart) PartSessionID() string { return p.SessionID }
func (p *PatchPart) PartMessageID() string { return p.MessageID }

// CompactionPart is a user-message part that requests the conversation be
// summarized and replaced with a shorter context going forward. Auto
// distinguishes a threshold-triggered compaction from one the user asked for
// explicitly via the compact command.
type CompactionPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"` // always "compaction"
	Summary   string `json:"summary,omitempty"`
	Count     int    `json:"count,omitempty"`
	Auto      bool   `json:"auto,omitempty"`
}

func (p *CompactionPart) PartType() string      { return "compaction" }
func (p *CompactionPart) PartID() string        { return p.ID }
func (p *CompactionPart) PartSessionID() string { return p.SessionID }
func (p *CompactionPart) PartMessageID() string { return p.MessageID }

// RawPart is used for JSON unmarshaling of parts.
type RawPart struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// UnmarshalPart unmarshals a JSON part into the appropriate type.
func UnmarshalPart(data []byte) (Part, error) {
	var raw RawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "reasoning":
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool":
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "file":
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tvar":
		var p TVARPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "step-start":
		var p StepStartPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "step-finish":
		var p StepFinishPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "patch":
		var p PatchPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "compaction":
		var p CompactionPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		// Unknown part types degrade to text rather than failing the scan.
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
}
