package types

// TrajectoryEntry is one reasoning or tool event in an aggregated,
// timestamp-sorted timeline spanning a whole session tree.
type TrajectoryEntry struct {
	Timestamp  int64          `json:"timestamp"`
	AgentName  string         `json:"agentName"`
	SessionID  string         `json:"sessionID"`
	Kind       string         `json:"kind"` // "tvar" | "tool"
	Phase      string         `json:"phase,omitempty"`
	Summary    string         `json:"summary"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMs *int64         `json:"durationMs,omitempty"`

	// Tool and ToolStatus are populated directly for a "tool" entry, and
	// attached from the linked tool call for a "tvar" entry that carries a
	// ToolCallID.
	Tool       string `json:"tool,omitempty"`
	ToolStatus string `json:"toolStatus,omitempty"`
}

// SessionTrajectory is the ordered log of one session's TVAR and tool
// events, as produced by trajectory.FromSession.
type SessionTrajectory struct {
	SessionID string            `json:"sessionID"`
	Model     string            `json:"model,omitempty"`
	StartTime int64             `json:"startTime"`
	EndTime   *int64            `json:"endTime,omitempty"`
	Steps     []TrajectoryEntry `json:"steps"`
}

// EngagementLog is the aggregated, timestamp-sorted timeline across a
// whole session tree, as produced by trajectory.FromEngagement.
type EngagementLog struct {
	RootID          string            `json:"rootID"`
	Entries         []TrajectoryEntry `json:"entries"`
	TotalAgents     int               `json:"totalAgents"`
	AgentNames      []string          `json:"agentNames"`
	ToolCalls       int               `json:"toolCalls"`
	SuccessfulTools int               `json:"successfulTools"`
	FailedTools     int               `json:"failedTools"`
	Phases          map[string]int    `json:"phases"`
}
