// Package types provides the core data types shared across the
// orchestration core.
package types

// Session represents a conversation session with the LLM.
type Session struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"projectID"`
	Directory    string         `json:"directory"`
	ParentID     *string        `json:"parentID,omitempty"`
	Title        string         `json:"title"`
	Version      string         `json:"version"`
	Summary      SessionSummary `json:"summary"`
	Time         SessionTime    `json:"time"`
	CustomPrompt *CustomPrompt  `json:"customPrompt,omitempty"`

	// Compaction carries the summary that replaced messages trimmed from
	// this session's history, injected into future completion requests.
	Compaction *CompactionSummary `json:"compaction,omitempty"`

	// Permission is an ordered list of rules evaluated by the dispatcher
	// and permission engine (e.g. denying the task/todo tools on a child
	// session, or granting external_directory under the engagement root).
	Permission []PermissionRule `json:"permission,omitempty"`
}

// PermissionRule is one entry of a session's permission ruleset.
type PermissionRule struct {
	Permission string `json:"permission"` // permission type, or tool/subagent name
	Pattern    string `json:"pattern,omitempty"`
	Action     string `json:"action"` // "allow" | "deny" | "ask"
}

// SessionSummary contains statistics about code changes in a session.
type SessionSummary struct {
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Files     int        `json:"files"`
	Diffs     []FileDiff `json:"diffs,omitempty"`
}

// FileDiff represents a diff for a single file.
type FileDiff struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// SessionTime contains timestamps for a session.
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Compacting *int64 `json:"compacting,omitempty"`
}

// CompactionSummary records the outcome of a history compaction.
type CompactionSummary struct {
	Summary string `json:"summary"`
	Count   int    `json:"count"` // messages replaced by the summary
	Time    int64  `json:"time"`
}

// CustomPrompt represents a custom system prompt configuration.
type CustomPrompt struct {
	Type      string            `json:"type"` // "file" | "inline"
	Value     string            `json:"value"`
	LoadedAt  *int64            `json:"loadedAt,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}
