package session

// Agent is the processing configuration one loop run executes under: the
// system prompt, sampling parameters, tool set, and permission policy.
type Agent struct {
	// Name is the agent identifier.
	Name string `json:"name"`

	// Prompt is the base system prompt for this agent.
	Prompt string `json:"prompt"`

	// Temperature for LLM sampling.
	Temperature float64 `json:"temperature,omitempty"`

	// TopP for nucleus sampling.
	TopP float64 `json:"topP,omitempty"`

	// MaxSteps is the maximum number of agentic loop iterations.
	MaxSteps int `json:"maxSteps,omitempty"`

	// Tools is the list of enabled tool IDs.
	Tools []string `json:"tools,omitempty"`

	// DisabledTools is the list of disabled tool IDs.
	DisabledTools []string `json:"disabledTools,omitempty"`

	// Permission contains permission policy for this agent.
	Permission AgentPermission `json:"permission,omitempty"`

	// ContinueLoopOnDeny keeps the loop running after a rejected
	// permission, failing only the one tool call. Off by default: a
	// denial stops the loop.
	ContinueLoopOnDeny bool `json:"continueLoopOnDeny,omitempty"`
}

// AgentPermission defines permission policies for an agent. Each value is
// "allow", "deny", or "ask" (the default).
type AgentPermission struct {
	// DoomLoop defines how to handle repeated identical tool calls.
	DoomLoop string `json:"doomLoop,omitempty"`

	// Bash defines the permission policy for shell commands.
	Bash string `json:"bash,omitempty"`

	// Write defines the permission policy for file writes.
	Write string `json:"write,omitempty"`

	// WebFetch defines the permission policy for outbound fetches.
	WebFetch string `json:"webfetch,omitempty"`
}

// EnsurePrimaryTools keeps the named tools available even when the
// profile disables them or restricts Tools to an explicit set.
func (a *Agent) EnsurePrimaryTools(primary []string) {
	for _, pt := range primary {
		kept := a.DisabledTools[:0]
		for _, dt := range a.DisabledTools {
			if dt != pt {
				kept = append(kept, dt)
			}
		}
		a.DisabledTools = kept

		if len(a.Tools) > 0 && !contains(a.Tools, pt) {
			a.Tools = append(a.Tools, pt)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ToolEnabled returns whether a tool is enabled for this agent.
func (a *Agent) ToolEnabled(toolID string) bool {
	for _, disabled := range a.DisabledTools {
		if disabled == toolID {
			return false
		}
	}

	// If Tools is empty, all tools are enabled
	if len(a.Tools) == 0 {
		return true
	}

	for _, enabled := range a.Tools {
		if enabled == toolID {
			return true
		}
	}

	return false
}

// DefaultAgent returns the default processing configuration: everything
// gated behind an ask.
func DefaultAgent() *Agent {
	return &Agent{
		Name:        "default",
		Temperature: 0.7,
		TopP:        1.0,
		MaxSteps:    50,
		Permission: AgentPermission{
			DoomLoop: "ask",
			Bash:     "ask",
			Write:    "ask",
		},
	}
}

// OperatorAgent returns the configuration for the root operator session
// driving an engagement: full tool access, every action surfaced for
// approval.
func OperatorAgent() *Agent {
	return &Agent{
		Name:        "operator",
		Temperature: 0.3,
		TopP:        0.95,
		MaxSteps:    100,
		Prompt: `You are the lead operator of an authorized penetration-testing engagement.
Work methodically: confirm scope before acting, record every finding in the engagement
state, and prefer the least intrusive technique that answers the current question.
Dispatch specialized sub-agents for self-contained recon or exploitation tasks.`,
		Permission: AgentPermission{
			DoomLoop: "ask",
			Bash:     "ask",
			Write:    "allow",
		},
	}
}

// ReportAgent returns a read-only configuration for summarizing an
// engagement: no shell, no writes.
func ReportAgent() *Agent {
	return &Agent{
		Name:        "report",
		Temperature: 0.5,
		TopP:        1.0,
		MaxSteps:    20,
		Prompt: `You are writing the findings report for a completed penetration-testing
engagement. Work only from the recorded engagement state and conversation history.
Do not run commands or modify files; your output is prose.`,
		DisabledTools: []string{"write", "bash"},
		Permission: AgentPermission{
			DoomLoop: "deny",
			Bash:     "deny",
			Write:    "deny",
		},
	}
}
