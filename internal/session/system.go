package session

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/opsploit/core/pkg/types"
)

// SystemPrompt builds the system prompt for the LLM.
type SystemPrompt struct {
	session    *types.Session
	agent      *Agent
	modelID    string
	providerID string
}

// NewSystemPrompt creates a new system prompt builder.
func NewSystemPrompt(session *types.Session, agent *Agent, providerID, modelID string) *SystemPrompt {
	return &SystemPrompt{
		session:    session,
		agent:      agent,
		modelID:    modelID,
		providerID: providerID,
	}
}

// Build constructs the complete system prompt.
func (s *SystemPrompt) Build() string {
	var parts []string

	// 1. Provider-specific header
	if header := s.providerHeader(); header != "" {
		parts = append(parts, header)
	}

	// 2. Base agent prompt
	if s.agent != nil && s.agent.Prompt != "" {
		parts = append(parts, s.agent.Prompt)
	}

	// 3. Engagement scope reminder
	parts = append(parts, scopeReminder)

	// 4. Environment context
	parts = append(parts, s.environmentContext())

	// 5. Custom rules of engagement
	if rules := s.loadCustomRules(); rules != "" {
		parts = append(parts, rules)
	}

	// 6. Tool instructions
	if toolInstructions := s.toolInstructions(); toolInstructions != "" {
		parts = append(parts, toolInstructions)
	}

	return strings.Join(parts, "\n\n")
}

// providerHeader returns the provider-specific system header.
func (s *SystemPrompt) providerHeader() string {
	switch s.providerID {
	case "anthropic":
		return `You are Claude, an AI assistant made by Anthropic, operating as part of an
authorized penetration-testing engagement. You have access to tools that can read,
write, and execute commands. Use them only against in-scope targets.`

	case "openai":
		return `You are a helpful AI assistant supporting an authorized penetration-testing
engagement, with access to tools for reading, writing, and executing commands.
Use tools only against in-scope targets.`

	case "google":
		return `You are a helpful AI assistant with tool access, supporting an authorized
penetration-testing engagement. Act only against in-scope targets.`

	default:
		return ""
	}
}

// scopeReminder is included in every prompt regardless of agent.
const scopeReminder = `# Engagement Scope

All activity in this session is part of a contracted, authorized security
assessment. Stay within the engagement's declared scope. If an action would
touch an out-of-scope system, stop and say so instead of proceeding.`

// environmentContext returns environment information.
func (s *SystemPrompt) environmentContext() string {
	var env strings.Builder

	env.WriteString("# Environment Information\n\n")

	workDir := ""
	if s.session != nil {
		workDir = s.session.Directory
	}
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	env.WriteString(fmt.Sprintf("Working Directory: %s\n", workDir))
	env.WriteString(fmt.Sprintf("Current Date: %s\n", time.Now().Format("2006-01-02")))
	env.WriteString(fmt.Sprintf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH))

	if s.session != nil && s.session.Title != "" {
		env.WriteString(fmt.Sprintf("Session: %s\n", s.session.Title))
	}

	return env.String()
}

// loadCustomRules loads rules of engagement from the well-known locations.
func (s *SystemPrompt) loadCustomRules() string {
	workDir := ""
	if s.session != nil {
		workDir = s.session.Directory
	}
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	locations := []string{
		filepath.Join(workDir, "AGENTS.md"),
		filepath.Join(workDir, "SCOPE.md"),
		filepath.Join(workDir, ".opsploit", "rules.md"),
	}

	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations,
			filepath.Join(home, ".config", "opsploit", "rules.md"),
		)
	}

	for _, loc := range locations {
		if content, err := os.ReadFile(loc); err == nil && len(content) > 0 {
			return fmt.Sprintf("# Rules of Engagement\n\n%s", string(content))
		}
	}

	return ""
}

// toolInstructions returns general tool usage guidelines.
func (s *SystemPrompt) toolInstructions() string {
	return `# Tool Usage Guidelines

1. **Structured Reasoning**
   - Before each tool call, emit a <thought>...</thought><verify>...</verify>
     block stating what you expect and how you will check it
   - Record confirmed findings in the engagement state, not just in prose

2. **Shell Commands**
   - Include a short description for every command
   - Prefer the least intrusive technique that answers the question
   - Never re-run an identical command hoping for a different result

3. **Files**
   - Read files before editing them; always use absolute paths
   - Store loot and evidence under the session directory's artifacts/

4. **Search**
   - Use glob for file discovery and grep for content search
   - Be specific with patterns to avoid noise`
}

// BuildSystemMessage creates a formatted system message from the prompt.
func (s *SystemPrompt) BuildSystemMessage() string {
	return s.Build()
}

// WithCustomPrompt adds a custom prompt override.
func (s *SystemPrompt) WithCustomPrompt(custom *types.CustomPrompt) *SystemPrompt {
	if custom == nil {
		return s
	}

	switch custom.Type {
	case "file":
		if content, err := os.ReadFile(custom.Value); err == nil {
			if s.agent == nil {
				s.agent = DefaultAgent()
			}
			s.agent.Prompt = s.replaceVariables(string(content), custom.Variables)
		}
	case "inline":
		if s.agent == nil {
			s.agent = DefaultAgent()
		}
		s.agent.Prompt = s.replaceVariables(custom.Value, custom.Variables)
	}

	return s
}

// replaceVariables replaces template variables in the prompt.
func (s *SystemPrompt) replaceVariables(prompt string, vars map[string]string) string {
	result := prompt
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}
