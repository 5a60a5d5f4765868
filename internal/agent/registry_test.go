package agent

import (
	"testing"

	"github.com/opsploit/core/internal/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	// Should have built-in agents
	assert.True(t, r.Exists("operator"))
	assert.True(t, r.Exists("general"))
	assert.True(t, r.Exists("pentest/recon"))
	assert.True(t, r.Exists("pentest/enum"))
	assert.True(t, r.Exists("pentest/exploit"))
	assert.True(t, r.Exists("pentest/post-exploit"))
	assert.True(t, r.Exists("pentest/report"))
	assert.Equal(t, 7, r.Count())
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	// Get existing agent
	agent, err := r.Get("operator")
	require.NoError(t, err)
	assert.Equal(t, "operator", agent.Name)

	// Get non-existing agent
	_, err = r.Get("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "agent not found")
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	customAgent := &Agent{
		Name:        "custom",
		Description: "Custom agent",
		Mode:        ModeSubagent,
	}

	r.Register(customAgent)

	// Verify it was added
	agent, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", agent.Name)
	assert.Equal(t, "Custom agent", agent.Description)
	assert.Equal(t, 8, r.Count())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()

	// Add and then remove an agent
	r.Register(&Agent{Name: "temp"})
	assert.True(t, r.Exists("temp"))

	r.Unregister("temp")
	assert.False(t, r.Exists("temp"))
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()

	agents := r.List()
	assert.Len(t, agents, 7)

	// Verify all built-in agents are in the list
	names := make(map[string]bool)
	for _, a := range agents {
		names[a.Name] = true
	}
	assert.True(t, names["operator"])
	assert.True(t, names["general"])
	assert.True(t, names["pentest/recon"])
	assert.True(t, names["pentest/report"])
}

func TestRegistry_ListPrimary(t *testing.T) {
	r := NewRegistry()

	primary := r.ListPrimary()

	// operator is the only primary
	assert.GreaterOrEqual(t, len(primary), 1)

	for _, a := range primary {
		assert.True(t, a.IsPrimary())
	}
}

func TestRegistry_ListSubagents(t *testing.T) {
	r := NewRegistry()

	subagents := r.ListSubagents()

	// general and the pentest phases are subagents
	assert.GreaterOrEqual(t, len(subagents), 6)

	for _, a := range subagents {
		assert.True(t, a.IsSubagent())
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()

	names := r.Names()
	assert.Len(t, names, 7)
	assert.Contains(t, names, "operator")
	assert.Contains(t, names, "general")
	assert.Contains(t, names, "pentest/exploit")
}

func TestRegistry_LoadFromConfig(t *testing.T) {
	r := NewRegistry()

	config := map[string]AgentConfig{
		// Modify existing agent
		"operator": {
			Temperature: 0.5,
			Model: &ModelRef{
				ProviderID: "openai",
				ModelID:    "gpt-4",
			},
		},
		// Add new agent
		"custom-agent": {
			Description: "My custom agent",
			Mode:        ModeSubagent,
			Tools: map[string]bool{
				"read": true,
				"edit": false,
			},
			Permission: &AgentPermissionConfig{
				Edit: permission.ActionDeny,
				Bash: map[string]permission.PermissionAction{
					"ls*": permission.ActionAllow,
					"*":   permission.ActionDeny,
				},
			},
		},
	}

	r.LoadFromConfig(config)

	// Verify modified agent
	operator, err := r.Get("operator")
	require.NoError(t, err)
	assert.Equal(t, 0.5, operator.Temperature)
	assert.NotNil(t, operator.Model)
	assert.Equal(t, "openai", operator.Model.ProviderID)
	assert.Equal(t, "gpt-4", operator.Model.ModelID)
	assert.False(t, operator.BuiltIn) // Mark as customized

	// Verify new agent
	custom, err := r.Get("custom-agent")
	require.NoError(t, err)
	assert.Equal(t, "My custom agent", custom.Description)
	assert.Equal(t, ModeSubagent, custom.Mode)
	assert.True(t, custom.Tools["read"])
	assert.False(t, custom.Tools["edit"])
	assert.Equal(t, permission.ActionDeny, custom.Permission.Edit)
	assert.Equal(t, permission.ActionAllow, custom.Permission.Bash["ls*"])
	assert.Equal(t, permission.ActionDeny, custom.Permission.Bash["*"])
}

func TestRegistry_LoadFromConfig_MergesPermissions(t *testing.T) {
	r := NewRegistry()

	// Get original recon agent permissions
	original, _ := r.Get("pentest/recon")
	originalBashCount := len(original.Permission.Bash)

	config := map[string]AgentConfig{
		"pentest/recon": {
			Permission: &AgentPermissionConfig{
				Bash: map[string]permission.PermissionAction{
					"masscan *": permission.ActionAllow,
				},
			},
		},
	}

	r.LoadFromConfig(config)

	recon, _ := r.Get("pentest/recon")

	// Should have original permissions plus new one
	assert.GreaterOrEqual(t, len(recon.Permission.Bash), originalBashCount)
	assert.Equal(t, permission.ActionAllow, recon.Permission.Bash["masscan *"])
}

func TestRegistry_Concurrency(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool, 100)

	// Concurrent reads
	for i := 0; i < 50; i++ {
		go func() {
			_, _ = r.Get("operator")
			r.List()
			r.Names()
			r.Count()
			done <- true
		}()
	}

	// Concurrent writes
	for i := 0; i < 50; i++ {
		go func(i int) {
			r.Register(&Agent{Name: "concurrent"})
			r.Unregister("concurrent")
			done <- true
		}(i)
	}

	// Wait for all goroutines
	for i := 0; i < 100; i++ {
		<-done
	}
}
