package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/opsploit/core/internal/agent"
	"github.com/opsploit/core/internal/config"
	"github.com/opsploit/core/internal/engagement"
	"github.com/opsploit/core/internal/event"
	"github.com/opsploit/core/internal/executor"
	"github.com/opsploit/core/internal/hierarchy"
	"github.com/opsploit/core/internal/mcp"
	"github.com/opsploit/core/internal/permission"
	"github.com/opsploit/core/internal/provider"
	"github.com/opsploit/core/internal/session"
	"github.com/opsploit/core/internal/storage"
	"github.com/opsploit/core/internal/tool"
	"github.com/opsploit/core/pkg/types"
)

var (
	runModel        string
	runAgent        string
	runContinue     bool
	runSession      string
	runFormat       string
	runFiles        []string
	runTitle        string
	runPrompt       string
	runPromptFile   string
	runPromptInline string
	runDir          string
	runUltrasploit  bool
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Run one engagement turn",
	Long: `Run one turn of an engagement session with the specified message.

Examples:
  opsploit run "enumerate services on 10.0.0.5"
  opsploit run --model anthropic/claude-sonnet-4 "scan the DMZ block"
  opsploit run --continue  # Continue last session
  opsploit run --ultrasploit "sweep 192.168.56.0/24"  # auto-approve everything`,
	RunE: runInteractive,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "Agent to use")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the last session")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue")
	runCmd.Flags().StringVar(&runFormat, "format", "default", "Output format (default|json)")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach to message")
	runCmd.Flags().StringVar(&runTitle, "title", "", "Session title")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "Custom prompt template")
	runCmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "Custom prompt from file")
	runCmd.Flags().StringVar(&runPromptInline, "prompt-inline", "", "Custom prompt as inline text")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
	runCmd.Flags().BoolVar(&runUltrasploit, "ultrasploit", false, "Auto-approve every permission for this session tree")
}

func runInteractive(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	if runModel != "" {
		appConfig.Model = runModel
	}

	message := strings.Join(args, " ")
	if message == "" && !runContinue && runSession == "" {
		return fmt.Errorf("message required. Usage: opsploit run \"your message\"")
	}

	store := storage.New(paths.StoragePath())

	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	toolReg := tool.DefaultRegistry(workDir)

	// Hierarchy tree tracks root/child relationships across dispatched tasks
	tree := hierarchy.NewRegistry()

	// Permission checker, bubbled to session roots via tree
	permChecker := permission.NewChecker(tree)

	// Engagement state lives under the storage path, one tree per root session
	engagementStore := engagement.New(filepath.Join(paths.StoragePath(), "engagement"), tree)
	toolReg.RegisterStateTools(engagementStore)

	// Agent registry backs the task tool's subagent dispatch
	agentReg := agent.NewRegistry()
	toolReg.RegisterTaskTool(agentReg)

	// Connected MCP servers export their tools into the same registry.
	mcpClient := mcp.NewClient()
	defer mcpClient.Close()
	for name, serverCfg := range appConfig.MCP {
		cfg := &mcp.Config{
			Enabled:     serverCfg.Enabled == nil || *serverCfg.Enabled,
			Type:        mcp.TransportType(serverCfg.Type),
			Command:     serverCfg.Command,
			URL:         serverCfg.URL,
			Headers:     serverCfg.Headers,
			Environment: serverCfg.Environment,
			Timeout:     serverCfg.Timeout,
		}
		if err := mcpClient.AddServer(ctx, name, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: MCP server %s failed to start: %v\n", name, err)
		}
	}
	mcp.RegisterMCPTools(mcpClient, toolReg)

	// Custom system prompt
	var systemPrompt string
	if runPromptFile != "" {
		data, err := os.ReadFile(runPromptFile)
		if err != nil {
			return fmt.Errorf("failed to read prompt file: %w", err)
		}
		systemPrompt = string(data)
	} else if runPromptInline != "" {
		systemPrompt = runPromptInline
	} else if runPrompt != "" {
		// Try to read as file first, then use as inline
		if data, err := os.ReadFile(runPrompt); err == nil {
			systemPrompt = string(data)
		} else {
			systemPrompt = runPrompt
		}
	}

	// File attachments are appended to the message text
	var fileContent strings.Builder
	for _, file := range runFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", file, err)
		}
		fileContent.WriteString(fmt.Sprintf("\n\n--- File: %s ---\n%s", file, string(content)))
	}
	if fileContent.Len() > 0 {
		message = message + fileContent.String()
	}

	// Default provider/model from config
	var defaultProviderID, defaultModelID string
	if appConfig.Model != "" {
		parts := strings.SplitN(appConfig.Model, "/", 2)
		if len(parts) == 2 {
			defaultProviderID = parts[0]
			defaultModelID = parts[1]
		}
	}

	// Session service owns creation, deletion, and message persistence.
	svc := session.NewServiceWithProcessor(store, providerReg, toolReg, permChecker, tree, defaultProviderID, defaultModelID)

	// Resolve or create the session to run against.
	var sess *types.Session
	switch {
	case runSession != "":
		sess, err = svc.Get(ctx, runSession)
		if err != nil {
			return fmt.Errorf("session %s not found: %w", runSession, err)
		}
	case runContinue:
		all, err := svc.List(ctx, "")
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, s := range all {
			if sess == nil || s.Time.Updated > sess.Time.Updated {
				sess = s
			}
		}
		if sess == nil {
			return fmt.Errorf("no previous session to continue")
		}
	default:
		sess, err = svc.Create(ctx, workDir, runTitle)
		if err != nil {
			return err
		}
	}

	// This session is its own root; register it before any task dispatch
	// resolves rootOf against it.
	tree.Register(sess.ID, "")

	if runUltrasploit {
		permChecker.EnableUltrasploit(sess.ID)
	}

	processor := svc.GetProcessor()

	// Spool bulky MCP raw_output payloads into the engagement root's
	// artifacts/loot directory, bubbling sub-agent sessions to their root
	// the same way the engagement store does.
	outputStore := mcp.NewOutputStore(filepath.Join(paths.StoragePath(), "engagement"), tree)
	processor.SetMCPOutputHandling(mcp.NewToolIndex(mcpClient), outputStore)

	// Wire the task tool to an executor that can actually dispatch
	// subagents, instead of returning placeholder responses.
	subExecutor := executor.NewSubagentExecutor(executor.SubagentExecutorConfig{
		Storage:           store,
		ProviderRegistry:  providerReg,
		ToolRegistry:      toolReg,
		PermissionChecker: permChecker,
		AgentRegistry:     agentReg,
		Tree:              tree,
		EngagementStore:   engagementStore,
		WorkDir:           workDir,
		DefaultProviderID: defaultProviderID,
		DefaultModelID:    defaultModelID,
	})
	toolReg.SetTaskExecutor(subExecutor)

	// Approve pending permissions from the terminal while the loop runs.
	stopPrompting := promptForPermissions(permChecker)
	defer stopPrompting()

	// Agent configuration
	sessionAgent := session.OperatorAgent()
	if runAgent != "" {
		sessionAgent.Name = runAgent
	}
	if systemPrompt != "" {
		sessionAgent.Prompt = systemPrompt
	}
	if appConfig.Experimental != nil {
		sessionAgent.ContinueLoopOnDeny = appConfig.Experimental.ContinueLoopOnDeny
		sessionAgent.EnsurePrimaryTools(appConfig.Experimental.PrimaryTools)
	}

	// Persist the user turn, then run the loop against it.
	if message != "" {
		userMsg := &types.Message{
			ID:        ulid.Make().String(),
			SessionID: sess.ID,
			Role:      "user",
			Time:      types.MessageTime{Created: time.Now().UnixMilli()},
			Path:      &types.MessagePath{Cwd: workDir, Root: workDir},
		}
		if defaultProviderID != "" {
			userMsg.Model = &types.ModelRef{ProviderID: defaultProviderID, ModelID: defaultModelID}
		}
		if err := svc.AddMessage(ctx, sess.ID, userMsg); err != nil {
			return err
		}
		userPart := &types.TextPart{
			ID:        ulid.Make().String(),
			SessionID: sess.ID,
			MessageID: userMsg.ID,
			Type:      "text",
			Text:      message,
		}
		if err := store.Put(ctx, []string{"part", userMsg.ID, userPart.ID}, userPart); err != nil {
			return err
		}
	}

	// Stream assistant text to the terminal as it arrives.
	printed := 0
	callback := func(msg *types.Message, parts []types.Part) {
		var text strings.Builder
		for _, part := range parts {
			if p, ok := part.(*types.TextPart); ok {
				text.WriteString(p.Text)
			}
		}
		if text.Len() > printed {
			fmt.Print(text.String()[printed:])
			printed = text.Len()
		}
	}

	fmt.Printf("Session %s (%s)\n\n", sess.ID, appConfig.Model)

	if err := processor.Process(ctx, sess.ID, sessionAgent, callback); err != nil {
		return fmt.Errorf("processing error: %w", err)
	}

	fmt.Println()
	return nil
}

// promptForPermissions answers permission asks from stdin while the loop
// runs: each permission.updated event prints the request and reads one of
// y (once) / a (always) / n (reject). It returns an unsubscribe function.
func promptForPermissions(checker *permission.Checker) func() {
	reader := bufio.NewReader(os.Stdin)
	var mu sync.Mutex

	return event.Subscribe(event.PermissionUpdated, func(e event.Event) {
		data, ok := e.Data.(event.PermissionUpdatedData)
		if !ok {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		fmt.Printf("\n[permission] %s", data.Title)
		if len(data.Pattern) > 0 {
			fmt.Printf(" (%s)", strings.Join(data.Pattern, ", "))
		}
		fmt.Print("\nAllow? [y]es once / [a]lways / [n]o: ")

		line, err := reader.ReadString('\n')
		if err != nil {
			checker.Respond(data.ID, "reject")
			return
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "a", "always":
			checker.Respond(data.ID, "always")
		case "y", "yes", "once":
			checker.Respond(data.ID, "once")
		default:
			checker.Respond(data.ID, "reject")
		}
	})
}
