package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opsploit/core/internal/config"
	"github.com/opsploit/core/internal/engagement"
	"github.com/opsploit/core/internal/hierarchy"
	"github.com/opsploit/core/internal/session"
	"github.com/opsploit/core/internal/storage"
	"github.com/opsploit/core/internal/trajectory"
)

var trajectoryExportDir string

var trajectoryCmd = &cobra.Command{
	Use:   "trajectory [rootSessionID]",
	Short: "Show or export an engagement's aggregated timeline",
	Long: `Aggregate the TVAR and tool events of a session tree into a single
timestamp-sorted timeline.

Examples:
  opsploit trajectory 01J8X2K9QW          # print the timeline
  opsploit trajectory 01J8X2K9QW --export # write session.json/trajectory.jsonl/state.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runTrajectory,
}

var trajectoryExport bool

func init() {
	trajectoryCmd.Flags().BoolVar(&trajectoryExport, "export", false, "Write the archive layout instead of printing")
	trajectoryCmd.Flags().StringVar(&trajectoryExportDir, "export-dir", "", "Archive base directory (default ~/.engagement/sessions)")
}

func runTrajectory(cmd *cobra.Command, args []string) error {
	rootID := args[0]
	ctx := context.Background()

	paths := config.GetPaths()
	store := storage.New(paths.StoragePath())
	svc := session.NewService(store)

	// The hierarchy registry is process-local; rebuild it from the stored
	// sessions' parent links so aggregation works across restarts.
	tree := hierarchy.NewRegistry()
	all, err := svc.List(ctx, "")
	if err != nil {
		return err
	}
	parents := make(map[string]string, len(all))
	for _, s := range all {
		if s.ParentID != nil && *s.ParentID != "" {
			parents[s.ID] = *s.ParentID
		}
	}
	// Register each session only after its ancestors, so every entry
	// resolves to the true root rather than a provisional one.
	var register func(id string)
	register = func(id string) {
		parent, ok := parents[id]
		if !ok {
			tree.Register(id, "")
			return
		}
		register(parent)
		tree.Register(id, parent)
	}
	for _, s := range all {
		register(s.ID)
	}

	engagementStore := engagement.New(filepath.Join(paths.StoragePath(), "engagement"), tree)
	agg := trajectory.New(svc, tree)

	if trajectoryExport {
		baseDir := trajectoryExportDir
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("HOME"), ".engagement", "sessions")
		}
		archiver := trajectory.NewArchiver(baseDir, agg, engagementStore)
		log, err := archiver.Save(ctx, rootID)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d entries from %d agents to %s\n",
			len(log.Entries), log.TotalAgents, archiver.Dir(rootID))
		return nil
	}

	log, err := agg.FromEngagement(ctx, rootID)
	if err != nil {
		return err
	}

	fmt.Print(trajectory.FormatEngagementLog(log))
	fmt.Printf("\n%d agents, %d tool calls (%d ok, %d failed)\n",
		log.TotalAgents, log.ToolCalls, log.SuccessfulTools, log.FailedTools)
	return nil
}
