package trajectory

import (
	"fmt"
	"strings"
	"time"

	"github.com/opsploit/core/pkg/types"
)

// FormatEngagementLog renders an EngagementLog as an aligned text timeline:
// timestamp, agent column (blanked when it repeats the previous entry's
// agent, for readability), a five-character phase tag, and the summary.
func FormatEngagementLog(log *types.EngagementLog) string {
	var buf strings.Builder

	agentWidth := len("subagent")
	for _, name := range log.AgentNames {
		if len(name) > agentWidth {
			agentWidth = len(name)
		}
	}

	lastAgent := ""
	for _, e := range log.Entries {
		ts := time.UnixMilli(e.Timestamp).UTC().Format("15:04:05.000")

		agentCol := e.AgentName
		if agentCol == lastAgent {
			agentCol = strings.Repeat(" ", len(agentCol))
		} else {
			lastAgent = e.AgentName
		}

		phaseTag := strings.Repeat(" ", 7)
		if e.Phase != "" {
			abbrev := e.Phase
			if len(abbrev) > 5 {
				abbrev = abbrev[:5]
			}
			phaseTag = fmt.Sprintf("[%-5s]", abbrev)
		}

		fmt.Fprintf(&buf, "%s  %-*s %s %s\n", ts, agentWidth, agentCol, phaseTag, e.Summary)
	}

	return buf.String()
}
