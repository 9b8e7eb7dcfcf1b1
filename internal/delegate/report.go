package delegate

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/dag"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Report is the synthesized outcome of one pipeline Run: a markdown
// transcript per task plus a pass/fail summary.
type Report struct {
	Success     bool
	PipelineErr string
	Markdown    string
	TotalTasks  int
	FailedTasks int
}

// handleResults is C8's terminal handle_results node. It is reached
// either after a successful execute_tasks, directly from generate_tasks
// when the query needed no tasks, or after any node failure (in which
// case tasks may be nil or partially populated and pipelineErr is set).
func (p *Pipeline) handleResults(tasks []*models.Task, store *dag.Store, pipelineErr error) *Report {
	report := &Report{Success: pipelineErr == nil}

	var sb strings.Builder
	sb.WriteString("# Delegation Report\n\n")

	if pipelineErr != nil {
		report.PipelineErr = pipelineErr.Error()
		fmt.Fprintf(&sb, "**Pipeline failed:** %s\n\n", pipelineErr.Error())
	}

	if len(tasks) == 0 {
		sb.WriteString("No tasks were required for this query.\n")
		report.Markdown = sb.String()
		return report
	}

	report.TotalTasks = len(tasks)
	for _, t := range tasks {
		fmt.Fprintf(&sb, "## Task %s\n\n", t.ID)
		fmt.Fprintf(&sb, "- **Description:** %s\n", t.Description)
		if len(t.Operations) > 0 {
			fmt.Fprintf(&sb, "- **Operations:** %s\n", strings.Join(t.Operations, "; "))
		}
		if len(t.Dependencies) > 0 {
			fmt.Fprintf(&sb, "- **Dependencies:** %s\n", strings.Join(t.Dependencies, ", "))
		}
		switch {
		case t.Error != "":
			report.FailedTasks++
			fmt.Fprintf(&sb, "- **Result:** failed: %s\n", t.Error)
		case t.Result != nil:
			fmt.Fprintf(&sb, "- **Result:** %s\n", t.Result.Response)
		default:
			fmt.Fprintf(&sb, "- **Result:** (not executed)\n")
		}
		sb.WriteString("\n")
	}

	if store != nil {
		sb.WriteString("## Dependency Graph\n\n```\n")
		sb.WriteString(store.VisualizeDependencies())
		sb.WriteString("```\n\n")
	}

	fmt.Fprintf(&sb, "## Summary\n\n%d tasks total, %d failed.\n", report.TotalTasks, report.FailedTasks)
	if report.FailedTasks > 0 {
		report.Success = false
	}

	report.Markdown = sb.String()
	return report
}
