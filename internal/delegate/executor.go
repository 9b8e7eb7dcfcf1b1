package delegate

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// fixedInstructions is the invariant tail of every task prompt (spec.md
// §4.3's C7 prompt-construction order), independent of the task's own
// description or dependencies.
const fixedInstructions = `Operations must be executed sequentially, in the order listed.
Use any tools available to you as needed to complete each operation.
If an operation fails, report the failure clearly rather than guessing at a result.
Do not issue duplicate tool calls for the same operation.`

const markdownSuffix = "Always return your response in markdown format."

// buildTaskPrompt assembles the per-task user query C7 sends to the
// assigned agent, in the fixed order: original query, task description,
// numbered operations, dependency results (only if any exist), the fixed
// instruction block, and the markdown-output suffix.
func buildTaskPrompt(originalQuery string, task *models.Task, depResults map[string]*models.TaskResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original Query: %s\n", originalQuery)
	fmt.Fprintf(&sb, "Task Description: %s\n", task.Description)

	sb.WriteString("Operations to perform in sequence:\n")
	for i, op := range task.Operations {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, op)
	}

	if len(task.Dependencies) > 0 {
		sb.WriteString("Dependency Results:\n")
		for _, depID := range task.Dependencies {
			result, ok := depResults[depID]
			description, response := "", ""
			if ok && result != nil {
				description = result.Description
				response = result.Response
			}
			fmt.Fprintf(&sb, "Dependency Task '%s':\n- Description: %s\n- Result: %s\n", depID, description, response)
		}
	}

	sb.WriteString(fixedInstructions)
	sb.WriteString("\n")
	sb.WriteString(markdownSuffix)
	return sb.String()
}

// executeTask is C7: runs one task's agent call, then resolves any
// follow-up queries the agent declares, sequentially, synthesizing a
// final answer over the combined context. Follow-up resolution happens
// at most once: a follow-up turn runs with process_follow_ups effectively
// false, so it can never itself request further follow-ups.
func (p *Pipeline) executeTask(ctx context.Context, task *models.Task, depResults map[string]*models.TaskResult, originalQuery string) (*models.TaskResult, error) {
	agentRecord, ok := p.agents.Get(task.AgentID)
	if !ok {
		return nil, fmt.Errorf("delegate: execute_task: unknown agent %q for task %q", task.AgentID, task.ID)
	}

	prompt := buildTaskPrompt(originalQuery, task, depResults)
	output, err := p.runAgentTurn(ctx, agentRecord, prompt, 0)
	if err != nil {
		return nil, err
	}
	return &models.TaskResult{Response: output}, nil
}

// runAgentTurn runs one agent call and, at depth 0 only, resolves any
// follow-up queries it declares sequentially and synthesizes a final
// response over the combined context. A follow-up turn always runs at
// depth 1, so process_follow_ups is effectively false on it: it never
// expands further follow-ups of its own.
func (p *Pipeline) runAgentTurn(ctx context.Context, agentRecord models.Agent, query string, depth int) (string, error) {
	client := p.clientForAgent(agentRecord)

	resp, err := client.Call(ctx, callInputFor(agentRecord.PromptTemplate, query, p.executionSchema))
	if err != nil {
		return "", fmt.Errorf("delegate: agent %q turn failed: %w", agentRecord.Name, err)
	}

	processFollowUps := depth == 0 && p.cfg.MaxFollowUpDepth > 0
	if len(resp.FollowUpQueries) == 0 || !processFollowUps {
		return resp.Response, nil
	}

	var combined strings.Builder
	combined.WriteString(resp.Response)
	for _, followUp := range resp.FollowUpQueries {
		followUpCtx := fmt.Sprintf("%s\n\nPrior output:\n%s", followUp, resp.Response)
		followUpOutput, err := p.runAgentTurn(ctx, agentRecord, followUpCtx, depth+1)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&combined, "\n\nFollow-up %q:\n%s", followUp, followUpOutput)
	}

	synthesisQuery := fmt.Sprintf("Original task: %s\n\nSynthesize a final answer from the following context:\n%s", query, combined.String())
	final, err := client.Call(ctx, callInputFor(agentRecord.PromptTemplate, synthesisQuery, p.executionSchema))
	if err != nil {
		return "", fmt.Errorf("delegate: agent %q synthesis failed: %w", agentRecord.Name, err)
	}
	return final.Response, nil
}
