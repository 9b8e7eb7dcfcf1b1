package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

type assignment struct {
	AgentName  string  `json:"agent_name"`
	TaskID     string  `json:"task_id"`
	Confidence float64 `json:"confidence"`
}

// ErrUnassignedTasks is returned by assignAgents when one or more tasks
// could not be matched to an agent. The pipeline fails the whole run
// rather than executing a partially-assigned task set.
type ErrUnassignedTasks struct {
	TaskIDs []string
}

func (e *ErrUnassignedTasks) Error() string {
	return fmt.Sprintf("delegate: unassigned tasks: %s", strings.Join(e.TaskIDs, ", "))
}

// assignAgents is C9: a single C4 call pairing each agent's
// (name, full_description) against each task's (id, description),
// returning (agent_name, task_id) assignments with a confidence score.
// Every task must receive an assignment or the pipeline fails.
func (p *Pipeline) assignAgents(ctx context.Context, tasks []taskRef) (map[string]string, error) {
	prompt := buildRouterPrompt(p.agents.List(), tasks)

	decoded, err := p.client.CallDecoded(ctx, callInputFor(p.cfg.RouterPromptTemplate, prompt, p.assignmentSchema))
	if err != nil {
		return nil, fmt.Errorf("delegate: assign_agents: %w", err)
	}

	buf, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("delegate: assign_agents: re-marshal decoded response: %w", err)
	}
	var parsed struct {
		Assignments []assignment `json:"assignments"`
	}
	if err := json.Unmarshal(buf, &parsed); err != nil {
		return nil, fmt.Errorf("delegate: assign_agents: unexpected response shape: %w", err)
	}

	byTask := make(map[string]string, len(parsed.Assignments))
	for _, a := range parsed.Assignments {
		byTask[a.TaskID] = a.AgentName
	}

	var unassigned []string
	for _, t := range tasks {
		if _, ok := byTask[t.ID]; !ok {
			unassigned = append(unassigned, t.ID)
		}
	}
	if len(unassigned) > 0 {
		return nil, &ErrUnassignedTasks{TaskIDs: unassigned}
	}
	return byTask, nil
}

// taskRef is the minimal view of a task the router prompt needs.
type taskRef struct {
	ID          string
	Description string
}

func buildRouterPrompt(agents []models.Agent, tasks []taskRef) string {
	var sb strings.Builder
	sb.WriteString("Agents:\n")
	for _, a := range agents {
		desc := a.FullDescription
		if desc == "" {
			desc = a.Description
		}
		fmt.Fprintf(&sb, "- %s: %s\n", a.Name, desc)
	}
	sb.WriteString("\nTasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&sb, "- %s: %s\n", t.ID, t.Description)
	}
	return sb.String()
}
