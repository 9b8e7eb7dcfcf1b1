package delegate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexus/internal/clock"
	"github.com/haasonsaas/nexus/pkg/models"
)

type taskStub struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Operations   []string `json:"operations"`
	Dependencies []string `json:"dependencies"`
	Priority     int      `json:"priority"`
}

// generateTasks is C8's generate_tasks node: a single C4 call with the
// manager prompt, decoding to a (possibly empty) list of task stubs with
// no agent bound yet. An empty list is a valid outcome for a trivial
// query and short-circuits the rest of the pipeline to handle_results.
func (p *Pipeline) generateTasks(ctx context.Context, query string) ([]*models.Task, error) {
	decoded, err := p.client.CallDecoded(ctx, callInputFor(p.cfg.ManagerPromptTemplate, query, p.taskSchema))
	if err != nil {
		return nil, fmt.Errorf("delegate: generate_tasks: %w", err)
	}

	buf, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("delegate: generate_tasks: re-marshal decoded response: %w", err)
	}
	var parsed struct {
		Tasks []taskStub `json:"tasks"`
	}
	if err := json.Unmarshal(buf, &parsed); err != nil {
		return nil, fmt.Errorf("delegate: generate_tasks: unexpected response shape: %w", err)
	}

	clk := p.clk
	if clk == nil {
		clk = clock.Real{}
	}
	tasks := make([]*models.Task, 0, len(parsed.Tasks))
	for _, stub := range parsed.Tasks {
		tasks = append(tasks, &models.Task{
			ID:           stub.ID,
			Description:  stub.Description,
			Operations:   stub.Operations,
			Dependencies: stub.Dependencies,
			Priority:     stub.Priority,
			CreatedAt:    clk.Now(),
		})
	}
	return tasks, nil
}
