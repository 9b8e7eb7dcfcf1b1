package delegate

import (
	"encoding/json"

	"github.com/haasonsaas/nexus/internal/decode"
)

var tasksSchemaJSON = json.RawMessage(`{
	"type": "object",
	"properties": {
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"description": {"type": "string"},
					"operations": {"type": "array", "items": {"type": "string"}},
					"dependencies": {"type": "array", "items": {"type": "string"}},
					"priority": {"type": "integer"}
				},
				"required": ["id", "description"]
			}
		}
	},
	"required": ["tasks"]
}`)

var assignmentsSchemaJSON = json.RawMessage(`{
	"type": "object",
	"properties": {
		"assignments": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"agent_name": {"type": "string"},
					"task_id": {"type": "string"},
					"confidence": {"type": "number"}
				},
				"required": ["agent_name", "task_id"]
			}
		}
	},
	"required": ["assignments"]
}`)

// TasksSchema compiles the schema generate_tasks decodes against.
func TasksSchema() (*decode.Schema, error) {
	return decode.CompileSchema("delegate.tasks.v1", tasksSchemaJSON)
}

// AssignmentsSchema compiles the schema assign_agents decodes against.
func AssignmentsSchema() (*decode.Schema, error) {
	return decode.CompileSchema("delegate.assignments.v1", assignmentsSchemaJSON)
}

var executionSchemaJSON = json.RawMessage(`{
	"type": "object",
	"properties": {
		"response": {"type": "string"},
		"diagnostics": {
			"type": "object",
			"properties": {
				"thoughts": {"type": "array", "items": {"type": "string"}},
				"confidence": {"type": "number"}
			}
		},
		"tool_calls": {"type": "array"},
		"follow_up_queries": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["response"]
}`)

// ExecutionSchema compiles the schema a single task's agent execution
// decodes against (C4's general StructuredResponse shape).
func ExecutionSchema() (*decode.Schema, error) {
	return decode.CompileSchema("delegate.execution.v1", executionSchemaJSON)
}
