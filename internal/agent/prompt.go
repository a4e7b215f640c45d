package agent

import (
	"fmt"
	"sort"
	"strings"

	"nestor/internal/agent/ports"
)

// systemPrompt renders the planner's standing instructions: the persona, the
// response grammar, and the tool catalog.
func systemPrompt(tools []ports.ToolInfo) string {
	var b strings.Builder
	b.WriteString(`You are Nestor, a personal assistant that accomplishes tasks by calling tools.

Respond using exactly this format:

Thought: your reasoning about what to do next
Action: tool_name(param="value", other=123)

or, when the task is complete:

Thought: your reasoning
Answer: the final reply to the user, in the user's language

Rules:
- Emit exactly one Action or one Answer per response, never both.
- Use only the tools listed below, with only their declared parameters.
- Quote string values; booleans and integers are written bare.

Available tools:
`)
	for _, tool := range tools {
		b.WriteString(fmt.Sprintf("- %s(%s): %s\n", tool.Name, renderParams(tool.Schema), tool.Description))
	}
	return b.String()
}

func renderParams(schema ports.ParameterSchema) string {
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	parts := make([]string, 0, len(names))
	for _, name := range names {
		part := fmt.Sprintf("%s: %s", name, schema.Properties[name].Type)
		if !required[name] {
			part += "?"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// observationFeedback renders what the planner sees after one action.
func observationFeedback(obs ports.Observation) string {
	switch obs.Status {
	case ports.ObservationSuccess:
		return fmt.Sprintf("Observation: %s", obs.Result)
	default:
		return fmt.Sprintf("Observation (%s): %s", obs.Status, obs.Error)
	}
}

// parseFeedback tells the planner its last output was unusable.
func parseFeedback(err error) string {
	return fmt.Sprintf("Observation (failure): your previous response could not be parsed (%v). "+
		"Reply with exactly one Thought: section followed by one Action: line or one Answer: section.", err)
}
