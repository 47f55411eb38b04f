package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/troupe-sim/troupe/internal/models"
)

// ActPrompt renders the behavior prompt for one agent turn: persona,
// interaction history, then the current stimulus. The completion is the
// agent's action verbatim.
func ActPrompt(req ActRequest) string {
	var b strings.Builder

	b.WriteString("You are playing a persona in a social simulation.\n\n")
	b.WriteString("## Persona\n")
	fmt.Fprintf(&b, "Name: %s\n", req.Template.Name)
	if req.Template.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Template.Description)
	}
	if req.Template.Persona != "" {
		b.WriteString("Background:\n")
		b.WriteString(req.Template.Persona)
		b.WriteString("\n")
	}

	if len(req.Memory) > 0 {
		b.WriteString("\n## History\n")
		for _, ev := range req.Memory {
			switch ev.Kind {
			case models.EventStimulus:
				fmt.Fprintf(&b, "[round %d] heard: %s\n", ev.Round, ev.Content)
			case models.EventAction:
				fmt.Fprintf(&b, "[round %d] you said: %s\n", ev.Round, ev.Content)
			case models.EventFailure:
				fmt.Fprintf(&b, "[round %d] (you did not respond)\n", ev.Round)
			}
		}
	}

	b.WriteString("\n## Current stimulus\n")
	b.WriteString(req.Stimulus)
	b.WriteString("\n\nRespond in character with what this persona says or does next. ")
	b.WriteString("Reply with the action only, no commentary.\n")
	return b.String()
}

// ExtractPrompt renders the extraction prompt: the declared field schema,
// the objective, and the agent's full interaction history. The completion
// must be a single JSON object keyed by field name.
func ExtractPrompt(req ExtractRequest) string {
	var b strings.Builder

	b.WriteString("You are analyzing a simulated persona's interaction history.\n\n")
	fmt.Fprintf(&b, "## Objective\n%s\n\n", req.Objective)

	b.WriteString("## Fields to extract\n")
	for _, f := range req.Fields {
		fmt.Fprintf(&b, "- %q (%s)", f.Name, f.Type)
		if f.Required {
			b.WriteString(" [required]")
		}
		if f.Hint != "" {
			fmt.Fprintf(&b, ": %s", f.Hint)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n## Persona\nName: %s\n", req.Template.Name)
	if req.Template.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Template.Description)
	}

	b.WriteString("\n## History\n")
	for _, ev := range req.Memory {
		switch ev.Kind {
		case models.EventStimulus:
			fmt.Fprintf(&b, "[round %d] stimulus: %s\n", ev.Round, ev.Content)
		case models.EventAction:
			fmt.Fprintf(&b, "[round %d] action: %s\n", ev.Round, ev.Content)
		case models.EventFailure:
			fmt.Fprintf(&b, "[round %d] no response\n", ev.Round)
		}
	}

	b.WriteString("\nRespond with a single JSON object mapping each field name to its ")
	b.WriteString("extracted value. Use numbers for number fields and strings for ")
	b.WriteString("category fields. Omit a field if the history gives no basis for it.\n")
	return b.String()
}

var (
	jsonBlockRegex    = regexp.MustCompile("```json\\s*([\\s\\S]*?)```")
	genericBlockRegex = regexp.MustCompile("```\\s*([\\s\\S]*?)```")
)

// ExtractJSON pulls a JSON payload out of a completion that may wrap it
// in markdown code fences or surrounding prose.
func ExtractJSON(response string) string {
	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	if matches := genericBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		candidate := strings.TrimSpace(matches[1])
		if strings.HasPrefix(candidate, "{") || strings.HasPrefix(candidate, "[") {
			return candidate
		}
	}

	trimmed := strings.TrimSpace(response)
	if start := strings.IndexAny(trimmed, "{["); start >= 0 {
		return trimmed[start:]
	}
	return trimmed
}

// ParseFieldResponse decodes an extraction completion into a field map.
// A completion that is not a JSON object is an extraction failure for
// that agent, not a session failure.
func ParseFieldResponse(response string) (map[string]any, error) {
	payload := ExtractJSON(response)

	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("parsing field response: %w", err)
	}
	return fields, nil
}
