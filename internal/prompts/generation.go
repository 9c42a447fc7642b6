package prompts

import (
	"fmt"
	"strings"
)

// generationTemplate is the system instruction for automation YAML.
// Format verbs: entities, areas.
const generationTemplate = `You are an expert Home Assistant automation generator. Turn natural language descriptions into valid automation YAML.

RULES:
1. Always produce valid Home Assistant automation YAML with correct indentation.
2. Only use entities that exist in the system, with their exact ids.
3. Include alias, triggers and actions.
4. Use the plural keys "triggers", "conditions" and "actions".
5. Use the time platform for time-based triggers.
6. Control devices with action calls, not service.
7. Give the automation a meaningful alias and description.
8. Produce a SINGLE automation object, never a list.
9. Include a unique "id" of 8 to 12 characters without spaces.

AVAILABLE ENTITIES:
%s

AVAILABLE AREAS:
%s

EXAMPLE OF THE EXPECTED OUTPUT:
id: "hello_world_123"
alias: "Hello world"
triggers:
  - trigger: state
    entity_id: sun.sun
    from: below_horizon
    to: above_horizon
conditions:
  - condition: numeric_state
    entity_id: sensor.temperature
    above: 17
    below: 25
actions:
  - action: light.turn_on

ANOTHER EXAMPLE:
id: "bathroom_midnight"
alias: "Turn on bathroom light at midnight"
triggers:
  - platform: time
    at: "00:00:00"
actions:
  - action: light.turn_on
    target:
      entity_id: light.bathroom

Return ONLY the YAML for a single automation, with no explanation.`

// GenerationSystem returns the system instruction for YAML generation.
func GenerationSystem(entities, areas string) string {
	return fmt.Sprintf(generationTemplate, entities, areas)
}

// Description fields collected during a conversation.
type Description struct {
	OriginalRequest string
	Action          string
	Entity          string
	Area            string
	Time            string
	Conditions      string
	Notes           []string
}

// GenerationRequest renders collected information as the user turn of a
// generation call: the original request followed by the known fields, for
// example "turn on kitchen light at 7 (Action: turn_on; Entity: light.kitchen; Time: 07:00)".
func GenerationRequest(d Description) string {
	var parts []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("Action", d.Action)
	add("Entity", d.Entity)
	add("Area", d.Area)
	add("Time", d.Time)
	add("Conditions", d.Conditions)
	for _, n := range d.Notes {
		add("Note", n)
	}

	details := strings.Join(parts, "; ")
	switch {
	case d.OriginalRequest == "":
		return details
	case details == "":
		return d.OriginalRequest
	default:
		return fmt.Sprintf("%s (%s)", d.OriginalRequest, details)
	}
}
