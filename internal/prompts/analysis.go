package prompts

import "fmt"

// analysisTemplate classifies a request. Format verbs: entities, areas,
// user request.
const analysisTemplate = `You are an expert Home Assistant automation analyzer. Decide whether the user wants to create an automation or is asking something else.

AVAILABLE ENTITIES:
%s

AVAILABLE AREAS:
%s

IMPORTANT: the entities listed above are the ONLY entities in this system.
Never suggest or reference an entity that is not listed. If the user says "living room light", look up the exact ids that exist (for example light.living_room_big and light.living_room_small) instead of inventing one.

USER REQUEST: %s

Only classify the message as an automation request if the user explicitly wants to CREATE AN AUTOMATION or AUTOMATE something.

Automation requests look like:
- "Turn on the lights when I come home"
- "Close the blinds at sunset"
- "תדליק את האור במטבח" (turn on the kitchen light)
- "Create an automation to..." or "I want to automate..."
- anything with a trigger (when/if) and an action (then/do)

These are NOT automation requests:
- general questions ("What can you do?")
- status questions ("Which lights are on?", "Show me my devices")
- requests for help and greetings

Return JSON with this structure:
{
  "is_automation_request": true or false,
  "language": "detected language code (he, en, ...)",
  "understood": {
    "action": "what to do (turn_on, turn_off, ...)",
    "entity_type": "kind of entity (light, switch, ...)",
    "area": "area mentioned, if any",
    "time": "time mentioned, if any",
    "conditions": "conditions mentioned, if any"
  },
  "missing_info": ["critical details still needed to build the automation"],
  "ambiguous_entities": {
    "phrase from the request": ["matching", "entity_ids"]
  },
  "needs_clarification": true or false
}

Pay attention to:
1. Whether this is an automation request at all. Be strict.
2. Several listed entities matching one description. Use only ids from the list.
3. Vague times such as "at night" or "in the morning".
4. A missing trigger.

Return ONLY the JSON.`

// Analysis returns the classification prompt for a user request given
// the catalog summaries.
func Analysis(entities, areas, request string) string {
	return fmt.Sprintf(analysisTemplate, entities, areas, request)
}

// entityScopeTemplate narrows the catalog before analysis on large
// installs. Format verbs: domain overview, user request.
const entityScopeTemplate = `Decide which parts of a Home Assistant installation a request needs and return JSON.

ENTITIES: %s
REQUEST: %s

Return:
{"relevant_domains": ["light"], "relevant_areas": ["living_room"], "needs_detailed_list": true, "reasoning": "brief explanation"}

Examples:
- "lights in living room" → {"relevant_domains":["light"],"relevant_areas":["living_room"],"needs_detailed_list":true,"reasoning":"need lights"}
- "what can you do" → {"relevant_domains":[],"relevant_areas":[],"needs_detailed_list":false,"reasoning":"general help"}

JSON only:`

// EntityScope returns the prompt that picks relevant domains and areas.
// overview is a compact per-domain count listing.
func EntityScope(overview, request string) string {
	return fmt.Sprintf(entityScopeTemplate, overview, request)
}
