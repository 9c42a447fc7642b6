package prompts

import "github.com/nugget/nag/internal/llm"

// AnalysisShape is the response shape for [Analysis].
var AnalysisShape = &llm.Schema{
	Name:        "analysis_response",
	Description: "Analysis of a user automation request",
	Root: llm.Object(map[string]*llm.Node{
		"is_automation_request": llm.Bool("Whether this is an automation request"),
		"language":              llm.String("Detected language code (e.g. 'he', 'en')"),
		"understood": llm.Object(map[string]*llm.Node{
			"action":      llm.String(""),
			"entity_type": llm.String(""),
			"area":        llm.String(""),
			"time":        llm.String(""),
			"conditions":  llm.String(""),
		}),
		"missing_info":        llm.ArrayOf("", llm.String("")),
		"ambiguous_entities":  llm.MapOf("", llm.ArrayOf("", llm.String(""))),
		"needs_clarification": llm.Bool(""),
	}, "is_automation_request", "language", "needs_clarification"),
}

// ApprovalShape is the response shape for [Approval].
var ApprovalShape = &llm.Schema{
	Name:        "intent_analysis",
	Description: "The user's intent in reply to an automation preview",
	Root: llm.Object(map[string]*llm.Node{
		"intent":            llm.Enum("User's intent", "approve", "reject", "modify"),
		"confidence":        confidenceNode(),
		"changes_requested": llm.String("Specific changes mentioned if intent is modify"),
	}, "intent", "confidence"),
}

// EntityScopeShape is the response shape for [EntityScope].
var EntityScopeShape = &llm.Schema{
	Name:        "entity_analysis",
	Description: "Which entities a request needs",
	Root: llm.Object(map[string]*llm.Node{
		"relevant_domains":    llm.ArrayOf("Entity domains needed (light, sensor, ...)", llm.String("")),
		"relevant_areas":      llm.ArrayOf("Area ids needed", llm.String("")),
		"needs_detailed_list": llm.Bool("Whether a detailed entity list is needed"),
		"reasoning":           llm.String("Short explanation"),
	}, "relevant_domains", "relevant_areas", "needs_detailed_list", "reasoning"),
}

func confidenceNode() *llm.Node {
	lo, hi := 0.0, 1.0
	n := llm.Number("Confidence level (0-1)")
	n.Minimum = &lo
	n.Maximum = &hi
	return n
}
