package prompts

import (
	"strings"
	"testing"
)

func TestAnalysis_IncludesInputs(t *testing.T) {
	got := Analysis("LIGHT ENTITIES:\n  - light.kitchen: Kitchen", "AREAS:\n  - kitchen: Kitchen", "turn on the kitchen light at 7")

	for _, want := range []string{"light.kitchen", "kitchen: Kitchen", "turn on the kitchen light at 7", "needs_clarification"} {
		if !strings.Contains(got, want) {
			t.Errorf("analysis prompt missing %q", want)
		}
	}
}

func TestPrompts_NoFormatLeftovers(t *testing.T) {
	prompts := map[string]string{
		"analysis":      Analysis("e", "a", "r"),
		"scope":         EntityScope("o", "r"),
		"clarification": Clarification("en", "r", "{}"),
		"preview":       Preview("en", "{}", "alias: x", "e", "a"),
		"approval":      Approval("yes", "preview"),
		"generation":    GenerationSystem("e", "a"),
		"general":       General("r", "en", "e", "a"),
		"success":       Success("en", "x", "d", "y"),
		"cancellation":  Cancellation("he"),
		"error":         Error("en", "generation"),
	}
	for name, p := range prompts {
		if strings.Contains(p, "%!") {
			t.Errorf("%s prompt has a formatting error: %q", name, p)
		}
	}
}

func TestGenerationRequest(t *testing.T) {
	tests := []struct {
		name string
		in   Description
		want string
	}{
		{
			name: "request and details",
			in:   Description{OriginalRequest: "turn on kitchen light at 7", Action: "turn_on", Entity: "light.kitchen", Time: "07:00"},
			want: "turn on kitchen light at 7 (Action: turn_on; Entity: light.kitchen; Time: 07:00)",
		},
		{
			name: "request only",
			in:   Description{OriginalRequest: "close blinds at sunset"},
			want: "close blinds at sunset",
		},
		{
			name: "notes become details",
			in:   Description{OriginalRequest: "turn on the light", Notes: []string{"the small one", " "}},
			want: "turn on the light (Note: the small one)",
		},
		{
			name: "details only",
			in:   Description{Action: "turn_off"},
			want: "Action: turn_off",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerationRequest(tt.in); got != tt.want {
				t.Errorf("GenerationRequest = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShapes_RequiredFields(t *testing.T) {
	req := strings.Join(AnalysisShape.Root.Required, ",")
	if req != "is_automation_request,language,needs_clarification" {
		t.Errorf("analysis required = %s", req)
	}
	intent := ApprovalShape.Root.Properties["intent"]
	if len(intent.Enum) != 3 {
		t.Errorf("intent enum = %v", intent.Enum)
	}
}
