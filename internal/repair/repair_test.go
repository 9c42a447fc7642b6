package repair

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestCleanStructuredReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "already complete", in: `{"a": 1}`, want: `{"a": 1}`},
		{name: "json fence", in: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "bare fence", in: "```\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "leading prose", in: "Here you go:\n{\"a\": 1}", want: `{"a": 1}`},
		{name: "nested truncation", in: `{"a": {"b": 1`, want: `{"a": {"b": 1}}`},
		{name: "dangling string", in: `{"a": "hel`, want: `{"a": "hel"}`},
		{name: "trailing comma", in: `{"a": 1,`, want: `{"a": 1}`},
		{name: "open array", in: `{"a": ["x", "y"`, want: `{"a": ["x", "y"]}`},
		{name: "brace in string", in: `{"a": "}{"`, want: `{"a": "}{"}`},
		{name: "unterminated fence", in: "```json\n{\"a\": {\"b\": true", want: `{"a": {"b": true}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanStructuredReply(tt.in); got != tt.want {
				t.Errorf("CleanStructuredReply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanStructuredReply_BraceTruncationIsBalanced(t *testing.T) {
	full := `{"is_automation_request": true, "understood": {"action": "turn_on", "area": "kitchen"}, "needs_clarification": false}`
	for i := 1; i < len(full); i++ {
		prefix := full[:i]
		got := CleanStructuredReply(prefix)
		if opens := strings.Count(got, "{") - strings.Count(got, "}"); opens != 0 {
			t.Errorf("prefix %q cleaned to %q with %d unclosed braces", prefix, got, opens)
		}
	}
}

func TestDecode(t *testing.T) {
	type result struct {
		OK   bool   `json:"ok"`
		Lang string `json:"language"`
	}

	var r result
	if err := Decode("```json\n{\"ok\": true, \"language\": \"he\"", &r, "ok", "language"); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !r.OK || r.Lang != "he" {
		t.Errorf("decoded %+v", r)
	}

	err := Decode(`{"ok": true}`, &r, "ok", "language")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	var mf *MissingFieldsError
	if !errors.As(err, &mf) || len(mf.Fields) != 1 || mf.Fields[0] != "language" {
		t.Errorf("missing fields = %v", mf)
	}
	if pe.Raw != `{"ok": true}` {
		t.Errorf("raw = %q", pe.Raw)
	}

	if err := Decode("I cannot help with that.", &r); !errors.As(err, &pe) {
		t.Errorf("prose reply err = %v, want ParseError", err)
	}
}

func TestParseStructured(t *testing.T) {
	var v map[string]any
	err := ParseStructured(`{"a":`, &v)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	var syn *json.SyntaxError
	if !errors.As(err, &syn) {
		t.Errorf("err should wrap the json error, got %v", err)
	}
}
