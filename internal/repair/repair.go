// Package repair recovers usable structure from free-form model replies.
//
// Models truncate JSON at their token limit, wrap replies in code fences,
// surround YAML with prose and occasionally emit a whole automation on a
// single line. The functions here undo those specific failures and
// nothing more; anything they cannot fix is left for the decoder to
// reject.
package repair

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError is a reply that could not be decoded into the expected
// shape even after repair. Raw is kept for logs and never shown to users.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse structured reply: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// MissingFieldsError lists required keys absent from a structured reply.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// CleanStructuredReply strips code fences and leading prose from a JSON
// reply and closes a reply truncated mid-object: a dangling string is
// terminated and unclosed objects and arrays are closed in order. A
// complete reply passes through unchanged.
func CleanStructuredReply(raw string) string {
	s := stripFences(strings.TrimSpace(raw))

	if i := strings.IndexAny(s, "{["); i > 0 {
		s = s[i:]
	}
	if s == "" {
		return s
	}

	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			// Drop the lone backslash so the closing quote is not escaped.
			str := b.String()
			b.Reset()
			b.WriteString(str[:len(str)-1])
		}
		b.WriteByte('"')
	}
	out := strings.TrimRight(b.String(), " \t\r\n,")
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}

// stripFences removes an enclosing ``` fence, with or without a language
// tag. An unterminated opening fence is removed too.
func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = strings.TrimLeft(body, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// ParseStructured strictly decodes candidate into v.
func ParseStructured(candidate string, v any) error {
	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return &ParseError{Raw: candidate, Err: err}
	}
	return nil
}

// RequireFields reports which keys are absent from the top-level JSON
// object in candidate. A reply that is not an object is a ParseError.
func RequireFields(candidate string, fields ...string) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &top); err != nil {
		return &ParseError{Raw: candidate, Err: err}
	}
	var missing []string
	for _, f := range fields {
		if v, ok := top[f]; !ok || string(v) == "null" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &ParseError{Raw: candidate, Err: &MissingFieldsError{Fields: missing}}
	}
	return nil
}

// Decode runs CleanStructuredReply, checks the required top-level fields
// and decodes into v.
func Decode(raw string, v any, required ...string) error {
	candidate := CleanStructuredReply(raw)
	err := RequireFields(candidate, required...)
	if err == nil {
		err = ParseStructured(candidate, v)
	}
	if pe, ok := err.(*ParseError); ok {
		pe.Raw = raw
	}
	return err
}
