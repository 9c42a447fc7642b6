package repair

import (
	"regexp"
	"strings"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:yaml|yml)?[ \t]*\r?\n(.*?)\r?\n?```")
	startLine   = regexp.MustCompile(`^(alias|name|id)\s*:`)
	keyLine     = regexp.MustCompile(`^[A-Za-z_][\w-]*\s*:`)

	// structuralKey finds the keys a flattened automation is split on,
	// with an optional leading list dash.
	structuralKey = regexp.MustCompile(`(-\s*)?\b(id|alias|name|description|mode|triggers|trigger|conditions|condition|actions|action|platform|service|entity_id|target|data|event|offset|above|below|at|to|from)\s*:`)
)

// ExtractAutomationText finds the automation body in a free-text reply.
// A fenced block wins. Otherwise collection starts at the first line
// beginning with alias:, name: or id: and continues over key lines,
// list items and indented lines, skipping blanks, until a line breaks
// the pattern. Without either, the trimmed reply is returned unchanged.
func ExtractAutomationText(raw string) string {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	start := -1
	for i, line := range lines {
		if startLine.MatchString(strings.TrimSpace(line)) {
			start = i
			break
		}
	}
	if start < 0 {
		return strings.TrimSpace(raw)
	}

	var out []string
	for _, line := range lines[start:] {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case keyLine.MatchString(line),
			strings.HasPrefix(trimmed, "-"),
			line[0] == ' ' || line[0] == '\t':
			out = append(out, line)
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// IsFlattened reports whether some single line carries the alias (or
// name), a trigger key and an action key at once.
func IsFlattened(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if isFlattenedLine(line) {
			return true
		}
	}
	return false
}

func isFlattenedLine(line string) bool {
	var named, triggers, actions bool
	for _, m := range structuralKey.FindAllStringSubmatch(line, -1) {
		switch m[2] {
		case "alias", "name":
			named = true
		case "trigger", "triggers":
			triggers = true
		case "action", "actions":
			actions = true
		}
	}
	return named && triggers && actions
}

// RepairFlattenedLayout re-lines an automation emitted as one run-on
// line. Text that is not flattened is returned as is.
func RepairFlattenedLayout(text string) string {
	if !IsFlattened(text) {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if isFlattenedLine(line) {
			lines[i] = relayout(line)
		}
	}
	return strings.Join(lines, "\n")
}

var topLevelKeys = map[string]bool{
	"id": true, "alias": true, "name": true, "description": true, "mode": true,
	"triggers": true, "conditions": true, "actions": true,
}

var sectionKeys = map[string]bool{
	"trigger": true, "condition": true, "action": true,
}

type segment struct {
	key   string
	dash  bool
	value string
}

func segments(line string) []segment {
	idx := structuralKey.FindAllStringSubmatchIndex(line, -1)
	segs := make([]segment, 0, len(idx))
	for i, m := range idx {
		end := len(line)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		segs = append(segs, segment{
			key:   line[m[4]:m[5]],
			dash:  m[2] >= 0,
			value: strings.TrimSpace(line[m[1]:end]),
		})
	}
	return segs
}

// relayout rebuilds one flattened line. Top-level keys start at column
// zero, the first key of each list item gets "  - ", following keys of
// the item four spaces, and entity_id under an empty target six.
func relayout(line string) string {
	var (
		out      []string
		section  bool
		inItem   bool
		inTarget bool
		itemKeys map[string]bool
	)
	emit := func(indent, key, value string) {
		if value == "" {
			out = append(out, indent+key+":")
			return
		}
		out = append(out, indent+key+": "+value)
	}

	for _, s := range segments(line) {
		top := topLevelKeys[s.key] || (sectionKeys[s.key] && s.value == "" && !s.dash)
		if top {
			emit("", s.key, s.value)
			section = s.value == "" && (sectionKeys[s.key] || sectionKeys[strings.TrimSuffix(s.key, "s")])
			inItem, inTarget = false, false
			continue
		}
		if !section {
			emit("", s.key, s.value)
			continue
		}
		if s.key == "entity_id" && inTarget && !s.dash {
			emit("      ", s.key, s.value)
			continue
		}
		if s.dash || !inItem || itemKeys[s.key] {
			emit("  - ", s.key, s.value)
			itemKeys = map[string]bool{s.key: true}
			inItem = true
		} else {
			emit("    ", s.key, s.value)
			itemKeys[s.key] = true
		}
		inTarget = s.key == "target" && s.value == ""
	}
	return strings.Join(out, "\n")
}

// Relaxed is the second-chance extraction used after a reply failed
// validation: fence lines and leading prose are dropped, a common indent
// is removed and any line holding several structural keys is re-lined.
func Relaxed(raw string) string {
	var kept []string
	started := false
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		if !started {
			if m := structuralKey.FindStringSubmatchIndex(trimmed); m == nil || m[0] != 0 || !topLevelKeys[trimmed[m[4]:m[5]]] && !sectionKeys[trimmed[m[4]:m[5]]] {
				continue
			}
			started = true
		} else if trimmed != "" && !keyLine.MatchString(trimmed) && !strings.HasPrefix(trimmed, "-") && line[0] != ' ' && line[0] != '\t' {
			break
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return strings.TrimSpace(raw)
	}

	kept = dedent(kept)
	for i, line := range kept {
		if len(structuralKey.FindAllStringIndex(line, -1)) > 2 && !strings.HasPrefix(line, " ") {
			kept[i] = relayout(line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func dedent(lines []string) []string {
	common := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " "))
		if common < 0 || n < common {
			common = n
		}
	}
	if common <= 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		if len(l) >= common {
			out[i] = l[common:]
		}
	}
	return out
}
