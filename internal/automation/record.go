// Package automation normalizes, validates and persists Home Assistant
// automation definitions produced by the generator.
package automation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// AliasMarker is appended to the alias of every automation nag writes so
// users can tell generated automations apart in the Home Assistant UI.
const AliasMarker = " (NAG)"

// idLength is the length of generated automation ids.
const idLength = 10

var validID = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Record is one automation as written to automations.yaml. Trigger,
// condition and action nodes are opaque to nag and passed through as
// decoded. Field order matches the order keys are written in.
type Record struct {
	ID          string           `yaml:"id" json:"id"`
	Alias       string           `yaml:"alias" json:"alias"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Mode        string           `yaml:"mode,omitempty" json:"mode,omitempty"`
	Triggers    []map[string]any `yaml:"triggers" json:"triggers"`
	Conditions  []map[string]any `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Actions     []map[string]any `yaml:"actions" json:"actions"`
}

// YAML renders the record as a single YAML mapping.
func (r Record) YAML() (string, error) {
	out, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal automation: %w", err)
	}
	return string(out), nil
}

// ValidationError lists the required parts an automation is missing.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "invalid automation: missing " + strings.Join(e.Missing, ", ")
}

// legacyKeys maps the singular keys of the older automation syntax to
// their current plural names.
var legacyKeys = map[string]string{
	"trigger":   "triggers",
	"condition": "conditions",
	"action":    "actions",
}

// Normalize turns a decoded YAML document into a single automation
// mapping. A list yields its first element, singular section keys are
// renamed to their plural form and a section holding a single mapping is
// wrapped into a list. It reports how many further list elements were
// dropped. The input is not modified and Normalize is idempotent.
func Normalize(v any) (m map[string]any, dropped int, err error) {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, 0, &ValidationError{Missing: []string{"automation"}}
		}
		v, dropped = list[0], len(list)-1
	}

	src, ok := v.(map[string]any)
	if !ok {
		return nil, dropped, fmt.Errorf("automation is %T, not a mapping", v)
	}

	m = make(map[string]any, len(src))
	for k, val := range src {
		m[k] = val
	}
	for singular, plural := range legacyKeys {
		val, ok := m[singular]
		if !ok {
			continue
		}
		delete(m, singular)
		if _, exists := m[plural]; !exists {
			m[plural] = val
		}
	}
	for _, section := range legacyKeys {
		if node, ok := m[section].(map[string]any); ok {
			m[section] = []any{node}
		}
	}
	return m, dropped, nil
}

// Validate checks that m names the automation and has at least one
// trigger and one action. Both singular and plural section keys count.
func Validate(m map[string]any) error {
	var missing []string
	if stringField(m, "alias") == "" && stringField(m, "name") == "" {
		missing = append(missing, "alias")
	}
	if !nonEmpty(m["triggers"]) && !nonEmpty(m["trigger"]) {
		missing = append(missing, "triggers")
	}
	if !nonEmpty(m["actions"]) && !nonEmpty(m["action"]) {
		missing = append(missing, "actions")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

func nonEmpty(v any) bool {
	switch n := v.(type) {
	case []any:
		return len(n) > 0
	case map[string]any:
		return len(n) > 0
	case string:
		return n != ""
	}
	return false
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Decode parses automation YAML, normalizes and validates it. When the
// document is a list, only the first automation is kept and dropped
// counts the rest.
func Decode(text string) (rec Record, dropped int, err error) {
	var doc any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return Record{}, 0, fmt.Errorf("parse automation yaml: %w", err)
	}
	m, dropped, err := Normalize(doc)
	if err != nil {
		return Record{}, dropped, err
	}
	if err := Validate(m); err != nil {
		return Record{}, dropped, err
	}
	rec, err = fromMap(m)
	return rec, dropped, err
}

func fromMap(m map[string]any) (Record, error) {
	rec := Record{
		ID:          stringField(m, "id"),
		Alias:       stringField(m, "alias"),
		Description: stringField(m, "description"),
		Mode:        stringField(m, "mode"),
	}
	if rec.Alias == "" {
		rec.Alias = stringField(m, "name")
	}

	var err error
	if rec.Triggers, err = nodes("triggers", m["triggers"]); err != nil {
		return Record{}, err
	}
	if rec.Conditions, err = nodes("conditions", m["conditions"]); err != nil {
		return Record{}, err
	}
	if rec.Actions, err = nodes("actions", m["actions"]); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// nodes converts a section list into mappings. A bare string condition
// is the template shorthand and becomes a template condition.
func nodes(section string, v any) ([]map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		if s, isString := v.(string); isString && section == "conditions" {
			list = []any{s}
		} else {
			return nil, fmt.Errorf("%s is %T, not a list", section, v)
		}
	}
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		switch n := item.(type) {
		case map[string]any:
			out = append(out, n)
		case string:
			if section != "conditions" {
				return nil, fmt.Errorf("%s[%d] is a string, not a mapping", section, i)
			}
			out = append(out, map[string]any{"condition": "template", "value_template": n})
		default:
			return nil, fmt.Errorf("%s[%d] is %T, not a mapping", section, i, item)
		}
	}
	return out, nil
}

// EnsureIdentity gives rec a usable id and a marked alias. A missing or
// malformed id is replaced with a fresh one.
func EnsureIdentity(rec Record) Record {
	if !validID.MatchString(rec.ID) {
		rec.ID = NewID()
	}
	rec.Alias = strings.TrimSpace(rec.Alias)
	if rec.Alias == "" {
		rec.Alias = "Automation"
	}
	if !strings.HasSuffix(rec.Alias, AliasMarker) {
		rec.Alias += AliasMarker
	}
	return rec
}

// NewID returns a 10 character lowercase alphanumeric id taken from the
// random tail of a UUIDv7.
func NewID() string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	hex := strings.ReplaceAll(u.String(), "-", "")
	return hex[len(hex)-idLength:]
}
