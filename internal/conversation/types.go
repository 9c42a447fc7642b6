// Package conversation runs the multi-turn dialogue that turns a chat
// request into a saved automation: analyze, clarify, preview, approve,
// create.
package conversation

import (
	"strings"
	"time"

	"github.com/nugget/nag/internal/automation"
	"github.com/nugget/nag/internal/catalog"
	"github.com/nugget/nag/internal/prompts"
)

// State is a conversation's position in the dialogue.
type State string

// Conversation states. Completed, Cancelled and Error are terminal; a
// context in one of them is discarded before the next turn.
const (
	StateInitial          State = "initial"
	StateAnalyzing        State = "analyzing"
	StateClarifying       State = "clarifying"
	StatePreviewReady     State = "preview_ready"
	StateAwaitingApproval State = "awaiting_approval"
	StateCreating         State = "creating"
	StateCompleted        State = "completed"
	StateCancelled        State = "cancelled"
	StateError            State = "error"
)

// Terminal reports whether no further turn can continue from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateError
}

// Resumable reports whether a conversation in s is waiting on the user,
// so the next turn continues it and it survives a restart.
func (s State) Resumable() bool {
	switch s {
	case StateClarifying, StatePreviewReady, StateAwaitingApproval:
		return true
	}
	return false
}

// CollectedInfo is what is known about the automation being built.
type CollectedInfo struct {
	Action       string   `json:"action,omitempty"`
	EntityType   string   `json:"entity_type,omitempty"`
	TargetEntity string   `json:"target_entity,omitempty"`
	Area         string   `json:"area,omitempty"`
	Time         string   `json:"time,omitempty"`
	Conditions   string   `json:"conditions,omitempty"`
	Notes        []string `json:"notes,omitempty"`
}

// Overlay copies every non-empty field of other over c and appends its
// notes.
func (c *CollectedInfo) Overlay(other CollectedInfo) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&c.Action, other.Action)
	set(&c.EntityType, other.EntityType)
	set(&c.TargetEntity, other.TargetEntity)
	set(&c.Area, other.Area)
	set(&c.Time, other.Time)
	set(&c.Conditions, other.Conditions)
	for _, n := range other.Notes {
		if n = strings.TrimSpace(n); n != "" {
			c.Notes = append(c.Notes, n)
		}
	}
}

// Understood holds the fields the analysis extracted from a request.
type Understood struct {
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	Area       string `json:"area"`
	Time       string `json:"time"`
	Conditions string `json:"conditions"`
}

// Collected converts the understood fields for merging.
func (u Understood) Collected() CollectedInfo {
	return CollectedInfo{
		Action:     u.Action,
		EntityType: u.EntityType,
		Area:       u.Area,
		Time:       u.Time,
		Conditions: u.Conditions,
	}
}

// ClassificationResult is the analysis of a request.
type ClassificationResult struct {
	IsAutomationRequest bool                `json:"is_automation_request"`
	Language            string              `json:"language"`
	Understood          Understood          `json:"understood"`
	MissingInfo         []string            `json:"missing_info,omitempty"`
	AmbiguousEntities   map[string][]string `json:"ambiguous_entities,omitempty"`
	NeedsClarification  bool                `json:"needs_clarification"`
}

// classificationFields must be present in every analysis reply.
var classificationFields = []string{"is_automation_request", "language", "needs_clarification"}

// Intent labels for a reply to a preview.
const (
	IntentApprove = "approve"
	IntentReject  = "reject"
	IntentModify  = "modify"
)

// ApprovalIntent is the classified reply to a preview. Confidence is
// reported by the model but never gates the decision.
type ApprovalIntent struct {
	Intent           string  `json:"intent"`
	Confidence       float64 `json:"confidence"`
	ChangesRequested string  `json:"changes_requested,omitempty"`
}

// Known reports whether Intent is one of the three labels.
func (a ApprovalIntent) Known() bool {
	switch a.Intent {
	case IntentApprove, IntentReject, IntentModify:
		return true
	}
	return false
}

// Context is the state of one conversation between turns. Only the
// Machine mutates it, and only while holding the conversation's turn
// lock.
type Context struct {
	ID              string
	OriginalRequest string
	Language        string
	State           State
	Collected       CollectedInfo
	Analysis        *ClassificationResult

	// Scope narrows the entity list for this conversation when request
	// scoping is enabled.
	Scope catalog.Filter

	// Pending is the automation shown in the current preview. It is set
	// when the preview is produced and cleared on approval, rejection or
	// modification.
	Pending     *automation.Record
	PendingYAML string
	Preview     string

	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Request returns the original request followed by every clarification
// note, as sent for re-analysis.
func (c *Context) Request() string {
	if len(c.Collected.Notes) == 0 {
		return c.OriginalRequest
	}
	return c.OriginalRequest + "\nAdditional details: " + strings.Join(c.Collected.Notes, "; ")
}

// Description is the generation input built from what was collected.
func (c *Context) Description() prompts.Description {
	entity := c.Collected.TargetEntity
	if entity == "" {
		entity = c.Collected.EntityType
	}
	return prompts.Description{
		OriginalRequest: c.OriginalRequest,
		Action:          c.Collected.Action,
		Entity:          entity,
		Area:            c.Collected.Area,
		Time:            c.Collected.Time,
		Conditions:      c.Collected.Conditions,
		Notes:           c.Collected.Notes,
	}
}
