package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/nag/internal/automation"
	"github.com/nugget/nag/internal/catalog"
	"github.com/nugget/nag/internal/events"
	"github.com/nugget/nag/internal/generator"
	"github.com/nugget/nag/internal/llm"
	"github.com/nugget/nag/internal/prompts"
	"github.com/nugget/nag/internal/repair"
)

// DefaultMaxClarifications bounds the clarification round-trips before
// a preview is forced.
const DefaultMaxClarifications = 3

// Catalog supplies entity and area summaries.
type Catalog interface {
	Entities(ctx context.Context, f catalog.Filter) (string, error)
	Areas(ctx context.Context) (string, error)
	Overview(ctx context.Context) (string, error)
}

// Generator builds automation records.
type Generator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
}

// Options tune the Machine.
type Options struct {
	MaxClarifications int

	// Language is used for fixed messages until a request's language
	// has been detected.
	Language string

	// ScopeRequests narrows the entity list to the domains a request
	// needs before analysis.
	ScopeRequests bool
}

// Deps are the collaborators of a Machine. Bus may be nil.
type Deps struct {
	Gateway   llm.Gateway
	Catalog   Catalog
	Generator Generator
	Store     automation.Store
	Contexts  ContextStore
	Bus       *events.Bus
}

// Reply is the outcome of one turn.
type Reply struct {
	Text  string
	State State
}

// Machine drives conversations. Turns of one conversation run one at a
// time; distinct conversations run concurrently.
type Machine struct {
	Deps
	opts   Options
	logger *slog.Logger
	locks  turnLocks
}

// NewMachine creates a Machine.
func NewMachine(deps Deps, opts Options, logger *slog.Logger) *Machine {
	if opts.MaxClarifications <= 0 {
		opts.MaxClarifications = DefaultMaxClarifications
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Contexts == nil {
		deps.Contexts = NewMemoryStore(0, 0, logger)
	}
	return &Machine{Deps: deps, opts: opts, logger: logger}
}

// Active returns the number of conversations in progress.
func (m *Machine) Active() int {
	return m.Contexts.Len()
}

// HandleMessage processes one user message and returns the text to show.
// It never returns an error: failures become a localized message.
func (m *Machine) HandleMessage(ctx context.Context, conversationID, text string) string {
	return m.Turn(ctx, conversationID, text).Text
}

// Turn processes one user message and reports the resulting state along
// with the reply.
func (m *Machine) Turn(ctx context.Context, conversationID, text string) (reply Reply) {
	unlock := m.locks.lock(conversationID)
	defer unlock()

	ctx = llm.WithConversation(ctx, conversationID)
	c, created := m.Contexts.GetOrCreate(conversationID)
	if !created && !c.State.Resumable() {
		m.logger.Debug("discarding conversation before new turn",
			"conversation_id", conversationID, "state", c.State, "finished", c.State.Terminal())
		m.Contexts.Delete(conversationID)
		c, created = m.Contexts.GetOrCreate(conversationID)
	}
	if created {
		c.Language = languageFrom(ctx, m.opts.Language)
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("conversation turn panicked",
				"conversation_id", conversationID, "state", c.State, "panic", r)
			m.transition(c, StateError)
			m.Contexts.Put(c)
			reply = Reply{Text: message(c.Language, msgError), State: StateError}
		}
	}()

	out, err := m.dispatch(ctx, c, strings.TrimSpace(text))
	switch {
	case err != nil:
		out = m.fail(ctx, c, err)
	case c.State == StateCompleted, c.State == StateCancelled, c.State == StateInitial:
		m.Contexts.Delete(conversationID)
	default:
		m.Contexts.Put(c)
	}
	return Reply{Text: out, State: c.State}
}

func (m *Machine) dispatch(ctx context.Context, c *Context, text string) (string, error) {
	switch c.State {
	case StateInitial:
		return m.analyze(ctx, c, text)
	case StateClarifying:
		return m.clarify(ctx, c, text)
	case StatePreviewReady:
		return m.preview(ctx, c)
	case StateAwaitingApproval:
		return m.approval(ctx, c, text)
	}
	return "", fmt.Errorf("turn started in state %s", c.State)
}

func (m *Machine) analyze(ctx context.Context, c *Context, text string) (string, error) {
	c.OriginalRequest = text
	m.transition(c, StateAnalyzing)
	c.Scope = m.scope(ctx, c.ID, text)

	result, err := m.classify(ctx, c, text)
	if err != nil {
		return "", err
	}

	if !result.IsAutomationRequest {
		out, err := m.general(ctx, c, text)
		if err != nil {
			return "", err
		}
		m.transition(c, StateInitial)
		return out, nil
	}

	c.Analysis = result
	c.Collected.Overlay(result.Understood.Collected())
	if result.NeedsClarification {
		return m.ask(ctx, c)
	}
	return m.preview(ctx, c)
}

func (m *Machine) clarify(ctx context.Context, c *Context, text string) (string, error) {
	c.Collected.Overlay(CollectedInfo{Notes: []string{text}})
	c.Attempts++

	if c.Attempts > m.opts.MaxClarifications {
		m.logger.Info("clarification limit reached, moving to preview",
			"conversation_id", c.ID, "attempts", c.Attempts)
		return m.preview(ctx, c)
	}

	result, err := m.classify(ctx, c, c.Request())
	if err != nil {
		return "", err
	}
	c.Analysis = result
	c.Collected.Overlay(result.Understood.Collected())
	if result.NeedsClarification {
		return m.ask(ctx, c)
	}
	return m.preview(ctx, c)
}

func (m *Machine) classify(ctx context.Context, c *Context, request string) (*ClassificationResult, error) {
	entities, areas, err := m.summaries(ctx, c.Scope)
	if err != nil {
		return nil, failed(stageAnalysis, err)
	}
	resp, err := m.Gateway.Complete(ctx, llm.Request{
		Purpose: "analysis",
		Prompt:  prompts.Analysis(entities, areas, request),
		Shape:   prompts.AnalysisShape,
	})
	if err != nil {
		return nil, failed(stageAnalysis, err)
	}

	var result ClassificationResult
	if err := repair.Decode(resp.Text, &result, classificationFields...); err != nil {
		return nil, failed(stageAnalysis, err)
	}
	if lang := strings.ToLower(strings.TrimSpace(result.Language)); lang != "" {
		c.Language = lang
	}
	m.logger.Debug("request classified",
		"conversation_id", c.ID,
		"automation", result.IsAutomationRequest,
		"needs_clarification", result.NeedsClarification,
		"language", c.Language,
	)
	return &result, nil
}

func (m *Machine) ask(ctx context.Context, c *Context) (string, error) {
	m.transition(c, StateClarifying)

	analysis, err := json.Marshal(c.Analysis)
	if err != nil {
		return "", failed(stageClarification, err)
	}
	resp, err := m.Gateway.Complete(ctx, llm.Request{
		Purpose: "clarification",
		Prompt:  prompts.Clarification(c.Language, c.Request(), string(analysis)),
	})
	if err != nil {
		return "", failed(stageClarification, err)
	}
	question, err := replyText(resp)
	if err != nil {
		return "", failed(stageClarification, err)
	}
	return question, nil
}

// preview generates the automation, asks the model to describe it and
// waits for approval. The generated record is what approval writes.
func (m *Machine) preview(ctx context.Context, c *Context) (string, error) {
	m.transition(c, StatePreviewReady)
	c.Pending, c.PendingYAML, c.Preview = nil, "", ""

	res, err := m.Generator.Generate(ctx, generator.Request{
		Description: c.Description(),
		Filter:      c.Scope,
	})
	if err != nil {
		return "", failed(stageGeneration, err)
	}

	entities, areas, err := m.summaries(ctx, c.Scope)
	if err != nil {
		return "", failed(stagePreview, err)
	}
	collected, err := json.Marshal(c.Collected)
	if err != nil {
		return "", failed(stagePreview, err)
	}
	resp, err := m.Gateway.Complete(ctx, llm.Request{
		Purpose: "preview",
		Prompt:  prompts.Preview(c.Language, string(collected), res.YAML, entities, areas),
	})
	if err != nil {
		return "", failed(stagePreview, err)
	}
	text, err := replyText(resp)
	if err != nil {
		return "", failed(stagePreview, err)
	}

	rec := res.Record
	c.Pending, c.PendingYAML, c.Preview = &rec, res.YAML, text
	m.transition(c, StateAwaitingApproval)
	return text, nil
}

func (m *Machine) approval(ctx context.Context, c *Context, text string) (string, error) {
	resp, err := m.Gateway.Complete(ctx, llm.Request{
		Purpose: "approval",
		Prompt:  prompts.Approval(text, c.Preview),
		Shape:   prompts.ApprovalShape,
	})
	if err != nil {
		return "", failed(stageApproval, err)
	}

	var intent ApprovalIntent
	if err := repair.Decode(resp.Text, &intent, "intent"); err != nil || !intent.Known() {
		m.logger.Warn("approval reply not understood, asking again",
			"conversation_id", c.ID, "intent", intent.Intent, "error", err)
		return message(c.Language, msgReaskApproval), nil
	}
	m.logger.Debug("approval classified",
		"conversation_id", c.ID, "intent", intent.Intent, "confidence", intent.Confidence)

	switch intent.Intent {
	case IntentApprove:
		return m.create(ctx, c)
	case IntentReject:
		c.Pending, c.PendingYAML = nil, ""
		m.transition(c, StateCancelled)
		m.publish(events.KindCancelled, map[string]any{"conversation_id": c.ID})
		return m.llmReply(ctx, "cancellation", prompts.Cancellation(c.Language), message(c.Language, msgCancelled)), nil
	default:
		notes := []string{intent.ChangesRequested}
		if !strings.EqualFold(strings.TrimSpace(intent.ChangesRequested), text) {
			notes = append(notes, text)
		}
		c.Collected.Overlay(CollectedInfo{Notes: notes})
		return m.preview(ctx, c)
	}
}

func (m *Machine) create(ctx context.Context, c *Context) (string, error) {
	m.transition(c, StateCreating)

	rec, yamlText := c.Pending, c.PendingYAML
	if rec == nil {
		res, err := m.Generator.Generate(ctx, generator.Request{Description: c.Description(), Filter: c.Scope})
		if err != nil {
			return "", failed(stageGeneration, err)
		}
		rec, yamlText = &res.Record, res.YAML
	}
	if err := m.Store.Append(ctx, *rec); err != nil {
		return "", failed(stageSave, err)
	}

	c.Pending, c.PendingYAML = nil, ""
	m.transition(c, StateCompleted)

	description := rec.Description
	if description == "" {
		description = prompts.GenerationRequest(c.Description())
	}
	m.publish(events.KindAutomationCreated, map[string]any{
		"conversation_id": c.ID,
		"automation_id":   rec.ID,
		"alias":           rec.Alias,
		"description":     description,
	})
	m.logger.Info("automation created",
		"conversation_id", c.ID, "automation_id", rec.ID, "alias", rec.Alias)

	return m.llmReply(ctx, "success",
		prompts.Success(c.Language, rec.Alias, description, yamlText),
		message(c.Language, msgSuccess, rec.Alias),
	), nil
}

func (m *Machine) general(ctx context.Context, c *Context, text string) (string, error) {
	entities, areas, err := m.summaries(ctx, c.Scope)
	if err != nil {
		return "", failed(stageReply, err)
	}
	resp, err := m.Gateway.Complete(ctx, llm.Request{
		Purpose: "general",
		Prompt:  prompts.General(text, c.Language, entities, areas),
	})
	if err != nil {
		return "", failed(stageReply, err)
	}
	out, err := replyText(resp)
	if err != nil {
		return "", failed(stageReply, err)
	}
	return out, nil
}

// scope asks the model which domains a request needs. Any failure leaves
// the catalog unfiltered.
func (m *Machine) scope(ctx context.Context, id, request string) catalog.Filter {
	if !m.opts.ScopeRequests {
		return catalog.Filter{}
	}
	overview, err := m.Catalog.Overview(ctx)
	if err != nil {
		m.logger.Warn("catalog overview failed, not scoping request", "conversation_id", id, "error", err)
		return catalog.Filter{}
	}
	resp, err := m.Gateway.Complete(ctx, llm.Request{
		Purpose: "scope",
		Prompt:  prompts.EntityScope(overview, request),
		Shape:   prompts.EntityScopeShape,
	})
	if err != nil {
		m.logger.Warn("request scoping failed", "conversation_id", id, "error", err)
		return catalog.Filter{}
	}

	var scope struct {
		Domains  []string `json:"relevant_domains"`
		Areas    []string `json:"relevant_areas"`
		Detailed bool     `json:"needs_detailed_list"`
	}
	if err := repair.Decode(resp.Text, &scope, "relevant_domains"); err != nil {
		m.logger.Warn("request scope unreadable", "conversation_id", id, "error", err)
		return catalog.Filter{}
	}
	m.logger.Debug("request scoped",
		"conversation_id", id, "domains", scope.Domains, "areas", scope.Areas, "detailed", scope.Detailed)

	// Area assignments are often incomplete, so only domains narrow the
	// list.
	return catalog.Filter{Domains: scope.Domains}
}

func (m *Machine) summaries(ctx context.Context, f catalog.Filter) (entities, areas string, err error) {
	if entities, err = m.Catalog.Entities(ctx, f); err != nil {
		return "", "", fmt.Errorf("entity summary: %w", err)
	}
	if areas, err = m.Catalog.Areas(ctx); err != nil {
		return "", "", fmt.Errorf("area summary: %w", err)
	}
	return entities, areas, nil
}

// llmReply asks the model for a message and falls back to the fixed text
// when the call fails.
func (m *Machine) llmReply(ctx context.Context, purpose, prompt, fallback string) string {
	resp, err := m.Gateway.Complete(ctx, llm.Request{Purpose: purpose, Prompt: prompt})
	if err != nil {
		m.logger.Warn("reply generation failed, using fixed message",
			"conversation_id", llm.ConversationFrom(ctx), "purpose", purpose, "error", err)
		return fallback
	}
	text, err := replyText(resp)
	if err != nil {
		return fallback
	}
	return text
}

// fail moves c to the error state and returns the message for the user.
// Technical detail goes to the log only.
func (m *Machine) fail(ctx context.Context, c *Context, err error) string {
	stage := "turn"
	var te *turnError
	if errors.As(err, &te) {
		stage = te.stage
	}
	m.logger.Error("conversation turn failed",
		"conversation_id", c.ID, "stage", stage, "state", c.State, "error", err)
	var pe *repair.ParseError
	if errors.As(err, &pe) {
		m.logger.Log(ctx, llm.LevelTrace, "unparsed model reply", "conversation_id", c.ID, "raw", pe.Raw)
	}

	c.Pending, c.PendingYAML = nil, ""
	m.transition(c, StateError)
	m.Contexts.Put(c)
	m.publish(events.KindFailed, map[string]any{"conversation_id": c.ID, "stage": stage})

	var ge *llm.GatewayError
	switch {
	case stage == stageSave:
		return message(c.Language, msgSaveFailed)
	case errors.As(err, &ge), ctx.Err() != nil:
		return message(c.Language, msgError)
	case stage == stageGeneration:
		return m.llmReply(ctx, "error", prompts.Error(c.Language, stage), message(c.Language, msgGenerationFailed))
	default:
		return m.llmReply(ctx, "error", prompts.Error(c.Language, stage), message(c.Language, msgError))
	}
}

func (m *Machine) transition(c *Context, to State) {
	if c.State == to {
		return
	}
	from := c.State
	c.State = to
	m.logger.Debug("conversation state changed",
		"conversation_id", c.ID, "from", from, "to", to)
	m.publish(events.KindStateChanged, map[string]any{
		"conversation_id": c.ID,
		"from":            string(from),
		"to":              string(to),
	})
}

func (m *Machine) publish(kind string, data map[string]any) {
	m.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceConversation,
		Kind:      kind,
		Data:      data,
	})
}

func replyText(resp *llm.Response) (string, error) {
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("model returned an empty reply")
	}
	return text, nil
}

// Turn stages, used in logs and to choose the user-facing message.
const (
	stageAnalysis      = "analysis"
	stageClarification = "clarification"
	stageGeneration    = "generation"
	stagePreview       = "preview"
	stageApproval      = "approval"
	stageSave          = "save"
	stageReply         = "reply"
)

type turnError struct {
	stage string
	err   error
}

func (e *turnError) Error() string { return e.stage + ": " + e.err.Error() }

func (e *turnError) Unwrap() error { return e.err }

func failed(stage string, err error) error {
	return &turnError{stage: stage, err: err}
}

type languageKey struct{}

// WithLanguage sets the language used for fixed messages of a new
// conversation until the model detects one.
func WithLanguage(ctx context.Context, language string) context.Context {
	return context.WithValue(ctx, languageKey{}, language)
}

func languageFrom(ctx context.Context, fallback string) string {
	if lang, ok := ctx.Value(languageKey{}).(string); ok && lang != "" {
		return lang
	}
	return fallback
}

// turnLocks serializes turns per conversation id.
type turnLocks struct {
	mu   sync.Mutex
	held map[string]*turnLock
}

type turnLock struct {
	sync.Mutex
	refs int
}

func (l *turnLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]*turnLock)
	}
	t, ok := l.held[id]
	if !ok {
		t = &turnLock{}
		l.held[id] = t
	}
	t.refs++
	l.mu.Unlock()

	t.Lock()
	return func() {
		t.Unlock()
		l.mu.Lock()
		t.refs--
		if t.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}
