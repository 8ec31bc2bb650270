// Package handlers implements the per-stage dialogue handlers and the
// registry the turn controller resolves them from.
//
// Handlers follow one contract: they receive the session working copy and
// the normalized inbound message, and return a reply plus a proposed next
// stage. They never touch shared storage; committing the transition and
// persisting the session is the turn controller's job.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stibot/pkg/metrics"
	"stibot/pkg/nlp"
	"stibot/pkg/proto"
	"stibot/pkg/session"
	"stibot/pkg/stage"
)

// ErrUnknownStage is returned when no handler is registered for a stage.
// This is a programming defect, not user input; the turn controller treats
// it as fatal for the turn.
var ErrUnknownStage = errors.New("no handler registered for stage")

// Message is the normalized inbound input a handler receives: trimmed,
// non-empty (the controller rejects empty input first), with the button
// value split out when the user pressed a button.
type Message struct {
	Text     string
	ButtonID string
}

// Input returns the button value if present, otherwise the text.
func (m *Message) Input() string {
	if m.ButtonID != "" {
		return m.ButtonID
	}
	return m.Text
}

// Result is a handler's outcome for one turn.
type Result struct {
	Reply    string
	Buttons  []proto.Button
	Proposed stage.Stage
	// Unexpected marks the generic-fallback branch; the problem detector
	// counts these.
	Unexpected bool
	// EscalationReason is set when Proposed is ESCALATION.
	EscalationReason string
}

// Collaborators bundles the external services handlers may consult.
type Collaborators struct {
	Resolver        nlp.Resolver
	Policy          nlp.Policy
	Window          *nlp.WindowBuilder
	NLPTimeout      time.Duration
	Catalog         *Catalog
	MaxNameAttempts int

	// Recorder and Provider instrument resolver calls; Recorder may be
	// nil.
	Recorder metrics.Recorder
	Provider string
}

// Handler processes input for exactly one stage.
type Handler interface {
	Stage() stage.Stage
	Handle(ctx context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error)
}

// Registry maps stages to handlers.
type Registry struct {
	handlers map[stage.Stage]Handler
	collab   *Collaborators
}

// NewRegistry builds a registry with all stage handlers registered.
func NewRegistry(collab *Collaborators) *Registry {
	r := &Registry{
		handlers: make(map[stage.Stage]Handler),
		collab:   collab,
	}
	for _, h := range []Handler{
		&greetingHandler{},
		&askNameHandler{},
		&askLanguageHandler{},
		&askNeedHandler{},
		&askProblemHandler{},
		&deviceDetectionHandler{},
		&basicTestsHandler{},
		&diagnosisHandler{},
		&ticketHandler{},
		&errorHandler{},
		&escalationHandler{},
		&closedHandler{},
	} {
		r.handlers[h.Stage()] = h
	}
	return r
}

// Collaborators returns the shared collaborator bundle.
func (r *Registry) Collaborators() *Collaborators {
	return r.collab
}

// Resolve returns the handler for a stage or ErrUnknownStage.
func (r *Registry) Resolve(s stage.Stage) (Handler, error) {
	h, ok := r.handlers[s]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, s)
	}
	return h, nil
}

// Register replaces the handler for a stage. Test hook.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Stage()] = h
}

// Deregister removes a stage's handler. Test hook for the
// missing-handler path.
func (r *Registry) Deregister(s stage.Stage) {
	delete(r.handlers, s)
}

// resolveIntent runs the NLP resolver over the session window with the
// configured timeout, folding failures into zero confidence. Each call is
// reported to the recorder with the provider label.
func resolveIntent(ctx context.Context, sess *session.Session, c *Collaborators) (nlp.Result, bool) {
	turns := sess.Turns()
	if c.Window != nil {
		turns = c.Window.Build(turns)
	}
	started := time.Now()
	res, ok := nlp.ResolveWithTimeout(ctx, c.Resolver, nlp.Request{
		Window: turns,
		Locale: sess.Locale(),
	}, c.NLPTimeout)
	if c.Recorder != nil {
		c.Recorder.ObserveNLPRequest(c.Provider, ok, time.Since(started))
	}
	return res, ok
}
