// Package controller drives one conversation turn end to end: load the
// session, dispatch to the stage handler, run the problem detector, commit
// the transition, persist, and compose the reply.
package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stibot/pkg/detector"
	"stibot/pkg/eventlog"
	"stibot/pkg/handlers"
	"stibot/pkg/logx"
	"stibot/pkg/metrics"
	"stibot/pkg/proto"
	"stibot/pkg/session"
	"stibot/pkg/stage"
	"stibot/pkg/store"
)

// Turn outcomes, used as the metrics outcome label.
const (
	outcomeAdvanced     = "advanced"
	outcomeHeld         = "held"
	outcomeReplayed     = "replayed"
	outcomeReprompt     = "reprompt"
	outcomeFatal        = "fatal"
	outcomePersistError = "persist_error"
	outcomeRestarted    = "restarted"
)

// Controller serializes turns per session and owns the commit/persist
// ordering. Handlers and the detector work on the in-memory session copy;
// nothing is visible to other turns until Save succeeds.
type Controller struct {
	store    store.Store
	registry *handlers.Registry
	detector *detector.Detector
	recorder metrics.Recorder
	flow     *eventlog.Writer
	logger   *logx.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// New wires a controller. flow may be nil to disable the audit log;
// recorder may be nil for a no-op.
func New(st store.Store, reg *handlers.Registry, det *detector.Detector, rec metrics.Recorder, flow *eventlog.Writer) *Controller {
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Controller{
		store:    st,
		registry: reg,
		detector: det,
		recorder: rec,
		flow:     flow,
		logger:   logx.NewLogger("controller"),
		locks:    make(map[string]*sessionLock),
	}
}

// Greeting mints a new session and returns the opening bot message with
// the language picker.
func (c *Controller) Greeting(ctx context.Context) (*proto.ChatResponse, error) {
	id := uuid.NewString()
	sess := session.New(id)

	catalog := c.registry.Collaborators().Catalog
	reply := catalog.Msg(sess.Locale(), "greeting")
	sess.AppendTurn(proto.SpeakerBot, reply)

	if err := c.persist(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	c.logger.Info("Minted session %s", id)

	return &proto.ChatResponse{
		SessionID: id,
		Reply:     reply,
		Stage:     sess.Stage().String(),
		Buttons:   handlers.LanguageButtons(sess.Locale()),
	}, nil
}

// HandleTurn processes one inbound message and returns the single reply.
func (c *Controller) HandleTurn(ctx context.Context, req *proto.ChatRequest) (*proto.ChatResponse, error) {
	lock := c.acquireLock(req.SessionID)
	defer c.releaseLock(req.SessionID, lock)

	started := time.Now()

	// A session id seen for the first time gets a fresh session at the
	// greeting stage; the first inbound message is what creates it.
	sess, created, err := store.GetOrCreate(ctx, c.store, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", req.SessionID, err)
	}
	if created {
		c.logger.Info("Created session %s on first inbound message", req.SessionID)
	}

	prevStage := sess.Stage()
	catalog := c.registry.Collaborators().Catalog
	input := req.Input()

	// Empty input never reaches a handler: re-prompt in place without
	// touching the transcript.
	if input == "" {
		c.recorder.ObserveTurn(prevStage.String(), outcomeReprompt, time.Since(started))
		return c.respond(sess, catalog.Msg(sess.Locale(), "reprompt"), nil), nil
	}

	// A restart request on a finished or errored conversation starts over
	// with the same session id. Handling it here means the reset wipes the
	// problem counters before anything else can re-trip them.
	if (prevStage.Terminal() || prevStage == stage.Error) && isRestart(input) {
		return c.restart(ctx, sess, started)
	}

	// Retry detection: the exact same input as the last completed exchange
	// means the client resent the message, button presses included. Return
	// the stored reply without reprocessing. A merely similar text is a
	// reformulation and goes through the detector like any other turn.
	if lastUser, lastReply, ok := sess.LastExchange(); ok && lastUser == input {
		c.recorder.ObserveTurn(prevStage.String(), outcomeReplayed, time.Since(started))
		c.logger.Debug("Session %s replayed last exchange", sess.ID())
		return c.respond(sess, lastReply, nil), nil
	}

	sess.AppendTurn(proto.SpeakerUser, input)

	res, herr := c.dispatch(ctx, sess, req)
	outcome := outcomeAdvanced
	if herr != nil {
		// Handler and registry failures are fatal for the turn: the
		// conversation drops into the error stage with a recovery prompt.
		c.logger.Error("Session %s dispatch failed at %s: %v", sess.ID(), prevStage, herr)
		res = handlers.Result{
			Reply:    catalog.Msg(sess.Locale(), "error"),
			Buttons:  handlers.RecoveryButtons(sess.Locale()),
			Proposed: stage.Error,
		}
		outcome = outcomeFatal
	}

	// The detector sees the candidate reply before it is committed so the
	// loop rule can compare it against what the bot already said.
	finding := c.detector.Evaluate(sess, res.Reply, res.Unexpected)
	for _, ev := range finding.Events {
		sess.RecordProblem(ev)
		c.recorder.IncProblem(string(ev.Type))
		c.writeFlow(&eventlog.FlowEvent{
			SessionID: sess.ID(),
			Kind:      eventlog.KindProblem,
			FromStage: prevStage.String(),
			Detail:    string(ev.Type) + ": " + ev.Evidence,
		})
	}

	target := res.Proposed
	reason := transitionReason(&res, herr)
	if finding.HasOverride && target != stage.Escalation && target != stage.Closed {
		target = finding.Override
		reason = finding.OverrideReason
		res.Reply = catalog.Msg(sess.Locale(), "error")
		res.Buttons = handlers.RecoveryButtons(sess.Locale())
	}

	if err := sess.Transition(target, reason); err != nil {
		// Handlers only propose legal successors; reaching this means a
		// handler bug. ERROR is reachable from everywhere.
		c.logger.Error("Session %s illegal transition %s -> %s: %v", sess.ID(), prevStage, target, err)
		_ = sess.Transition(stage.Error, "illegal transition proposed")
		res.Reply = catalog.Msg(sess.Locale(), "error")
		res.Buttons = handlers.RecoveryButtons(sess.Locale())
		outcome = outcomeFatal
	}

	sess.AppendTurn(proto.SpeakerBot, res.Reply)

	if err := c.persist(ctx, sess); err != nil {
		// Nothing was committed: the next turn reloads the stored state.
		c.logger.Error("Session %s persist failed: %v", sess.ID(), err)
		c.recorder.ObserveTurn(prevStage.String(), outcomePersistError, time.Since(started))
		return &proto.ChatResponse{
			SessionID: sess.ID(),
			Reply:     catalog.Msg(sess.Locale(), "retry_later"),
			Stage:     prevStage.String(),
		}, nil
	}

	newStage := sess.Stage()
	if outcome == outcomeAdvanced && newStage == prevStage {
		outcome = outcomeHeld
	}
	c.recorder.ObserveTurn(prevStage.String(), outcome, time.Since(started))

	c.writeFlow(&eventlog.FlowEvent{
		SessionID: sess.ID(),
		Kind:      eventlog.KindTurn,
		FromStage: prevStage.String(),
		ToStage:   newStage.String(),
		UserText:  input,
		BotReply:  res.Reply,
	})
	if newStage != prevStage {
		c.recorder.IncTransition(prevStage.String(), newStage.String(), reason)
		c.writeFlow(&eventlog.FlowEvent{
			SessionID: sess.ID(),
			Kind:      eventlog.KindTransition,
			FromStage: prevStage.String(),
			ToStage:   newStage.String(),
			Detail:    reason,
		})
	}
	switch {
	case newStage == stage.Escalation && prevStage != stage.Escalation:
		c.writeFlow(&eventlog.FlowEvent{
			SessionID: sess.ID(),
			Kind:      eventlog.KindEscalation,
			FromStage: prevStage.String(),
			Detail:    res.EscalationReason,
		})
	case newStage == stage.Closed && sess.TicketPhone() != "":
		c.writeFlow(&eventlog.FlowEvent{
			SessionID: sess.ID(),
			Kind:      eventlog.KindTicket,
			FromStage: prevStage.String(),
			Detail:    fmt.Sprintf("ticket for %s (%s)", sess.TicketEmail(), sess.TicketPhone()),
		})
	}

	return c.respond(sess, res.Reply, res.Buttons), nil
}

func (c *Controller) dispatch(ctx context.Context, sess *session.Session, req *proto.ChatRequest) (handlers.Result, error) {
	h, err := c.registry.Resolve(sess.Stage())
	if err != nil {
		return handlers.Result{}, err
	}
	msg := &handlers.Message{Text: strings.TrimSpace(req.Text), ButtonID: req.ButtonID}
	return h.Handle(ctx, sess, msg, c.registry.Collaborators())
}

func (c *Controller) restart(ctx context.Context, sess *session.Session, started time.Time) (*proto.ChatResponse, error) {
	prev := sess.Stage()
	sess.Reset()

	catalog := c.registry.Collaborators().Catalog
	reply := catalog.Msg(sess.Locale(), "greeting")
	sess.AppendTurn(proto.SpeakerBot, reply)

	if err := c.persist(ctx, sess); err != nil {
		c.logger.Error("Session %s restart persist failed: %v", sess.ID(), err)
		return &proto.ChatResponse{
			SessionID: sess.ID(),
			Reply:     catalog.Msg(sess.Locale(), "retry_later"),
			Stage:     prev.String(),
		}, nil
	}

	c.recorder.ObserveTurn(prev.String(), outcomeRestarted, time.Since(started))
	c.writeFlow(&eventlog.FlowEvent{
		SessionID: sess.ID(),
		Kind:      eventlog.KindTransition,
		FromStage: prev.String(),
		ToStage:   sess.Stage().String(),
		Detail:    "session restart",
	})
	return c.respond(sess, reply, handlers.LanguageButtons(sess.Locale())), nil
}

// persist saves the session under a context detached from the request so a
// client disconnect cannot abort a write that already logically happened.
func (c *Controller) persist(ctx context.Context, sess *session.Session) error {
	return c.store.Save(context.WithoutCancel(ctx), sess)
}

func (c *Controller) respond(sess *session.Session, reply string, buttons []proto.Button) *proto.ChatResponse {
	return &proto.ChatResponse{
		SessionID: sess.ID(),
		Reply:     reply,
		Stage:     sess.Stage().String(),
		Buttons:   buttons,
	}
}

// sessionLock serializes turns for one session id. Locks are refcounted so
// the map only holds entries for sessions with a turn in flight.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (c *Controller) acquireLock(id string) *sessionLock {
	c.mu.Lock()
	lock, ok := c.locks[id]
	if !ok {
		lock = &sessionLock{}
		c.locks[id] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (c *Controller) releaseLock(id string, lock *sessionLock) {
	lock.mu.Unlock()

	c.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(c.locks, id)
	}
	c.mu.Unlock()
}

func (c *Controller) writeFlow(ev *eventlog.FlowEvent) {
	if c.flow == nil {
		return
	}
	if err := c.flow.Write(ev); err != nil {
		c.logger.Warn("Failed to write flow event: %v", err)
	}
}

func transitionReason(res *handlers.Result, herr error) string {
	switch {
	case herr != nil:
		return "handler failure"
	case res.EscalationReason != "":
		return res.EscalationReason
	default:
		return "handler"
	}
}

func isRestart(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "reiniciar", "restart", "empezar de nuevo", "start over", "reset":
		return true
	}
	return false
}
