package handlers

import (
	"context"
	"strings"

	"stibot/pkg/proto"
	"stibot/pkg/session"
	"stibot/pkg/stage"
)

// errorHandler is the recovery stage: the user picks between a human
// handoff and closing. Restart requests never reach this handler; the
// turn controller intercepts them and resets the session.
type errorHandler struct{}

func (h *errorHandler) Stage() stage.Stage { return stage.Error }

func (h *errorHandler) Handle(_ context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error) {
	loc := sess.Locale()
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	switch {
	case msg.ButtonID == proto.BtnYes || isAffirmative(text) || wantsHuman(text):
		return Result{
			Reply:            c.Catalog.Msg(loc, "escalation"),
			Proposed:         stage.Escalation,
			EscalationReason: "recovery from error stage",
		}, nil
	case msg.ButtonID == proto.BtnNo || isNegative(text):
		return Result{
			Reply:    c.Catalog.Msg(loc, "closed"),
			Proposed: stage.Closed,
		}, nil
	}
	return Result{
		Reply:      c.Catalog.Msg(loc, "error"),
		Buttons:    buttons(loc, proto.BtnYes, proto.BtnNo),
		Proposed:   stage.Error,
		Unexpected: true,
	}, nil
}

// escalationHandler answers anything said after the handoff with the same
// handoff notice. The stage is terminal; nothing advances from here.
type escalationHandler struct{}

func (h *escalationHandler) Stage() stage.Stage { return stage.Escalation }

func (h *escalationHandler) Handle(_ context.Context, sess *session.Session, _ *Message, c *Collaborators) (Result, error) {
	return Result{
		Reply:    c.Catalog.Msg(sess.Locale(), "escalation"),
		Proposed: stage.Escalation,
	}, nil
}

// closedHandler answers anything said after close with the closed notice.
// Restart requests are intercepted by the turn controller before dispatch.
type closedHandler struct{}

func (h *closedHandler) Stage() stage.Stage { return stage.Closed }

func (h *closedHandler) Handle(_ context.Context, sess *session.Session, _ *Message, c *Collaborators) (Result, error) {
	return Result{
		Reply:    c.Catalog.Msg(sess.Locale(), "closed"),
		Proposed: stage.Closed,
	}, nil
}
