package handlers

import (
	"context"
	"strings"

	"stibot/pkg/proto"
	"stibot/pkg/session"
	"stibot/pkg/stage"
)

// basicTestsHandler walks the user through the quick self-service checks.
// A solved report closes the conversation; everything else moves to
// diagnosis with whatever the user reported.
type basicTestsHandler struct{}

func (h *basicTestsHandler) Stage() stage.Stage { return stage.BasicTests }

func (h *basicTestsHandler) Handle(_ context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error) {
	loc := sess.Locale()
	switch msg.ButtonID {
	case proto.BtnSolved:
		return Result{
			Reply:    c.Catalog.Msg(loc, "solved"),
			Proposed: stage.Closed,
		}, nil
	case proto.BtnTestsDone, proto.BtnTestsFail, "":
		return Result{
			Reply:    c.Catalog.Msgf(loc, "diagnosis", diagnosisSubject(sess, loc)),
			Buttons:  buttons(loc, proto.BtnYes, proto.BtnNo),
			Proposed: stage.Diagnosis,
		}, nil
	}
	return Result{
		Reply:      c.Catalog.Msg(loc, "fallback"),
		Buttons:    testButtons(loc),
		Proposed:   stage.BasicTests,
		Unexpected: true,
	}, nil
}

// diagnosisHandler offers to open a ticket. The user can also ask for a
// human outright, which escalates instead.
type diagnosisHandler struct{}

func (h *diagnosisHandler) Stage() stage.Stage { return stage.Diagnosis }

func (h *diagnosisHandler) Handle(_ context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error) {
	loc := sess.Locale()
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	switch {
	case msg.ButtonID == proto.BtnYes || isAffirmative(text):
		return Result{
			Reply:    c.Catalog.Msg(loc, "ticket_email"),
			Proposed: stage.TicketCreation,
		}, nil
	case msg.ButtonID == proto.BtnNo || isNegative(text):
		return Result{
			Reply:    c.Catalog.Msg(loc, "closed"),
			Proposed: stage.Closed,
		}, nil
	case wantsHuman(text):
		return Result{
			Reply:            c.Catalog.Msg(loc, "escalation"),
			Proposed:         stage.Escalation,
			EscalationReason: "user requested a human agent",
		}, nil
	}
	return Result{
		Reply:      c.Catalog.Msg(loc, "diagnosis_retry"),
		Buttons:    buttons(loc, proto.BtnYes, proto.BtnNo),
		Proposed:   stage.Diagnosis,
		Unexpected: true,
	}, nil
}

// diagnosisSubject picks the most specific thing we know about the problem
// for the diagnosis summary.
func diagnosisSubject(sess *session.Session, locale string) string {
	if res := sess.NLP(); res != nil {
		if res.Device != "" {
			return res.Device
		}
		if res.Intent != "" && res.Intent != "problem" && res.Intent != "task" {
			return res.Intent
		}
	}
	if langBase(locale) == "en" {
		return "connectivity"
	}
	return "conexión"
}

func isAffirmative(text string) bool {
	switch text {
	case "si", "sí", "yes", "dale", "ok", "claro", "sure", "yep":
		return true
	}
	return false
}

func isNegative(text string) bool {
	switch text {
	case "no", "nope", "no gracias", "no thanks":
		return true
	}
	return false
}

func wantsHuman(text string) bool {
	return containsAny(text, "humano", "agente", "persona", "human", "agent", "operator", "escalar", "escalate")
}
