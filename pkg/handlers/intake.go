package handlers

import (
	"context"

	"stibot/pkg/nlp"
	"stibot/pkg/proto"
	"stibot/pkg/session"
	"stibot/pkg/stage"
)

// askProblemHandler sends the user's problem description through the NLP
// resolver. The confidence policy decides whether to advance, advance with
// a review flag, or ask again; resolver failures look like a weak
// classification and fall into the reprompt branch.
type askProblemHandler struct{}

func (h *askProblemHandler) Stage() stage.Stage { return stage.AskProblem }

func (h *askProblemHandler) Handle(ctx context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error) {
	loc := sess.Locale()
	if msg.ButtonID != "" {
		return Result{
			Reply:      c.Catalog.Msg(loc, "fallback"),
			Proposed:   stage.AskProblem,
			Unexpected: true,
		}, nil
	}
	res, _ := resolveIntent(ctx, sess, c)
	switch c.Policy.Decide(res.Confidence) {
	case nlp.DecisionTrust:
		sess.SetNLP(toSessionResult(res))
	case nlp.DecisionReview:
		sess.SetNLP(toSessionResult(res))
		sess.MarkForReview()
	default:
		return Result{
			Reply:      c.Catalog.Msg(loc, "ask_problem_retry"),
			Proposed:   stage.AskProblem,
			Unexpected: true,
		}, nil
	}
	return Result{
		Reply:    c.Catalog.Msg(loc, "ask_device"),
		Proposed: stage.DeviceDetection,
	}, nil
}

// deviceDetectionHandler pins down which device the problem is on. Free
// text goes through the resolver; a confident answer moves to basic tests.
type deviceDetectionHandler struct{}

func (h *deviceDetectionHandler) Stage() stage.Stage { return stage.DeviceDetection }

func (h *deviceDetectionHandler) Handle(ctx context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error) {
	loc := sess.Locale()
	if msg.ButtonID != "" {
		return Result{
			Reply:      c.Catalog.Msg(loc, "fallback"),
			Proposed:   stage.DeviceDetection,
			Unexpected: true,
		}, nil
	}
	res, ok := resolveIntent(ctx, sess, c)
	if d := c.Policy.Decide(res.Confidence); !ok || d == nlp.DecisionReprompt || res.Device == "" {
		return Result{
			Reply:      c.Catalog.Msg(loc, "ask_device_retry"),
			Proposed:   stage.DeviceDetection,
			Unexpected: true,
		}, nil
	} else if d == nlp.DecisionReview {
		sess.MarkForReview()
	}
	merged := toSessionResult(res)
	if prev := sess.NLP(); prev != nil && merged.Intent == "" {
		merged.Intent = prev.Intent
	}
	sess.SetNLP(merged)
	return Result{
		Reply:    c.Catalog.Msg(loc, "basic_tests"),
		Buttons:  testButtons(loc),
		Proposed: stage.BasicTests,
	}, nil
}

func toSessionResult(res nlp.Result) session.NLPResult {
	return session.NLPResult{
		Intent:     res.Intent,
		Device:     res.Device,
		Urgency:    res.Urgency,
		Confidence: res.Confidence,
	}
}

func testButtons(locale string) []proto.Button {
	return buttons(locale, proto.BtnTestsDone, proto.BtnTestsFail, proto.BtnSolved)
}
