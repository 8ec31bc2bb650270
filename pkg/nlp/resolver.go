// Package nlp wraps the external intent-classification service behind the
// Resolver interface and applies the confidence threshold policy that
// handlers consume.
package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"stibot/pkg/session"
)

// ErrExternalService indicates the resolver call failed (timeout, transport,
// malformed response). Handlers recover it locally into the zero-confidence
// path; it never crosses the turn controller.
var ErrExternalService = errors.New("intent resolver call failed")

// Request carries the transcript window and locale to the resolver.
type Request struct {
	Window []session.Turn
	Locale string
}

// Result is the resolver's classification of the conversation so far.
type Result struct {
	Intent     string  `json:"intent"`
	Device     string  `json:"device"`
	Urgency    string  `json:"urgency"`
	Confidence float64 `json:"confidence"`
}

// Resolver classifies a conversation window. Implementations must respect
// ctx cancellation; the caller attaches the configured call timeout.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (Result, error)
}

// Decision is the confidence-policy outcome a handler acts on.
type Decision int

const (
	// DecisionTrust means the classification is reliable; advance the stage.
	DecisionTrust Decision = iota
	// DecisionReview means advance but flag the session for human review at
	// ticket creation.
	DecisionReview
	// DecisionReprompt means the classification is too weak to act on.
	DecisionReprompt
)

func (d Decision) String() string {
	switch d {
	case DecisionTrust:
		return "trust"
	case DecisionReview:
		return "review"
	default:
		return "reprompt"
	}
}

// Policy applies the configured confidence bands.
type Policy struct {
	TrustConfidence  float64
	ReviewConfidence float64
}

// Decide maps a confidence score onto the threshold policy.
func (p Policy) Decide(confidence float64) Decision {
	switch {
	case confidence >= p.TrustConfidence:
		return DecisionTrust
	case confidence >= p.ReviewConfidence:
		return DecisionReview
	default:
		return DecisionReprompt
	}
}

// ResolveWithTimeout runs a resolver call under the given timeout and folds
// every failure mode into a zero-confidence result. The bool reports
// whether the call actually succeeded.
func ResolveWithTimeout(ctx context.Context, r Resolver, req Request, timeout time.Duration) (Result, bool) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := r.Resolve(callCtx, req)
	if err != nil {
		return Result{Confidence: 0}, false
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return res, true
}

// classifierPrompt is the instruction shared by the live backends. The
// model must answer with a single JSON object.
const classifierPrompt = `You classify technical-support conversations.
Given the transcript, reply with only a JSON object:
{"intent": "<problem|task|question|other>",
 "device": "<short device description or empty>",
 "urgency": "<low|medium|high>",
 "confidence": <0.0-1.0>}
The user's locale is %q. Do not add any text outside the JSON object.`

// renderWindow flattens a transcript window into prompt text.
func renderWindow(window []session.Turn) string {
	var b strings.Builder
	for i := range window {
		t := &window[i]
		b.WriteString(string(t.Who))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// parseResult extracts the JSON object from a model reply. Models sometimes
// wrap the object in prose or fences; take the outermost braces.
func parseResult(content string) (Result, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Result{}, fmt.Errorf("%w: no JSON object in reply", ErrExternalService)
	}

	var res Result
	if err := json.Unmarshal([]byte(content[start:end+1]), &res); err != nil {
		return Result{}, fmt.Errorf("%w: malformed JSON reply: %v", ErrExternalService, err)
	}
	return res, nil
}
