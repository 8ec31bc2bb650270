package nlp

import (
	"context"
	"errors"
	"testing"
	"time"

	"stibot/pkg/proto"
	"stibot/pkg/session"
)

func TestPolicyBands(t *testing.T) {
	p := Policy{TrustConfidence: 0.6, ReviewConfidence: 0.3}

	cases := []struct {
		confidence float64
		want       Decision
	}{
		{0.95, DecisionTrust},
		{0.6, DecisionTrust},
		{0.59, DecisionReview},
		{0.3, DecisionReview},
		{0.29, DecisionReprompt},
		{0.0, DecisionReprompt},
	}
	for _, tc := range cases {
		if got := p.Decide(tc.confidence); got != tc.want {
			t.Errorf("Decide(%.2f) = %s, want %s", tc.confidence, got, tc.want)
		}
	}
}

func TestResolveWithTimeoutSuccess(t *testing.T) {
	mock := NewMockResolver([]Result{
		{Intent: "problem", Device: "notebook", Urgency: "high", Confidence: 0.8},
	}, nil)

	res, ok := ResolveWithTimeout(context.Background(), mock, Request{Locale: "es"}, time.Second)
	if !ok {
		t.Fatal("expected success")
	}
	if res.Device != "notebook" || res.Confidence != 0.8 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestResolveWithTimeoutFailureIsZeroConfidence(t *testing.T) {
	mock := NewMockResolver(nil, []error{errors.New("boom")})

	res, ok := ResolveWithTimeout(context.Background(), mock, Request{}, time.Second)
	if ok {
		t.Fatal("expected failure")
	}
	if res.Confidence != 0 {
		t.Errorf("failure must yield zero confidence, got %f", res.Confidence)
	}
}

type blockingResolver struct{}

func (blockingResolver) Resolve(ctx context.Context, _ Request) (Result, error) {
	<-ctx.Done()
	return Result{}, ctx.Err()
}

func TestResolveWithTimeoutExpires(t *testing.T) {
	res, ok := ResolveWithTimeout(context.Background(), blockingResolver{}, Request{}, 10*time.Millisecond)
	if ok {
		t.Fatal("expected timeout failure")
	}
	if res.Confidence != 0 {
		t.Errorf("timeout must yield zero confidence, got %f", res.Confidence)
	}
}

func TestResolveWithTimeoutClampsConfidence(t *testing.T) {
	mock := NewMockResolver([]Result{{Confidence: 1.7}, {Confidence: -0.2}}, nil)

	res, _ := ResolveWithTimeout(context.Background(), mock, Request{}, time.Second)
	if res.Confidence != 1 {
		t.Errorf("expected clamp to 1, got %f", res.Confidence)
	}
	res, _ = ResolveWithTimeout(context.Background(), mock, Request{}, time.Second)
	if res.Confidence != 0 {
		t.Errorf("expected clamp to 0, got %f", res.Confidence)
	}
}

func TestParseResult(t *testing.T) {
	res, err := parseResult(`{"intent":"problem","device":"router","urgency":"low","confidence":0.72}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if res.Intent != "problem" || res.Device != "router" || res.Confidence != 0.72 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestParseResultWithProseWrapper(t *testing.T) {
	res, err := parseResult("Sure, here you go:\n```json\n{\"intent\":\"task\",\"confidence\":0.5}\n```")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if res.Intent != "task" {
		t.Errorf("unexpected intent: %s", res.Intent)
	}
}

func TestParseResultRejectsGarbage(t *testing.T) {
	if _, err := parseResult("no json here"); !errors.Is(err, ErrExternalService) {
		t.Errorf("expected ErrExternalService, got %v", err)
	}
}

func TestWindowBuilderKeepsNewestTurns(t *testing.T) {
	wb := NewWindowBuilder(40)

	var turns []session.Turn
	for i := 0; i < 20; i++ {
		turns = append(turns, session.Turn{Who: proto.SpeakerUser, Text: "el router no conecta a internet"})
	}

	window := wb.Build(turns)
	if len(window) == 0 {
		t.Fatal("window must never be empty for a non-empty transcript")
	}
	if len(window) >= 20 {
		t.Errorf("expected budget to trim turns, kept %d", len(window))
	}
	// The kept turns must be the suffix.
	if window[len(window)-1].Text != turns[len(turns)-1].Text {
		t.Error("window must keep the most recent turn")
	}
}

func TestWindowBuilderNoBudgetKeepsAll(t *testing.T) {
	wb := NewWindowBuilder(0)
	turns := []session.Turn{{Text: "a"}, {Text: "b"}}
	if got := wb.Build(turns); len(got) != 2 {
		t.Errorf("expected all turns without budget, got %d", len(got))
	}
}

func TestMockResolverSequence(t *testing.T) {
	mock := NewMockResolver(
		[]Result{{Confidence: 0.9}, {Confidence: 0.1}},
		[]error{nil, nil},
	)

	first, err := mock.Resolve(context.Background(), Request{})
	if err != nil || first.Confidence != 0.9 {
		t.Errorf("unexpected first result: %+v, %v", first, err)
	}
	second, err := mock.Resolve(context.Background(), Request{})
	if err != nil || second.Confidence != 0.1 {
		t.Errorf("unexpected second result: %+v, %v", second, err)
	}
	// Exhausted: last result repeats.
	third, err := mock.Resolve(context.Background(), Request{})
	if err != nil || third.Confidence != 0.1 {
		t.Errorf("unexpected third result: %+v, %v", third, err)
	}
	if len(mock.Calls) != 3 {
		t.Errorf("expected 3 recorded calls, got %d", len(mock.Calls))
	}
}
