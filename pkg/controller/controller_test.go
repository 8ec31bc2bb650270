package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stibot/pkg/config"
	"stibot/pkg/detector"
	"stibot/pkg/handlers"
	"stibot/pkg/nlp"
	"stibot/pkg/proto"
	"stibot/pkg/session"
	"stibot/pkg/stage"
	"stibot/pkg/store"
)

func newTestController(resolver nlp.Resolver) (*Controller, *store.MemoryStore) {
	st := store.NewMemoryStore()
	reg := handlers.NewRegistry(&handlers.Collaborators{
		Resolver:        resolver,
		Policy:          nlp.Policy{TrustConfidence: 0.6, ReviewConfidence: 0.3},
		NLPTimeout:      time.Second,
		Catalog:         handlers.NewCatalog(),
		MaxNameAttempts: 3,
	})
	det := detector.New(config.DetectorConfig{
		WindowTurns:         6,
		LoopThreshold:       2,
		ApologyThreshold:    2,
		SimilarityThreshold: 0.85,
	})
	return New(st, reg, det, nil, nil), st
}

func text(sessionID, t string) *proto.ChatRequest {
	return &proto.ChatRequest{SessionID: sessionID, Text: t}
}

func button(sessionID, id string) *proto.ChatRequest {
	return &proto.ChatRequest{SessionID: sessionID, ButtonID: id}
}

func mustTurn(t *testing.T, c *Controller, req *proto.ChatRequest) *proto.ChatResponse {
	t.Helper()
	resp, err := c.HandleTurn(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func TestGreetingMintsSession(t *testing.T) {
	c, st := newTestController(nil)

	resp, err := c.Greeting(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "GREETING", resp.Stage)
	assert.NotEmpty(t, resp.Reply)
	assert.Len(t, resp.Buttons, 3, "language picker")

	sess, err := st.Load(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, stage.Greeting, sess.Stage())
	assert.Len(t, sess.Turns(), 1, "greeting is in the transcript")
}

func TestUnseenSessionCreatedOnFirstMessage(t *testing.T) {
	c, st := newTestController(nil)

	// A session id the store has never seen gets a fresh session at
	// GREETING; the first message is dispatched against it right away.
	resp := mustTurn(t, c, text("client-minted-id", "Hola"))
	assert.Equal(t, "ASK_NAME", resp.Stage)

	sess, err := st.Load(context.Background(), "client-minted-id")
	require.NoError(t, err)
	assert.Equal(t, stage.AskName, sess.Stage())
	assert.Zero(t, sess.NameAttempts())
	assert.Empty(t, sess.Problems())
}

func TestHolaAdvancesToAskName(t *testing.T) {
	c, _ := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)

	resp := mustTurn(t, c, text(greeting.SessionID, "Hola"))
	assert.Equal(t, "ASK_NAME", resp.Stage)
}

func TestInvalidNameHoldsStage(t *testing.T) {
	c, st := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID
	mustTurn(t, c, text(id, "Hola"))

	resp := mustTurn(t, c, text(id, "asdf123"))
	assert.Equal(t, "ASK_NAME", resp.Stage)

	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.NameAttempts())
}

func TestNameCaptured(t *testing.T) {
	c, st := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID
	mustTurn(t, c, text(id, "Hola"))

	resp := mustTurn(t, c, text(id, "Juan Pablo"))
	assert.Equal(t, "ASK_LANGUAGE", resp.Stage)

	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Juan Pablo", sess.Name())
}

func TestEmptyInputReprompts(t *testing.T) {
	c, st := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID

	resp := mustTurn(t, c, text(id, "   "))
	assert.Equal(t, "GREETING", resp.Stage)
	assert.NotEmpty(t, resp.Reply)

	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, sess.Turns(), 1, "empty input leaves the transcript alone")
}

func TestIdenticalResendReturnsStoredReply(t *testing.T) {
	c, st := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID

	first := mustTurn(t, c, text(id, "Hola"))
	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	turnsBefore := len(sess.Turns())

	second := mustTurn(t, c, text(id, "Hola"))
	assert.Equal(t, first.Reply, second.Reply)
	assert.Equal(t, first.Stage, second.Stage)

	sess, err = st.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, turnsBefore, len(sess.Turns()), "replay appends nothing")
}

func TestIdenticalButtonResendReturnsStoredReply(t *testing.T) {
	c, st := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID
	mustTurn(t, c, text(id, "Hola"))
	mustTurn(t, c, text(id, "Juan Pablo"))

	first := mustTurn(t, c, button(id, proto.BtnLangEsAR))
	require.Equal(t, "ASK_NEED", first.Stage)
	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	turnsBefore := len(sess.Turns())

	// A double-tapped button is the same dedup case as resent text.
	second := mustTurn(t, c, button(id, proto.BtnLangEsAR))
	assert.Equal(t, first.Reply, second.Reply)
	assert.Equal(t, first.Stage, second.Stage)

	sess, err = st.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, turnsBefore, len(sess.Turns()), "replay appends nothing")
}

// Walks a session to ASK_PROBLEM through the public API.
func walkToAskProblem(t *testing.T, c *Controller) string {
	t.Helper()
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID
	mustTurn(t, c, text(id, "Hola"))
	mustTurn(t, c, text(id, "Juan Pablo"))
	resp := mustTurn(t, c, button(id, proto.BtnLangEsAR))
	require.Equal(t, "ASK_NEED", resp.Stage)
	resp = mustTurn(t, c, button(id, proto.BtnHelp))
	require.Equal(t, "ASK_PROBLEM", resp.Stage)
	return id
}

func TestResolverFailureHoldsStage(t *testing.T) {
	mock := nlp.NewMockResolver(nil, []error{errors.New("deadline exceeded")})
	c, _ := newTestController(mock)
	id := walkToAskProblem(t, c)

	resp := mustTurn(t, c, text(id, "no tengo internet"))
	assert.Equal(t, "ASK_PROBLEM", resp.Stage, "weak classification re-prompts in place")
}

func TestHappyPathToTicket(t *testing.T) {
	mock := nlp.NewMockResolver([]nlp.Result{
		{Intent: "no_internet", Urgency: "high", Confidence: 0.9},
		{Intent: "no_internet", Device: "router", Confidence: 0.85},
	}, []error{nil, nil})
	c, st := newTestController(mock)
	id := walkToAskProblem(t, c)

	resp := mustTurn(t, c, text(id, "no tengo internet desde ayer"))
	require.Equal(t, "DEVICE_DETECTION", resp.Stage)

	resp = mustTurn(t, c, text(id, "el router del living"))
	require.Equal(t, "BASIC_TESTS", resp.Stage)

	resp = mustTurn(t, c, button(id, proto.BtnTestsFail))
	require.Equal(t, "DIAGNOSIS", resp.Stage)

	resp = mustTurn(t, c, button(id, proto.BtnYes))
	require.Equal(t, "TICKET_CREATION", resp.Stage)

	resp = mustTurn(t, c, text(id, "juan@example.com"))
	require.Equal(t, "TICKET_CREATION", resp.Stage)

	resp = mustTurn(t, c, text(id, "+54 11 5555-5555"))
	require.Equal(t, "CLOSED", resp.Stage)

	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "juan@example.com", sess.TicketEmail())
	assert.Equal(t, "router", sess.NLP().Device)

	// Audit trail reconstructs the whole path.
	audit := sess.Audit()
	require.NotEmpty(t, audit)
	assert.Equal(t, stage.Closed, audit[len(audit)-1].To)
}

func TestLoopOverrideForcesErrorStage(t *testing.T) {
	c, st := newTestController(nil)
	// Default loop threshold: the second production of the same reply trips
	// the rule. Apology and reformulation are parked out of the way so the
	// override is attributable to the loop rule alone.
	c.detector = detector.New(config.DetectorConfig{
		WindowTurns:         6,
		LoopThreshold:       config.DefaultLoopThreshold,
		ApologyThreshold:    99,
		SimilarityThreshold: 0.99,
	})

	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID
	mustTurn(t, c, text(id, "Hola"))
	mustTurn(t, c, text(id, "Juan Pablo"))
	mustTurn(t, c, button(id, proto.BtnLangEsAR))

	// Two unrecognized inputs at ASK_NEED produce the same fallback reply.
	resp := mustTurn(t, c, text(id, "xyzzy"))
	assert.Equal(t, "ASK_NEED", resp.Stage)

	resp = mustTurn(t, c, text(id, "plugh"))
	assert.Equal(t, "ERROR", resp.Stage, "repeated reply forces the error stage")

	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	found := false
	for _, ev := range sess.Problems() {
		if ev.Type == session.ProblemLoop {
			found = true
		}
	}
	assert.True(t, found, "loop problem event recorded")
}

func TestMissingHandlerIsFatalForTurn(t *testing.T) {
	c, _ := newTestController(nil)
	c.registry.Deregister(stage.AskName)

	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID
	mustTurn(t, c, text(id, "Hola"))

	resp := mustTurn(t, c, text(id, "Juan"))
	assert.Equal(t, "ERROR", resp.Stage)
	assert.NotEmpty(t, resp.Buttons)
}

func TestRestartOnTerminalSession(t *testing.T) {
	c, st := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID

	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, sess.Transition(stage.Error, "test"))
	require.NoError(t, sess.Transition(stage.Closed, "test"))
	require.NoError(t, st.Save(context.Background(), sess))

	resp := mustTurn(t, c, text(id, "reiniciar"))
	assert.Equal(t, "GREETING", resp.Stage)
	assert.Len(t, resp.Buttons, 3)

	sess, err = st.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, stage.Greeting, sess.Stage())
	assert.Empty(t, sess.Problems())
}

func TestRestartFromErrorStageResets(t *testing.T) {
	c, st := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID

	// Park the session at ERROR with its problem state at the threshold.
	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, sess.Transition(stage.Error, "test"))
	sess.IncrementLoopCount()
	sess.IncrementLoopCount()
	sess.RecordProblem(session.ProblemEvent{Type: session.ProblemLoop, Evidence: "repeated reply"})
	require.NoError(t, st.Save(context.Background(), sess))

	resp := mustTurn(t, c, text(id, "reiniciar"))
	assert.Equal(t, "GREETING", resp.Stage)
	assert.Len(t, resp.Buttons, 3)

	// The reset wiped the counters, so nothing can re-trip on the next turn.
	sess, err = st.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, stage.Greeting, sess.Stage())
	assert.Zero(t, sess.LoopCount())
	assert.Empty(t, sess.Problems())

	resp = mustTurn(t, c, text(id, "Hola"))
	assert.Equal(t, "ASK_NAME", resp.Stage)
}

func TestTerminalSessionAnswersWithClosedNotice(t *testing.T) {
	c, st := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID

	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, sess.Transition(stage.Error, "test"))
	require.NoError(t, sess.Transition(stage.Closed, "test"))
	require.NoError(t, st.Save(context.Background(), sess))

	resp := mustTurn(t, c, text(id, "hola?"))
	assert.Equal(t, "CLOSED", resp.Stage)
}

// failingStore wraps a store and fails Save on demand.
type failingStore struct {
	store.Store
	failSave bool
}

func (f *failingStore) Save(ctx context.Context, sess *session.Session) error {
	if f.failSave {
		return fmt.Errorf("disk full")
	}
	return f.Store.Save(ctx, sess)
}

func TestPersistFailureReturnsRetryReply(t *testing.T) {
	c, st := newTestController(nil)
	fs := &failingStore{Store: st}
	c.store = fs

	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID

	fs.failSave = true
	resp := mustTurn(t, c, text(id, "Hola"))
	assert.Equal(t, "GREETING", resp.Stage, "uncommitted turn reports the old stage")

	fs.failSave = false
	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, stage.Greeting, sess.Stage())
	assert.Len(t, sess.Turns(), 1, "failed turn left no transcript trace")

	// The conversation continues normally once storage recovers.
	resp = mustTurn(t, c, text(id, "Hola"))
	assert.Equal(t, "ASK_NAME", resp.Stage)
}

func TestConcurrentTurnsSerializePerSession(t *testing.T) {
	c, st := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID

	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			_, err := c.HandleTurn(context.Background(), text(id, fmt.Sprintf("mensaje %d", n)))
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	sess, err := st.Load(context.Background(), id)
	require.NoError(t, err)
	// One exchange per turn plus the greeting; no interleaved halves.
	assert.Equal(t, 1+8*2, len(sess.Turns()))
}

func TestSessionLocksEvictedWhenIdle(t *testing.T) {
	c, _ := newTestController(nil)
	greeting, err := c.Greeting(context.Background())
	require.NoError(t, err)
	id := greeting.SessionID

	mustTurn(t, c, text(id, "Hola"))
	mustTurn(t, c, text(id, "Juan Pablo"))
	mustTurn(t, c, text("another-session", "Hola"))

	c.mu.Lock()
	held := len(c.locks)
	c.mu.Unlock()
	assert.Zero(t, held, "no turns in flight means no lock entries")
}
