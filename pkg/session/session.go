// Package session owns the conversation session model: the current stage,
// the append-only transcript, anomaly counters, and the transition audit.
//
// The stage field is unexported on purpose: the only way to change it is
// Transition, which validates against the legal-successor table and records
// an audit entry. Sessions are not internally synchronized; the turn
// controller serializes all access per session.
package session

import (
	"fmt"
	"time"

	"stibot/pkg/proto"
	"stibot/pkg/stage"
)

// maxAuditRecords caps the retained transition audit.
const maxAuditRecords = 200

// Turn is one user-or-bot message appended to the transcript.
type Turn struct {
	Who  proto.Speaker `json:"who"`
	Text string        `json:"text"`
	Ts   time.Time     `json:"ts"`
}

// TransitionRecord is one committed stage transition.
type TransitionRecord struct {
	From      stage.Stage `json:"from"`
	To        stage.Stage `json:"to"`
	Timestamp time.Time   `json:"timestamp"`
	Reason    string      `json:"reason"`
}

// ProblemType classifies a detected conversational anomaly.
type ProblemType string

const (
	ProblemLoop          ProblemType = "loop"
	ProblemApology       ProblemType = "apology"
	ProblemReformulation ProblemType = "reformulation"
	ProblemUnexpected    ProblemType = "unexpected"
)

// ProblemEvent is a detected anomaly, kept in a per-session log separate
// from the transcript.
type ProblemEvent struct {
	Type     ProblemType `json:"type"`
	Evidence string      `json:"evidenceText"`
	Ts       time.Time   `json:"ts"`
}

// NLPResult is the last intent-resolver output stored on the session.
type NLPResult struct {
	Intent     string  `json:"intent"`
	Device     string  `json:"device"`
	Urgency    string  `json:"urgency"`
	Confidence float64 `json:"confidence"`
}

// Session is one conversation. Created at GREETING with zero counters,
// mutated only through its methods.
type Session struct {
	id         string
	stg        stage.Stage
	locale     string
	name       string
	nlp        *NLPResult
	needReview bool

	nameAttempts       int
	loopCount          int
	apologyCount       int
	reformulationCount int
	unexpectedCount    int

	transcript []Turn
	problems   []ProblemEvent
	audit      []TransitionRecord

	ticketEmail string
	ticketPhone string

	createdAt time.Time
	updatedAt time.Time
}

// New creates a session at the initial stage with zero counters.
func New(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		id:        id,
		stg:       stage.Initial,
		locale:    "es",
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the immutable session identifier.
func (s *Session) ID() string { return s.id }

// Stage returns the current stage.
func (s *Session) Stage() stage.Stage { return s.stg }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns the last mutation time.
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }

// Transition commits a stage change after validating it against the
// transition table. Self-transitions are recorded too; they represent
// stay-and-retry and keep the audit complete.
func (s *Session) Transition(to stage.Stage, reason string) error {
	from := s.stg
	if !stage.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", stage.ErrInvalidTransition, from, to)
	}

	s.audit = append(s.audit, TransitionRecord{
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	})
	if len(s.audit) > maxAuditRecords {
		s.audit = s.audit[len(s.audit)-maxAuditRecords:]
	}

	s.stg = to
	s.touch()
	return nil
}

// AppendTurn appends one turn to the transcript. Turns are never reordered
// or deleted except by Reset.
func (s *Session) AppendTurn(who proto.Speaker, text string) {
	s.transcript = append(s.transcript, Turn{
		Who:  who,
		Text: text,
		Ts:   time.Now().UTC(),
	})
	s.touch()
}

// Turns returns a copy of the full transcript.
func (s *Session) Turns() []Turn {
	return append([]Turn{}, s.transcript...)
}

// Window returns a copy of the most recent n turns.
func (s *Session) Window(n int) []Turn {
	if n <= 0 || len(s.transcript) == 0 {
		return nil
	}
	start := len(s.transcript) - n
	if start < 0 {
		start = 0
	}
	return append([]Turn{}, s.transcript[start:]...)
}

// LastExchange returns the most recent user turn and the bot reply that
// followed it, if the transcript currently ends with that pair. The turn
// controller uses this to recognize client retries.
func (s *Session) LastExchange() (userText, botReply string, ok bool) {
	n := len(s.transcript)
	if n < 2 {
		return "", "", false
	}
	last, prev := s.transcript[n-1], s.transcript[n-2]
	if prev.Who != proto.SpeakerUser || last.Who != proto.SpeakerBot {
		return "", "", false
	}
	return prev.Text, last.Text, true
}

// Locale returns the detected or declared locale.
func (s *Session) Locale() string { return s.locale }

// SetLocale records the detected or declared locale.
func (s *Session) SetLocale(locale string) {
	if locale == "" {
		return
	}
	s.locale = locale
	s.touch()
}

// Name returns the captured user name, empty until ASK_NAME completes.
func (s *Session) Name() string { return s.name }

// SetName records the captured user name.
func (s *Session) SetName(name string) {
	s.name = name
	s.touch()
}

// NLP returns the last intent-resolver result, or nil.
func (s *Session) NLP() *NLPResult {
	if s.nlp == nil {
		return nil
	}
	cp := *s.nlp
	return &cp
}

// SetNLP stores the last intent-resolver result.
func (s *Session) SetNLP(res NLPResult) {
	s.nlp = &res
	s.touch()
}

// MarkForReview flags the session for human review at ticket creation
// (mid-band confidence results).
func (s *Session) MarkForReview() {
	s.needReview = true
	s.touch()
}

// NeedsReview reports whether a human should double-check the NLP
// classification when the ticket is built.
func (s *Session) NeedsReview() bool { return s.needReview }

// Counter accessors. All counters are monotone; Reset is the only way down.

func (s *Session) NameAttempts() int       { return s.nameAttempts }
func (s *Session) LoopCount() int          { return s.loopCount }
func (s *Session) ApologyCount() int       { return s.apologyCount }
func (s *Session) ReformulationCount() int { return s.reformulationCount }
func (s *Session) UnexpectedCount() int    { return s.unexpectedCount }

// IncrementNameAttempts bumps the failed-name-capture counter and returns
// the new value.
func (s *Session) IncrementNameAttempts() int {
	s.nameAttempts++
	s.touch()
	return s.nameAttempts
}

func (s *Session) IncrementLoopCount() int {
	s.loopCount++
	s.touch()
	return s.loopCount
}

func (s *Session) IncrementApologyCount() int {
	s.apologyCount++
	s.touch()
	return s.apologyCount
}

func (s *Session) IncrementReformulationCount() int {
	s.reformulationCount++
	s.touch()
	return s.reformulationCount
}

func (s *Session) IncrementUnexpectedCount() int {
	s.unexpectedCount++
	s.touch()
	return s.unexpectedCount
}

// RecordProblem appends a detected anomaly to the problem log.
func (s *Session) RecordProblem(ev ProblemEvent) {
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	s.problems = append(s.problems, ev)
	s.touch()
}

// Problems returns a copy of the anomaly log.
func (s *Session) Problems() []ProblemEvent {
	return append([]ProblemEvent{}, s.problems...)
}

// Audit returns a copy of the transition audit sequence.
func (s *Session) Audit() []TransitionRecord {
	return append([]TransitionRecord{}, s.audit...)
}

// Ticket contact capture (TICKET_CREATION collects email then phone).

func (s *Session) TicketEmail() string { return s.ticketEmail }
func (s *Session) TicketPhone() string { return s.ticketPhone }

func (s *Session) SetTicketEmail(email string) {
	s.ticketEmail = email
	s.touch()
}

func (s *Session) SetTicketPhone(phone string) {
	s.ticketPhone = phone
	s.touch()
}

// Reset returns the session to GREETING with zero counters and an empty
// transcript. The only operation that ever discards turns.
func (s *Session) Reset() {
	s.stg = stage.Initial
	s.locale = "es"
	s.name = ""
	s.nlp = nil
	s.needReview = false
	s.nameAttempts = 0
	s.loopCount = 0
	s.apologyCount = 0
	s.reformulationCount = 0
	s.unexpectedCount = 0
	s.transcript = nil
	s.problems = nil
	s.audit = nil
	s.ticketEmail = ""
	s.ticketPhone = ""
	s.touch()
}

func (s *Session) touch() {
	s.updatedAt = time.Now().UTC()
}
