package session

import (
	"encoding/json"
	"fmt"
	"time"

	"stibot/pkg/stage"
)

// Snapshot is the exported, serializable view of a session. It feeds both
// the persistence layer and the transcript-export interface used by
// reporting and ticket generation.
//
//nolint:govet // field order follows the wire format, not alignment
type Snapshot struct {
	SessionID          string             `json:"sessionId"`
	Stage              string             `json:"stage"`
	Locale             string             `json:"locale"`
	Name               string             `json:"name,omitempty"`
	NLP                *NLPResult         `json:"nlp,omitempty"`
	NeedsReview        bool               `json:"needsReview,omitempty"`
	NameAttempts       int                `json:"nameAttempts"`
	LoopCount          int                `json:"loopCount"`
	ApologyCount       int                `json:"apologyCount"`
	ReformulationCount int                `json:"reformulationCount"`
	UnexpectedCount    int                `json:"unexpectedCount"`
	Transcript         []Turn             `json:"transcript"`
	Problems           []ProblemEvent     `json:"problems,omitempty"`
	Audit              []TransitionRecord `json:"audit,omitempty"`
	TicketEmail        string             `json:"ticketEmail,omitempty"`
	TicketPhone        string             `json:"ticketPhone,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Snapshot captures the full session state by value.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		SessionID:          s.id,
		Stage:              s.stg.String(),
		Locale:             s.locale,
		Name:               s.name,
		NLP:                s.NLP(),
		NeedsReview:        s.needReview,
		NameAttempts:       s.nameAttempts,
		LoopCount:          s.loopCount,
		ApologyCount:       s.apologyCount,
		ReformulationCount: s.reformulationCount,
		UnexpectedCount:    s.unexpectedCount,
		Transcript:         s.Turns(),
		Problems:           s.Problems(),
		Audit:              s.Audit(),
		TicketEmail:        s.ticketEmail,
		TicketPhone:        s.ticketPhone,
		CreatedAt:          s.createdAt,
		UpdatedAt:          s.updatedAt,
	}
}

// FromSnapshot rebuilds a session from its serialized form, validating the
// stored stage against the closed enum.
func FromSnapshot(snap Snapshot) (*Session, error) {
	if snap.SessionID == "" {
		return nil, fmt.Errorf("snapshot missing session ID")
	}
	stg, err := stage.Parse(snap.Stage)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", snap.SessionID, err)
	}

	s := &Session{
		id:                 snap.SessionID,
		stg:                stg,
		locale:             snap.Locale,
		name:               snap.Name,
		needReview:         snap.NeedsReview,
		nameAttempts:       snap.NameAttempts,
		loopCount:          snap.LoopCount,
		apologyCount:       snap.ApologyCount,
		reformulationCount: snap.ReformulationCount,
		unexpectedCount:    snap.UnexpectedCount,
		transcript:         append([]Turn{}, snap.Transcript...),
		problems:           append([]ProblemEvent{}, snap.Problems...),
		audit:              append([]TransitionRecord{}, snap.Audit...),
		ticketEmail:        snap.TicketEmail,
		ticketPhone:        snap.TicketPhone,
		createdAt:          snap.CreatedAt,
		updatedAt:          snap.UpdatedAt,
	}
	if s.locale == "" {
		s.locale = "es"
	}
	if snap.NLP != nil {
		nlp := *snap.NLP
		s.nlp = &nlp
	}
	return s, nil
}

// MarshalJSON serializes the session via its snapshot.
func (s *Session) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session %s: %w", s.id, err)
	}
	return data, nil
}

// UnmarshalJSON rebuilds the session from its snapshot form.
func (s *Session) UnmarshalJSON(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal session: %w", err)
	}
	restored, err := FromSnapshot(snap)
	if err != nil {
		return err
	}
	*s = *restored
	return nil
}
