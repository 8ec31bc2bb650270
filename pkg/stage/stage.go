// Package stage declares the conversation stages and the static table of
// legal transitions between them.
package stage

import (
	"errors"
	"fmt"
)

// Stage is one named step in the guided support conversation.
type Stage string

const (
	Greeting        Stage = "GREETING"
	AskName         Stage = "ASK_NAME"
	AskLanguage     Stage = "ASK_LANGUAGE"
	AskNeed         Stage = "ASK_NEED"
	AskProblem      Stage = "ASK_PROBLEM"
	DeviceDetection Stage = "DEVICE_DETECTION"
	BasicTests      Stage = "BASIC_TESTS"
	Diagnosis       Stage = "DIAGNOSIS"
	Escalation      Stage = "ESCALATION"
	TicketCreation  Stage = "TICKET_CREATION"
	Error           Stage = "ERROR"
	Closed          Stage = "CLOSED"
)

// ErrInvalidTransition indicates an illegal stage transition was requested.
var ErrInvalidTransition = errors.New("invalid stage transition")

// ErrUnknownStage indicates a stage value outside the closed enum.
var ErrUnknownStage = errors.New("unknown stage")

// Initial is the sole entry stage for a new session.
const Initial = Greeting

// Transitions is the static legal-successor table. Self-transitions are
// always legal (stay-and-retry) and ERROR is reachable from every stage;
// both rules live in CanTransition rather than in the table itself.
// CLOSED and ESCALATION are terminal.
//
//nolint:gochecknoglobals // static transition table, never mutated
var Transitions = map[Stage][]Stage{
	Greeting:        {AskName},
	AskName:         {AskLanguage},
	AskLanguage:     {AskNeed},
	AskNeed:         {AskProblem},
	AskProblem:      {DeviceDetection},
	DeviceDetection: {BasicTests},
	BasicTests:      {Diagnosis, Closed},
	Diagnosis:       {Escalation, TicketCreation, Closed},
	TicketCreation:  {Closed},
	Error:           {Escalation, Closed, Greeting},
	Escalation:      {},
	Closed:          {},
}

// All lists every member of the closed Stage enum.
//
//nolint:gochecknoglobals // static enum listing
var All = []Stage{
	Greeting, AskName, AskLanguage, AskNeed, AskProblem, DeviceDetection,
	BasicTests, Diagnosis, Escalation, TicketCreation, Error, Closed,
}

// String returns the stage name.
func (s Stage) String() string {
	return string(s)
}

// Valid reports whether s is a member of the Stage enum.
func (s Stage) Valid() bool {
	_, ok := Transitions[s]
	return ok
}

// Terminal reports whether s accepts no further inbound processing except
// session reset.
func (s Stage) Terminal() bool {
	return s == Closed || s == Escalation
}

// Parse converts a stored stage name back into a Stage.
func Parse(name string) (Stage, error) {
	s := Stage(name)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return s, nil
}

// CanTransition reports whether moving from one stage to another is legal.
// Staying in place is always allowed; ERROR is an escape hatch reachable
// from any stage.
func CanTransition(from, to Stage) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if to == Error {
		return true
	}
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successors returns a copy of the declared successor set for a stage,
// excluding the implicit self and ERROR edges.
func Successors(s Stage) []Stage {
	return append([]Stage{}, Transitions[s]...)
}
