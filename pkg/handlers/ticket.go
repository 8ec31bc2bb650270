package handlers

import (
	"context"
	"regexp"
	"strings"

	"stibot/pkg/session"
	"stibot/pkg/stage"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
	// Phone: optional +country, then at least 6 digits ignoring separators.
	phoneRe = regexp.MustCompile(`^\+?[\d\s().-]{6,20}$`)
)

// ticketHandler collects the contact details for the ticket in two steps,
// email first then phone, and closes the conversation once both are in.
type ticketHandler struct{}

func (h *ticketHandler) Stage() stage.Stage { return stage.TicketCreation }

func (h *ticketHandler) Handle(_ context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error) {
	loc := sess.Locale()
	input := strings.TrimSpace(msg.Text)
	if sess.TicketEmail() == "" {
		if !validEmail(input) {
			return Result{
				Reply:      c.Catalog.Msg(loc, "ticket_email_retry"),
				Proposed:   stage.TicketCreation,
				Unexpected: true,
			}, nil
		}
		sess.SetTicketEmail(input)
		return Result{
			Reply:    c.Catalog.Msg(loc, "ticket_phone"),
			Proposed: stage.TicketCreation,
		}, nil
	}
	if !validPhone(input) {
		return Result{
			Reply:      c.Catalog.Msg(loc, "ticket_phone_retry"),
			Proposed:   stage.TicketCreation,
			Unexpected: true,
		}, nil
	}
	sess.SetTicketPhone(input)
	return Result{
		Reply:    c.Catalog.Msg(loc, "ticket_done"),
		Proposed: stage.Closed,
	}, nil
}

func validEmail(s string) bool {
	return emailRe.MatchString(s)
}

func validPhone(s string) bool {
	if !phoneRe.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 6
}
