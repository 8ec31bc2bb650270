// Package detector watches the live transcript for degenerate conversation
// patterns: the bot looping on itself, apologizing repeatedly, the user
// rephrasing the same request, and unclassifiable input. Its output is
// advisory; the turn controller decides whether to honor an override.
package detector

import (
	"strings"

	"stibot/pkg/config"
	"stibot/pkg/logx"
	"stibot/pkg/proto"
	"stibot/pkg/session"
	"stibot/pkg/stage"
)

// apologyMarkers are matched against the normalized candidate reply.
//
//nolint:gochecknoglobals // static pattern list
var apologyMarkers = []string{
	"lo siento", "lo lamento", "perdón", "perdon", "disculpa", "disculpas",
	"sorry", "apologize", "apologies", "my bad",
}

// Finding is the outcome of one detector pass: the problem events to record
// plus an optional forced-transition proposal.
type Finding struct {
	Events         []session.ProblemEvent
	Override       stage.Stage
	OverrideReason string
	HasOverride    bool
}

// Detector evaluates all rules on every turn; rules never short-circuit
// each other, so one turn can produce several problem events.
type Detector struct {
	cfg    config.DetectorConfig
	logger *logx.Logger
}

// New creates a detector with the given tunables.
func New(cfg config.DetectorConfig) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logx.NewLogger("detector"),
	}
}

// Evaluate runs every rule against the session window and the candidate
// bot reply. unexpected is set by the turn controller when the handler fell
// back to its generic branch. Counters on the session are incremented here;
// the caller persists them along with the rest of the turn.
func (d *Detector) Evaluate(sess *session.Session, candidateReply string, unexpected bool) Finding {
	var finding Finding
	window := sess.Window(d.cfg.WindowTurns)

	d.checkLoop(sess, window, candidateReply, &finding)
	d.checkApology(sess, candidateReply, &finding)
	d.checkReformulation(sess, window, &finding)
	d.checkUnexpected(sess, unexpected, &finding)

	return finding
}

// checkLoop fires when the candidate reply is textually equivalent to bot
// turns already in the window. The threshold counts occurrences of the
// reply within the window including the candidate itself, so with a
// threshold of 2 the forced transition lands on the second production of
// the same reply.
func (d *Detector) checkLoop(sess *session.Session, window []session.Turn, reply string, finding *Finding) {
	normalized := normalize(reply)
	if normalized == "" {
		return
	}

	occurrences := 1 // the candidate
	for i := range window {
		t := &window[i]
		if t.Who == proto.SpeakerBot && normalize(t.Text) == normalized {
			occurrences++
		}
	}
	if occurrences == 1 {
		return
	}

	count := sess.IncrementLoopCount()
	d.logger.Debug("Loop detected for %s (occurrences=%d, count=%d)", sess.ID(), occurrences, count)
	if occurrences >= d.cfg.LoopThreshold {
		finding.Events = append(finding.Events, session.ProblemEvent{
			Type:     session.ProblemLoop,
			Evidence: reply,
		})
		d.propose(finding, "bot reply loop")
	}
}

// checkApology fires on apology phrasing in the candidate reply.
func (d *Detector) checkApology(sess *session.Session, reply string, finding *Finding) {
	normalized := normalize(reply)
	matched := false
	for _, marker := range apologyMarkers {
		if strings.Contains(normalized, marker) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	count := sess.IncrementApologyCount()
	d.logger.Debug("Apology detected for %s (count=%d)", sess.ID(), count)
	if count >= d.cfg.ApologyThreshold {
		finding.Events = append(finding.Events, session.ProblemEvent{
			Type:     session.ProblemApology,
			Evidence: reply,
		})
		d.propose(finding, "repeated apologies")
	}
}

// checkReformulation fires when the newest user turn closely matches an
// earlier user turn in the window with no stage advance in between.
func (d *Detector) checkReformulation(sess *session.Session, window []session.Turn, finding *Finding) {
	// Locate the most recent user turn.
	last := -1
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Who == proto.SpeakerUser {
			last = i
			break
		}
	}
	if last < 0 {
		return
	}
	latest := &window[last]

	for i := 0; i < last; i++ {
		earlier := &window[i]
		if earlier.Who != proto.SpeakerUser {
			continue
		}
		if similarity(earlier.Text, latest.Text) < d.cfg.SimilarityThreshold {
			continue
		}
		if d.stageAdvancedSince(sess, earlier) {
			continue
		}

		sess.IncrementReformulationCount()
		d.logger.Debug("Reformulation detected for %s: %q ~ %q", sess.ID(), earlier.Text, latest.Text)
		finding.Events = append(finding.Events, session.ProblemEvent{
			Type:     session.ProblemReformulation,
			Evidence: latest.Text,
		})
		return
	}
}

// stageAdvancedSince reports whether any real (non-self) transition was
// committed after the given turn.
func (d *Detector) stageAdvancedSince(sess *session.Session, turn *session.Turn) bool {
	for _, rec := range sess.Audit() {
		if rec.From != rec.To && !rec.Timestamp.Before(turn.Ts) {
			return true
		}
	}
	return false
}

// checkUnexpected records the handler's generic-fallback signal.
func (d *Detector) checkUnexpected(sess *session.Session, unexpected bool, finding *Finding) {
	if !unexpected {
		return
	}
	sess.IncrementUnexpectedCount()
	finding.Events = append(finding.Events, session.ProblemEvent{
		Type:     session.ProblemUnexpected,
		Evidence: "handler fell back to generic reply",
	})
}

// propose requests a forced ERROR transition. ERROR wins over any
// handler-proposed stage except the terminal ESCALATION/CLOSED, which the
// controller enforces.
func (d *Detector) propose(finding *Finding, reason string) {
	if finding.HasOverride {
		return
	}
	finding.Override = stage.Error
	finding.OverrideReason = reason
	finding.HasOverride = true
}
