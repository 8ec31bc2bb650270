package handlers

import (
	"context"
	"strings"
	"unicode"

	"stibot/pkg/proto"
	"stibot/pkg/session"
	"stibot/pkg/stage"
)

// localeForButton maps the language-picker buttons to locale codes.
var localeForButton = map[string]string{
	proto.BtnLangEsAR: "es-AR",
	proto.BtnLangEsES: "es-ES",
	proto.BtnLangEn:   "en",
}

// greetingHandler advances any first contact to the name question. A
// language button press at this point also fixes the locale.
type greetingHandler struct{}

func (h *greetingHandler) Stage() stage.Stage { return stage.Greeting }

func (h *greetingHandler) Handle(_ context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error) {
	if loc, ok := localeForButton[msg.ButtonID]; ok {
		sess.SetLocale(loc)
	} else if looksEnglish(msg.Text) {
		sess.SetLocale("en")
	}
	return Result{
		Reply:    c.Catalog.Msg(sess.Locale(), "ask_name"),
		Buttons:  buttons(sess.Locale(), proto.BtnNoName),
		Proposed: stage.AskName,
	}, nil
}

// askNameHandler captures the user's name, or lets them skip it. Repeated
// failures give up on the conversation rather than looping forever.
type askNameHandler struct{}

func (h *askNameHandler) Stage() stage.Stage { return stage.AskName }

func (h *askNameHandler) Handle(_ context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error) {
	loc := sess.Locale()
	if msg.ButtonID == proto.BtnNoName {
		return Result{
			Reply:    c.Catalog.Msgf(loc, "ask_language", ""),
			Buttons:  languageButtons(loc),
			Proposed: stage.AskLanguage,
		}, nil
	}
	name, ok := ExtractName(msg.Text)
	if !ok {
		attempts := sess.IncrementNameAttempts()
		if attempts >= c.MaxNameAttempts {
			return Result{
				Reply:      c.Catalog.Msg(loc, "error"),
				Buttons:    buttons(loc, proto.BtnYes, proto.BtnNo),
				Proposed:   stage.Error,
				Unexpected: true,
			}, nil
		}
		return Result{
			Reply:      c.Catalog.Msg(loc, "ask_name_retry"),
			Buttons:    buttons(loc, proto.BtnNoName),
			Proposed:   stage.AskName,
			Unexpected: true,
		}, nil
	}
	sess.SetName(name)
	return Result{
		Reply:    c.Catalog.Msgf(loc, "ask_language", ", "+name),
		Buttons:  languageButtons(loc),
		Proposed: stage.AskLanguage,
	}, nil
}

// askLanguageHandler fixes the locale and always moves on: an unclear
// answer keeps the current locale rather than stalling the conversation.
type askLanguageHandler struct{}

func (h *askLanguageHandler) Stage() stage.Stage { return stage.AskLanguage }

func (h *askLanguageHandler) Handle(_ context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error) {
	if loc, ok := localeForButton[msg.ButtonID]; ok {
		sess.SetLocale(loc)
	} else if loc := inferLocale(msg.Text); loc != "" {
		sess.SetLocale(loc)
	}
	loc := sess.Locale()
	return Result{
		Reply:    c.Catalog.Msg(loc, "ask_need"),
		Buttons:  buttons(loc, proto.BtnHelp, proto.BtnTask),
		Proposed: stage.AskNeed,
	}, nil
}

// askNeedHandler records whether the user wants problem help or a service
// request, then opens the problem intake.
type askNeedHandler struct{}

func (h *askNeedHandler) Stage() stage.Stage { return stage.AskNeed }

func (h *askNeedHandler) Handle(_ context.Context, sess *session.Session, msg *Message, c *Collaborators) (Result, error) {
	loc := sess.Locale()
	need := classifyNeed(msg)
	if need == "" {
		return Result{
			Reply:      c.Catalog.Msg(loc, "fallback"),
			Buttons:    buttons(loc, proto.BtnHelp, proto.BtnTask),
			Proposed:   stage.AskNeed,
			Unexpected: true,
		}, nil
	}
	sess.SetNLP(session.NLPResult{Intent: need, Confidence: 1.0})
	return Result{
		Reply:    c.Catalog.Msg(loc, "ask_problem"),
		Proposed: stage.AskProblem,
	}, nil
}

func classifyNeed(msg *Message) string {
	switch msg.ButtonID {
	case proto.BtnHelp:
		return "problem"
	case proto.BtnTask:
		return "task"
	}
	text := strings.ToLower(msg.Text)
	switch {
	case containsAny(text, "problema", "ayuda", "falla", "roto", "problem", "help", "broken", "issue"):
		return "problem"
	case containsAny(text, "gestión", "gestion", "trámite", "tramite", "consulta", "request", "task"):
		return "task"
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func looksEnglish(text string) bool {
	return containsAny(strings.ToLower(text), "hello", "hi ", "hey", "english")
}

func inferLocale(text string) string {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, "english", "inglés", "ingles"):
		return "en"
	case containsAny(t, "español", "espanol", "castellano", "spanish"):
		return "es"
	}
	return ""
}

// namePrefixes are lead-ins stripped before the name itself. Longest
// prefixes first so "mi nombre es" wins over "mi".
var namePrefixes = []string{
	"mi nombre es", "me llamo", "soy",
	"my name is", "i am", "i'm",
}

// nameStopwords are inputs that are greetings or refusals, not names.
var nameStopwords = map[string]bool{
	"hola": true, "buenas": true, "buenos": true, "dias": true, "días": true,
	"tardes": true, "noches": true, "hi": true, "hello": true, "hey": true,
	"no": true, "si": true, "sí": true, "que": true, "qué": true,
	"ayuda": true, "help": true, "ok": true, "gracias": true, "thanks": true,
}

// ExtractName pulls a plausible person name out of free text. It is
// deterministic on purpose: the NLP resolver is reserved for the problem
// and device stages where classification genuinely needs it.
func ExtractName(text string) (string, bool) {
	t := strings.TrimSpace(text)
	// Prefixes are ASCII, so the lowercase view has the same byte offsets.
	lower := strings.ToLower(t)
	for _, p := range namePrefixes {
		if strings.HasPrefix(lower, p+" ") {
			t = strings.TrimSpace(t[len(p):])
			break
		}
	}
	t = strings.TrimFunc(t, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	words := strings.Fields(t)
	if len(words) == 0 || len(words) > 4 {
		return "", false
	}
	allStop := true
	for _, w := range words {
		for _, r := range w {
			if unicode.IsDigit(r) {
				return "", false
			}
			if !unicode.IsLetter(r) && r != '\'' && r != '-' {
				return "", false
			}
		}
		if !nameStopwords[strings.ToLower(w)] {
			allStop = false
		}
	}
	if allStop {
		return "", false
	}
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if nameStopwords[strings.ToLower(w)] {
			continue
		}
		parts = append(parts, titleCase(w))
	}
	return strings.Join(parts, " "), true
}

func titleCase(w string) string {
	runes := []rune(w)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
