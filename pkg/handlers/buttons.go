package handlers

import "stibot/pkg/proto"

// Button labels are localized here rather than in the catalog: labels are
// short fixed strings and the set per stage never varies by deployment.
var buttonLabels = map[string]map[string]string{
	proto.BtnLangEsAR: {"es": "Español (Argentina)", "en": "Spanish (Argentina)"},
	proto.BtnLangEsES: {"es": "Español (España)", "en": "Spanish (Spain)"},
	proto.BtnLangEn:   {"es": "English", "en": "English"},
	proto.BtnNoName:   {"es": "Prefiero no decirlo", "en": "I'd rather not say"},
	proto.BtnHelp:     {"es": "Tengo un problema", "en": "I have a problem"},
	proto.BtnTask:     {"es": "Quiero hacer una gestión", "en": "I have a request"},
	proto.BtnTestsDone: {
		"es": "Hice las pruebas",
		"en": "I ran the tests",
	},
	proto.BtnTestsFail: {
		"es": "Las pruebas fallaron",
		"en": "The tests failed",
	},
	proto.BtnSolved: {"es": "¡Se resolvió!", "en": "It's solved!"},
	proto.BtnYes:    {"es": "Sí", "en": "Yes"},
	proto.BtnNo:     {"es": "No", "en": "No"},
}

// buttons builds localized button rows for the given values.
func buttons(locale string, values ...string) []proto.Button {
	out := make([]proto.Button, 0, len(values))
	for _, v := range values {
		label := v
		if labels, ok := buttonLabels[v]; ok {
			if l, ok := labels[langBase(locale)]; ok {
				label = l
			} else {
				label = labels["es"]
			}
		}
		out = append(out, proto.Button{Label: label, Value: v})
	}
	return out
}

func langBase(locale string) string {
	for i := 0; i < len(locale); i++ {
		if locale[i] == '-' {
			return locale[:i]
		}
	}
	return locale
}

// languageButtons is the greeting-time language picker.
func languageButtons(locale string) []proto.Button {
	return buttons(locale, proto.BtnLangEsAR, proto.BtnLangEsES, proto.BtnLangEn)
}

// LanguageButtons exposes the language picker to the turn controller for
// the greeting and restart replies.
func LanguageButtons(locale string) []proto.Button {
	return languageButtons(locale)
}

// RecoveryButtons is the yes/no pair shown with the error-stage prompt.
func RecoveryButtons(locale string) []proto.Button {
	return buttons(locale, proto.BtnYes, proto.BtnNo)
}
