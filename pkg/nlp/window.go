package nlp

import (
	"github.com/tiktoken-go/tokenizer"

	"stibot/pkg/session"
)

// WindowBuilder trims a transcript to a token budget before it is sent to
// the resolver, newest turns kept first. Claude and GPT tokenize closely
// enough that GPT-4 encoding works as the common estimate.
type WindowBuilder struct {
	codec  tokenizer.Codec
	budget int
}

// NewWindowBuilder creates a builder with the given token budget.
func NewWindowBuilder(budget int) *WindowBuilder {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		codec = nil // fall back to the character estimate
	}
	return &WindowBuilder{codec: codec, budget: budget}
}

// countTokens estimates tokens for one text, falling back to the usual
// 4-chars-per-token heuristic when the codec is unavailable.
func (w *WindowBuilder) countTokens(text string) int {
	if w.codec == nil {
		return len(text) / 4
	}
	count, err := w.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// Build returns the longest suffix of turns that fits the budget. At least
// the most recent turn is always included so the resolver never sees an
// empty window for a non-empty transcript.
func (w *WindowBuilder) Build(turns []session.Turn) []session.Turn {
	if len(turns) == 0 {
		return nil
	}
	if w.budget <= 0 {
		return append([]session.Turn{}, turns...)
	}

	total := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := w.countTokens(turns[i].Text) + 4 // role/framing overhead per turn
		if total+cost > w.budget && start < len(turns) {
			break
		}
		total += cost
		start = i
	}
	return append([]session.Turn{}, turns[start:]...)
}
