// Package proto defines the wire contract between the inbound transport and
// the conversation core: chat requests, composed replies, and the button
// vocabulary the web client understands.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerBot  Speaker = "bot"
)

// Button value constants. The client renders buttons from ChatResponse and
// posts the pressed value back as ButtonID.
const (
	BtnLangEsAR  = "BTN_LANG_ES_AR"
	BtnLangEsES  = "BTN_LANG_ES_ES"
	BtnLangEn    = "BTN_LANG_EN"
	BtnNoName    = "BTN_NO_NAME"
	BtnHelp      = "BTN_HELP"
	BtnTask      = "BTN_TASK"
	BtnTestsDone = "BTN_TESTS_DONE"
	BtnTestsFail = "BTN_TESTS_FAIL"
	BtnSolved    = "BTN_SOLVED"
	BtnYes       = "BTN_YES"
	BtnNo        = "BTN_NO"
)

// Button is a quick-reply option attached to a bot reply.
type Button struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ChatRequest is one inbound user message. Exactly one of Text or ButtonID
// is expected; the transport validates SessionID presence before the core
// sees the request.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text,omitempty"`
	ButtonID  string `json:"buttonId,omitempty"`
}

// Input returns the effective user input: the button value when a button
// was pressed, otherwise the trimmed free text.
func (r *ChatRequest) Input() string {
	if r.ButtonID != "" {
		return r.ButtonID
	}
	return strings.TrimSpace(r.Text)
}

// ChatResponse is the single reply produced for one inbound message.
type ChatResponse struct {
	SessionID string   `json:"sessionId"`
	Reply     string   `json:"reply"`
	Stage     string   `json:"stage"`
	Buttons   []Button `json:"buttons,omitempty"`
}

// ToJSON serializes the response for the transport layer.
func (r *ChatResponse) ToJSON() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat response: %w", err)
	}
	return data, nil
}

// ParseChatRequest deserializes and minimally validates an inbound request.
func ParseChatRequest(data []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat request: %w", err)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("chat request missing sessionId")
	}
	return &req, nil
}
