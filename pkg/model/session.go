package model

import (
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// SessionSettings holds model invocation parameters of one chat session
type SessionSettings struct {
	Model            string  `json:"model"`
	Temperature      float32 `json:"temperature"`
	MaxTokens        int32   `json:"max_tokens"`
	TopP             float32 `json:"top_p"`
	FrequencyPenalty float32 `json:"frequency_penalty"`
	PresencePenalty  float32 `json:"presence_penalty"`
}

// DefaultSessionSettings returns the fixed settings every session starts with
func DefaultSessionSettings(model string) SessionSettings {
	return SessionSettings{
		Model:            model,
		Temperature:      0,
		MaxTokens:        250,
		TopP:             1,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
	}
}

// History is the transcript of a chat session
type History struct {
	ID        SessionID       `json:"id"`
	Settings  SessionSettings `json:"settings"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	Contents []*genai.Content `json:"contents"`
}

// ToolCall records one tool invocation made while answering a question
type ToolCall struct {
	Name   string         `json:"name"`
	Kind   string         `json:"kind"`
	Args   map[string]any `json:"args"`
	Result string         `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}
