package domain

import (
	"context"
	"io"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider is the interface for chat-completion backends. Vision requests go
// through the same call with an image attached to the user message.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (*TranscriptionResult, error)
}

type ChatRequest struct {
	Messages  []Message
	Model     string
	MaxTokens int
	// Nil sampling parameters leave the provider's default in place.
	Temperature *float64
	TopP        *float64
}

type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

// Message is one conversation turn. Images are only ever set on a request
// built for a single call; history never stores them.
type Message struct {
	Role    string  `json:"role"` // system | user | assistant
	Content string  `json:"content"`
	Images  []Media `json:"-"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TranscriptionResult contains the result of a transcription.
type TranscriptionResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}
