// Package llm defines the multi-turn function-calling contract between the
// agent runtime and a generative model, plus a Gemini REST implementation.
package llm

import (
	"context"
	"errors"
)

// ErrNoCandidates is returned when the model produced no usable turn.
var ErrNoCandidates = errors.New("llm: no candidates in response")

// FunctionDeclaration advertises one callable tool to the model.
// Parameters is a JSON-schema object.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResponse returns one tool result to the model.
type FunctionResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Message is one user-side turn: either text or a batch of function responses.
type Message struct {
	Text              string
	FunctionResponses []FunctionResponse
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is one model turn. A turn with no FunctionCalls is final.
type Response struct {
	Text          string
	FunctionCalls []FunctionCall
	Usage         Usage
}

// ChatConfig configures a conversation.
type ChatConfig struct {
	SystemInstruction string
	Tools             []FunctionDeclaration
	Temperature       float64
}

// Chat is a stateful conversation; it keeps its own history.
type Chat interface {
	Send(ctx context.Context, msg Message) (*Response, error)
}

// Client opens conversations.
type Client interface {
	// Configured reports whether credentials are present.
	Configured() bool
	StartChat(cfg ChatConfig) Chat
}
