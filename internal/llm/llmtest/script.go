// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashita-ai/adpilot/internal/llm"
)

// Turn is one scripted model reply. Respond, when set, computes the reply
// from the incoming message instead of the static Response/Err.
type Turn struct {
	Response *llm.Response
	Err      error
	Respond  func(llm.Message) (*llm.Response, error)
}

// Text is a final text-only turn.
func Text(s string) Turn { return Turn{Response: &llm.Response{Text: s}} }

// Calls is a turn requesting the given function calls.
func Calls(calls ...llm.FunctionCall) Turn {
	return Turn{Response: &llm.Response{FunctionCalls: calls}}
}

// Fail is a turn that errors.
func Fail(err error) Turn { return Turn{Err: err} }

// Call builds a function call with a fixed id.
func Call(id, name string, args map[string]any) llm.FunctionCall {
	if args == nil {
		args = map[string]any{}
	}
	return llm.FunctionCall{ID: id, Name: name, Args: args}
}

// Script replays turns in order across every chat it opens. Once the turns
// are exhausted it repeats Default, or fails if Default is nil.
type Script struct {
	mu           sync.Mutex
	turns        []Turn
	next         int
	def          *Turn
	unconfigured bool

	configs  []llm.ChatConfig
	messages []llm.Message
}

var _ llm.Client = (*Script)(nil)

// New creates a script from turns.
func New(turns ...Turn) *Script { return &Script{turns: turns} }

// WithDefault sets the turn replayed after the script runs out.
func (s *Script) WithDefault(t Turn) *Script {
	s.def = &t
	return s
}

// Unconfigured makes Configured report false.
func (s *Script) Unconfigured() *Script {
	s.unconfigured = true
	return s
}

// Configured implements llm.Client.
func (s *Script) Configured() bool { return !s.unconfigured }

// StartChat implements llm.Client.
func (s *Script) StartChat(cfg llm.ChatConfig) llm.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, cfg)
	return &chat{script: s}
}

// Configs returns the configs of every chat opened so far.
func (s *Script) Configs() []llm.ChatConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ChatConfig(nil), s.configs...)
}

// Messages returns every message sent so far, across chats.
func (s *Script) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.messages...)
}

// Sends returns how many messages were sent.
func (s *Script) Sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type chat struct {
	script *Script
}

func (c *chat) Send(ctx context.Context, msg llm.Message) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := c.script
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	var turn Turn
	switch {
	case s.next < len(s.turns):
		turn = s.turns[s.next]
		s.next++
	case s.def != nil:
		turn = *s.def
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("llmtest: script exhausted after %d turns", len(s.turns))
	}
	s.mu.Unlock()

	if turn.Respond != nil {
		return turn.Respond(msg)
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	resp := *turn.Response
	return &resp, nil
}
