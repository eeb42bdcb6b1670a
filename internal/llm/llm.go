// Package llm wraps the text-generation providers behind one interface.
package llm

import (
	"context"
	"errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request carries one generation call. Zero sampling fields are omitted
// from the provider request.
type Request struct {
	Model            string
	Messages         []Message
	Temperature      float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        int
}

var ErrNoOutput = errors.New("llm: provider returned no text")

// Generator produces text. Stream calls onDelta for each chunk as it
// arrives and returns the full text; an onDelta error aborts the stream.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onDelta func(delta string) error) (string, error)
}

func splitSystem(msgs []Message) (system string, rest []Message) {
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
