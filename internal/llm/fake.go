package llm

import (
	"context"
	"strings"
	"sync"
)

// Fake is an in-process Generator for --no-llm runs and tests. Reply decides
// the output; by default it echoes the last user message.
type Fake struct {
	Reply func(Request) (string, error)

	mu       sync.Mutex
	requests []Request
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) reply(req Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.Reply != nil {
		return f.Reply(req)
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return "You said: " + req.Messages[i].Content, nil
		}
	}
	return "Hello from the offline model.", nil
}

func (f *Fake) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.reply(req)
}

// Stream emits the reply one word at a time.
func (f *Fake) Stream(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	text, err := f.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := onDelta(word); err != nil {
			return "", err
		}
	}
	return text, nil
}

// Requests returns a copy of every request seen so far.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
