package llm

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 1024

// Anthropic has no frequency or presence penalty; those fields are ignored.
type Anthropic struct {
	client *anthropic.Client
}

func NewAnthropic(apiKey string, opts ...anthropicopt.RequestOption) *Anthropic {
	opts = append([]anthropicopt.RequestOption{anthropicopt.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client}
}

func (g *Anthropic) params(req Request) (anthropic.MessageNewParams, error) {
	system, turns := splitSystem(req.Messages)
	turns = alternateTurns(turns)
	if len(turns) == 0 {
		return anthropic.MessageNewParams{}, errors.New("anthropic: request has no user message")
	}

	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params, nil
}

// alternateTurns drops leading assistant turns and merges consecutive turns
// of the same role, since the Messages API requires strict alternation
// starting with the user.
func alternateTurns(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		if len(out) == 0 && role == RoleAssistant {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}

func (g *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	params, err := g.params(req)
	if err != nil {
		return "", err
	}

	rsp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrNoOutput
	}
	return b.String(), nil
}

func (g *Anthropic) Stream(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	params, err := g.params(req)
	if err != nil {
		return "", err
	}

	stream := g.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		event := stream.Current()
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		b.WriteString(delta.Text)
		if err := onDelta(delta.Text); err != nil {
			return b.String(), err
		}
	}
	if err := stream.Err(); err != nil {
		return b.String(), err
	}
	if b.Len() == 0 {
		return "", ErrNoOutput
	}
	return b.String(), nil
}
