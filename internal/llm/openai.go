package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type OpenAI struct {
	client openai.Client
}

func NewOpenAI(apiKey string, opts ...option.RequestOption) *OpenAI {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{client: openai.NewClient(opts...)}
}

func (g *OpenAI) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(req.FrequencyPenalty)
	}
	if req.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(req.PresencePenalty)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

func (g *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	rsp, err := g.client.Chat.Completions.New(ctx, g.params(req))
	if err != nil {
		return "", err
	}
	if len(rsp.Choices) == 0 || rsp.Choices[0].Message.Content == "" {
		return "", ErrNoOutput
	}
	return rsp.Choices[0].Message.Content, nil
}

func (g *OpenAI) Stream(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	stream := g.client.Chat.Completions.NewStreaming(ctx, g.params(req))
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if err := onDelta(delta); err != nil {
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
