package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/jacobjmc/lightpad/internal/auth"
	"github.com/jacobjmc/lightpad/internal/errs"
	"github.com/jacobjmc/lightpad/internal/llm"
	"github.com/jacobjmc/lightpad/internal/obs"
	"github.com/jacobjmc/lightpad/internal/prompt"
)

// Complete runs an editor transform (continue, improve, ...) over
// req.Prompt and streams the result. Nothing is persisted besides the usage
// counter.
func (s *Service) Complete(ctx context.Context, user auth.User, clientIP string, req CompletionRequest, sink Sink) (string, error) {
	if err := requireUser(user); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errs.New(errs.InvalidArgument, "Invalid input")
	}
	task, err := prompt.ParseOption(req.Option)
	if err != nil {
		return "", err
	}

	decision, err := s.Usage.Gate(ctx, user)
	if err != nil {
		return "", err
	}
	if _, err := s.CompletionLimit.Check(ctx, clientIP); err != nil {
		return "", err
	}

	msgs, err := s.Prompts.Assemble(task, prompt.Payload{Text: req.Prompt, Command: req.Command})
	if err != nil {
		return "", err
	}

	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GenerationTimeout)
	defer cancel()

	obs.From(ctx).Info("completion_started", "task", task.String())
	out := newClientStream(sink)
	text, err := s.Secondary.Stream(genCtx, llm.Request{
		Model:       s.cfg.CompletionModel,
		Messages:    msgs,
		Temperature: completionTemperature,
		MaxTokens:   s.cfg.MaxTokens,
	}, out.write)
	if err != nil {
		return "", fmt.Errorf("completion generation: %w", err)
	}

	s.settle(genCtx, user.ID, decision)
	return text, nil
}
