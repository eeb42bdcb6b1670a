package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacobjmc/lightpad/internal/auth"
	"github.com/jacobjmc/lightpad/internal/db"
	"github.com/jacobjmc/lightpad/internal/errs"
	"github.com/jacobjmc/lightpad/internal/notes"
	"github.com/jacobjmc/lightpad/internal/obs"
)

// MessageView is a stored message with its content rendered for display.
type MessageView struct {
	db.Message
	HTML string `json:"html"`
}

// ListMessages returns the user's conversation, oldest first.
func (s *Service) ListMessages(ctx context.Context, user auth.User) ([]MessageView, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	msgs, err := s.Messages.ListMessages(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = MessageView{Message: m, HTML: notes.RenderMarkdown(m.Content)}
	}
	return views, nil
}

// ClearHistory deletes the user's messages, then their conversation vector.
// The two stores are not updated atomically.
func (s *Service) ClearHistory(ctx context.Context, user auth.User) error {
	if err := requireUser(user); err != nil {
		return err
	}
	n, err := s.Messages.DeleteMessages(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err := s.Index.Delete(ctx, user.ID); err != nil {
		obs.From(ctx).Error("clear_history_partial", "messages_deleted", n, "error", err)
		return fmt.Errorf("delete conversation vector: %w", err)
	}
	obs.From(ctx).Info("chat_history_cleared", "messages_deleted", n)
	return nil
}

// EditMessage rewrites a message by id. Message ids are random UUIDs and
// the lookup is not scoped to the caller.
func (s *Service) EditMessage(ctx context.Context, user auth.User, id, content string) (db.Message, error) {
	if err := requireUser(user); err != nil {
		return db.Message{}, err
	}
	if id == "" {
		return db.Message{}, errs.New(errs.InvalidArgument, "Message id is required")
	}
	m, err := s.Messages.UpdateMessageContent(ctx, id, content)
	if errors.Is(err, db.ErrNotFound) {
		return db.Message{}, errs.Wrap(errs.NotFound, "Message not found", err)
	}
	if err != nil {
		return db.Message{}, fmt.Errorf("edit message: %w", err)
	}
	if m.UserID != user.ID {
		obs.From(ctx).Warn("message_edited_by_non_owner", "message_id", id)
	}
	return m, nil
}
