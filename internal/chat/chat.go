// Package chat orchestrates the retrieval-augmented chat and the editor
// completions: gate, retrieve, generate, stream and write back.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jacobjmc/lightpad/internal/auth"
	"github.com/jacobjmc/lightpad/internal/db"
	"github.com/jacobjmc/lightpad/internal/embedding"
	"github.com/jacobjmc/lightpad/internal/errs"
	"github.com/jacobjmc/lightpad/internal/llm"
	"github.com/jacobjmc/lightpad/internal/logutil"
	"github.com/jacobjmc/lightpad/internal/obs"
	"github.com/jacobjmc/lightpad/internal/prompt"
	"github.com/jacobjmc/lightpad/internal/ratelimit"
	"github.com/jacobjmc/lightpad/internal/usage"
	"github.com/jacobjmc/lightpad/internal/vectorindex"
)

const (
	DefaultTopK              = 20
	DefaultMaxTokens         = 2000
	DefaultGenerationTimeout = 2 * time.Minute

	chatTemperature       = 1
	chatFrequencyPenalty  = 0.7
	completionTemperature = 0.7

	logTextChars = 120
)

// Mode selects the chat flow.
type Mode string

const (
	// ModePost writes a daily post from the user's notes.
	ModePost Mode = "post"
	// ModeQA answers questions about the user's notes.
	ModeQA Mode = "qa"
)

// Turn is one message of the conversation sent by the client.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []Turn `json:"messages"`
	Mode     Mode   `json:"mode,omitempty"`
}

type CompletionRequest struct {
	Prompt  string `json:"prompt"`
	Option  string `json:"option"`
	Command string `json:"command,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Sink receives generated text as it is produced.
type Sink func(chunk string) error

type Config struct {
	PrimaryModel      string
	CleanupModel      string
	CompletionModel   string
	TopK              int
	MaxTokens         int
	GenerationTimeout time.Duration
}

// Deps are the collaborators of a Service. ChatLimit and CompletionLimit
// may be nil to disable IP limiting.
type Deps struct {
	Notes     db.NoteStore
	Messages  db.MessageStore
	Usage     *usage.Limiter
	Index     vectorindex.Index
	Embedder  embedding.Embedder
	Prompts   *prompt.Assembler
	Primary   llm.Generator
	Secondary llm.Generator

	ChatLimit       *ratelimit.RouteLimiter
	CompletionLimit *ratelimit.RouteLimiter
}

type Service struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	return &Service{
		Deps: deps,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func requireUser(user auth.User) error {
	if user.ID == "" {
		return errs.New(errs.Unauthenticated, "Unauthorized")
	}
	return nil
}

// Chat runs one chat turn and streams the reply to sink. Once the gate and
// rate checks pass, generation and write-back run on a context detached from
// ctx so a disconnected client still gets its assistant turn stored.
func (s *Service) Chat(ctx context.Context, user auth.User, clientIP string, req ChatRequest, sink Sink) (string, error) {
	if err := requireUser(user); err != nil {
		return "", err
	}
	if len(req.Messages) == 0 || strings.TrimSpace(req.Messages[len(req.Messages)-1].Content) == "" {
		return "", errs.New(errs.InvalidArgument, "Invalid input")
	}
	mode := req.Mode
	if mode == "" {
		mode = ModePost
	}
	if mode != ModePost && mode != ModeQA {
		return "", errs.Newf(errs.InvalidArgument, "unknown mode %q", req.Mode)
	}
	history, err := toHistory(req.Messages, embedding.RecentTurns)
	if err != nil {
		return "", err
	}

	decision, err := s.Usage.Gate(ctx, user)
	if err != nil {
		return "", err
	}
	if _, err := s.ChatLimit.Check(ctx, clientIP); err != nil {
		return "", err
	}

	log := obs.From(ctx)
	latest := history[len(history)-1].Content

	sources, err := s.retrieve(ctx, user.ID, history)
	if err != nil {
		return "", err
	}

	userMsg := db.Message{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Role:      db.RoleUser,
		Content:   latest,
		CreatedAt: s.now(),
	}
	if err := s.Messages.CreateMessage(ctx, userMsg); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}

	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GenerationTimeout)
	defer cancel()

	out := newClientStream(sink)
	var reply string
	switch mode {
	case ModeQA:
		reply, err = s.answer(genCtx, sources, history, out)
	default:
		log.Info("chat_post_generation",
			"sources", len(sources),
			"prompt", logutil.TruncateForLog(latest, logTextChars),
		)
		reply, err = s.writePost(genCtx, sources, history, out)
	}
	if err != nil {
		return "", err
	}

	s.settle(genCtx, user.ID, decision)
	s.writeBack(genCtx, user.ID, history, reply)
	if out.err != nil {
		log.Info("chat_client_gone", "error", out.err)
	}
	return reply, nil
}

// retrieve embeds the recent turns and hydrates the user's matching notes.
func (s *Service) retrieve(ctx context.Context, userID string, history []llm.Message) ([]prompt.Source, error) {
	contents := make([]string, len(history))
	for i, m := range history {
		contents[i] = m.Content
	}
	vector, err := s.Embedder.Embed(ctx, embedding.JoinTurns(contents, embedding.RecentTurns))
	if err != nil {
		return nil, fmt.Errorf("embed conversation: %w", err)
	}

	matches, err := s.Index.Query(ctx, vector, s.cfg.TopK, vectorindex.Filter{UserID: userID, Kind: vectorindex.KindNote})
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	notes, err := s.Notes.FindNotes(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate notes: %w", err)
	}
	sources := make([]prompt.Source, len(notes))
	for i, n := range notes {
		sources[i] = prompt.Source{Title: n.Title, Content: n.Content}
	}
	return sources, nil
}

func (s *Service) chatRequest(model string, msgs []llm.Message) llm.Request {
	return llm.Request{
		Model:            model,
		Messages:         msgs,
		Temperature:      chatTemperature,
		FrequencyPenalty: chatFrequencyPenalty,
		MaxTokens:        s.cfg.MaxTokens,
	}
}

// writePost drafts with the primary model, then streams the cleanup pass
// through the excluded-phrase filter.
func (s *Service) writePost(ctx context.Context, sources []prompt.Source, history []llm.Message, out *clientStream) (string, error) {
	msgs, err := s.Prompts.Assemble(prompt.PostGeneration, prompt.Payload{Notes: sources, History: history})
	if err != nil {
		return "", err
	}
	draft, err := s.Primary.Generate(ctx, s.chatRequest(s.cfg.PrimaryModel, msgs))
	if err != nil {
		return "", fmt.Errorf("primary generation: %w", err)
	}

	instruction, err := s.Prompts.CleanupPrompt(draft)
	if err != nil {
		return "", err
	}
	filter := newLineFilter(s.Prompts.StripExcluded, out.write)
	_, err = s.Secondary.Stream(ctx, llm.Request{
		Model:     s.cfg.CleanupModel,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: instruction}},
		MaxTokens: s.cfg.MaxTokens,
	}, filter.write)
	if err != nil {
		return "", fmt.Errorf("cleanup generation: %w", err)
	}
	return filter.close(), nil
}

func (s *Service) answer(ctx context.Context, sources []prompt.Source, history []llm.Message, out *clientStream) (string, error) {
	msgs, err := s.Prompts.Assemble(prompt.ChatQA, prompt.Payload{Notes: sources, History: history})
	if err != nil {
		return "", err
	}
	reply, err := s.Primary.Stream(ctx, s.chatRequest(s.cfg.PrimaryModel, msgs), out.write)
	if err != nil {
		return "", fmt.Errorf("primary generation: %w", err)
	}
	return reply, nil
}

// settle charges one free generation to non-subscribers.
func (s *Service) settle(ctx context.Context, userID string, decision usage.Decision) {
	if decision.IsPro {
		return
	}
	if err := s.Usage.IncreaseAPILimit(ctx, userID); err != nil {
		obs.From(ctx).Error("usage_increment_failed", "error", err)
	}
}

// writeBack stores the assistant turn and replaces the user's conversation
// vector. The reply has already been delivered, so failures are logged.
func (s *Service) writeBack(ctx context.Context, userID string, history []llm.Message, reply string) {
	log := obs.From(ctx)

	err := s.Messages.CreateMessage(ctx, db.Message{
		ID:        uuid.New().String(),
		UserID:    userID,
		Role:      db.RoleAssistant,
		Content:   reply,
		CreatedAt: s.now(),
	})
	if err != nil {
		log.Error("assistant_message_persist_failed", "error", err)
		return
	}

	latest, err := s.Messages.LatestMessage(ctx, userID, db.RoleUser)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		log.Error("latest_user_message_failed", "error", err)
		return
	}

	contents := make([]string, 0, len(history)+1)
	for _, m := range history {
		contents = append(contents, m.Content)
	}
	conversation := embedding.JoinTurns(append(contents, reply), embedding.RecentTurns)

	vector, err := s.Embedder.Embed(ctx, conversation)
	if err != nil {
		log.Error("conversation_embed_failed", "error", err)
		return
	}
	err = s.Index.Upsert(ctx, vectorindex.Record{
		ID:     userID,
		Values: vector,
		Metadata: vectorindex.Metadata{
			UserID: userID,
			Text:   conversationText(latest.Content, conversation),
			Kind:   vectorindex.KindConversation,
		},
	})
	if err != nil {
		log.Error("conversation_vector_upsert_failed", "error", err)
	}
}

func conversationText(latestUser, conversation string) string {
	return "user: " + latestUser + "\n\n" + conversation
}

// toHistory keeps the last n turns as model messages. Only user and
// assistant turns are accepted from clients.
func toHistory(turns []Turn, n int) ([]llm.Message, error) {
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]llm.Message, len(turns))
	for i, t := range turns {
		switch db.Role(t.Role) {
		case db.RoleUser:
			out[i] = llm.Message{Role: llm.RoleUser, Content: t.Content}
		case db.RoleAssistant:
			out[i] = llm.Message{Role: llm.RoleAssistant, Content: t.Content}
		default:
			return nil, errs.Newf(errs.InvalidArgument, "invalid role %q", t.Role)
		}
	}
	return out, nil
}
