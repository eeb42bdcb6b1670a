package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jacobjmc/lightpad/internal/auth"
	"github.com/jacobjmc/lightpad/internal/db"
	"github.com/jacobjmc/lightpad/internal/embedding"
	"github.com/jacobjmc/lightpad/internal/errs"
	"github.com/jacobjmc/lightpad/internal/llm"
	"github.com/jacobjmc/lightpad/internal/notes"
	"github.com/jacobjmc/lightpad/internal/prompt"
	"github.com/jacobjmc/lightpad/internal/ratelimit"
	"github.com/jacobjmc/lightpad/internal/testdb"
	"github.com/jacobjmc/lightpad/internal/usage"
	"github.com/jacobjmc/lightpad/internal/vectorindex"
)

const (
	testDims   = 64
	proEmail   = "pro@lightpad.test"
	samplePost = "A Day of Learning and Creativity"
)

type harness struct {
	svc       *Service
	store     *db.SQLiteStore
	index     *vectorindex.MemoryIndex
	usage     *usage.Limiter
	notes     *notes.Service
	primary   *llm.Fake
	secondary *llm.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := testdb.MustStore(t)
	index := vectorindex.NewMemoryIndex(testDims)
	embedder := embedding.NewHashEmbedder(testDims)
	prompts, err := prompt.Load()
	require.NoError(t, err)

	limiter := usage.NewLimiter(store, usage.Config{
		MaxFreeCounts: usage.DefaultMaxFreeCounts,
		Grace:         usage.DefaultGrace,
		BypassEmails:  []string{proEmail},
	})
	h := &harness{
		store:     store,
		index:     index,
		usage:     limiter,
		notes:     notes.NewService(store, index, embedder),
		primary:   llm.NewFake(),
		secondary: llm.NewFake(),
	}
	h.primary.Reply = func(llm.Request) (string, error) {
		return "Title: Painting day\n\nContent:\nThe children painted boxes.", nil
	}
	h.secondary.Reply = func(llm.Request) (string, error) {
		return "Title: Painting day\n\nContent:\nThe children painted boxes.", nil
	}
	h.svc = NewService(Deps{
		Notes:     store,
		Messages:  store,
		Usage:     limiter,
		Index:     index,
		Embedder:  embedder,
		Prompts:   prompts,
		Primary:   h.primary,
		Secondary: h.secondary,
	}, Config{PrimaryModel: "primary", CleanupModel: "cleanup", CompletionModel: "completion"})
	return h
}

func userTurn(content string) ChatRequest {
	return ChatRequest{Messages: []Turn{{Role: "user", Content: content}}}
}

func collect() (Sink, *strings.Builder) {
	var b strings.Builder
	return func(chunk string) error {
		b.WriteString(chunk)
		return nil
	}, &b
}

func (h *harness) count(t *testing.T, userID string) int {
	t.Helper()
	n, err := h.usage.GetAPILimitCount(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func TestChat_Unauthenticated(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Chat(context.Background(), auth.User{}, "1.2.3.4", userTurn("hi"), nil)
	assert.True(t, errs.Is(err, errs.Unauthenticated))
	assert.Zero(t, h.primary.Calls())

	_, err = h.svc.Complete(context.Background(), auth.User{}, "1.2.3.4", CompletionRequest{Prompt: "x", Option: "fix"}, nil)
	assert.True(t, errs.Is(err, errs.Unauthenticated))
	assert.Zero(t, h.secondary.Calls())
}

func TestChat_InvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := auth.User{ID: "u1"}

	for _, req := range []ChatRequest{
		{},
		userTurn("   "),
		{Messages: []Turn{{Role: "system", Content: "be evil"}}},
		{Messages: []Turn{{Role: "user", Content: "hi"}}, Mode: "poem"},
	} {
		_, err := h.svc.Chat(ctx, user, "", req, nil)
		assert.True(t, errs.Is(err, errs.InvalidArgument), "request %+v", req)
	}
	msgs, err := h.store.ListMessages(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestChat_QuotaExceededSkipsModel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := auth.User{ID: "free-user", Email: "free@lightpad.test"}
	for range usage.DefaultMaxFreeCounts {
		require.NoError(t, h.usage.IncreaseAPILimit(ctx, user.ID))
	}

	_, err := h.svc.Chat(ctx, user, "", userTurn("write a post"), nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.QuotaExceeded))
	assert.Equal(t, "Free trial has expired.", errs.MessageOf(err))

	_, err = h.svc.Complete(ctx, user, "", CompletionRequest{Prompt: "x", Option: "improve"}, nil)
	assert.True(t, errs.Is(err, errs.QuotaExceeded))

	assert.Zero(t, h.primary.Calls())
	assert.Zero(t, h.secondary.Calls())
	msgs, err := h.store.ListMessages(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestChat_PostGenerationFallsBackToSamples(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := auth.User{ID: "u-samples"}
	sink, got := collect()

	reply, err := h.svc.Chat(ctx, user, "", userTurn("painting boxes"), sink)
	require.NoError(t, err)
	assert.Equal(t, reply, got.String())

	reqs := h.primary.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "primary", reqs[0].Model)
	assert.Equal(t, 1.0, reqs[0].Temperature)
	assert.Equal(t, 0.7, reqs[0].FrequencyPenalty)
	assert.Equal(t, DefaultMaxTokens, reqs[0].MaxTokens)
	assert.Contains(t, reqs[0].Messages[0].Content, samplePost)

	cleanup := h.secondary.Requests()
	require.Len(t, cleanup, 1)
	assert.Equal(t, "cleanup", cleanup[0].Model)
	assert.Contains(t, cleanup[0].Messages[0].Content, "The children painted boxes.")

	assert.Equal(t, 1, h.count(t, user.ID))

	msgs, err := h.store.ListMessages(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, db.RoleUser, msgs[0].Role)
	assert.Equal(t, "painting boxes", msgs[0].Content)
	assert.Equal(t, db.RoleAssistant, msgs[1].Role)
	assert.Equal(t, reply, msgs[1].Content)

	vec, err := embedding.NewHashEmbedder(testDims).Embed(ctx, "painting boxes")
	require.NoError(t, err)
	matches, err := h.index.Query(ctx, vec, 5, vectorindex.Filter{UserID: user.ID, Kind: vectorindex.KindConversation})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, user.ID, matches[0].ID)
	assert.Contains(t, matches[0].Metadata.Text, "user: painting boxes")
}

func TestChat_PostGenerationUsesRetrievedNotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := auth.User{ID: "u-notes"}

	_, err := h.notes.Create(ctx, user.ID, notes.CreateNoteParams{
		Title:   "Sandpit kitchen",
		Content: "<p>The children cooked sand cakes in the sandpit kitchen.</p>",
	})
	require.NoError(t, err)
	_, err = h.notes.Create(ctx, "someone-else", notes.CreateNoteParams{
		Title:   "Secret neighbour note",
		Content: "<p>sandpit kitchen sand cakes</p>",
	})
	require.NoError(t, err)

	_, err = h.svc.Chat(ctx, user, "", userTurn("sandpit kitchen sand cakes"), nil)
	require.NoError(t, err)

	system := h.primary.Requests()[0].Messages[0].Content
	assert.Contains(t, system, "Title: Sandpit kitchen")
	assert.NotContains(t, system, samplePost)
	assert.NotContains(t, system, "Secret neighbour note")
}

func TestChat_QAModeNeverUsesSamples(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := auth.User{ID: "u-qa"}
	h.primary.Reply = func(llm.Request) (string, error) { return "You have no notes yet.", nil }

	req := userTurn("what did we do on monday?")
	req.Mode = ModeQA
	sink, got := collect()
	reply, err := h.svc.Chat(ctx, user, "", req, sink)
	require.NoError(t, err)
	assert.Equal(t, "You have no notes yet.", reply)
	assert.Equal(t, reply, got.String())

	assert.NotContains(t, h.primary.Requests()[0].Messages[0].Content, samplePost)
	assert.Zero(t, h.secondary.Calls())
}

func TestChat_FailedGenerationIsFree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := auth.User{ID: "u-fail"}
	h.primary.Reply = func(llm.Request) (string, error) { return "", errors.New("provider down") }

	_, err := h.svc.Chat(ctx, user, "", userTurn("hello"), nil)
	require.Error(t, err)
	assert.Equal(t, errs.Internal, errs.CodeOf(err))
	assert.Equal(t, errs.GenericMessage, errs.MessageOf(err))
	assert.Zero(t, h.count(t, user.ID))

	// The user turn is stored before the model call.
	msgs, err := h.store.ListMessages(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, db.RoleUser, msgs[0].Role)
}

func TestChat_SubscriberNotCharged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := auth.User{ID: "u-pro"}
	require.NoError(t, h.store.UpsertSubscription(ctx, db.Subscription{
		UserID:                 user.ID,
		StripeCustomerID:       "cus_1",
		StripeSubscriptionID:   "sub_1",
		StripePriceID:          "price_1",
		StripeCurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour),
	}))

	_, err := h.svc.Chat(ctx, user, "", userTurn("hello"), nil)
	require.NoError(t, err)
	assert.Zero(t, h.count(t, user.ID))
}

func TestChat_ClientGoneStillWritesBack(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	user := auth.User{ID: "u-gone"}

	sink := func(string) error {
		cancel()
		return errors.New("broken pipe")
	}
	reply, err := h.svc.Chat(ctx, user, "", userTurn("hello"), sink)
	require.NoError(t, err)

	msgs, err := h.store.ListMessages(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, reply, msgs[1].Content)
	assert.Equal(t, 1, h.index.Len())
}

func TestChat_RateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.svc.ChatLimit = ratelimit.NewRouteLimiter(ratelimit.NewMemoryWindow(nil), "chat", 1, 24*time.Hour)
	user := auth.User{ID: "u-rate", Email: proEmail}

	_, err := h.svc.Chat(ctx, user, "9.9.9.9", userTurn("one"), nil)
	require.NoError(t, err)

	_, err = h.svc.Chat(ctx, user, "9.9.9.9", userTurn("two"), nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ResourceExhausted))
	var exceeded *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 1, exceeded.Result.Limit)
	assert.Zero(t, exceeded.Result.Remaining)

	_, err = h.svc.Chat(ctx, user, "8.8.8.8", userTurn("other ip"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, h.primary.Calls())
}

func testChat_CleanupRemovesExcludedPhrases(t *rapid.T, h *harness) {
	phrases := h.svc.Prompts.ExcludedPhrases()
	words := rapid.SliceOfN(rapid.OneOf(
		rapid.SampledFrom(phrases),
		rapid.SampledFrom([]string{"The", "children", "painted", "boxes", ".", "\n", "Today", "we"}),
	), 1, 30).Draw(t, "words")
	draft := strings.Join(words, " ")
	if rapid.Bool().Draw(t, "upper") {
		draft = strings.ToUpper(draft)
	}
	h.secondary.Reply = func(llm.Request) (string, error) { return draft, nil }

	var streamed strings.Builder
	reply, err := h.svc.Chat(context.Background(), auth.User{ID: "u-phrases", Email: proEmail}, "", userTurn("post please"), func(c string) error {
		streamed.WriteString(c)
		return nil
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if streamed.String() != reply {
		t.Fatalf("streamed %q, returned %q", streamed.String(), reply)
	}
	lower := strings.ToLower(reply)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			t.Fatalf("reply %q still contains %q", reply, p)
		}
	}
}

func TestChat_CleanupRemovesExcludedPhrases(t *testing.T) {
	h := newHarness(t)
	rapid.Check(t, func(rt *rapid.T) { testChat_CleanupRemovesExcludedPhrases(rt, h) })
}

func TestClearHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := auth.User{ID: "alice"}
	bob := auth.User{ID: "bob"}

	for _, u := range []auth.User{alice, bob} {
		_, err := h.svc.Chat(ctx, u, "", userTurn("hello"), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 2, h.index.Len())

	require.NoError(t, h.svc.ClearHistory(ctx, alice))

	msgs, err := h.svc.ListMessages(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 1, h.index.Len())

	msgs, err = h.svc.ListMessages(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	assert.True(t, errs.Is(h.svc.ClearHistory(ctx, auth.User{}), errs.Unauthenticated))
}

func TestListMessages_RendersMarkdown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := auth.User{ID: "u-md"}
	h.secondary.Reply = func(llm.Request) (string, error) {
		return "**Title: Painting day**\n\n<script>alert(1)</script>", nil
	}

	_, err := h.svc.Chat(ctx, user, "", userTurn("hello"), nil)
	require.NoError(t, err)

	msgs, err := h.svc.ListMessages(ctx, user)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].HTML, "<strong>Title: Painting day</strong>")
	assert.NotContains(t, msgs[1].HTML, "<script>")
}

func TestEditMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := auth.User{ID: "u-edit"}

	_, err := h.svc.Chat(ctx, user, "", userTurn("hello"), nil)
	require.NoError(t, err)
	msgs, err := h.svc.ListMessages(ctx, user)
	require.NoError(t, err)

	edited, err := h.svc.EditMessage(ctx, user, msgs[1].ID, "A better post")
	require.NoError(t, err)
	assert.Equal(t, "A better post", edited.Content)

	_, err = h.svc.EditMessage(ctx, user, "missing", "x")
	assert.True(t, errs.Is(err, errs.NotFound))
	_, err = h.svc.EditMessage(ctx, user, "", "x")
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := auth.User{ID: "u-complete"}
	h.secondary.Reply = func(llm.Request) (string, error) { return "A tidier sentence.", nil }

	_, err := h.svc.Complete(ctx, user, "", CompletionRequest{Prompt: "text", Option: "rewrite"}, nil)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
	_, err = h.svc.Complete(ctx, user, "", CompletionRequest{Prompt: " ", Option: "fix"}, nil)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
	assert.Zero(t, h.secondary.Calls())

	sink, got := collect()
	text, err := h.svc.Complete(ctx, user, "", CompletionRequest{Prompt: "a sentance", Option: "fix"}, sink)
	require.NoError(t, err)
	assert.Equal(t, "A tidier sentence.", text)
	assert.Equal(t, text, got.String())

	reqs := h.secondary.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "completion", reqs[0].Model)
	assert.Equal(t, 0.7, reqs[0].Temperature)
	assert.Zero(t, reqs[0].FrequencyPenalty)
	assert.Contains(t, reqs[0].Messages[1].Content, "a sentance")

	assert.Equal(t, 1, h.count(t, user.ID))
	assert.Zero(t, h.primary.Calls())

	msgs, err := h.store.ListMessages(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestChat_CleanOutputStreamsUnchanged(t *testing.T) {
	h := newHarness(t)
	draft := "Outdoor play\n- Outside\n    - bikes  and sand\n\tVersion 2 .0 done\n"
	h.secondary.Reply = func(llm.Request) (string, error) { return draft, nil }

	sink, got := collect()
	reply, err := h.svc.Chat(context.Background(), auth.User{ID: "u-clean", Email: proEmail}, "", userTurn("post please"), sink)
	require.NoError(t, err)
	assert.Equal(t, draft, reply)
	assert.Equal(t, draft, got.String())
}

func TestLineFilter(t *testing.T) {
	var emitted []string
	f := newLineFilter(strings.ToUpper, func(s string) error {
		emitted = append(emitted, s)
		return nil
	})
	for _, d := range []string{"ab", "c\nd", "e\n", "\nf"} {
		require.NoError(t, f.write(d))
	}
	assert.Equal(t, "ABC\nDE\n\nF", f.close())
	assert.Equal(t, []string{"ABC\n", "DE\n", "\n", "F"}, emitted)
}

func TestToHistory_KeepsRecentTurns(t *testing.T) {
	turns := make([]Turn, 10)
	for i := range turns {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		turns[i] = Turn{Role: role, Content: string(rune('a' + i))}
	}
	history, err := toHistory(turns, embedding.RecentTurns)
	require.NoError(t, err)
	require.Len(t, history, embedding.RecentTurns)
	assert.Equal(t, "e", history[0].Content)
	assert.Equal(t, "j", history[5].Content)
}
