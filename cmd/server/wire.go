package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jacobjmc/lightpad/internal/api"
	"github.com/jacobjmc/lightpad/internal/auth"
	"github.com/jacobjmc/lightpad/internal/billing"
	"github.com/jacobjmc/lightpad/internal/chat"
	"github.com/jacobjmc/lightpad/internal/config"
	"github.com/jacobjmc/lightpad/internal/db"
	"github.com/jacobjmc/lightpad/internal/db/pgstore"
	"github.com/jacobjmc/lightpad/internal/embedding"
	"github.com/jacobjmc/lightpad/internal/llm"
	"github.com/jacobjmc/lightpad/internal/notes"
	"github.com/jacobjmc/lightpad/internal/obs"
	"github.com/jacobjmc/lightpad/internal/prompt"
	"github.com/jacobjmc/lightpad/internal/ratelimit"
	"github.com/jacobjmc/lightpad/internal/usage"
	"github.com/jacobjmc/lightpad/internal/vectorindex"
	"github.com/jacobjmc/lightpad/internal/vectorindex/pgindex"
)

const routeWindow = 24 * time.Hour

// App is the assembled server.
type App struct {
	Handler http.Handler
	API     *api.Handler

	closers []io.Closer
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	app := &App{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, store)

	index, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := index.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := embedder.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}
	if index.Dimensions() != cfg.VectorDimensions {
		return nil, fmt.Errorf("vector index has %d dimensions, VECTOR_DIMENSIONS is %d", index.Dimensions(), cfg.VectorDimensions)
	}

	prompts, err := prompt.Load()
	if err != nil {
		return nil, err
	}
	primary, secondary := newGenerators(cfg)

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return nil, err
	}

	chatLimit, completionLimit, err := newRouteLimiters(ctx, cfg, app)
	if err != nil {
		return nil, err
	}

	limiter := usage.NewLimiter(store, usage.Config{
		MaxFreeCounts: cfg.MaxFreeCounts,
		Grace:         cfg.SubscriptionGrace,
		BypassEmails:  cfg.BypassEmails,
	})

	users := ratelimit.NewUserLimiter(cfg.RateLimitConfig)
	app.closers = append(app.closers, closerFunc(func() error { users.Stop(); return nil }))

	app.API = &api.Handler{
		Notes: notes.NewService(store, index, embedder),
		Chat: chat.NewService(chat.Deps{
			Notes:           store,
			Messages:        store,
			Usage:           limiter,
			Index:           index,
			Embedder:        embedder,
			Prompts:         prompts,
			Primary:         primary,
			Secondary:       secondary,
			ChatLimit:       chatLimit,
			CompletionLimit: completionLimit,
		}, chat.Config{
			PrimaryModel:    cfg.PrimaryModel,
			CleanupModel:    cfg.CleanupModel,
			CompletionModel: cfg.CompletionModel,
		}),
		Usage:   limiter,
		Billing: newBilling(cfg, store),
		Auth:    auth.NewMiddleware(verifier),
		Users:   users,
	}

	mux := http.NewServeMux()
	app.API.RegisterRoutes(mux)
	app.Handler = obs.RequestContextMiddleware(obs.AccessLogMiddleware("http", mux))
	return app, nil
}

func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		return pgstore.Open(ctx, cfg.DatabaseURL)
	default:
		return db.OpenSQLite(cfg.DatabasePath, cfg.DatabaseKey)
	}
}

func openIndex(ctx context.Context, cfg *config.Config) (vectorindex.Index, error) {
	switch cfg.VectorIndex {
	case config.IndexPGVector:
		return pgindex.Open(ctx, cfg.VectorURL, cfg.VectorDimensions)
	default:
		slog.Warn("vector_index_memory", "note", "vectors are lost on restart")
		return vectorindex.NewMemoryIndex(cfg.VectorDimensions), nil
	}
}

func newEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	if cfg.NoLLM {
		return embedding.NewHashEmbedder(cfg.VectorDimensions), nil
	}
	switch cfg.EmbeddingProvider {
	case config.ProviderGoogle:
		return embedding.NewGoogleEmbedder(ctx, cfg.GoogleAPIKey, cfg.EmbeddingModel, cfg.VectorDimensions)
	default:
		return embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.VectorDimensions), nil
	}
}

// newGenerators returns the primary (post writing, chat) and secondary
// (cleanup, completion) models.
func newGenerators(cfg *config.Config) (primary, secondary llm.Generator) {
	if cfg.NoLLM {
		return llm.NewFake(), llm.NewFake()
	}
	secondary = llm.NewOpenAI(cfg.OpenAIAPIKey)
	switch cfg.PrimaryProvider {
	case config.ProviderOpenAI:
		primary = secondary
	default:
		primary = llm.NewAnthropic(cfg.AnthropicAPIKey)
	}
	return primary, secondary
}

func newVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	if cfg.AuthOIDCIssuer != "" {
		return auth.NewOIDCVerifier(ctx, cfg.AuthOIDCIssuer, cfg.AuthOIDCAudience)
	}
	return auth.NewHMACVerifier(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, ""), nil
}

// newRouteLimiters builds the per-IP chat and completion windows. Both are
// nil unless Redis is configured.
func newRouteLimiters(ctx context.Context, cfg *config.Config, app *App) (chatLimit, completionLimit *ratelimit.RouteLimiter, err error) {
	if !cfg.IPRateLimitEnabled() {
		return nil, nil, nil
	}
	client, err := ratelimit.NewRedisClient(ctx, cfg.RateLimitRedisAddr, cfg.RateLimitRedisPass)
	if err != nil {
		return nil, nil, err
	}
	app.closers = append(app.closers, client)

	window := ratelimit.NewRedisWindow(client)
	chatLimit = ratelimit.NewRouteLimiter(window, "chat", cfg.ChatDailyLimit, routeWindow)
	completionLimit = ratelimit.NewRouteLimiter(window, "completion", cfg.CompletionDailyLimit, routeWindow)
	return chatLimit, completionLimit, nil
}

func newBilling(cfg *config.Config, store db.SubscriptionStore) *billing.Service {
	var gateway billing.Gateway
	if cfg.NoStripe {
		gateway = billing.NewMockGateway()
	} else {
		gateway = billing.NewStripeGateway(cfg.StripeSecretKey)
	}
	isActive := func(s db.Subscription) bool {
		return usage.IsActive(s, cfg.SubscriptionGrace, time.Now())
	}
	return billing.NewService(billing.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		PriceID:       cfg.StripePriceID,
		BaseURL:       cfg.BaseURL,
	}, gateway, store, isActive)
}
