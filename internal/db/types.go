package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Role tags a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a stored role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Note is a user-owned rich-text note. Content is sanitized HTML.
type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one turn of a user's chat log.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// UsageLimit counts free AI generations.
type UsageLimit struct {
	UserID    string
	Count     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscription mirrors the user's Stripe subscription.
type Subscription struct {
	UserID                 string
	StripeCustomerID       string
	StripeSubscriptionID   string
	StripePriceID          string
	StripeCurrentPeriodEnd time.Time
}

// NoteStore persists notes. Every method is scoped by user id.
type NoteStore interface {
	CreateNote(ctx context.Context, n Note) error
	GetNote(ctx context.Context, userID, id string) (Note, error)
	// ListNotes returns the user's notes, most recently updated first.
	ListNotes(ctx context.Context, userID string) ([]Note, error)
	// FindNotes returns the user's notes among ids; unknown or foreign ids
	// are skipped.
	FindNotes(ctx context.Context, userID string, ids []string) ([]Note, error)
	UpdateNote(ctx context.Context, n Note) error
	DeleteNote(ctx context.Context, userID, id string) error
}

// MessageStore persists the chat log.
type MessageStore interface {
	CreateMessage(ctx context.Context, m Message) error
	// ListMessages returns the user's messages oldest first.
	ListMessages(ctx context.Context, userID string) ([]Message, error)
	LatestMessage(ctx context.Context, userID string, role Role) (Message, error)
	// UpdateMessageContent rewrites a message by id alone.
	UpdateMessageContent(ctx context.Context, id, content string) (Message, error)
	DeleteMessages(ctx context.Context, userID string) (int64, error)
}

// UsageStore persists free-generation counters.
type UsageStore interface {
	GetUsage(ctx context.Context, userID string) (UsageLimit, error)
	// IncrementUsage creates the counter at 1 or adds exactly 1, returning
	// the new count.
	IncrementUsage(ctx context.Context, userID string, now time.Time) (int, error)
}

// SubscriptionStore persists Stripe subscription state.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, userID string) (Subscription, error)
	GetSubscriptionBySubscriptionID(ctx context.Context, subscriptionID string) (Subscription, error)
	UpsertSubscription(ctx context.Context, s Subscription) error
}

// Store is the full relational store.
type Store interface {
	NoteStore
	MessageStore
	UsageStore
	SubscriptionStore
	Ping(ctx context.Context) error
	Close() error
}
