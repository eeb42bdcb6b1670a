// Package pgstore is the Postgres implementation of db.Store, for
// deployments that share one database across instances.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jacobjmc/lightpad/internal/db"
)

type noteRow struct {
	ID        string    `gorm:"type:text;primaryKey"`
	UserID    string    `gorm:"type:text;not null;index:idx_notes_user_updated,priority:1"`
	Title     string    `gorm:"type:text;not null"`
	Content   string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index:idx_notes_user_updated,priority:2,sort:desc"`
}

func (noteRow) TableName() string { return "notes" }

type messageRow struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"type:text;uniqueIndex;not null"`
	UserID    string    `gorm:"type:text;not null;index:idx_messages_user_created,priority:1"`
	Role      string    `gorm:"type:text;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_user_created,priority:2"`
}

func (messageRow) TableName() string { return "messages" }

type usageRow struct {
	UserID    string `gorm:"type:text;primaryKey"`
	Count     int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (usageRow) TableName() string { return "user_api_limits" }

type subscriptionRow struct {
	UserID                 string  `gorm:"type:text;primaryKey"`
	StripeCustomerID       string  `gorm:"type:text"`
	StripeSubscriptionID   *string `gorm:"type:text;uniqueIndex"`
	StripePriceID          string  `gorm:"type:text"`
	StripeCurrentPeriodEnd *time.Time
}

func (subscriptionRow) TableName() string { return "user_subscriptions" }

// Store implements db.Store on gorm.
type Store struct {
	db *gorm.DB
}

var _ db.Store = (*Store)(nil)

// Open connects to Postgres and migrates the tables.
func Open(ctx context.Context, dsn string) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	s, err := New(ctx, gdb)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm handle and migrates the tables.
func New(ctx context.Context, gdb *gorm.DB) (*Store, error) {
	if err := gdb.WithContext(ctx).AutoMigrate(&noteRow{}, &messageRow{}, &usageRow{}, &subscriptionRow{}); err != nil {
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}
	return &Store{db: gdb}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.ErrNotFound
	}
	return err
}

func requireRow(res *gorm.DB, op string) error {
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, db.ErrNotFound)
	}
	return nil
}

// =============================================================================
// Notes
// =============================================================================

func toNote(r noteRow) db.Note {
	return db.Note{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Content:   r.Content,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func toNotes(rows []noteRow) []db.Note {
	notes := make([]db.Note, 0, len(rows))
	for _, r := range rows {
		notes = append(notes, toNote(r))
	}
	return notes
}

func (s *Store) CreateNote(ctx context.Context, n db.Note) error {
	row := noteRow(n)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *Store) GetNote(ctx context.Context, userID, id string) (db.Note, error) {
	var row noteRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&row).Error
	if err != nil {
		return db.Note{}, fmt.Errorf("get note: %w", notFound(err))
	}
	return toNote(row), nil
}

func (s *Store) ListNotes(ctx context.Context, userID string) ([]db.Note, error) {
	var rows []noteRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return toNotes(rows), nil
}

func (s *Store) FindNotes(ctx context.Context, userID string, ids []string) ([]db.Note, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []noteRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find notes: %w", err)
	}
	return toNotes(rows), nil
}

func (s *Store) UpdateNote(ctx context.Context, n db.Note) error {
	res := s.db.WithContext(ctx).
		Model(&noteRow{}).
		Where("id = ? AND user_id = ?", n.ID, n.UserID).
		Updates(map[string]any{"title": n.Title, "content": n.Content, "updated_at": n.UpdatedAt})
	return requireRow(res, "update note")
}

func (s *Store) DeleteNote(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&noteRow{})
	return requireRow(res, "delete note")
}

// =============================================================================
// Messages
// =============================================================================

func toMessage(r messageRow) db.Message {
	return db.Message{
		ID:        r.ID,
		UserID:    r.UserID,
		Role:      db.Role(r.Role),
		Content:   r.Content,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (s *Store) CreateMessage(ctx context.Context, m db.Message) error {
	if !m.Role.Valid() {
		return fmt.Errorf("insert message: invalid role %q", m.Role)
	}
	row := messageRow{ID: m.ID, UserID: m.UserID, Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, userID string) ([]db.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages := make([]db.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, toMessage(r))
	}
	return messages, nil
}

func (s *Store) LatestMessage(ctx context.Context, userID string, role db.Role) (db.Message, error) {
	var row messageRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND role = ?", userID, string(role)).
		Order("created_at DESC").Order("seq DESC").
		Take(&row).Error
	if err != nil {
		return db.Message{}, fmt.Errorf("latest message: %w", notFound(err))
	}
	return toMessage(row), nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, id, content string) (db.Message, error) {
	res := s.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("id = ?", id).
		Update("content", content)
	if err := requireRow(res, "update message"); err != nil {
		return db.Message{}, err
	}
	var row messageRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return db.Message{}, fmt.Errorf("reload message: %w", notFound(err))
	}
	return toMessage(row), nil
}

func (s *Store) DeleteMessages(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&messageRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// =============================================================================
// Usage counters
// =============================================================================

func (s *Store) GetUsage(ctx context.Context, userID string) (db.UsageLimit, error) {
	var row usageRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error; err != nil {
		return db.UsageLimit{}, fmt.Errorf("get usage: %w", notFound(err))
	}
	return db.UsageLimit{UserID: row.UserID, Count: row.Count, CreatedAt: row.CreatedAt.UTC(), UpdatedAt: row.UpdatedAt.UTC()}, nil
}

func (s *Store) IncrementUsage(ctx context.Context, userID string, now time.Time) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := usageRow{UserID: userID, Count: 1, CreatedAt: now, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"count":      gorm.Expr("user_api_limits.count + 1"),
				"updated_at": now,
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&usageRow{}).Where("user_id = ?", userID).Select("count").Scan(&count).Error
	})
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return count, nil
}

// =============================================================================
// Subscriptions
// =============================================================================

func toSubscription(r subscriptionRow) db.Subscription {
	sub := db.Subscription{
		UserID:           r.UserID,
		StripeCustomerID: r.StripeCustomerID,
		StripePriceID:    r.StripePriceID,
	}
	if r.StripeSubscriptionID != nil {
		sub.StripeSubscriptionID = *r.StripeSubscriptionID
	}
	if r.StripeCurrentPeriodEnd != nil {
		sub.StripeCurrentPeriodEnd = r.StripeCurrentPeriodEnd.UTC()
	}
	return sub
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (db.Subscription, error) {
	var row subscriptionRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error; err != nil {
		return db.Subscription{}, fmt.Errorf("get subscription: %w", notFound(err))
	}
	return toSubscription(row), nil
}

func (s *Store) GetSubscriptionBySubscriptionID(ctx context.Context, subscriptionID string) (db.Subscription, error) {
	var row subscriptionRow
	if err := s.db.WithContext(ctx).Where("stripe_subscription_id = ?", subscriptionID).Take(&row).Error; err != nil {
		return db.Subscription{}, fmt.Errorf("get subscription by stripe id: %w", notFound(err))
	}
	return toSubscription(row), nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub db.Subscription) error {
	row := subscriptionRow{
		UserID:           sub.UserID,
		StripeCustomerID: sub.StripeCustomerID,
		StripePriceID:    sub.StripePriceID,
	}
	if sub.StripeSubscriptionID != "" {
		id := sub.StripeSubscriptionID
		row.StripeSubscriptionID = &id
	}
	if !sub.StripeCurrentPeriodEnd.IsZero() {
		end := sub.StripeCurrentPeriodEnd
		row.StripeCurrentPeriodEnd = &end
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stripe_customer_id", "stripe_subscription_id", "stripe_price_id", "stripe_current_period_end"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}
