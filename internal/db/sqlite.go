package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// MaxOpenConns caps the pool. SQLite is single-writer, so high counts
	// only add lock contention.
	MaxOpenConns = 8
	MaxIdleConns = 2
)

// SQLiteStore is the Store backed by one SQLCipher-encrypted file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the encrypted database at path.
// keyHex is the 64-character raw SQLCipher key.
func OpenSQLite(path, keyHex string) (*SQLiteStore, error) {
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("database key must be 64 hex characters, got %d", len(keyHex))
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Format: file.db?_pragma_key=x'HEX_KEY'&_pragma_cipher_page_size=4096
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, keyHex)
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	store, err := NewSQLiteStoreFromSQL(sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStoreFromSQL wraps an open handle and applies the schema.
func NewSQLiteStoreFromSQL(sqlDB *sql.DB) (*SQLiteStore, error) {
	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}
	if _, err := sqlDB.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: sqlDB}, nil
}

// DB returns the underlying sql.DB for direct access when needed.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func sqliteCommonParams() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func wrapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =============================================================================
// Notes
// =============================================================================

const noteColumns = "id, user_id, title, content, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (Note, error) {
	var n Note
	var created, updated int64
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &created, &updated); err != nil {
		return Note{}, err
	}
	n.CreatedAt = fromMillis(created)
	n.UpdatedAt = fromMillis(updated)
	return n, nil
}

func (s *SQLiteStore) CreateNote(ctx context.Context, n Note) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (`+noteColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Content, toMillis(n.CreatedAt), toMillis(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNote(ctx context.Context, userID, id string) (Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	n, err := scanNote(row)
	if err != nil {
		return Note{}, fmt.Errorf("get note: %w", wrapNotFound(err))
	}
	return n, nil
}

func (s *SQLiteStore) ListNotes(ctx context.Context, userID string) ([]Note, error) {
	return s.queryNotes(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC`, userID)
}

func (s *SQLiteStore) FindNotes(ctx context.Context, userID string, ids []string) ([]Note, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	return s.queryNotes(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id = ? AND id IN (`+placeholders+`) ORDER BY updated_at DESC`,
		args...)
}

func (s *SQLiteStore) queryNotes(ctx context.Context, query string, args ...any) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *SQLiteStore) UpdateNote(ctx context.Context, n Note) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		n.Title, n.Content, toMillis(n.UpdatedAt), n.ID, n.UserID)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return requireRow(res, "update note")
}

func (s *SQLiteStore) DeleteNote(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return requireRow(res, "delete note")
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// =============================================================================
// Messages
// =============================================================================

const messageColumns = "id, user_id, role, content, created_at"

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var role string
	var created int64
	if err := row.Scan(&m.ID, &m.UserID, &role, &m.Content, &created); err != nil {
		return Message{}, err
	}
	m.Role = Role(role)
	m.CreatedAt = fromMillis(created)
	return m, nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, m Message) error {
	if !m.Role.Valid() {
		return fmt.Errorf("insert message: invalid role %q", m.Role)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.UserID, string(m.Role), m.Content, toMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, userID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) LatestMessage(ctx context.Context, userID string, role Role) (Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE user_id = ? AND role = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		userID, string(role))
	m, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("latest message: %w", wrapNotFound(err))
	}
	return m, nil
}

func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string) (Message, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return Message{}, fmt.Errorf("update message: %w", err)
	}
	if err := requireRow(res, "update message"); err != nil {
		return Message{}, err
	}
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		return Message{}, fmt.Errorf("reload message: %w", wrapNotFound(err))
	}
	return m, nil
}

func (s *SQLiteStore) DeleteMessages(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// Usage counters
// =============================================================================

func (s *SQLiteStore) GetUsage(ctx context.Context, userID string) (UsageLimit, error) {
	var u UsageLimit
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, count, created_at, updated_at FROM user_api_limits WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.Count, &created, &updated)
	if err != nil {
		return UsageLimit{}, fmt.Errorf("get usage: %w", wrapNotFound(err))
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return u, nil
}

func (s *SQLiteStore) IncrementUsage(ctx context.Context, userID string, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin usage increment: %w", err)
	}
	defer tx.Rollback()

	ms := toMillis(now)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_api_limits (user_id, count, created_at, updated_at) VALUES (?, 1, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at`,
		userID, ms, ms); err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT count FROM user_api_limits WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit usage increment: %w", err)
	}
	return count, nil
}

// =============================================================================
// Subscriptions
// =============================================================================

const subscriptionColumns = "user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id, stripe_current_period_end"

func scanSubscription(row rowScanner) (Subscription, error) {
	var sub Subscription
	var customer, subscription, price sql.NullString
	var periodEnd sql.NullInt64
	if err := row.Scan(&sub.UserID, &customer, &subscription, &price, &periodEnd); err != nil {
		return Subscription{}, err
	}
	sub.StripeCustomerID = customer.String
	sub.StripeSubscriptionID = subscription.String
	sub.StripePriceID = price.String
	if periodEnd.Valid {
		sub.StripeCurrentPeriodEnd = fromMillis(periodEnd.Int64)
	}
	return sub, nil
}

func (s *SQLiteStore) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE user_id = ?`, userID))
	if err != nil {
		return Subscription{}, fmt.Errorf("get subscription: %w", wrapNotFound(err))
	}
	return sub, nil
}

func (s *SQLiteStore) GetSubscriptionBySubscriptionID(ctx context.Context, subscriptionID string) (Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE stripe_subscription_id = ?`, subscriptionID))
	if err != nil {
		return Subscription{}, fmt.Errorf("get subscription by stripe id: %w", wrapNotFound(err))
	}
	return sub, nil
}

func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub Subscription) error {
	var periodEnd sql.NullInt64
	if !sub.StripeCurrentPeriodEnd.IsZero() {
		periodEnd = sql.NullInt64{Int64: toMillis(sub.StripeCurrentPeriodEnd), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   stripe_customer_id = excluded.stripe_customer_id,
		   stripe_subscription_id = excluded.stripe_subscription_id,
		   stripe_price_id = excluded.stripe_price_id,
		   stripe_current_period_end = excluded.stripe_current_period_end`,
		sub.UserID, nullString(sub.StripeCustomerID), nullString(sub.StripeSubscriptionID),
		nullString(sub.StripePriceID), periodEnd)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}
