// ABOUTME: SQLite implementation of the store interfaces using modernc.org/sqlite
// ABOUTME: Persists sessions (tokens sealed), contact messages and items with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore, ContactStore and ItemStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Session tokens are sealed with sealer.
func NewSQLiteStore(path string, sealer *Sealer) (*SQLiteStore, error) {
	if sealer == nil {
		return nil, ErrSealerRequired
	}

	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		sealer: sealer,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			id_token TEXT NOT NULL,
			access_expires_at DATETIME NOT NULL,
			refresh_expires_at DATETIME,
			profile_json TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_access_expires
			ON sessions(access_expires_at);

		CREATE INDEX IF NOT EXISTS idx_sessions_expires
			ON sessions(expires_at);

		CREATE TABLE IF NOT EXISTS contact_messages (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT 'en',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_contact_messages_created
			ON contact_messages(created_at);

		CREATE TABLE IF NOT EXISTS items (
			id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (user_id, id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('contact_messages') WHERE name = 'remote_ip'`,
			apply:  `ALTER TABLE contact_messages ADD COLUMN remote_ip TEXT NOT NULL DEFAULT ''`,
			column: "remote_ip",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking column %s: %w", m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding column %s: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveSession creates or replaces a session. Tokens are sealed before writing.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *Session) error {
	access, refresh, idToken, err := s.sealer.sealTokens(sess)
	if err != nil {
		return err
	}

	var profile []byte
	if sess.Profile != nil {
		profile, err = json.Marshal(sess.Profile)
		if err != nil {
			return fmt.Errorf("marshaling profile: %w", err)
		}
	}

	var refreshExpiry sql.NullTime
	if !sess.RefreshExpiry.IsZero() {
		refreshExpiry = sql.NullTime{Time: sess.RefreshExpiry.UTC(), Valid: true}
	}

	query := `
		INSERT INTO sessions (id, subject, access_token, refresh_token, id_token,
			access_expires_at, refresh_expires_at, profile_json, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject = excluded.subject,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			id_token = excluded.id_token,
			access_expires_at = excluded.access_expires_at,
			refresh_expires_at = excluded.refresh_expires_at,
			profile_json = excluded.profile_json,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`

	_, err = s.db.ExecContext(ctx, query,
		sess.ID,
		sess.Subject,
		access,
		refresh,
		idToken,
		sess.AccessExpiry.UTC(),
		refreshExpiry,
		string(profile),
		sess.CreatedAt.UTC(),
		sess.UpdatedAt.UTC(),
		sess.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

const sessionColumns = `id, subject, access_token, refresh_token, id_token,
	access_expires_at, refresh_expires_at, profile_json, created_at, updated_at, expires_at`

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanSession(row scanner) (*Session, error) {
	var (
		sess                   Session
		access, refresh, idTok string
		refreshExpiry          sql.NullTime
		profile                sql.NullString
	)

	err := row.Scan(
		&sess.ID,
		&sess.Subject,
		&access,
		&refresh,
		&idTok,
		&sess.AccessExpiry,
		&refreshExpiry,
		&profile,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if err := s.sealer.openTokens(&sess, access, refresh, idTok); err != nil {
		return nil, err
	}
	if refreshExpiry.Valid {
		sess.RefreshExpiry = refreshExpiry.Time
	}
	if profile.Valid && profile.String != "" {
		if err := json.Unmarshal([]byte(profile.String), &sess.Profile); err != nil {
			return nil, fmt.Errorf("unmarshaling profile: %w", err)
		}
	}
	return &sess, nil
}

// GetSession retrieves a live session by ID.
// Returns ErrNotFound if the session does not exist or has expired.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ? AND expires_at > ?`

	sess, err := s.scanSession(s.db.QueryRowContext(ctx, query, id, time.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// DeleteSession removes a session by ID
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ListSessionsExpiringBefore returns live sessions with a refresh token whose
// access token expires before the given time.
func (s *SQLiteStore) ListSessionsExpiringBefore(ctx context.Context, before time.Time) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE access_expires_at < ? AND expires_at > ? AND refresh_token != ''
		ORDER BY access_expires_at ASC`

	rows, err := s.db.QueryContext(ctx, query, before.UTC(), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("querying expiring sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpiredSessions removes sessions past their hard lifetime
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// SaveContactMessage stores a contact form submission
func (s *SQLiteStore) SaveContactMessage(ctx context.Context, msg *ContactMessage) error {
	query := `
		INSERT INTO contact_messages (id, name, email, subject, message, language, remote_ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Name,
		msg.Email,
		msg.Subject,
		msg.Message,
		msg.Language,
		msg.RemoteIP,
		msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting contact message: %w", err)
	}
	return nil
}

// ListContactMessages returns the most recent submissions, newest first
func (s *SQLiteStore) ListContactMessages(ctx context.Context, limit int) ([]*ContactMessage, error) {
	query := `
		SELECT id, name, email, subject, message, language, remote_ip, created_at
		FROM contact_messages
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying contact messages: %w", err)
	}
	defer rows.Close()

	var msgs []*ContactMessage
	for rows.Next() {
		var m ContactMessage
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Subject, &m.Message, &m.Language, &m.RemoteIP, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning contact message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// ListItems returns a user's items ordered by name. An unknown user has no items.
func (s *SQLiteStore) ListItems(ctx context.Context, userID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, description FROM items WHERE user_id = ? ORDER BY name, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.UserID, &it.Name, &it.Description); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpsertItem inserts or updates an item keyed by (user, id)
func (s *SQLiteStore) UpsertItem(ctx context.Context, item Item) error {
	query := `
		INSERT INTO items (id, user_id, name, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description
	`
	if _, err := s.db.ExecContext(ctx, query, item.ID, item.UserID, item.Name, item.Description); err != nil {
		return fmt.Errorf("upserting item: %w", err)
	}
	return nil
}

// Compile-time interface checks
var (
	_ SessionStore = (*SQLiteStore)(nil)
	_ ContactStore = (*SQLiteStore)(nil)
	_ ItemStore    = (*SQLiteStore)(nil)
)
