package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mediavault/internal/store/migrations"
	"mediavault/internal/vault"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements vault.Store on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ vault.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens a SQLite store at path (":memory:" works) and
// verifies the schema is current.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.CheckDBMigrationStatus(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller is
// responsible for schema state and connection configuration.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// this store relies on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Concurrent event handlers share this connection pool; wait for locks
	// instead of failing fast.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Record operations

func (s *SQLiteStore) Put(ctx context.Context, rec *vault.MediaRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records (token, kind, payload_ref, text_content, caption, title, creator_id, views, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		rec.Token, string(rec.Kind), rec.PayloadRef, rec.Text, rec.Caption, rec.Title, rec.CreatorID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: inserting record: %v", vault.ErrStorageFailure, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: reading record id: %v", vault.ErrStorageFailure, err)
	}
	rec.ID = id
	return nil
}

const recordColumns = "id, token, kind, payload_ref, text_content, caption, title, creator_id, views, created_at"

func scanRecord(row interface{ Scan(...any) error }) (*vault.MediaRecord, error) {
	rec := &vault.MediaRecord{}
	var kind string
	err := row.Scan(&rec.ID, &rec.Token, &kind, &rec.PayloadRef, &rec.Text,
		&rec.Caption, &rec.Title, &rec.CreatorID, &rec.Views, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = vault.Kind(kind)
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, token string) (*vault.MediaRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE token = ?", token)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vault.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding record by token: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*vault.MediaRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vault.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding record by id: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) IncrementView(ctx context.Context, token string) error {
	// A single UPDATE is atomic; a missing token simply updates zero rows.
	_, err := s.db.ExecContext(ctx, "UPDATE records SET views = views + 1 WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("incrementing views: %w", err)
	}
	return nil
}

// Group operations

func (s *SQLiteStore) PutGroup(ctx context.Context, rec *vault.MediaRecord, items []*vault.GroupItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", vault.ErrStorageFailure, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO records (token, kind, payload_ref, text_content, caption, title, creator_id, views, created_at)
		VALUES (?, ?, '', '', ?, ?, ?, 0, ?)`,
		rec.Token, string(rec.Kind), rec.Caption, rec.Title, rec.CreatorID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: inserting group record: %v", vault.ErrStorageFailure, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: reading group record id: %v", vault.ErrStorageFailure, err)
	}

	for _, it := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO group_items (token, position, kind, payload_ref, caption)
			VALUES (?, ?, ?, ?, ?)`,
			rec.Token, it.Position, string(it.Kind), it.PayloadRef, it.Caption,
		)
		if err != nil {
			return fmt.Errorf("%w: inserting group item %d: %v", vault.ErrStorageFailure, it.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing group: %v", vault.ErrStorageFailure, err)
	}
	rec.ID = id
	return nil
}

func (s *SQLiteStore) GetGroupItems(ctx context.Context, token string) ([]*vault.GroupItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, position, kind, payload_ref, caption
		FROM group_items WHERE token = ? ORDER BY position`, token)
	if err != nil {
		return nil, fmt.Errorf("loading group items: %w", err)
	}
	defer rows.Close()

	items := make([]*vault.GroupItem, 0)
	for rows.Next() {
		it := &vault.GroupItem{}
		var kind string
		if err := rows.Scan(&it.Token, &it.Position, &kind, &it.PayloadRef, &it.Caption); err != nil {
			return nil, fmt.Errorf("scanning group item: %w", err)
		}
		it.Kind = vault.Kind(kind)
		items = append(items, it)
	}
	return items, rows.Err()
}

// Event operations

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *vault.ViewEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, token, viewed_at) VALUES (?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.Token, ev.ViewedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: appending event: %v", vault.ErrStorageFailure, err)
	}
	return nil
}

func (s *SQLiteStore) CountEvents(ctx context.Context, token string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE token = ?", token).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// Reporting

func (s *SQLiteStore) TopByViews(ctx context.Context, n int) ([]*vault.MediaRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM records ORDER BY views DESC, id LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("querying top records: %w", err)
	}
	defer rows.Close()

	recs := make([]*vault.MediaRecord, 0, n)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) CountByKind(ctx context.Context) (map[vault.Kind]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM records GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("counting by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[vault.Kind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning kind count: %w", err)
		}
		counts[vault.Kind(kind)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Totals(ctx context.Context) (int64, int64, error) {
	var records, views int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(views), 0) FROM records").Scan(&records, &views)
	if err != nil {
		return 0, 0, fmt.Errorf("querying totals: %w", err)
	}
	return records, views, nil
}

func (s *SQLiteStore) ActivitySince(ctx context.Context, since time.Time) (int64, int64, error) {
	var views, viewers int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT user_id) FROM events WHERE viewed_at >= ?", since).
		Scan(&views, &viewers)
	if err != nil {
		return 0, 0, fmt.Errorf("querying recent activity: %w", err)
	}
	return views, viewers, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
