package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps documents in a single SQLite table, one JSON object per
// row. Live queries are re-evaluated whenever a write touches their
// collection, either through this store or, when a Notifier is configured,
// through another process sharing the database.
type SQLiteStore struct {
	db       *sql.DB
	hub      *hub
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	closed   bool
	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithNotifier shares change events with other processes.
func WithNotifier(n Notifier) Option {
	return func(s *SQLiteStore) { s.notifier = n }
}

// WithLogger sets the logger used for background failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// timeLayout is fixed width so that timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database. The store owns db from here on.
func NewSQLiteStore(db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		db:     db,
		hub:    newHub(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "docstore")
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.lifetime, s.cancel = ctx, cancel
	if s.notifier != nil {
		if err := s.notifier.Listen(ctx, s.hub.notify); err != nil {
			cancel()
			return nil, fmt.Errorf("listen for changes: %w", err)
		}
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{`
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		fields JSON NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created ON documents (collection, created_at, id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// changed wakes local live queries and tells other processes.
func (s *SQLiteStore) changed(ctx context.Context, collection string) {
	s.hub.notify(collection)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, collection); err != nil {
		s.logger.WarnContext(ctx, "publish change failed", "collection", collection, "error", err)
	}
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if s.isClosed() {
		return Document{}, ErrClosed
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id)
	doc, err := scanDocument(row, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *SQLiteStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	id := uuid.NewString()
	if err := s.insert(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

// Set creates or replaces the document at id.
func (s *SQLiteStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	return s.insert(ctx, collection, id, fields, true)
}

func (s *SQLiteStore) insert(ctx context.Context, collection, id string, fields Fields, replace bool) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := (Query{Collection: collection}).validate(); err != nil {
		return err
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	ts := s.now().UTC().Format(timeLayout)
	query := `INSERT INTO documents (collection, id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	if replace {
		query += ` ON CONFLICT (collection, id) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, query, collection, id, string(b), ts, ts); err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	s.changed(ctx, collection)
	return nil
}

// Update merges fields into an existing document.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	if s.isClosed() {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT fields FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", collection, id, err)
	}
	merged := Fields{}
	if err := json.Unmarshal([]byte(raw), &merged); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	for k, v := range fields {
		merged[k] = v
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	ts := s.now().UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET fields = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(b), ts, collection, id); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.changed(ctx, collection)
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.changed(ctx, collection)
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	query := `SELECT id, fields, created_at, updated_at FROM documents WHERE collection = ?`
	args := []any{q.Collection}
	if q.Field != "" {
		query += ` AND json_extract(fields, ?) = ?`
		args = append(args, "$."+q.Field, q.Value)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer func() { _ = rows.Close() }()

	docs := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows, q.Collection)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return docs, nil
}

// Subscribe starts a live query. The first snapshot is the current result set.
func (s *SQLiteStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	sub, ctx := newSubscription(ctx)
	l := s.hub.add(q.Collection)
	stop := context.AfterFunc(s.lifetime, sub.cancel)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stop()
		defer s.hub.remove(l)
		pump(ctx, sub, l.wake, func(ctx context.Context) Snapshot {
			docs, err := s.Query(ctx, q)
			if err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "live query failed", "collection", q.Collection, "error", err)
			}
			return Snapshot{Documents: docs, Err: err}
		})
	}()
	return sub, nil
}

// Close stops every live query, the change listener and the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner, collection string) (Document, error) {
	var id, raw, created, updated string
	if err := r.Scan(&id, &raw, &created, &updated); err != nil {
		return Document{}, err
	}
	fields := Fields{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Document{}, fmt.Errorf("decode fields: %w", err)
	}
	d := Document{ID: id, Collection: collection, Fields: fields}
	d.CreatedAt, _ = time.Parse(timeLayout, created)
	d.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return d, nil
}
