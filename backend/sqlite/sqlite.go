// Package sqlite provides a document store backed by a local SQLite file.
// Writes from this process are published to subscribers immediately; writes
// from other processes sharing the file are picked up by a file watcher.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"milista/backend"
	"milista/internal/utils"
	"milista/internal/watcher"
)

// sortableTime keeps a fixed width so created_at orders lexically
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// Store implements backend.Store using SQLite
type Store struct {
	db         *sql.DB
	path       string
	collection string
	hub        *backend.Broadcaster

	mu      sync.Mutex
	watcher *watcher.Watcher
	now     func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithCollection selects the collection the store reads and writes.
func WithCollection(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithClock overrides the time source used for server-assigned createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New opens the database at path and initializes the schema
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:         db,
		path:       path,
		collection: backend.DefaultCollection,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = backend.NewBroadcaster(s.snapshot)

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the documents table if it doesn't exist
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_collection_created
			ON documents(collection, created_at);
	`
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return err
	}
	_, err := s.db.Exec(schema)
	return err
}

// snapshot returns every document of the collection ordered by creation time
func (s *Store) snapshot(ctx context.Context) ([]backend.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data FROM documents WHERE collection = ? ORDER BY created_at, rowid",
		s.collection,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	docs := []backend.Document{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		fields, err := decodeFields(data)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		docs = append(docs, backend.Document{ID: id, Fields: fields})
	}
	return docs, rows.Err()
}

// Snapshot returns the current documents once, without subscribing.
func (s *Store) Snapshot(ctx context.Context) ([]backend.Document, error) {
	docs, err := s.snapshot(ctx)
	return docs, backend.NewStoreError("snapshot", "", err)
}

// Subscribe registers onSnapshot for live updates
func (s *Store) Subscribe(ctx context.Context, onSnapshot backend.SnapshotFunc) (backend.Unsubscribe, error) {
	unsub, err := s.hub.Subscribe(ctx, onSnapshot)
	if err != nil {
		return nil, err
	}
	if err := s.ensureWatcher(); err != nil {
		utils.Warnf("sqlite: changes from other processes will not be seen: %v", err)
	}
	return unsub, nil
}

// ensureWatcher starts the file watcher the first time someone subscribes
func (s *Store) ensureWatcher() error {
	if s.path == ":memory:" || s.path == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return nil
	}

	w, err := watcher.New(watcher.DefaultConfig(s.publishExternal, s.path, s.path+"-wal"))
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	s.watcher = w
	return nil
}

// publishExternal runs for every write to the files, ours included
func (s *Store) publishExternal() {
	changed, err := s.hub.PublishChanged(context.Background())
	if err != nil {
		utils.Warnf("sqlite: failed to publish snapshot: %v", err)
		return
	}
	if !changed {
		utils.Debugf("sqlite: file changed, collection did not")
	}
}

func (s *Store) publish(ctx context.Context) {
	if err := s.hub.Publish(ctx); err != nil {
		utils.Warnf("sqlite: failed to publish snapshot: %v", err)
	}
}

// Create inserts a new document and returns its ID
func (s *Store) Create(ctx context.Context, fields backend.Fields) (string, error) {
	id := backend.GenerateID()

	data := backend.NormalizeFields(copyFields(fields))
	created, ok := data[backend.FieldCreatedAt].(time.Time)
	if !ok {
		created = s.now()
		data[backend.FieldCreatedAt] = created
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return "", backend.NewStoreError("create", "", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (id, collection, data, created_at) VALUES (?, ?, ?, ?)",
		id, s.collection, string(encoded), created.UTC().Format(sortableTime),
	)
	if err != nil {
		return "", backend.NewStoreError("create", "", err)
	}

	s.publish(ctx)
	return id, nil
}

// Update merges fields into an existing document
func (s *Store) Update(ctx context.Context, id string, fields backend.Fields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.NewStoreError("update", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	err = tx.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE id = ? AND collection = ?",
		id, s.collection,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.NewStoreError("update", id, backend.ErrNotFound)
	}
	if err != nil {
		return backend.NewStoreError("update", id, err)
	}

	existing, err := decodeFields(data)
	if err != nil {
		return backend.NewStoreError("update", id, err)
	}
	for k, v := range fields {
		if k == backend.FieldCreatedAt || k == "id" {
			continue
		}
		existing[k] = v
	}

	encoded, err := json.Marshal(existing)
	if err != nil {
		return backend.NewStoreError("update", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET data = ? WHERE id = ? AND collection = ?",
		string(encoded), id, s.collection,
	); err != nil {
		return backend.NewStoreError("update", id, err)
	}
	if err := tx.Commit(); err != nil {
		return backend.NewStoreError("update", id, err)
	}

	s.publish(ctx)
	return nil
}

// Delete removes a document
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE id = ? AND collection = ?",
		id, s.collection,
	)
	if err != nil {
		return backend.NewStoreError("delete", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backend.NewStoreError("delete", id, err)
	}
	if n == 0 {
		return backend.NewStoreError("delete", id, backend.ErrNotFound)
	}

	s.publish(ctx)
	return nil
}

// Close stops the watcher, drops subscribers and closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	s.hub.Clear()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func decodeFields(data string) (backend.Fields, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, err
	}
	return backend.NormalizeFields(raw), nil
}

func copyFields(f backend.Fields) backend.Fields {
	out := make(backend.Fields, len(f)+1)
	for k, v := range f {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

// Verify interface compliance at compile time
var _ backend.Store = (*Store)(nil)
