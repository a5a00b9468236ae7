// Package postgres provides a document store backed by PostgreSQL.
// A trigger announces every change with pg_notify; subscribers LISTEN on a
// dedicated connection and receive a fresh snapshot per notification, so
// writes from any client reach every subscriber.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"milista/backend"
	"milista/internal/utils"
)

// Channel is the notification channel used by the change trigger
const Channel = "milista_documents"

const schema = `
CREATE TABLE IF NOT EXISTS milista_documents (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_milista_documents_collection_created
	ON milista_documents (collection, created_at, seq);

CREATE OR REPLACE FUNCTION milista_documents_notify() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('milista_documents', OLD.collection);
	ELSE
		PERFORM pg_notify('milista_documents', NEW.collection);
	END IF;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'milista_documents_changed') THEN
		CREATE TRIGGER milista_documents_changed
			AFTER INSERT OR UPDATE OR DELETE ON milista_documents
			FOR EACH ROW EXECUTE FUNCTION milista_documents_notify();
	END IF;
END;
$$;
`

// Store implements backend.Store using PostgreSQL
type Store struct {
	db         *sql.DB
	collection string
	hub        *backend.Broadcaster
	now        func() time.Time

	mu           sync.Mutex
	stopListen   context.CancelFunc
	listenerDone chan struct{}
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

// New connects to dsn and creates the schema when missing.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	s := &Store{
		db:         db,
		collection: backend.DefaultCollection,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = backend.NewBroadcaster(s.snapshot)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *Store) snapshot(ctx context.Context) ([]backend.Document, error) {
	const q = `
SELECT id, data::text
FROM milista_documents
WHERE collection = $1
ORDER BY created_at, seq;
`
	rows, err := s.db.QueryContext(ctx, q, s.collection)
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
		var raw map[string]any
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		docs = append(docs, backend.Document{ID: id, Fields: backend.NormalizeFields(raw)})
	}
	return docs, rows.Err()
}

// Subscribe registers onSnapshot and starts listening for change notifications
func (s *Store) Subscribe(ctx context.Context, onSnapshot backend.SnapshotFunc) (backend.Unsubscribe, error) {
	if err := s.ensureListener(ctx); err != nil {
		return nil, backend.NewStoreError("subscribe", "", err)
	}
	return s.hub.Subscribe(ctx, onSnapshot)
}

// ensureListener opens the LISTEN connection on first use
func (s *Store) ensureListener(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopListen != nil {
		return nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "LISTEN "+Channel); err != nil {
		_ = conn.Close()
		return err
	}

	lctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopListen = cancel
	s.listenerDone = done

	go func() {
		defer close(done)
		defer func() { _ = conn.Close() }()
		err := conn.Raw(func(driverConn any) error {
			pc := driverConn.(*stdlib.Conn).Conn()
			for {
				n, err := pc.WaitForNotification(lctx)
				if err != nil {
					return err
				}
				if n.Payload != s.collection {
					continue
				}
				if err := s.hub.Publish(lctx); err != nil {
					utils.Warnf("postgres: failed to publish snapshot: %v", err)
				}
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			utils.Errorf("postgres: change listener stopped: %v", err)
		}
	}()

	utils.Debugf("postgres: listening on %s for collection %s", Channel, s.collection)
	return nil
}

// Create inserts a new document and returns its ID
func (s *Store) Create(ctx context.Context, fields backend.Fields) (string, error) {
	id := backend.GenerateID()

	data := backend.NormalizeFields(withoutID(fields))
	created, ok := data[backend.FieldCreatedAt].(time.Time)
	if !ok {
		created = s.now()
		data[backend.FieldCreatedAt] = created
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return "", backend.NewStoreError("create", "", err)
	}

	const q = `
INSERT INTO milista_documents (id, collection, data, created_at)
VALUES ($1, $2, $3::jsonb, $4);
`
	if _, err := s.db.ExecContext(ctx, q, id, s.collection, string(encoded), created.UTC()); err != nil {
		return "", backend.NewStoreError("create", "", err)
	}
	return id, nil
}

// Update merges fields into an existing document
func (s *Store) Update(ctx context.Context, id string, fields backend.Fields) error {
	patch := withoutID(fields)
	delete(patch, backend.FieldCreatedAt)

	encoded, err := json.Marshal(patch)
	if err != nil {
		return backend.NewStoreError("update", id, err)
	}

	const q = `
UPDATE milista_documents
SET data = data || $1::jsonb
WHERE id = $2 AND collection = $3;
`
	res, err := s.db.ExecContext(ctx, q, string(encoded), id, s.collection)
	if err != nil {
		return backend.NewStoreError("update", id, err)
	}
	return checkAffected("update", id, res)
}

// Delete removes a document
func (s *Store) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM milista_documents WHERE id = $1 AND collection = $2;`
	res, err := s.db.ExecContext(ctx, q, id, s.collection)
	if err != nil {
		return backend.NewStoreError("delete", id, err)
	}
	return checkAffected("delete", id, res)
}

// Close stops the listener, drops subscribers and closes the pool
func (s *Store) Close() error {
	s.mu.Lock()
	cancel, done := s.stopListen, s.listenerDone
	s.stopListen, s.listenerDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.hub.Clear()
	return s.db.Close()
}

func checkAffected(op, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return backend.NewStoreError(op, id, err)
	}
	if n == 0 {
		return backend.NewStoreError(op, id, backend.ErrNotFound)
	}
	return nil
}

func withoutID(f backend.Fields) backend.Fields {
	out := make(backend.Fields, len(f)+1)
	for k, v := range f {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

var _ backend.Store = (*Store)(nil)
