// Package testutil provides shared test utilities across packages.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"milista/backend"
)

// Store is an in-memory backend.Store for tests.
// Every successful mutation publishes a snapshot unless auto-publish is off,
// in which case tests deliver snapshots explicitly with Publish.
type Store struct {
	hub *backend.Broadcaster

	mu          sync.Mutex
	docs        []backend.Document
	nextID      int
	failures    map[string]error
	calls       map[string]int
	autoPublish bool
	closed      bool
	now         func() time.Time
}

// NewStore creates an empty in-memory store with auto-publish enabled.
func NewStore() *Store {
	s := &Store{
		failures:    make(map[string]error),
		calls:       make(map[string]int),
		autoPublish: true,
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.hub = backend.NewBroadcaster(s.load)
	return s
}

// Seed inserts a document directly without publishing.
func (s *Store) Seed(docs ...backend.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		fields := backend.Fields{}
		for k, v := range d.Fields {
			fields[k] = v
		}
		s.docs = append(s.docs, backend.Document{ID: d.ID, Fields: fields})
	}
}

// SetAutoPublish controls whether mutations publish a snapshot.
func (s *Store) SetAutoPublish(on bool) {
	s.mu.Lock()
	s.autoPublish = on
	s.mu.Unlock()
}

// SetClock overrides the time assigned to created documents.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// FailNext makes the next call of op ("create", "update", "delete",
// "subscribe") return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	s.failures[op] = err
	s.mu.Unlock()
}

// Calls returns how many times op was invoked, including failed calls.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	return s.hub.Len()
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Publish delivers the current snapshot to every subscriber.
func (s *Store) Publish() {
	_ = s.hub.Publish(context.Background())
}

// Documents returns a copy of the stored documents.
func (s *Store) Documents() []backend.Document {
	docs, _ := s.load(context.Background())
	return docs
}

func (s *Store) load(context.Context) ([]backend.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.Document, len(s.docs))
	for i, d := range s.docs {
		fields := make(backend.Fields, len(d.Fields))
		for k, v := range d.Fields {
			fields[k] = v
		}
		out[i] = backend.Document{ID: d.ID, Fields: fields}
	}
	return out, nil
}

// begin records the call and returns the injected failure, if any
func (s *Store) begin(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if s.closed {
		return fmt.Errorf("store closed")
	}
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func (s *Store) publish() {
	s.mu.Lock()
	auto := s.autoPublish
	s.mu.Unlock()
	if auto {
		s.Publish()
	}
}

// Subscribe implements backend.Store.
func (s *Store) Subscribe(ctx context.Context, onSnapshot backend.SnapshotFunc) (backend.Unsubscribe, error) {
	if err := s.begin("subscribe"); err != nil {
		return nil, backend.NewStoreError("subscribe", "", err)
	}
	return s.hub.Subscribe(ctx, onSnapshot)
}

// Create implements backend.Store.
func (s *Store) Create(ctx context.Context, fields backend.Fields) (string, error) {
	if err := s.begin("create"); err != nil {
		return "", backend.NewStoreError("create", "", err)
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("doc-%d", s.nextID)
	data := backend.Fields{}
	for k, v := range fields {
		data[k] = v
	}
	if _, ok := data[backend.FieldCreatedAt]; !ok {
		data[backend.FieldCreatedAt] = s.now()
	}
	s.docs = append(s.docs, backend.Document{ID: id, Fields: data})
	s.mu.Unlock()

	s.publish()
	return id, nil
}

// Update implements backend.Store.
func (s *Store) Update(ctx context.Context, id string, fields backend.Fields) error {
	if err := s.begin("update"); err != nil {
		return backend.NewStoreError("update", id, err)
	}

	s.mu.Lock()
	found := false
	for _, d := range s.docs {
		if d.ID == id {
			for k, v := range fields {
				d.Fields[k] = v
			}
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return backend.NewStoreError("update", id, backend.ErrNotFound)
	}

	s.publish()
	return nil
}

// Delete implements backend.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.begin("delete"); err != nil {
		return backend.NewStoreError("delete", id, err)
	}

	s.mu.Lock()
	idx := -1
	for i, d := range s.docs {
		if d.ID == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		s.docs = append(s.docs[:idx], s.docs[idx+1:]...)
	}
	s.mu.Unlock()
	if idx < 0 {
		return backend.NewStoreError("delete", id, backend.ErrNotFound)
	}

	s.publish()
	return nil
}

// Close implements backend.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Clear()
	return nil
}

var _ backend.Store = (*Store)(nil)
