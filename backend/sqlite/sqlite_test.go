package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"milista/backend"
	"milista/internal/watcher"
)

// mustNewStore creates an in-memory store and registers cleanup
func mustNewStore(t *testing.T, opts ...Option) (*Store, context.Context) {
	t.Helper()
	s, err := New(":memory:", opts...)
	if err != nil {
		t.Fatalf("New(:memory:) error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, context.Background()
}

// helper to create a document and fail on error
func mustCreate(t *testing.T, s *Store, ctx context.Context, fields backend.Fields) string {
	t.Helper()
	id, err := s.Create(ctx, fields)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned empty id")
	}
	return id
}

// recorder collects snapshots delivered to a subscriber
type recorder struct {
	mu    sync.Mutex
	snaps [][]backend.Document
}

func (r *recorder) record(docs []backend.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, docs)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() []backend.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

// TestStoreImplementsInterface verifies the Store type implements backend.Store.
func TestStoreImplementsInterface(t *testing.T) {
	var _ backend.Store = (*Store)(nil)
}

// TestCreateAssignsIDAndCreatedAt verifies server-assigned fields.
func TestCreateAssignsIDAndCreatedAt(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	s, ctx := mustNewStore(t, WithClock(func() time.Time { return fixed }))

	id := mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "Buy milk", backend.FieldIsComplete: false})

	docs, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].ID != id {
		t.Errorf("docs[0].ID = %q, want %q", docs[0].ID, id)
	}
	if docs[0].Fields[backend.FieldText] != "Buy milk" {
		t.Errorf("text = %v, want %q", docs[0].Fields[backend.FieldText], "Buy milk")
	}
	created, ok := docs[0].Fields[backend.FieldCreatedAt].(time.Time)
	if !ok {
		t.Fatalf("createdAt has type %T, want time.Time", docs[0].Fields[backend.FieldCreatedAt])
	}
	if !created.Equal(fixed) {
		t.Errorf("createdAt = %v, want %v", created, fixed)
	}
}

// TestCreateHonorsCallerCreatedAt verifies a caller-supplied createdAt is kept.
func TestCreateHonorsCallerCreatedAt(t *testing.T) {
	s, ctx := mustNewStore(t)
	when := time.Date(2025, 12, 24, 18, 0, 0, 123, time.UTC)

	mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "Wrap gifts", backend.FieldCreatedAt: when})

	docs, _ := s.Snapshot(ctx)
	got, _ := docs[0].Fields[backend.FieldCreatedAt].(time.Time)
	if !got.Equal(when) {
		t.Errorf("createdAt = %v, want %v", got, when)
	}
}

// TestSnapshotOrderedByCreatedAt verifies ascending creation order, including sub-second stamps.
func TestSnapshotOrderedByCreatedAt(t *testing.T) {
	s, ctx := mustNewStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)

	c := mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "c", backend.FieldCreatedAt: base.Add(time.Second)})
	a := mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "a", backend.FieldCreatedAt: base})
	b := mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "b", backend.FieldCreatedAt: base.Add(500 * time.Millisecond)})

	docs, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	want := []string{a, b, c}
	for i, id := range want {
		if docs[i].ID != id {
			t.Errorf("docs[%d].ID = %q, want %q", i, docs[i].ID, id)
		}
	}
}

// TestUpdateMergesFields verifies partial updates keep other fields.
func TestUpdateMergesFields(t *testing.T) {
	s, ctx := mustNewStore(t)
	id := mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "Call mom", backend.FieldIsComplete: false})

	if err := s.Update(ctx, id, backend.Fields{backend.FieldIsComplete: true}); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	docs, _ := s.Snapshot(ctx)
	if docs[0].Fields[backend.FieldText] != "Call mom" {
		t.Errorf("text = %v, want %q", docs[0].Fields[backend.FieldText], "Call mom")
	}
	if docs[0].Fields[backend.FieldIsComplete] != true {
		t.Errorf("isComplete = %v, want true", docs[0].Fields[backend.FieldIsComplete])
	}
}

// TestUpdateMissingDocument verifies not-found is reported as a StoreError.
func TestUpdateMissingDocument(t *testing.T) {
	s, ctx := mustNewStore(t)

	err := s.Update(ctx, "missing", backend.Fields{backend.FieldText: "x"})
	var se *backend.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected *backend.StoreError, got %T (%v)", err, err)
	}
	if se.Op != "update" || se.ID != "missing" {
		t.Errorf("StoreError = %+v, want op=update id=missing", se)
	}
	if !backend.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

// TestDeleteDocument verifies deletion and the not-found case on repeat.
func TestDeleteDocument(t *testing.T) {
	s, ctx := mustNewStore(t)
	id := mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "Take out trash"})

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	docs, _ := s.Snapshot(ctx)
	if len(docs) != 0 {
		t.Errorf("expected 0 documents after delete, got %d", len(docs))
	}

	if err := s.Delete(ctx, id); !backend.IsNotFound(err) {
		t.Errorf("second Delete = %v, want not-found", err)
	}
}

// TestCollectionsAreIsolated verifies two collections in one file do not see each other.
func TestCollectionsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "milista.db")
	ctx := context.Background()

	home, err := New(path, WithCollection("home"))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer func() { _ = home.Close() }()
	work, err := New(path, WithCollection("work"))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer func() { _ = work.Close() }()

	mustCreate(t, home, ctx, backend.Fields{backend.FieldText: "Water plants"})

	docs, err := work.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("work collection should be empty, got %d documents", len(docs))
	}
}

// TestSubscribeDeliversInitialAndChanges verifies the live subscription contract.
func TestSubscribeDeliversInitialAndChanges(t *testing.T) {
	s, ctx := mustNewStore(t)
	mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "existing"})

	rec := &recorder{}
	unsub, err := s.Subscribe(ctx, rec.record)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	if rec.count() != 1 || len(rec.last()) != 1 {
		t.Fatalf("expected immediate snapshot with 1 document, got %d snapshots", rec.count())
	}

	id := mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "new"})
	if len(rec.last()) != 2 {
		t.Errorf("expected 2 documents after create, got %d", len(rec.last()))
	}

	if err := s.Update(ctx, id, backend.Fields{backend.FieldText: "renamed"}); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if rec.count() != 4 {
		t.Errorf("expected 4 snapshots (initial, create, update, delete), got %d", rec.count())
	}

	unsub()
	unsub()
	mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "after unsubscribe"})
	if rec.count() != 4 {
		t.Errorf("expected no snapshot after unsubscribe, got %d", rec.count())
	}
}

// TestFailedMutationDoesNotPublish verifies only successful writes trigger snapshots.
func TestFailedMutationDoesNotPublish(t *testing.T) {
	s, ctx := mustNewStore(t)
	rec := &recorder{}
	unsub, err := s.Subscribe(ctx, rec.record)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer unsub()

	_ = s.Delete(ctx, "missing")
	_ = s.Update(ctx, "missing", backend.Fields{backend.FieldText: "x"})

	if rec.count() != 1 {
		t.Errorf("expected only the initial snapshot, got %d", rec.count())
	}
}

// TestSubscribeSeesOtherProcessWrites verifies the file watcher republishes external writes.
func TestSubscribeSeesOtherProcessWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "milista.db")
	ctx := context.Background()

	reader, err := New(path)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer func() { _ = reader.Close() }()

	rec := &recorder{}
	unsub, err := reader.Subscribe(ctx, rec.record)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer unsub()

	writer, err := New(path)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer func() { _ = writer.Close() }()

	mustCreate(t, writer, ctx, backend.Fields{backend.FieldText: "from elsewhere"})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.last()) == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("expected reader subscription to see the external write, last snapshot had %d documents", len(rec.last()))
}

// TestLocalWritePublishesOnce verifies the watcher does not echo this process's own writes.
func TestLocalWritePublishesOnce(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "milista.db"))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	rec := &recorder{}
	unsub, err := s.Subscribe(ctx, rec.record)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer unsub()

	mustCreate(t, s, ctx, backend.Fields{backend.FieldText: "local"})
	time.Sleep(5 * watcher.DefaultDebounceDuration)

	if rec.count() != 2 {
		t.Errorf("expected initial and create snapshots only, got %d", rec.count())
	}
}
