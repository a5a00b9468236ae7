package backend

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"sync"
)

// LoadFunc reads the current snapshot from a store
type LoadFunc func(ctx context.Context) ([]Document, error)

// Broadcaster keeps the live subscribers of a store and republishes the
// snapshot to all of them whenever Publish is called.
type Broadcaster struct {
	load LoadFunc

	mu     sync.Mutex
	nextID int
	subs   map[int]SnapshotFunc
	// pubMu keeps snapshot deliveries in load order and guards last
	pubMu sync.Mutex
	last  [sha256.Size]byte
}

// NewBroadcaster creates a Broadcaster that reads snapshots with load.
func NewBroadcaster(load LoadFunc) *Broadcaster {
	return &Broadcaster{
		load: load,
		subs: make(map[int]SnapshotFunc),
	}
}

// Subscribe registers fn, delivers the current snapshot to it and returns
// the release handle.
func (b *Broadcaster) Subscribe(ctx context.Context, fn SnapshotFunc) (Unsubscribe, error) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	docs, err := b.load(ctx)
	if err != nil {
		return nil, NewStoreError("subscribe", "", err)
	}

	b.mu.Lock()
	if len(b.subs) == 0 {
		b.last, _ = fingerprint(docs)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	fn(cloneDocuments(docs))

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, nil
}

// Publish reloads the snapshot and hands it to every subscriber.
// Does nothing when there are no subscribers.
func (b *Broadcaster) Publish(ctx context.Context) error {
	if b.Len() == 0 {
		return nil
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	docs, err := b.load(ctx)
	if err != nil {
		return NewStoreError("snapshot", "", err)
	}
	b.deliverLocked(docs)
	return nil
}

// PublishChanged is Publish for change notifications that may be echoes of
// writes already published: the snapshot is only delivered when it differs
// from the last one subscribers received. It reports whether it delivered.
func (b *Broadcaster) PublishChanged(ctx context.Context) (bool, error) {
	if b.Len() == 0 {
		return false, nil
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	docs, err := b.load(ctx)
	if err != nil {
		return false, NewStoreError("snapshot", "", err)
	}
	if sum, ok := fingerprint(docs); ok && sum == b.last {
		return false, nil
	}
	b.deliverLocked(docs)
	return true, nil
}

// Deliver hands docs to every subscriber without reloading. Stores that
// already hold a fresh snapshot, such as pollers, use it instead of Publish.
func (b *Broadcaster) Deliver(docs []Document) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.deliverLocked(docs)
}

func (b *Broadcaster) deliverLocked(docs []Document) {
	b.last, _ = fingerprint(docs)
	for _, fn := range b.snapshotSubs() {
		fn(cloneDocuments(docs))
	}
}

func (b *Broadcaster) snapshotSubs() []SnapshotFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := make([]SnapshotFunc, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	return subs
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Clear drops every subscriber.
func (b *Broadcaster) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[int]SnapshotFunc)
}

func cloneDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		fields := make(Fields, len(d.Fields))
		for k, v := range d.Fields {
			fields[k] = v
		}
		out[i] = Document{ID: d.ID, Fields: fields}
	}
	return out
}

// fingerprint hashes the JSON form of docs; map keys marshal sorted.
func fingerprint(docs []Document) ([sha256.Size]byte, bool) {
	data, err := json.Marshal(docs)
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(data), true
}
