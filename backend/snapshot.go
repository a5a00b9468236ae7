package backend

import "context"

// Snapshot reads the current documents of store once by subscribing and
// releasing the subscription after the first delivery.
func Snapshot(ctx context.Context, store Store) ([]Document, error) {
	ch := make(chan []Document, 1)
	unsub, err := store.Subscribe(ctx, func(docs []Document) {
		select {
		case ch <- docs:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer unsub()

	select {
	case docs := <-ch:
		return docs, nil
	case <-ctx.Done():
		return nil, NewStoreError("snapshot", "", ctx.Err())
	}
}

// Tasks maps a snapshot to tasks, skipping documents that cannot be mapped.
// The order of docs is preserved.
func Tasks(docs []Document) ([]Task, []error) {
	tasks := make([]Task, 0, len(docs))
	var errs []error
	for _, d := range docs {
		t, err := FromDocument(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, errs
}
