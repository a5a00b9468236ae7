// Package tasklist keeps the in-memory task list in step with a live store.
//
// The list is always a projection of the latest snapshot, ordered by creation
// time with the newest task first. Mutations go to the store; when a call
// succeeds the local list is patched right away and the next snapshot
// replaces it wholesale.
package tasklist

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"milista/backend"
	"milista/internal/utils"
)

var (
	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("task list already started")
	// ErrStopped is returned when Start is called after Stop.
	ErrStopped = errors.New("task list stopped")
	// ErrEmptyText rejects tasks whose text is empty after trimming.
	ErrEmptyText = errors.New("task text is empty")
)

// Op names a list mutation
type Op string

const (
	OpAdd    Op = "add"
	OpDelete Op = "delete"
	OpEdit   Op = "edit"
	OpToggle Op = "toggle"
)

// Result is the outcome of a single mutation.
type Result struct {
	Op  Op
	ID  string // task id; for OpAdd, the id assigned by the store
	Err error
}

// OK reports whether the mutation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Patch records an optimistic local change applied ahead of the store.
type Patch struct {
	Version      uint64 // local version after the patch
	BaseSnapshot uint64 // snapshot version the patch was applied on top of
	Op           Op
	ID           string
}

// Option configures a Controller
type Option func(*Controller)

// WithClock overrides the time source for new task creation times.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller owns the task list of one collection
type Controller struct {
	store backend.Store
	now   func() time.Time

	mu              sync.Mutex
	tasks           []backend.Task
	started         bool
	stopped         bool
	unsubscribe     backend.Unsubscribe
	snapshotVersion uint64
	localVersion    uint64
	pending         []Patch
	listeners       []func([]backend.Task)
}

// New creates a Controller over store. Nothing happens until Start.
func New(store backend.Store, opts ...Option) *Controller {
	c := &Controller{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		tasks: []backend.Task{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to receive the list after every snapshot and every
// optimistic patch. fn is called without the controller lock held.
func (c *Controller) OnChange(fn func([]backend.Task)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Start subscribes to the store. It must be called once per Controller.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	// the store delivers the first snapshot before Subscribe returns,
	// so the lock must not be held here
	unsub, err := c.store.Subscribe(ctx, c.applySnapshot)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		utils.Errorf("failed to subscribe to task list: %v", err)
		return err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		unsub()
		return ErrStopped
	}
	c.unsubscribe = unsub
	c.mu.Unlock()

	utils.Debugf("task list subscription started")
	return nil
}

// Stop releases the subscription. Safe to call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
		utils.Debugf("task list subscription released")
	}
}

// applySnapshot replaces the whole list with the mapped, sorted snapshot
func (c *Controller) applySnapshot(docs []backend.Document) {
	tasks, errs := backend.Tasks(docs)
	for _, err := range errs {
		utils.Warnf("skipping document: %v", err)
	}
	SortTasks(tasks)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.tasks = tasks
	c.snapshotVersion++
	c.pending = nil
	current, listeners := c.changedLocked()
	c.mu.Unlock()

	notify(current, listeners)
}

// SortTasks orders tasks by CreatedAt, newest first. Ties keep their order.
func SortTasks(tasks []backend.Task) {
	slices.SortStableFunc(tasks, func(a, b backend.Task) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// AddTask creates a task. The list itself changes only when the store
// publishes the next snapshot.
func (c *Controller) AddTask(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Op: OpAdd, Err: ErrEmptyText}
	}

	done := false
	created := c.now()
	id, err := c.store.Create(ctx, backend.ToFields(backend.TaskFields{
		Text:       &text,
		IsComplete: &done,
		CreatedAt:  &created,
	}))
	if err != nil {
		utils.Errorf("failed to add task: %v", err)
		return Result{Op: OpAdd, Err: err}
	}

	utils.Debugf("added task %s", id)
	return Result{Op: OpAdd, ID: id}
}

// DeleteTask deletes a task and removes it from the local list.
// A task that is already gone counts as deleted.
func (c *Controller) DeleteTask(ctx context.Context, id string) Result {
	err := c.store.Delete(ctx, id)
	if err != nil && !backend.IsNotFound(err) {
		utils.Errorf("failed to delete task %s: %v", id, err)
		return Result{Op: OpDelete, ID: id, Err: err}
	}
	if err != nil {
		utils.Debugf("task %s was already deleted", id)
	}

	c.patch(OpDelete, id, func(tasks []backend.Task) []backend.Task {
		return slices.DeleteFunc(tasks, func(t backend.Task) bool { return t.ID == id })
	})
	return Result{Op: OpDelete, ID: id}
}

// EditTask replaces the text of a task.
func (c *Controller) EditTask(ctx context.Context, id, text string) Result {
	if err := c.store.Update(ctx, id, backend.ToFields(backend.TaskFields{Text: &text})); err != nil {
		utils.Errorf("failed to edit task %s: %v", id, err)
		return Result{Op: OpEdit, ID: id, Err: err}
	}

	c.patch(OpEdit, id, func(tasks []backend.Task) []backend.Task {
		if i := indexOf(tasks, id); i >= 0 {
			tasks[i].Text = text
		}
		return tasks
	})
	return Result{Op: OpEdit, ID: id}
}

// ToggleComplete sets the completion state of a task.
func (c *Controller) ToggleComplete(ctx context.Context, id string, value bool) Result {
	if err := c.store.Update(ctx, id, backend.ToFields(backend.TaskFields{IsComplete: &value})); err != nil {
		utils.Errorf("failed to toggle task %s: %v", id, err)
		return Result{Op: OpToggle, ID: id, Err: err}
	}

	c.patch(OpToggle, id, func(tasks []backend.Task) []backend.Task {
		if i := indexOf(tasks, id); i >= 0 {
			tasks[i].IsComplete = value
		}
		return tasks
	})
	return Result{Op: OpToggle, ID: id}
}

// patch applies fn to a copy of the list and records it as pending
func (c *Controller) patch(op Op, id string, fn func([]backend.Task) []backend.Task) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.tasks = fn(slices.Clone(c.tasks))
	c.localVersion++
	c.pending = append(c.pending, Patch{
		Version:      c.localVersion,
		BaseSnapshot: c.snapshotVersion,
		Op:           op,
		ID:           id,
	})
	current, listeners := c.changedLocked()
	c.mu.Unlock()

	notify(current, listeners)
}

// changedLocked captures what listeners need; c.mu must be held
func (c *Controller) changedLocked() ([]backend.Task, []func([]backend.Task)) {
	return slices.Clone(c.tasks), slices.Clone(c.listeners)
}

func notify(tasks []backend.Task, listeners []func([]backend.Task)) {
	for _, fn := range listeners {
		fn(slices.Clone(tasks))
	}
}

// Tasks returns a copy of the current list.
func (c *Controller) Tasks() []backend.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.tasks)
}

// Task returns the task with the given id from the current list.
func (c *Controller) Task(id string) (backend.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := indexOf(c.tasks, id); i >= 0 {
		return c.tasks[i], true
	}
	return backend.Task{}, false
}

// SnapshotVersion returns the number of snapshots applied so far.
func (c *Controller) SnapshotVersion() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotVersion
}

// PendingPatches returns the optimistic patches applied since the last snapshot.
func (c *Controller) PendingPatches() []Patch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.pending)
}

func indexOf(tasks []backend.Task, id string) int {
	return slices.IndexFunc(tasks, func(t backend.Task) bool { return t.ID == id })
}
