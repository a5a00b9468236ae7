// Package item holds the view/edit state of a single task row.
package item

import (
	"context"
	"sync"

	"milista/backend"
	"milista/internal/tasklist"
)

// State is the edit state of an item.
type State int

const (
	// Viewing shows the task text.
	Viewing State = iota
	// Editing shows the edit buffer.
	Editing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Viewing:
		return "viewing"
	case Editing:
		return "editing"
	default:
		return "unknown"
	}
}

// Actions is the part of the list controller an item forwards to.
type Actions interface {
	EditTask(ctx context.Context, id, text string) tasklist.Result
	ToggleComplete(ctx context.Context, id string, value bool) tasklist.Result
	DeleteTask(ctx context.Context, id string) tasklist.Result
}

// Controller is the state machine for one task row.
type Controller struct {
	list Actions

	mu     sync.Mutex
	task   backend.Task
	state  State
	buffer string
}

// New creates an item in the Viewing state with the buffer seeded from task.
func New(list Actions, task backend.Task) *Controller {
	return &Controller{
		list:   list,
		task:   task,
		state:  Viewing,
		buffer: task.Text,
	}
}

// Task returns the item's current view of its task.
func (c *Controller) Task() backend.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task
}

// State returns the current edit state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Buffer returns the edit buffer.
func (c *Controller) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

// BeginEdit switches to Editing with the buffer reset to the current text.
// It does nothing while already editing.
func (c *Controller) BeginEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Editing {
		return
	}
	c.state = Editing
	c.buffer = c.task.Text
}

// SetBuffer replaces the edit buffer. Ignored outside Editing.
func (c *Controller) SetBuffer(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Editing {
		return
	}
	c.buffer = text
}

// Confirm sends the buffer to the list controller and returns to Viewing.
// The item leaves Editing whatever the outcome; a failed edit is reported
// through the Result and the next snapshot restores the stored text.
func (c *Controller) Confirm(ctx context.Context) tasklist.Result {
	c.mu.Lock()
	if c.state != Editing {
		id := c.task.ID
		c.mu.Unlock()
		return tasklist.Result{Op: tasklist.OpEdit, ID: id}
	}
	id, text := c.task.ID, c.buffer
	c.mu.Unlock()

	res := c.list.EditTask(ctx, id, text)

	c.mu.Lock()
	c.state = Viewing
	if res.OK() {
		c.task.Text = text
	}
	c.mu.Unlock()
	return res
}

// Cancel discards the buffer and returns to Viewing.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Viewing
	c.buffer = c.task.Text
}

// Toggle flips the completion state. The edit state is not affected.
func (c *Controller) Toggle(ctx context.Context) tasklist.Result {
	c.mu.Lock()
	id, value := c.task.ID, !c.task.IsComplete
	c.mu.Unlock()

	res := c.list.ToggleComplete(ctx, id, value)
	if res.OK() {
		c.mu.Lock()
		c.task.IsComplete = value
		c.mu.Unlock()
	}
	return res
}

// Delete removes the task. The edit state is not affected.
func (c *Controller) Delete(ctx context.Context) tasklist.Result {
	c.mu.Lock()
	id := c.task.ID
	c.mu.Unlock()

	return c.list.DeleteTask(ctx, id)
}

// Sync refreshes the item from the latest list. The buffer is kept while editing.
func (c *Controller) Sync(task backend.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.task = task
	if c.state == Viewing {
		c.buffer = task.Text
	}
}
