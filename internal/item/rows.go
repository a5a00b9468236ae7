package item

import "milista/backend"

// Rows keeps one Controller per task in list order. Items that disappear
// from the list are dropped together with their edit state.
type Rows struct {
	list  Actions
	byID  map[string]*Controller
	order []*Controller
}

// NewRows creates an empty set of rows forwarding to list.
func NewRows(list Actions) *Rows {
	return &Rows{
		list: list,
		byID: make(map[string]*Controller),
	}
}

// Sync reconciles the rows with tasks.
func (r *Rows) Sync(tasks []backend.Task) {
	next := make(map[string]*Controller, len(tasks))
	order := make([]*Controller, 0, len(tasks))
	for _, t := range tasks {
		c, ok := r.byID[t.ID]
		if ok {
			c.Sync(t)
		} else {
			c = New(r.list, t)
		}
		next[t.ID] = c
		order = append(order, c)
	}
	r.byID = next
	r.order = order
}

// Items returns the rows in list order.
func (r *Rows) Items() []*Controller {
	return r.order
}

// Len returns the number of rows.
func (r *Rows) Len() int {
	return len(r.order)
}

// At returns the row at index i, or nil when out of range.
func (r *Rows) At(i int) *Controller {
	if i < 0 || i >= len(r.order) {
		return nil
	}
	return r.order[i]
}

// Get returns the row for a task id.
func (r *Rows) Get(id string) (*Controller, bool) {
	c, ok := r.byID[id]
	return c, ok
}
