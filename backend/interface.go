package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field names used by every store for task documents
const (
	FieldText       = "text"
	FieldIsComplete = "isComplete"
	FieldCreatedAt  = "createdAt"

	// FieldTimestamp is the legacy name for the creation time
	FieldTimestamp = "timestamp"
)

// DefaultCollection is the collection name used when none is configured
const DefaultCollection = "tasks"

// Task represents a todo item
type Task struct {
	ID         string
	Text       string
	IsComplete bool
	CreatedAt  time.Time
}

// Fields is a partial set of document fields
type Fields map[string]any

// Document is one stored record, identified by an opaque ID
type Document struct {
	ID     string
	Fields Fields
}

// SnapshotFunc receives the full, ordered set of current documents
type SnapshotFunc func(docs []Document)

// Unsubscribe releases a live subscription
type Unsubscribe func()

// Store defines the interface for task document stores
type Store interface {
	// Subscribe delivers the current snapshot immediately and again after every change
	Subscribe(ctx context.Context, onSnapshot SnapshotFunc) (Unsubscribe, error)

	// Document operations
	Create(ctx context.Context, fields Fields) (string, error)
	Update(ctx context.Context, id string, fields Fields) error
	Delete(ctx context.Context, id string) error

	// Connection management
	Close() error
}

// ErrNotFound is wrapped by StoreError when a document does not exist
var ErrNotFound = errors.New("document not found")

// StoreError is returned by every Store operation that fails
type StoreError struct {
	Op  string
	ID  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err as a StoreError, leaving nil and existing StoreErrors alone.
func NewStoreError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, ID: id, Err: err}
}

// IsNotFound reports whether err means the document was absent
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NormalizeFields converts decoded field values to the canonical Go types
// (time.Time for createdAt, bool for isComplete). Stores that round-trip
// documents through JSON or text columns call this before publishing.
func NormalizeFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		switch k {
		case FieldCreatedAt, FieldTimestamp:
			if t, ok := parseTime(v); ok {
				out[k] = t
				continue
			}
		}
		out[k] = v
	}
	return out
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// GenerateID generates a unique identifier using UUID v4.
// This is used by stores that assign document IDs locally.
func GenerateID() string {
	return uuid.New().String()
}
