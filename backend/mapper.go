package backend

import (
	"fmt"
	"time"
)

// MappingError reports a stored document that cannot become a Task
type MappingError struct {
	DocumentID string
	Reason     string
}

// Error implements the error interface.
func (e *MappingError) Error() string {
	if e.DocumentID == "" {
		return "malformed document: " + e.Reason
	}
	return fmt.Sprintf("malformed document %s: %s", e.DocumentID, e.Reason)
}

// FromDocument converts a stored document into a Task.
// A missing isComplete defaults to false; text and createdAt pass through.
func FromDocument(doc Document) (Task, error) {
	if doc.ID == "" {
		return Task{}, &MappingError{Reason: "missing id"}
	}

	t := Task{ID: doc.ID}
	if s, ok := doc.Fields[FieldText].(string); ok {
		t.Text = s
	}
	if b, ok := doc.Fields[FieldIsComplete].(bool); ok {
		t.IsComplete = b
	}

	created, ok := parseTime(doc.Fields[FieldCreatedAt])
	if !ok {
		created, _ = parseTime(doc.Fields[FieldTimestamp])
	}
	t.CreatedAt = created

	return t, nil
}

// TaskFields is the writable subset of a Task. Nil fields are left out.
type TaskFields struct {
	Text       *string
	IsComplete *bool
	CreatedAt  *time.Time
}

// ToFields converts the fields being written into store fields. It never writes an id.
func ToFields(tf TaskFields) Fields {
	f := Fields{}
	if tf.Text != nil {
		f[FieldText] = *tf.Text
	}
	if tf.IsComplete != nil {
		f[FieldIsComplete] = *tf.IsComplete
	}
	if tf.CreatedAt != nil {
		f[FieldCreatedAt] = *tf.CreatedAt
	}
	return f
}
