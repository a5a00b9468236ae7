package remote

import (
	"net/url"

	"milista/backend"
)

// SnapshotEvent is the SSE event name carrying a full snapshot
const SnapshotEvent = "snapshot"

// WireDocument is the JSON form of a document
type WireDocument struct {
	ID     string         `json:"id"`
	Fields backend.Fields `json:"fields"`
}

// WireSnapshot is the JSON form of a snapshot
type WireSnapshot struct {
	Documents []WireDocument `json:"documents"`
}

// CreateResponse is returned by a successful create
type CreateResponse struct {
	ID string `json:"id"`
}

// Error bodies the client tells apart
const (
	ErrorDocumentNotFound  = "document not found"
	ErrorUnknownCollection = "unknown collection"
	ErrorUnknownProject    = "unknown project"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// DocumentsPath returns the collection's documents path.
func DocumentsPath(collection string) string {
	return "/v1/collections/" + url.PathEscape(collection) + "/documents"
}

// ToWire converts documents for encoding.
func ToWire(docs []backend.Document) WireSnapshot {
	out := WireSnapshot{Documents: make([]WireDocument, len(docs))}
	for i, d := range docs {
		fields := d.Fields
		if fields == nil {
			fields = backend.Fields{}
		}
		out.Documents[i] = WireDocument{ID: d.ID, Fields: fields}
	}
	return out
}

// FromWire converts a decoded snapshot back into documents with canonical field types.
func FromWire(s WireSnapshot) []backend.Document {
	docs := make([]backend.Document, len(s.Documents))
	for i, d := range s.Documents {
		docs[i] = backend.Document{ID: d.ID, Fields: backend.NormalizeFields(d.Fields)}
	}
	return docs
}
