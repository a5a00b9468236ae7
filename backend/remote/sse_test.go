package remote

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEventReader(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"event: snapshot",
		"data: {\"documents\":[]}",
		"",
		"data: line one",
		"data: line two",
		"",
		"event:custom",
		"data:x",
		"",
		"",
	}, "\n")
	r := newEventReader(strings.NewReader(stream))

	want := []event{
		{Name: "snapshot", Data: `{"documents":[]}`},
		{Name: "message", Data: "line one\nline two"},
		{Name: "custom", Data: "x"},
	}
	for i, w := range want {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if got != w {
			t.Errorf("event %d = %+v, want %+v", i, got, w)
		}
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestNextSnapshotSkipsOtherEvents(t *testing.T) {
	stream := "event: ping\ndata: {}\n\nevent: snapshot\ndata: {\"documents\":[{\"id\":\"a\",\"fields\":{\"text\":\"hi\",\"createdAt\":\"2026-01-01T00:00:00Z\"}}]}\n\n"

	docs, err := nextSnapshot(newEventReader(strings.NewReader(stream)))
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != "a" || docs[0].Fields["text"] != "hi" {
		t.Fatalf("docs = %+v", docs)
	}
}

func TestDocumentsPathEscapes(t *testing.T) {
	if got := DocumentsPath("my list"); got != "/v1/collections/my%20list/documents" {
		t.Errorf("DocumentsPath = %q", got)
	}
}
