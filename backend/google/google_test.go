package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	tasks "google.golang.org/api/tasks/v1"

	"milista/backend"
)

// fakeTasksAPI is an in-memory stand-in for the Google Tasks REST API
type fakeTasksAPI struct {
	mu      sync.Mutex
	lists   map[string][]*tasks.Task
	nextID  int
	patches []map[string]any
	status  int // when non-zero, every request fails with this status
}

func newFakeTasksAPI() *fakeTasksAPI {
	return &fakeTasksAPI{lists: map[string][]*tasks.Task{"@default": nil, "work": nil}}
}

func (f *fakeTasksAPI) handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			status := f.status
			f.mu.Unlock()
			if status != 0 {
				w.WriteHeader(status)
				_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"fake failure"}}`, status)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.HandleFunc("/tasks/v1/lists/{list}/tasks", f.list).Methods(http.MethodGet)
	r.HandleFunc("/tasks/v1/lists/{list}/tasks", f.insert).Methods(http.MethodPost)
	r.HandleFunc("/tasks/v1/lists/{list}/tasks/{task}", f.patch).Methods(http.MethodPatch)
	r.HandleFunc("/tasks/v1/lists/{list}/tasks/{task}", f.delete).Methods(http.MethodDelete)
	return r
}

func notFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
}

func (f *fakeTasksAPI) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.lists[mux.Vars(r)["list"]]
	if !ok {
		notFound(w)
		return
	}
	_ = json.NewEncoder(w).Encode(&tasks.Tasks{Items: items})
}

func (f *fakeTasksAPI) insert(w http.ResponseWriter, r *http.Request) {
	var t tasks.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	list := mux.Vars(r)["list"]
	f.nextID++
	t.Id = fmt.Sprintf("g%d", f.nextID)
	t.Updated = time.Now().UTC().Format(time.RFC3339)
	f.lists[list] = append(f.lists[list], &t)
	_ = json.NewEncoder(w).Encode(&t)
}

func (f *fakeTasksAPI) find(list, id string) *tasks.Task {
	for _, t := range f.lists[list] {
		if t.Id == id {
			return t
		}
	}
	return nil
}

func (f *fakeTasksAPI) patch(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	vars := mux.Vars(r)
	t := f.find(vars["list"], vars["task"])
	if t == nil {
		notFound(w)
		return
	}
	f.patches = append(f.patches, raw)
	if title, ok := raw["title"].(string); ok {
		t.Title = title
	}
	if status, ok := raw["status"].(string); ok {
		t.Status = status
	}
	if notes, ok := raw["notes"].(string); ok {
		t.Notes = notes
	}
	t.Updated = time.Now().UTC().Format(time.RFC3339)
	_ = json.NewEncoder(w).Encode(t)
}

func (f *fakeTasksAPI) delete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vars := mux.Vars(r)
	items := f.lists[vars["list"]]
	for i, t := range items {
		if t.Id == vars["task"] {
			f.lists[vars["list"]] = append(items[:i], items[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	notFound(w)
}

// addExternal simulates a task created in another Google Tasks client
func (f *fakeTasksAPI) addExternal(title string, updated time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.lists["@default"] = append(f.lists["@default"], &tasks.Task{
		Id:      fmt.Sprintf("g%d", f.nextID),
		Title:   title,
		Status:  statusNeedsAction,
		Updated: updated.Format(time.RFC3339),
	})
}

func newTestStore(t *testing.T, cfg Config) (*Store, *fakeTasksAPI) {
	t.Helper()
	api := newFakeTasksAPI()
	ts := httptest.NewServer(api.handler())
	t.Cleanup(ts.Close)

	cfg.HTTPClient = ts.Client()
	cfg.Endpoint = ts.URL + "/"
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, api
}

func TestCreateMapsFields(t *testing.T) {
	s, api := newTestStore(t, Config{})
	created := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	id, err := s.Create(context.Background(), backend.Fields{
		backend.FieldText:       "Buy milk",
		backend.FieldIsComplete: false,
		backend.FieldCreatedAt:  created,
	})
	if err != nil {
		t.Fatal(err)
	}

	api.mu.Lock()
	got := api.find("@default", id)
	api.mu.Unlock()
	if got == nil {
		t.Fatalf("task %s not stored", id)
	}
	if got.Title != "Buy milk" || got.Status != statusNeedsAction {
		t.Errorf("stored task = %+v", got)
	}
	if c, ok := parseCreated(got.Notes); !ok || !c.Equal(created) {
		t.Errorf("notes = %q", got.Notes)
	}
}

func TestSnapshotOrderAndMapping(t *testing.T) {
	s, api := newTestStore(t, Config{})
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, err := s.Create(ctx, backend.Fields{backend.FieldText: "later", backend.FieldCreatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, backend.Fields{backend.FieldText: "earlier", backend.FieldCreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	api.addExternal("external", base.Add(30*time.Minute))

	docs, err := backend.Snapshot(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	var texts []string
	for _, d := range docs {
		texts = append(texts, d.Fields[backend.FieldText].(string))
	}
	want := []string{"earlier", "external", "later"}
	if fmt.Sprint(texts) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", texts, want)
	}

	task, err := backend.FromDocument(docs[0])
	if err != nil {
		t.Fatal(err)
	}
	if task.IsComplete || !task.CreatedAt.Equal(base) {
		t.Errorf("task = %+v", task)
	}
}

func TestUpdateTitleAndStatus(t *testing.T) {
	s, api := newTestStore(t, Config{})
	ctx := context.Background()

	id, err := s.Create(ctx, backend.Fields{backend.FieldText: "Call mom"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, id, backend.Fields{backend.FieldText: "Call dad"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, id, backend.Fields{backend.FieldIsComplete: true}); err != nil {
		t.Fatal(err)
	}

	api.mu.Lock()
	got := *api.find("@default", id)
	patches := api.patches
	api.mu.Unlock()
	if got.Title != "Call dad" || got.Status != statusCompleted {
		t.Errorf("task = %+v", got)
	}
	if _, ok := patches[1]["title"]; ok {
		t.Errorf("status patch should not send a title: %v", patches[1])
	}

	if err := s.Update(ctx, id, backend.Fields{backend.FieldIsComplete: false}); err != nil {
		t.Fatal(err)
	}
	api.mu.Lock()
	last := api.patches[len(api.patches)-1]
	status := api.find("@default", id).Status
	api.mu.Unlock()
	if status != statusNeedsAction {
		t.Errorf("status = %q, want needsAction", status)
	}
	if v, ok := last["completed"]; !ok || v != nil {
		t.Errorf("reopening should clear completed, patch = %v", last)
	}
}

func TestUpdatePinsCreatedAtOfExternalTask(t *testing.T) {
	s, api := newTestStore(t, Config{})
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, err := s.Create(ctx, backend.Fields{backend.FieldText: "mine", backend.FieldCreatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	api.addExternal("external", base)
	api.mu.Lock()
	external := api.lists["@default"][1]
	external.Notes = "from the phone"
	id := external.Id
	api.mu.Unlock()

	if _, err := backend.Snapshot(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, id, backend.Fields{backend.FieldIsComplete: true}); err != nil {
		t.Fatal(err)
	}

	docs, err := backend.Snapshot(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].ID != id {
		t.Fatalf("external task moved after toggle: %+v", docs)
	}
	task, err := backend.FromDocument(docs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !task.CreatedAt.Equal(base) || !task.IsComplete {
		t.Errorf("task = %+v", task)
	}

	api.mu.Lock()
	notes := api.find("@default", id).Notes
	api.mu.Unlock()
	if c, ok := parseCreated(notes); !ok || !c.Equal(base) {
		t.Errorf("notes = %q, want a marker for %v", notes, base)
	}
	if !strings.HasPrefix(notes, "from the phone\n") {
		t.Errorf("existing notes lost: %q", notes)
	}
}

func TestNotFound(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	if err := s.Update(ctx, "missing", backend.Fields{backend.FieldText: "x"}); !backend.IsNotFound(err) {
		t.Errorf("update error = %v, want not found", err)
	}
	if err := s.Delete(ctx, "missing"); !backend.IsNotFound(err) {
		t.Errorf("delete error = %v, want not found", err)
	}
}

func TestUnknownListFailsSubscribe(t *testing.T) {
	s, _ := newTestStore(t, Config{ListID: "nope"})

	_, err := s.Subscribe(context.Background(), func([]backend.Document) {})
	var se *backend.StoreError
	if !errors.As(err, &se) || !backend.IsNotFound(err) {
		t.Errorf("subscribe error = %v", err)
	}
}

func TestAuthFailure(t *testing.T) {
	s, api := newTestStore(t, Config{})
	api.mu.Lock()
	api.status = http.StatusUnauthorized
	api.mu.Unlock()

	_, err := s.Create(context.Background(), backend.Fields{backend.FieldText: "x"})
	if !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("error = %v, want ErrTokenRevoked", err)
	}
}

func TestPollPublishesExternalChanges(t *testing.T) {
	s, api := newTestStore(t, Config{PollInterval: 20 * time.Millisecond})

	var mu sync.Mutex
	var snaps [][]backend.Document
	unsub, err := s.Subscribe(context.Background(), func(docs []backend.Document) {
		mu.Lock()
		snaps = append(snaps, docs)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	// unchanged polls must not publish
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	if len(snaps) != 1 {
		t.Errorf("snapshots before any change = %d, want 1", len(snaps))
	}
	mu.Unlock()

	api.addExternal("from phone", time.Now().UTC())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		last := snaps[len(snaps)-1]
		mu.Unlock()
		if len(last) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("external change was not published")
}

func TestCreatePublishes(t *testing.T) {
	s, _ := newTestStore(t, Config{PollInterval: time.Hour})

	var mu sync.Mutex
	count := 0
	unsub, err := s.Subscribe(context.Background(), func([]backend.Document) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	if _, err := s.Create(context.Background(), backend.Fields{backend.FieldText: "mine"}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("snapshots = %d, want initial plus one after create", count)
	}
}

func TestParseCreated(t *testing.T) {
	when := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	notes := "remember the receipt\n" + createdMarker + when.Format(time.RFC3339Nano)

	got, ok := parseCreated(notes)
	if !ok || !got.Equal(when) {
		t.Errorf("parseCreated = %v, %v", got, ok)
	}
	if _, ok := parseCreated("no marker"); ok {
		t.Error("expected no creation time")
	}
}
