// Package google provides a document store on top of a Google Tasks list.
//
// Each task of the list is one document: text is the task title, isComplete
// follows the task status and createdAt is kept in a marker line of the
// notes. Google Tasks has no push channel, so subscriptions poll the list and
// publish only when the snapshot changed.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"

	"milista/backend"
	"milista/internal/utils"
)

const (
	// DefaultListID is the special ID for the user's default list.
	DefaultListID = "@default"

	// DefaultPollInterval is how often subscriptions re-read the list.
	DefaultPollInterval = 10 * time.Second

	// APITimeout is the timeout for API calls.
	APITimeout = 5 * time.Second

	// PageSize is the number of tasks per page.
	PageSize = 100

	statusCompleted   = "completed"
	statusNeedsAction = "needsAction"

	// createdMarker prefixes the notes line holding the creation time
	createdMarker = "milista-created: "

	tasksScope = "https://www.googleapis.com/auth/tasks"
)

// ErrTokenRevoked is wrapped when Google rejects the OAuth token
var ErrTokenRevoked = errors.New("google token expired or revoked")

// Config holds Google Tasks connection settings
type Config struct {
	ListID          string
	OAuthClientPath string // oauth_client.json downloaded from the Google console
	TokenPath       string // token.json with a refresh token
	PollInterval    time.Duration
	HTTPClient      *http.Client // Override for testing; skips OAuth
	Endpoint        string       // Override for testing
}

// ConfigFromEnv creates a Config from environment variables
func ConfigFromEnv() Config {
	return Config{
		ListID:          os.Getenv("MILISTA_GOOGLE_LIST_ID"),
		OAuthClientPath: os.Getenv("MILISTA_GOOGLE_OAUTH_CLIENT"),
		TokenPath:       os.Getenv("MILISTA_GOOGLE_TOKEN"),
	}
}

// Store implements backend.Store using the Google Tasks API
type Store struct {
	svc          *tasks.Service
	listID       string
	pollInterval time.Duration
	now          func() time.Time
	hub          *backend.Broadcaster

	mu          sync.Mutex
	fingerprint string
	unmarked    map[string]unmarkedTask
	stopPoll    context.CancelFunc
	pollDone    chan struct{}
}

// unmarkedTask is a task created outside milista, without a marker yet
type unmarkedTask struct {
	created time.Time
	notes   string
}

// New creates a Google Tasks store.
// Without Config.HTTPClient, the OAuth client and token files must exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = oauthClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks service: %w", err)
	}

	s := &Store{
		svc:          svc,
		listID:       cfg.ListID,
		pollInterval: cfg.PollInterval,
		now:          func() time.Time { return time.Now().UTC() },
		unmarked:     make(map[string]unmarkedTask),
	}
	if s.listID == "" {
		s.listID = DefaultListID
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	s.hub = backend.NewBroadcaster(s.load)
	return s, nil
}

// oauthClient builds an auto-refreshing client from the stored credentials
func oauthClient(ctx context.Context, cfg Config) (*http.Client, error) {
	clientJSON, err := os.ReadFile(cfg.OAuthClientPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth client file: %w", err)
	}
	oauthConfig, err := googleoauth.ConfigFromJSON(clientJSON, tasksScope)
	if err != nil {
		return nil, fmt.Errorf("invalid oauth client file: %w", err)
	}

	tokenData, err := os.ReadFile(cfg.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(tokenData, &token); err != nil {
		return nil, fmt.Errorf("invalid token file: %w", err)
	}

	// the client outlives ctx, so it gets its own background context
	return oauth2.NewClient(context.Background(), oauthConfig.TokenSource(context.Background(), &token)), nil
}

// fetch reads every task of the list as documents ordered by creation time
func (s *Store) fetch(ctx context.Context) ([]backend.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	var docs []backend.Document
	err := s.svc.Tasks.List(s.listID).
		MaxResults(PageSize).
		ShowCompleted(true).
		ShowHidden(true).
		ShowDeleted(false).
		Pages(ctx, func(resp *tasks.Tasks) error {
			for _, t := range resp.Items {
				docs = append(docs, s.toDocument(t))
			}
			return nil
		})
	if err != nil {
		return nil, wrapError(err)
	}

	slices.SortStableFunc(docs, func(a, b backend.Document) int {
		ta, _ := a.Fields[backend.FieldCreatedAt].(time.Time)
		tb, _ := b.Fields[backend.FieldCreatedAt].(time.Time)
		return ta.Compare(tb)
	})
	if docs == nil {
		docs = []backend.Document{}
	}
	return docs, nil
}

// load is the broadcaster's loader; it also remembers what was published
func (s *Store) load(ctx context.Context) ([]backend.Document, error) {
	docs, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.fingerprint = fingerprint(docs)
	s.mu.Unlock()
	return docs, nil
}

// Subscribe registers onSnapshot and starts the poll loop
func (s *Store) Subscribe(ctx context.Context, onSnapshot backend.SnapshotFunc) (backend.Unsubscribe, error) {
	unsub, err := s.hub.Subscribe(ctx, onSnapshot)
	if err != nil {
		return nil, err
	}
	s.ensurePoller()
	return unsub, nil
}

func (s *Store) ensurePoller() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopPoll != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopPoll = cancel
	s.pollDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.poll(ctx)
			}
		}
	}()
}

// poll publishes the list when it differs from the last published snapshot
func (s *Store) poll(ctx context.Context) {
	if s.hub.Len() == 0 {
		return
	}
	docs, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			utils.Warnf("google: poll failed: %v", err)
		}
		return
	}

	fp := fingerprint(docs)
	s.mu.Lock()
	changed := fp != s.fingerprint
	s.fingerprint = fp
	s.mu.Unlock()

	if changed {
		utils.Debugf("google: list %s changed", s.listID)
		s.hub.Deliver(docs)
	}
}

func (s *Store) publish(ctx context.Context) {
	if err := s.hub.Publish(ctx); err != nil {
		utils.Warnf("google: failed to publish snapshot: %v", err)
	}
}

// Create inserts a new task and returns its ID
func (s *Store) Create(ctx context.Context, fields backend.Fields) (string, error) {
	fields = backend.NormalizeFields(fields)
	created, ok := fields[backend.FieldCreatedAt].(time.Time)
	if !ok {
		created = s.now()
	}

	t := &tasks.Task{
		Status: statusNeedsAction,
		Notes:  createdMarker + created.UTC().Format(time.RFC3339Nano),
	}
	if text, ok := fields[backend.FieldText].(string); ok {
		t.Title = text
	}
	if done, ok := fields[backend.FieldIsComplete].(bool); ok && done {
		t.Status = statusCompleted
	}

	cctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()
	inserted, err := s.svc.Tasks.Insert(s.listID, t).Context(cctx).Do()
	if err != nil {
		return "", backend.NewStoreError("create", "", wrapError(err))
	}

	s.publish(ctx)
	return inserted.Id, nil
}

// Update patches the title and status of a task
func (s *Store) Update(ctx context.Context, id string, fields backend.Fields) error {
	patch := &tasks.Task{}
	s.mu.Lock()
	u, adopt := s.unmarked[id]
	s.mu.Unlock()
	if adopt {
		// the patch bumps the updated time, so pin createdAt first
		patch.Notes = withMarker(u.notes, u.created)
	}
	if text, ok := fields[backend.FieldText].(string); ok {
		patch.Title = text
		patch.ForceSendFields = append(patch.ForceSendFields, "Title")
	}
	if done, ok := fields[backend.FieldIsComplete].(bool); ok {
		if done {
			patch.Status = statusCompleted
		} else {
			patch.Status = statusNeedsAction
			patch.NullFields = append(patch.NullFields, "Completed")
		}
	}

	cctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()
	if _, err := s.svc.Tasks.Patch(s.listID, id, patch).Context(cctx).Do(); err != nil {
		return backend.NewStoreError("update", id, wrapError(err))
	}

	s.publish(ctx)
	return nil
}

// Delete removes a task
func (s *Store) Delete(ctx context.Context, id string) error {
	cctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()
	if err := s.svc.Tasks.Delete(s.listID, id).Context(cctx).Do(); err != nil {
		return backend.NewStoreError("delete", id, wrapError(err))
	}

	s.publish(ctx)
	return nil
}

// Close stops polling and drops subscribers
func (s *Store) Close() error {
	s.mu.Lock()
	cancel, done := s.stopPoll, s.pollDone
	s.stopPoll, s.pollDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.hub.Clear()
	return nil
}

// toDocument converts a Google task into a store document
func (s *Store) toDocument(t *tasks.Task) backend.Document {
	fields := backend.Fields{
		backend.FieldText:       t.Title,
		backend.FieldIsComplete: t.Status == statusCompleted,
	}
	if created, ok := parseCreated(t.Notes); ok {
		fields[backend.FieldCreatedAt] = created
		s.mu.Lock()
		delete(s.unmarked, t.Id)
		s.mu.Unlock()
	} else if created, ok := s.adopt(t); ok {
		fields[backend.FieldCreatedAt] = created
	}
	return backend.Document{ID: t.Id, Fields: fields}
}

// adopt returns the creation time of a task that has no marker. The updated
// time of the first sighting is kept for the life of the store and written
// to the notes by the next Update.
func (s *Store) adopt(t *tasks.Task) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.unmarked[t.Id]; ok {
		u.notes = t.Notes
		s.unmarked[t.Id] = u
		return u.created, true
	}
	updated, err := time.Parse(time.RFC3339, t.Updated)
	if err != nil {
		return time.Time{}, false
	}
	s.unmarked[t.Id] = unmarkedTask{created: updated, notes: t.Notes}
	return updated, true
}

func withMarker(notes string, created time.Time) string {
	marker := createdMarker + created.UTC().Format(time.RFC3339Nano)
	if strings.TrimSpace(notes) == "" {
		return marker
	}
	return strings.TrimRight(notes, "\n") + "\n" + marker
}

func parseCreated(notes string) (time.Time, bool) {
	for _, line := range strings.Split(notes, "\n") {
		value, ok := strings.CutPrefix(strings.TrimSpace(line), createdMarker)
		if !ok {
			continue
		}
		created, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, false
		}
		return created, true
	}
	return time.Time{}, false
}

func fingerprint(docs []backend.Document) string {
	var b strings.Builder
	for _, d := range docs {
		created, _ := d.Fields[backend.FieldCreatedAt].(time.Time)
		fmt.Fprintf(&b, "%s\x1f%v\x1f%v\x1f%s\x1e",
			d.ID, d.Fields[backend.FieldText], d.Fields[backend.FieldIsComplete], created.Format(time.RFC3339Nano))
	}
	return b.String()
}

// wrapError maps API errors onto store errors
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return backend.ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrTokenRevoked, apiErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", err)
	}
	return err
}

var _ backend.Store = (*Store)(nil)
