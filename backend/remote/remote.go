// Package remote is the client of a milista document server.
// Mutations are plain JSON requests; live updates arrive over a
// server-sent event stream that carries a full snapshot per change.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"milista/backend"
	"milista/internal/utils"
)

// ProjectHeader carries the configured project identifier
const ProjectHeader = "X-Milista-Project"

// ErrUnauthorized is wrapped when the server rejects the API key
var ErrUnauthorized = errors.New("api key rejected")

// ErrProjectMismatch is wrapped when the server serves another project
var ErrProjectMismatch = errors.New("server serves a different project")

// Config holds remote store connection settings
type Config struct {
	Endpoint   string // base URL of the server, e.g. https://tasks.example.com
	Project    string // optional project identifier sent with every request
	Collection string
	APIKey     string
	HTTPClient *http.Client // Override for testing
}

// Store implements backend.Store against a milista server
type Store struct {
	config  Config
	baseURL string
	client  *http.Client
	stream  *http.Client

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextSub int
}

// New creates a remote store client
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("remote api key is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = backend.DefaultCollection
	}

	client := cfg.HTTPClient
	if client == nil {
		client = createHTTPClient()
	}
	// streams stay open indefinitely, so they must not inherit a timeout
	stream := &http.Client{Transport: client.Transport}

	return &Store{
		config:  cfg,
		baseURL: strings.TrimRight(cfg.Endpoint, "/") + DocumentsPath(cfg.Collection),
		client:  client,
		stream:  stream,
		cancels: make(map[int]context.CancelFunc),
	}, nil
}

func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
	}
}

func (s *Store) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.config.Project != "" {
		req.Header.Set(ProjectHeader, s.config.Project)
	}
	return req, nil
}

func (s *Store) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	req, err := s.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	return s.client.Do(req)
}

// statusError converts a non-2xx response into an error and closes the body
func statusError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	var body ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		switch body.Error {
		case ErrorDocumentNotFound:
			return backend.ErrNotFound
		case ErrorUnknownCollection:
			return fmt.Errorf("server does not serve this collection")
		}
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		if body.Error == ErrorUnknownProject {
			return ErrProjectMismatch
		}
		return ErrUnauthorized
	}
	if body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

// Subscribe opens a snapshot stream. It returns once the first snapshot has
// been delivered; later snapshots are delivered from a stream goroutine.
func (s *Store) Subscribe(ctx context.Context, onSnapshot backend.SnapshotFunc) (backend.Unsubscribe, error) {
	sctx, cancel := context.WithCancel(context.Background())
	stopConnect := context.AfterFunc(ctx, cancel)

	req, err := s.newRequest(sctx, http.MethodGet, "/stream", nil)
	if err != nil {
		cancel()
		return nil, backend.NewStoreError("subscribe", "", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.stream.Do(req)
	if err != nil {
		cancel()
		return nil, backend.NewStoreError("subscribe", "", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		return nil, backend.NewStoreError("subscribe", "", statusError(resp))
	}

	events := newEventReader(resp.Body)
	first, err := nextSnapshot(events)
	if err != nil {
		cancel()
		_ = resp.Body.Close()
		return nil, backend.NewStoreError("subscribe", "", err)
	}
	if !stopConnect() {
		_ = resp.Body.Close()
		return nil, backend.NewStoreError("subscribe", "", ctx.Err())
	}

	var released atomic.Bool
	onSnapshot(first)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.cancels[id] = cancel
	s.mu.Unlock()

	go func() {
		defer func() { _ = resp.Body.Close() }()
		for {
			docs, err := nextSnapshot(events)
			if err != nil {
				if sctx.Err() == nil {
					utils.Warnf("remote: snapshot stream closed: %v", err)
				}
				return
			}
			if released.Load() {
				return
			}
			onSnapshot(docs)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			released.Store(true)
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			cancel()
		})
	}, nil
}

// nextSnapshot skips to the next snapshot event and decodes it
func nextSnapshot(events *eventReader) ([]backend.Document, error) {
	for {
		ev, err := events.Next()
		if err != nil {
			return nil, err
		}
		if ev.Name != SnapshotEvent {
			continue
		}
		var snap WireSnapshot
		if err := json.Unmarshal([]byte(ev.Data), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		return FromWire(snap), nil
	}
}

// Create inserts a new document and returns its ID
func (s *Store) Create(ctx context.Context, fields backend.Fields) (string, error) {
	resp, err := s.do(ctx, http.MethodPost, "", fields)
	if err != nil {
		return "", backend.NewStoreError("create", "", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", backend.NewStoreError("create", "", statusError(resp))
	}
	defer func() { _ = resp.Body.Close() }()

	var created CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", backend.NewStoreError("create", "", fmt.Errorf("decode response: %w", err))
	}
	return created.ID, nil
}

// Update merges fields into an existing document
func (s *Store) Update(ctx context.Context, id string, fields backend.Fields) error {
	return s.mutate(ctx, "update", http.MethodPatch, id, fields)
}

// Delete removes a document
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete", http.MethodDelete, id, nil)
}

func (s *Store) mutate(ctx context.Context, op, method, id string, body any) error {
	resp, err := s.do(ctx, method, "/"+url.PathEscape(id), body)
	if err != nil {
		return backend.NewStoreError(op, id, err)
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return backend.NewStoreError(op, id, statusError(resp))
	}
	_ = resp.Body.Close()
	return nil
}

// Close ends every open stream and releases idle connections
func (s *Store) Close() error {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()

	if transport, ok := s.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

var _ backend.Store = (*Store)(nil)
