// Package server exposes a backend.Store over HTTP so that remote clients
// can share one task collection. Live changes are streamed as server-sent
// events carrying full snapshots.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"milista/backend"
	"milista/backend/remote"
	"milista/internal/utils"
)

// ErrNoAPIKeyHash is returned when the server is configured without a key hash
var ErrNoAPIKeyHash = errors.New("server api key hash is not configured")

// Config holds server configuration.
type Config struct {
	Store      backend.Store
	Collection string // only this collection is served
	Project    string // when set, requests must name this project
	APIKeyHash string // bcrypt hash of the accepted API key
	// KeepAlive is the interval between SSE comments on idle streams
	KeepAlive time.Duration
}

// Server serves one collection of a store
type Server struct {
	store      backend.Store
	collection string
	project    string
	keyHash    []byte
	compare    func(hash, key []byte) error
	verified   sync.Map // sha256 of keys that matched keyHash
	keepAlive  time.Duration
	router     *mux.Router
	httpServer *http.Server
	closing    chan struct{}
	closeOnce  sync.Once
}

// New creates a Server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.APIKeyHash == "" {
		return nil, ErrNoAPIKeyHash
	}
	if _, err := bcrypt.Cost([]byte(cfg.APIKeyHash)); err != nil {
		return nil, fmt.Errorf("invalid api key hash: %w", err)
	}

	s := &Server{
		store:      cfg.Store,
		collection: cfg.Collection,
		project:    cfg.Project,
		keyHash:    []byte(cfg.APIKeyHash),
		compare:    bcrypt.CompareHashAndPassword,
		keepAlive:  cfg.KeepAlive,
		closing:    make(chan struct{}),
	}
	if s.collection == "" {
		s.collection = backend.DefaultCollection
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 15 * time.Second
	}
	s.router = s.routes()
	return s, nil
}

// HashAPIKey returns the bcrypt hash to put in server.api_key_hash.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(hash), err
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/v1/collections/{collection}").Subrouter()
	api.Use(s.requireAPIKey, s.requireCollection)
	api.HandleFunc("/documents", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/documents", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/documents/stream", s.handleStream).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", s.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/documents/{id}", s.handleDelete).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	utils.Infof("serving collection %q on %s", s.collection, l.Addr())
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Open event streams are ended first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requireAPIKey rejects requests without a valid bearer key
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || key == "" {
			writeError(w, http.StatusUnauthorized, "missing api key")
			return
		}
		if !s.verifyKey(key) {
			utils.Debugf("rejected api key from %s", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verifyKey runs the bcrypt comparison once per accepted key
func (s *Server) verifyKey(key string) bool {
	sum := sha256.Sum256([]byte(key))
	if _, ok := s.verified.Load(sum); ok {
		return true
	}
	if err := s.compare(s.keyHash, []byte(key)); err != nil {
		return false
	}
	s.verified.Store(sum, struct{}{})
	return true
}

func (s *Server) requireCollection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["collection"] != s.collection {
			writeError(w, http.StatusNotFound, remote.ErrorUnknownCollection)
			return
		}
		if s.project != "" && r.Header.Get(remote.ProjectHeader) != s.project {
			writeError(w, http.StatusForbidden, remote.ErrorUnknownProject)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := backend.Snapshot(r.Context(), s.store)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remote.ToWire(docs))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	id, err := s.store.Create(r.Context(), fields)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, remote.CreateResponse{ID: id})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	if err := s.store.Update(r.Context(), mux.Vars(r)["id"], fields); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream sends a snapshot event now and after every change
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// only the newest snapshot matters, so a full slot is replaced
	latest := make(chan []backend.Document, 1)
	unsub, err := s.store.Subscribe(r.Context(), func(docs []backend.Document) {
		for {
			select {
			case latest <- docs:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case docs := <-latest:
			data, err := json.Marshal(remote.ToWire(docs))
			if err != nil {
				utils.Errorf("encode snapshot: %v", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", remote.SnapshotEvent, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func decodeFields(w http.ResponseWriter, r *http.Request) (backend.Fields, bool) {
	var fields backend.Fields
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return nil, false
	}
	if fields == nil {
		fields = backend.Fields{}
	}
	return backend.NormalizeFields(fields), true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if backend.IsNotFound(err) {
		writeError(w, http.StatusNotFound, remote.ErrorDocumentNotFound)
		return
	}
	utils.Errorf("store request failed: %v", err)
	writeError(w, http.StatusInternalServerError, "store error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, remote.ErrorResponse{Error: msg})
}
