package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schaermu/b6psync/internal/integrity"
)

// ETagMode controls which ETag shape the fake store answers with
type ETagMode int

const (
	ETagStrict ETagMode = iota
	ETagWeak
	ETagComplex
	ETagNone
	// ETagWrong answers with a well formed hash of different content
	ETagWrong
	ETagMalformed
)

// FakeStore is an in-memory document store served over HTTP. Documents are
// keyed by URL path, e.g. "/files/dav-1/scripts/main.ts".
type FakeStore struct {
	Server *httptest.Server

	mu       sync.Mutex
	docs     map[string][]byte
	modified map[string]time.Time
	failing  map[string]int
	mode     ETagMode
	requests []string
}

// NewFakeStore starts a fake store that is closed with the test
func NewFakeStore(t testing.TB) *FakeStore {
	t.Helper()

	s := &FakeStore{
		docs:     make(map[string][]byte),
		modified: make(map[string]time.Time),
		failing:  make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Server.Close)
	return s
}

// URL returns the server origin
func (s *FakeStore) URL() string {
	return s.Server.URL
}

// SetMode switches the ETag shape for subsequent responses
func (s *FakeStore) SetMode(mode ETagMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Put stores a document directly, bypassing HTTP
func (s *FakeStore) Put(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = []byte(content)
	s.modified[path] = time.Now().UTC().Truncate(time.Second)
}

// Get returns a stored document
func (s *FakeStore) Get(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[path]
	return string(data), ok
}

// Paths returns every stored document path in order
func (s *FakeStore) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]string, len(s.docs))
	for k := range s.docs {
		m[k] = ""
	}
	return SortedKeys(m)
}

// Fail makes requests for path answer with status until cleared with 0
func (s *FakeStore) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failing, path)
		return
	}
	s.failing[path] = status
}

// Requests returns "METHOD path" for every request seen so far
func (s *FakeStore) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Count returns how many requests used method
func (s *FakeStore) Count(method string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, method+" ") {
			n++
		}
	}
	return n
}

func (s *FakeStore) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := r.URL.Path
	s.requests = append(s.requests, r.Method+" "+path)

	if status, ok := s.failing[path]; ok {
		http.Error(w, "injected failure", status)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.docs[path] = data
		s.modified[path] = time.Now().UTC().Truncate(time.Second)
		s.setETag(w, data)
		w.WriteHeader(http.StatusCreated)

	case http.MethodHead, http.MethodGet:
		data, ok := s.docs[path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		mod := s.modified[path]
		if since, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil && !mod.After(since) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", mod.Format(http.TimeFormat))
		s.setETag(w, data)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write(data)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *FakeStore) setETag(w http.ResponseWriter, data []byte) {
	hash := integrity.LocalHash(data)
	switch s.mode {
	case ETagStrict:
		w.Header().Set("ETag", `"`+hash+`"`)
	case ETagWeak:
		w.Header().Set("ETag", `W/"`+hash+`"`)
	case ETagComplex:
		w.Header().Set("ETag", `"doc:`+hash[:16]+`"`)
	case ETagWrong:
		w.Header().Set("ETag", `"`+integrity.LocalHash(append([]byte("x"), data...))+`"`)
	case ETagMalformed:
		w.Header().Set("ETag", "not-an-etag")
	case ETagNone:
	}
}
