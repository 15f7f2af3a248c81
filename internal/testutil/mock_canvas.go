// Package testutil provides testing utilities for the Canvas engine.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockCanvas is a configurable mock Canvas upstream for testing.
type MockCanvas struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount   int
	LastAuthHeader string
	PathCounts     map[string]int
}

// NewMockCanvas creates a new mock Canvas server.
func NewMockCanvas() *MockCanvas {
	mock := &MockCanvas{
		handlers:   make(map[string]http.HandlerFunc),
		PathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.PathCounts[r.URL.Path]++
		mock.LastAuthHeader = r.Header.Get("Authorization")
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))

	return mock
}

// URL returns the mock server URL, usable as a credential base URL.
func (m *MockCanvas) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCanvas) Close() {
	m.server.Close()
}

// Handle installs a custom handler for an /api/v1 path.
func (m *MockCanvas) Handle(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers["/api/v1"+path] = handler
}

// Requests returns how many times a path was hit.
func (m *MockCanvas) Requests(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts["/api/v1"+path]
}

// ServeLinkPaginated serves items under path using Link-header pagination,
// perPage items per page.
func (m *MockCanvas) ServeLinkPaginated(path string, items []map[string]any, perPage int) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		page := pageParam(r)
		start := (page - 1) * perPage
		end := start + perPage
		if start > len(items) {
			start = len(items)
		}
		if end > len(items) {
			end = len(items)
		}

		if end < len(items) {
			next := fmt.Sprintf("%s%s?page=%d&per_page=%d", m.server.URL, r.URL.Path, page+1, perPage)
			last := fmt.Sprintf("%s%s?page=%d&per_page=%d", m.server.URL, r.URL.Path, (len(items)+perPage-1)/perPage, perPage)
			w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next", <%s>; rel="last"`, next, last))
		} else {
			w.Header().Set("Link", fmt.Sprintf(`<%s%s?page=1&per_page=%d>; rel="first"`, m.server.URL, r.URL.Path, perPage))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(items[start:end])
	})
}

// ServePageNumbered serves items under path with no pagination metadata at
// all, relying on the page-number heuristic (full page means more exist).
func (m *MockCanvas) ServePageNumbered(path string, items []map[string]any, perPage int) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		page := pageParam(r)
		start := (page - 1) * perPage
		end := start + perPage
		if start > len(items) {
			start = len(items)
		}
		if end > len(items) {
			end = len(items)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(items[start:end])
	})
}

// ServeStatus serves a fixed status code with an optional Retry-After value.
func (m *MockCanvas) ServeStatus(path string, status int, retryAfter string) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(status)
	})
}

// ServeFlaky fails with status for the first failures requests to path,
// then serves body.
func (m *MockCanvas) ServeFlaky(path string, status, failures int, body string) {
	var mu sync.Mutex
	count := 0
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		failing := count <= failures
		mu.Unlock()

		if failing {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

// ServeSlow serves body after delay, honoring request cancellation.
func (m *MockCanvas) ServeSlow(path string, delay time.Duration, body string) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

// MakeItems builds n sequential items with id and updated_at fields.
func MakeItems(n int, updatedAt string) []map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{"id": i + 1, "name": fmt.Sprintf("item-%d", i+1)}
		if updatedAt != "" {
			items[i]["updated_at"] = updatedAt
		}
	}
	return items
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
