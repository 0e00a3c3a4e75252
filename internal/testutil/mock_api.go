// Package testutil provides test servers for the batch engine.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable item API. Requests are routed by the last path
// segment, which is the row id the batch engine substituted into the URL.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	counts   map[string]int

	inflight    int
	maxInflight int

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockAPI starts a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]http.HandlerFunc),
		counts:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := lastSegment(r.URL.Path)

		mock.mu.Lock()
		mock.RequestCount++
		mock.counts[id]++
		mock.LastRequestHeader = r.Header.Clone()
		mock.inflight++
		if mock.inflight > mock.maxInflight {
			mock.maxInflight = mock.inflight
		}
		handler, exists := mock.handlers[id]
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inflight--
			mock.mu.Unlock()
		}()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

func lastSegment(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// ItemPrefix returns a URL prefix that routes ids to /item/<id>.
func (m *MockAPI) ItemPrefix() string {
	return m.server.URL + "/item/"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.counts = make(map[string]int)
	m.maxInflight = 0
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for an id.
func (m *MockAPI) SetHandler(id string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[id] = handler
}

// SetResponse configures a fixed response for an id.
func (m *MockAPI) SetResponse(id string, resp MockResponse) {
	m.SetHandler(id, responder(resp))
}

// SetSequence answers successive requests for id with resps in order,
// repeating the last one once the list is used up.
func (m *MockAPI) SetSequence(id string, resps ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(id, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[next]
		if next < len(resps)-1 {
			next++
		}
		mu.Unlock()
		responder(resp)(w, r)
	})
}

func responder(resp MockResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// RequestsFor returns the number of requests made for one id.
func (m *MockAPI) RequestsFor(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[id]
}

// MaxInflight returns the highest number of concurrent requests observed.
func (m *MockAPI) MaxInflight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxInflight
}

// defaultHandler answers with a disposition document for the requested id.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(DispositionBody("555", "A", "B", "2024-01-01")))
}

// DispositionBody renders a typical API document.
func DispositionBody(mobile, mainDisposition, subDisposition, conversationTime string) string {
	return `{"mobile_number":"` + mobile + `","extraction":{"extracted_data":{"main_disposition":"` +
		mainDisposition + `","sub_disposition":"` + subDisposition + `"}},"conversation_time":"` +
		conversationTime + `"}`
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// ClosedURL returns the URL of a server that has already been shut down, so
// connections to it are refused.
func ClosedURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}
