// Package testutil provides testing utilities for the catalog client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a single product identifier.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockCatalog is a configurable mock of the product lookup endpoint.
// Unconfigured identifiers up to MaxID return a generated product; larger
// ones return the catalog's 404 body.
type MockCatalog struct {
	server *httptest.Server
	mu     sync.RWMutex

	responses map[int]MockResponse
	requests  map[int]int
	inFlight  int
	peak      int

	// MaxID is the largest identifier served by default.
	MaxID int

	// Delay is applied to every default response.
	Delay time.Duration

	LastUserAgent string
}

// NewMockCatalog creates a new mock catalog server.
func NewMockCatalog() *MockCatalog {
	mock := &MockCatalog{
		responses: make(map[int]MockResponse),
		requests:  make(map[int]int),
		MaxID:     194,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))

	return mock
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.server.Close()
}

// SetResponse configures the response for one identifier.
func (m *MockCatalog) SetResponse(id int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[id] = resp
}

// ClearResponse restores default behavior for one identifier.
func (m *MockCatalog) ClearResponse(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.responses, id)
}

// SetDelay sets the delay applied to default responses.
func (m *MockCatalog) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Delay = d
}

// RequestCount returns how often id was requested.
func (m *MockCatalog) RequestCount(id int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[id]
}

// TotalRequests returns the number of product requests served.
func (m *MockCatalog) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

// PeakInFlight returns the largest number of concurrently handled requests.
func (m *MockCatalog) PeakInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peak
}

// UserAgent returns the User-Agent of the most recent request.
func (m *MockCatalog) UserAgent() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastUserAgent
}

func (m *MockCatalog) handle(w http.ResponseWriter, r *http.Request) {
	idStr, ok := strings.CutPrefix(r.URL.Path, "/products/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, fmt.Sprintf(`{"message":"Invalid product id '%s'"}`, idStr))
		return
	}

	m.mu.Lock()
	m.requests[id]++
	m.LastUserAgent = r.Header.Get("User-Agent")
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	resp, custom := m.responses[id]
	delay := m.Delay
	maxID := m.MaxID
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if custom {
		delay = resp.Delay
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if custom {
		writeJSON(w, resp.StatusCode, resp.Body)
		return
	}

	if id < 1 || id > maxID {
		writeJSON(w, http.StatusNotFound, fmt.Sprintf(`{"message":"Product with id '%d' not found"}`, id))
		return
	}

	writeJSON(w, http.StatusOK, ProductJSON(id))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != "" {
		w.Write([]byte(body))
	}
}

// ProductJSON renders a catalog-shaped product body for id, including
// fields the client does not model.
func ProductJSON(id int) string {
	data, _ := json.Marshal(map[string]any{
		"id":                 id,
		"title":              fmt.Sprintf("Product %d", id),
		"description":        fmt.Sprintf("Description of product %d", id),
		"category":           "test",
		"price":              json.Number(fmt.Sprintf("%d.99", id)),
		"discountPercentage": 5.5,
		"rating":             json.Number(fmt.Sprintf("%d.%d", id%5, id%10)),
		"stock":              id * 2,
		"tags":               []string{"test"},
		"brand":              "Acme",
		"thumbnail":          fmt.Sprintf("https://cdn.example.com/products/%d/thumbnail.png", id),
	})
	return string(data)
}

// NotFoundResponse creates a catalog-style 404 response.
func NotFoundResponse(id int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf(`{"message":"Product with id '%d' not found"}`, id),
	}
}

// ServerErrorResponse creates a 500 response.
func ServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"Internal server error"}`,
	}
}

// MalformedResponse creates a 200 response whose body is not a product.
func MalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"id": "not-a-number"`,
	}
}
