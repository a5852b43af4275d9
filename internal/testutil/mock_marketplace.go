// Package testutil provides testing utilities for the marketplace client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Marketplace API paths served by the mock.
const (
	PathItemList     = "/api/v2/product/get_item_list"
	PathItemBaseInfo = "/api/v2/product/get_item_base_info"
	PathModelList    = "/api/v2/product/get_model_list"
	PathRefreshToken = "/api/v2/auth/access_token/get"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockMarketplace is a configurable mock marketplace server for testing.
// It serves an in-memory catalog on the product endpoints unless a custom
// handler is registered for the path.
type MockMarketplace struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	items    map[int64]map[string]any
	statuses map[int64]string
	models   map[int64][]map[string]any

	// ValidToken, when set, makes token-carrying requests with any other
	// access_token fail with 401.
	ValidToken string
	// IssuedToken is returned by the refresh endpoint. Defaults to ValidToken.
	IssuedToken string

	// Tracking
	RequestCount  int
	pathCounts    map[string]int
	refreshCount  int
	LastQuery     map[string]string
	LastRequestAt time.Time
}

// NewMockMarketplace creates a new mock marketplace server.
func NewMockMarketplace() *MockMarketplace {
	mock := &MockMarketplace{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		items:      make(map[int64]map[string]any),
		statuses:   make(map[int64]string),
		models:     make(map[int64][]map[string]any),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.pathCounts[r.URL.Path]++
		mock.LastRequestAt = time.Now()
		mock.LastQuery = make(map[string]string)
		for k := range r.URL.Query() {
			mock.LastQuery[k] = r.URL.Query().Get(k)
		}
		handler, exists := mock.handlers[r.URL.Path]
		valid := mock.ValidToken
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		if r.URL.Path != PathRefreshToken && valid != "" && r.URL.Query().Get("access_token") != valid {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":   "invalid_access_token",
				"message": "Invalid access_token.",
			})
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockMarketplace) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockMarketplace) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockMarketplace) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.refreshCount = 0
	m.pathCounts = make(map[string]int)
	m.LastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockMarketplace) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockMarketplace) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetValidToken sets the only access token the product endpoints accept,
// and the token the refresh endpoint hands out.
func (m *MockMarketplace) SetValidToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ValidToken = token
	m.IssuedToken = token
}

// AddItem adds an item object to the catalog under status. The object must
// carry a numeric "item_id".
func (m *MockMarketplace) AddItem(status string, item map[string]any) {
	id := toInt64(item["item_id"])

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = item
	m.statuses[id] = status
}

// SetModels sets the model objects returned for an item.
func (m *MockMarketplace) SetModels(itemID int64, models []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[itemID] = models
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockMarketplace) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockMarketplace) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// GetLastQuery returns the query parameters of the most recent request.
func (m *MockMarketplace) GetLastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.LastQuery))
	for k, v := range m.LastQuery {
		out[k] = v
	}
	return out
}

// GetRefreshCount returns the number of tokens issued by the refresh endpoint.
func (m *MockMarketplace) GetRefreshCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshCount
}

// defaultHandler serves the in-memory catalog.
func (m *MockMarketplace) defaultHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	switch r.URL.Path {
	case PathItemList:
		offset, _ := strconv.Atoi(q.Get("offset"))
		size, _ := strconv.Atoi(q.Get("page_size"))
		if size <= 0 {
			size = 100
		}
		ids := m.idsWithStatus(q.Get("item_status"))

		page := []map[string]any{}
		for i := offset; i < len(ids) && i < offset+size; i++ {
			page = append(page, map[string]any{"item_id": ids[i], "item_status": q.Get("item_status")})
		}
		writeEnvelope(w, map[string]any{
			"item":          page,
			"total_count":   len(ids),
			"has_next_page": offset+size < len(ids),
			"next_offset":   offset + size,
		})

	case PathItemBaseInfo:
		list := []map[string]any{}
		m.mu.RLock()
		for _, raw := range strings.Split(q.Get("item_id_list"), ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				continue
			}
			if item, ok := m.items[id]; ok {
				list = append(list, item)
			}
		}
		m.mu.RUnlock()
		writeEnvelope(w, map[string]any{"item_list": list})

	case PathModelList:
		id, _ := strconv.ParseInt(q.Get("item_id"), 10, 64)
		m.mu.RLock()
		models := m.models[id]
		m.mu.RUnlock()
		if models == nil {
			models = []map[string]any{}
		}
		writeEnvelope(w, map[string]any{"tier_variation": []any{}, "model": models})

	case PathRefreshToken:
		m.mu.Lock()
		m.refreshCount++
		token := m.IssuedToken
		if token == "" {
			token = fmt.Sprintf("mock-token-%d", m.refreshCount)
		}
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"error":         "",
			"message":       "",
			"access_token":  token,
			"refresh_token": "mock-refresh",
			"expire_in":     14400,
		})

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "error_not_found",
			"message": "Wrong API path.",
		})
	}
}

func (m *MockMarketplace) idsWithStatus(status string) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for id, s := range m.statuses {
		if s == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NewItem creates a typical base-info item object.
func NewItem(itemID int64, status string, hasModel bool, updateTime int64) map[string]any {
	return map[string]any{
		"item_id":     itemID,
		"category_id": 100017,
		"item_name":   fmt.Sprintf("Item %d", itemID),
		"item_sku":    fmt.Sprintf("SKU-%d", itemID),
		"item_status": status,
		"condition":   "NEW",
		"brand":       map[string]any{"brand_id": 0, "original_brand_name": "NoBrand"},
		"has_model":   hasModel,
		"pre_order":   map[string]any{"is_pre_order": false, "days_to_ship": 2},
		"price_info": []map[string]any{
			{"currency": "SGD", "original_price": 19.9, "current_price": 15.5},
		},
		"stock_info_v2": map[string]any{
			"summary_info": map[string]any{"total_reserved_stock": 0, "total_available_stock": 12},
		},
		"create_time": 1690000000,
		"update_time": updateTime,
	}
}

// NewModel creates a typical model object.
func NewModel(modelID int64) map[string]any {
	return map[string]any{
		"model_id":     modelID,
		"model_sku":    fmt.Sprintf("MSKU-%d", modelID),
		"model_name":   fmt.Sprintf("Variant %d", modelID),
		"model_status": "MODEL_NORMAL",
		"pre_order":    map[string]any{"is_pre_order": 0},
		"price_info": []map[string]any{
			{"currency": "SGD", "original_price": 9.9, "current_price": 8.5},
		},
		"stock_info_v2": map[string]any{
			"summary_info": map[string]any{"total_available_stock": 3},
		},
	}
}

// NewEnvelopeResponse creates a 200 OK response wrapping response in an envelope.
func NewEnvelopeResponse(response any) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"error":      "",
		"message":    "",
		"request_id": "mock-request",
		"response":   response,
	})
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewBusinessErrorResponse creates a 200 OK response carrying a business error.
func NewBusinessErrorResponse(code, message string) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"error":      code,
		"message":    message,
		"request_id": "mock-request",
	})
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":"error_too_many_request","message":"Rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
	if retryAfterSeconds > 0 {
		resp.Headers["Retry-After"] = strconv.Itoa(retryAfterSeconds)
	}
	return resp
}

// NewUnauthorizedResponse creates a 401 Unauthorized response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"error":"invalid_access_token","message":"Invalid access_token."}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"error_server","message":"Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func writeEnvelope(w http.ResponseWriter, response any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"error":      "",
		"message":    "",
		"request_id": "mock-request",
		"response":   response,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
