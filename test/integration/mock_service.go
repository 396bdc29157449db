package integration

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// orderDocumentTemplate is the interface document the mock service
// publishes. The %s is filled with the server's base URL.
const orderDocumentTemplate = `{
  "name": "ordersvc",
  "version": "v1",
  "baseUrl": "%s/",
  "schemas": {
    "Order": {
      "type": "object",
      "properties": {
        "id": {"type": "string", "description": "Order identifier."},
        "qty": {"type": "integer"},
        "status": {"type": "string", "enum": ["closed", "open"]}
      }
    },
    "ListOrdersResponse": {
      "type": "object",
      "properties": {
        "orders": {"type": "array", "items": {"$ref": "Order"}},
        "nextPageToken": {"type": "string"}
      }
    }
  },
  "resources": {
    "orders": {
      "methods": {
        "list": {
          "id": "orders.list",
          "path": "orders",
          "httpMethod": "GET",
          "parameters": {
            "status": {"type": "string", "location": "query"}
          },
          "response": {"$ref": "ListOrdersResponse"}
        },
        "get": {
          "id": "orders.get",
          "path": "orders/{orderId}",
          "httpMethod": "GET",
          "parameters": {
            "orderId": {"type": "string", "location": "path", "required": true}
          },
          "response": {"$ref": "Order"}
        },
        "insert": {
          "id": "orders.insert",
          "path": "orders",
          "httpMethod": "POST",
          "request": {"$ref": "Order"},
          "response": {"$ref": "Order"}
        }
      }
    }
  }
}`

// RecordedRequest captures one request the mock service handled.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

type mockResponse struct {
	status int
	body   string
}

// MockService is an HTTP server standing in for a remote API. It serves
// the discovery document for ordersvc v1 and three order operations with
// scriptable responses and request recording.
type MockService struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	queues      map[string][]*mockResponse
	requests    map[string][]*RecordedRequest
	expectToken string
}

func newMockService(t *testing.T, expectToken string) *MockService {
	t.Helper()
	ms := &MockService{
		t:           t,
		queues:      map[string][]*mockResponse{},
		requests:    map[string][]*RecordedRequest{},
		expectToken: expectToken,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /discovery/ordersvc/v1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, orderDocumentTemplate, ms.server.URL)
	})
	mux.HandleFunc("GET /orders", ms.handle("orders.list", ms.defaultList))
	mux.HandleFunc("GET /orders/{orderId}", ms.handle("orders.get", ms.defaultGet))
	mux.HandleFunc("POST /orders", ms.handle("orders.insert", ms.defaultInsert))

	ms.server = httptest.NewServer(mux)
	t.Cleanup(ms.server.Close)
	return ms
}

// URL returns the service base URL.
func (ms *MockService) URL() string {
	return ms.server.URL
}

// On queues a scripted response for the operation. Scripted responses
// are consumed in order before the default behavior resumes.
func (ms *MockService) On(operation string) *OperationMock {
	return &OperationMock{ms: ms, operation: operation}
}

// OperationMock scripts responses for one operation.
type OperationMock struct {
	ms        *MockService
	operation string
}

// Reply queues one response with the given status and JSON body.
func (om *OperationMock) Reply(status int, body string) *OperationMock {
	om.ms.mu.Lock()
	defer om.ms.mu.Unlock()
	om.ms.queues[om.operation] = append(om.ms.queues[om.operation],
		&mockResponse{status: status, body: body})
	return om
}

// ReplyError queues a structured error envelope.
func (om *OperationMock) ReplyError(status int, errStatus, reason, message string) *OperationMock {
	body := fmt.Sprintf(
		`{"error":{"code":%d,"status":%q,"message":%q,"errors":[{"reason":%q}]}}`,
		status, errStatus, message, reason,
	)
	return om.Reply(status, body)
}

// Calls returns how many requests the operation has handled.
func (ms *MockService) Calls(operation string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.requests[operation])
}

// LastRequest returns the most recent request for the operation, or nil.
func (ms *MockService) LastRequest(operation string) *RecordedRequest {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	reqs := ms.requests[operation]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// Requests returns every recorded request for the operation.
func (ms *MockService) Requests(operation string) []*RecordedRequest {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]*RecordedRequest(nil), ms.requests[operation]...)
}

func (ms *MockService) handle(operation string, fallback http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ms.record(operation, r, body)

		if ms.expectToken != "" {
			want := "Bearer " + ms.expectToken
			if got := r.Header.Get("Authorization"); got != want {
				ms.t.Errorf("%s Authorization = %q, want %q", operation, got, want)
			}
		}

		if resp := ms.nextScripted(operation); resp != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(resp.status)
			fmt.Fprint(w, resp.body)
			return
		}
		fallback(w, r)
	}
}

func (ms *MockService) record(operation string, r *http.Request, body []byte) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.requests[operation] = append(ms.requests[operation], &RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
}

func (ms *MockService) nextScripted(operation string) *mockResponse {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	queue := ms.queues[operation]
	if len(queue) == 0 {
		return nil
	}
	resp := queue[0]
	ms.queues[operation] = queue[1:]
	return resp
}

// defaultList serves two pages of orders keyed by pageToken.
func (ms *MockService) defaultList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Query().Get("pageToken") {
	case "":
		fmt.Fprint(w, `{"orders":[{"id":"o-1","qty":2},{"id":"o-2","qty":5}],"nextPageToken":"page2"}`)
	case "page2":
		fmt.Fprint(w, `{"orders":[{"id":"o-3","qty":1}]}`)
	default:
		http.Error(w, `{"error":{"code":400,"message":"unknown page token"}}`, http.StatusBadRequest)
	}
}

func (ms *MockService) defaultGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":%q,"qty":1,"status":"open"}`, r.PathValue("orderId"))
}

func (ms *MockService) defaultInsert(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"id":"o-new","qty":1,"status":"open"}`)
}
