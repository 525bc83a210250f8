// Package testutil provides shared test helpers: temporary vaults, a fake
// hosted document-intelligence service and a fake local model backend.
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/starford/ansuz/internal/localmodel"
	"github.com/starford/ansuz/internal/router"
	"github.com/starford/ansuz/internal/storage"
)

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// RecordedRequest is one call received by HostedService.
type RecordedRequest struct {
	Path          string
	Authorization string
	Body          map[string]any
}

// HostedService is a fake of the remote service. Responses maps a request
// path to the JSON envelope returned for it; unknown paths get a 404.
type HostedService struct {
	*httptest.Server

	mu        sync.Mutex
	responses map[string]any
	status    map[string]int
	requests  []RecordedRequest
}

// NewHostedService starts a fake hosted service that is closed with the test.
func NewHostedService(t *testing.T, responses map[string]any) *HostedService {
	t.Helper()
	hs := &HostedService{responses: responses, status: map[string]int{}}
	hs.Server = httptest.NewServer(http.HandlerFunc(hs.serve))
	t.Cleanup(hs.Close)
	return hs
}

// Fail makes path answer with status and {"error": message}.
func (hs *HostedService) Fail(path string, status int, message string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.status[path] = status
	hs.responses[path] = map[string]string{"error": message}
}

// Requests returns the calls received so far.
func (hs *HostedService) Requests() []RecordedRequest {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	out := make([]RecordedRequest, len(hs.requests))
	copy(out, hs.requests)
	return out
}

// Routing returns a remote routing context pointing at the fake.
func (hs *HostedService) Routing() router.RoutingContext {
	return router.RoutingContext{ServerURL: hs.URL, APIKey: "test-key", UseRemote: true}
}

func (hs *HostedService) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	hs.mu.Lock()
	hs.requests = append(hs.requests, RecordedRequest{
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})
	resp, ok := hs.responses[r.URL.Path]
	status := hs.status[r.URL.Path]
	hs.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// LocalBackend is a fake localmodel.Backend answering every task with the
// same object.
type LocalBackend struct {
	mu     sync.Mutex
	Object map[string]any
	Err    error
	calls  []localmodel.Invocation
}

// Invoke implements localmodel.Backend.
func (b *LocalBackend) Invoke(_ context.Context, inv localmodel.Invocation) (localmodel.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, inv)
	if b.Err != nil {
		return localmodel.Response{}, b.Err
	}
	obj := make(map[string]json.RawMessage, len(b.Object))
	for k, v := range b.Object {
		raw, err := json.Marshal(v)
		if err != nil {
			return localmodel.Response{}, err
		}
		obj[k] = raw
	}
	return localmodel.Response{Object: obj}, nil
}

// Calls returns the invocations received so far.
func (b *LocalBackend) Calls() []localmodel.Invocation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]localmodel.Invocation, len(b.calls))
	copy(out, b.calls)
	return out
}

// AllModels resolves every local task to a model named after it.
func AllModels() localmodel.StaticResolver {
	r := localmodel.StaticResolver{}
	for _, task := range localmodel.Tasks() {
		r[task] = "model-" + string(task)
	}
	return r
}
