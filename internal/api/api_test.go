package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/starford/ansuz/internal/presenter"
	"github.com/starford/ansuz/internal/router"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/testutil"
	"github.com/starford/ansuz/internal/transport"
)

type fixedRouting struct{ rc router.RoutingContext }

func (f fixedRouting) Routing() router.RoutingContext { return f.rc }

type recordingPublisher struct {
	mu     sync.Mutex
	events []sse.Event
	ops    []sse.OperationEvent
}

func (p *recordingPublisher) Publish(e sse.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) PublishOperation(e sse.OperationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, e)
}

// testEnv wires a router against a fake hosted service and returns the
// gateway handler. authToken == "" means disabled mode.
func testEnv(t *testing.T, authToken string, responses map[string]any) (http.Handler, *testutil.HostedService, *recordingPublisher) {
	t.Helper()
	hs := testutil.NewHostedService(t, responses)
	rt := router.New(transport.New(nil),
		router.WithTranscriptionURL(hs.URL+"/transcribe"),
		router.WithLocalBackend(&testutil.LocalBackend{Object: map[string]any{"documentType": "memo"}}, testutil.AllModels()),
	)
	pub := &recordingPublisher{}
	h := NewHandler(rt, fixedRouting{rc: hs.Routing()}, pub)
	return NewRouter(h, authToken != "", authToken, nil), hs, pub
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRunOperation_Classify(t *testing.T) {
	handler, hs, pub := testEnv(t, "", map[string]any{"/api/classify1": map[string]string{"documentType": "invoice"}})

	w := postJSON(t, handler, "/operations/classify", map[string]any{
		"inputs": map[string]any{"content": "Total due: $40", "fileName": "bill.md", "templateNames": []string{"invoice"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp OperationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Operation != "classify" || resp.Result != "invoice" {
		t.Errorf("resp = %+v, want classify/invoice", resp)
	}

	reqs := hs.Requests()
	if len(reqs) != 1 {
		t.Fatalf("hosted requests = %d, want 1", len(reqs))
	}
	if reqs[0].Authorization != "Bearer test-key" {
		t.Errorf("authorization = %q", reqs[0].Authorization)
	}
	if reqs[0].Body["fileName"] != "bill.md" {
		t.Errorf("body = %v", reqs[0].Body)
	}

	if len(pub.ops) != 1 || pub.ops[0].Operation != "classify" || pub.ops[0].Error != "" || !pub.ops[0].Remote {
		t.Errorf("published = %+v", pub.ops)
	}
}

func TestRunOperation_RoutingOverrideLocal(t *testing.T) {
	handler, hs, _ := testEnv(t, "", map[string]any{})

	w := postJSON(t, handler, "/operations/classify", map[string]any{
		"inputs":  map[string]any{"content": "x"},
		"routing": map[string]any{"useRemote": false},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"result":"memo"`) {
		t.Errorf("body = %s, want local result", w.Body.String())
	}
	if n := len(hs.Requests()); n != 0 {
		t.Errorf("hosted requests = %d, want 0", n)
	}
}

func TestRunOperation_PartialRoutingOverrideKeepsDefaults(t *testing.T) {
	hs := testutil.NewHostedService(t, map[string]any{"/api/classify1": map[string]string{"documentType": "invoice"}})
	rt := router.New(transport.New(nil),
		router.WithLocalBackend(&testutil.LocalBackend{Object: map[string]any{"documentType": "memo"}}, testutil.AllModels()),
	)
	local := hs.Routing()
	local.UseRemote = false
	handler := NewRouter(NewHandler(rt, fixedRouting{rc: local}, nil), false, "", nil)

	w := postJSON(t, handler, "/operations/classify", map[string]any{
		"inputs":  map[string]any{"content": "x"},
		"routing": map[string]any{"useRemote": true},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"result":"invoice"`) {
		t.Errorf("body = %s, want remote result", w.Body.String())
	}

	w = postJSON(t, handler, "/operations/classify", map[string]any{
		"inputs":  map[string]any{"content": "x"},
		"routing": map[string]any{"useRemote": true, "apiKey": "caller-key"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	reqs := hs.Requests()
	if len(reqs) != 2 {
		t.Fatalf("hosted requests = %d, want 2", len(reqs))
	}
	if reqs[0].Authorization != "Bearer test-key" {
		t.Errorf("first authorization = %q, want configured key", reqs[0].Authorization)
	}
	if reqs[1].Authorization != "Bearer caller-key" {
		t.Errorf("second authorization = %q, want caller key", reqs[1].Authorization)
	}
}

func TestRoutingOverride_Apply(t *testing.T) {
	def := router.RoutingContext{ServerURL: "https://a.example", APIKey: "k", UseRemote: true}

	var none *RoutingOverride
	if got := none.Apply(def); got != def {
		t.Errorf("nil override = %+v, want %+v", got, def)
	}

	off := false
	got := (&RoutingOverride{UseRemote: &off}).Apply(def)
	want := router.RoutingContext{ServerURL: "https://a.example", APIKey: "k", UseRemote: false}
	if got != want {
		t.Errorf("Apply = %+v, want %+v", got, want)
	}

	got = (&RoutingOverride{ServerURL: "https://b.example"}).Apply(def)
	if got.ServerURL != "https://b.example" || got.APIKey != "k" || !got.UseRemote {
		t.Errorf("Apply = %+v", got)
	}
}

func TestRunOperation_UnknownOperation(t *testing.T) {
	handler, _, _ := testEnv(t, "", map[string]any{})

	w := postJSON(t, handler, "/operations/summarize", map[string]any{"inputs": map[string]any{}})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRunOperation_InvalidJSON(t *testing.T) {
	handler, _, _ := testEnv(t, "", map[string]any{})

	req := httptest.NewRequest(http.MethodPost, "/operations/tags", strings.NewReader("{"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRunOperation_RemoteFailure(t *testing.T) {
	handler, hs, pub := testEnv(t, "", map[string]any{})
	hs.Fail("/api/tags", http.StatusInternalServerError, "quota exceeded")

	w := postJSON(t, handler, "/operations/tags", map[string]any{"inputs": map[string]any{"content": "x"}})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	var body errResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "quota exceeded" || body.Kind != "remote error" {
		t.Errorf("body = %+v", body)
	}
	if len(pub.ops) != 1 || pub.ops[0].Error == "" {
		t.Errorf("published = %+v, want a failed event", pub.ops)
	}
}

func TestRunOperation_MissingCredentials(t *testing.T) {
	handler, _, _ := testEnv(t, "", map[string]any{})

	w := postJSON(t, handler, "/operations/title", map[string]any{
		"inputs":  map[string]any{"content": "x"},
		"routing": map[string]any{"useRemote": true},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestRunOperation_VisionWithoutImage(t *testing.T) {
	handler, _, _ := testEnv(t, "", map[string]any{})

	w := postJSON(t, handler, "/operations/vision", map[string]any{"inputs": map[string]any{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRunOperation_FoldersNull(t *testing.T) {
	handler, _, _ := testEnv(t, "", map[string]any{"/api/folders": map[string]any{"folder": nil}})

	w := postJSON(t, handler, "/operations/folders", map[string]any{"inputs": map[string]any{"content": "x"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"result":null`) {
		t.Errorf("body = %s, want null result", w.Body.String())
	}
}

func TestListOperations(t *testing.T) {
	handler, _, _ := testEnv(t, "", map[string]any{})

	req := httptest.NewRequest(http.MethodGet, "/operations", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp CatalogueResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Operations) != len(router.Operations()) {
		t.Errorf("operations = %d, want %d", len(resp.Operations), len(router.Operations()))
	}
}

func TestTranscribe(t *testing.T) {
	handler, hs, _ := testEnv(t, "", map[string]any{"/transcribe": map[string]string{"transcript": "hello there"}})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "memo.webm")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("RIFF"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/transcriptions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp TranscriptionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Transcript != "hello there" {
		t.Errorf("transcript = %q", resp.Transcript)
	}
	if len(hs.Requests()) != 1 {
		t.Errorf("transcription requests = %d, want 1", len(hs.Requests()))
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	handler, hs, _ := testEnv(t, "", map[string]any{})
	hs.Fail("/transcribe", http.StatusInternalServerError, "model not loaded")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("audio", "memo.mp3")
	_, _ = fw.Write([]byte("ID3"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/transcriptions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "model not loaded") {
		t.Errorf("body = %s, want server message", w.Body.String())
	}
}

func TestTranscribe_MissingFile(t *testing.T) {
	handler, _, _ := testEnv(t, "", map[string]any{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("fileExtension", "webm")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/transcriptions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPresentTool(t *testing.T) {
	handler, _, _ := testEnv(t, "", map[string]any{})

	w := postJSON(t, handler, "/tools/present", map[string]any{
		"invocation": map[string]any{"toolCallId": "c1", "toolName": "searchNotes", "args": map[string]any{}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var d presenter.Display
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if d.Content == nil || d.Content.Text != "No files matching that criteria were found" {
		t.Errorf("display = %+v", d)
	}
}

func TestConfirmTool(t *testing.T) {
	handler, _, pub := testEnv(t, "", map[string]any{})

	inv := map[string]any{"toolCallId": "c9", "toolName": "askForConfirmation", "args": map[string]any{"message": "Move 2 notes?"}}
	w := postJSON(t, handler, "/tools/confirm", map[string]any{"invocation": inv, "choice": "yes"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ConfirmResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Invocation.HasResult || resp.Invocation.Result != "Yes" {
		t.Errorf("invocation = %+v", resp.Invocation)
	}
	if resp.Display.Phase != presenter.PhaseResolved || resp.Display.Content.Value != "Yes" {
		t.Errorf("display = %+v", resp.Display)
	}
	if len(pub.events) != 1 || pub.events[0].Type != sse.TypeToolConfirmed {
		t.Errorf("events = %+v", pub.events)
	}

	w = postJSON(t, handler, "/tools/confirm", map[string]any{"invocation": resp.Invocation, "choice": "no"})
	if w.Code != http.StatusConflict {
		t.Errorf("second confirm status = %d, want 409", w.Code)
	}

	w = postJSON(t, handler, "/tools/confirm", map[string]any{"invocation": inv, "choice": "maybe"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad choice status = %d, want 400", w.Code)
	}
}

func TestAuth_TokenRequired(t *testing.T) {
	handler, _, _ := testEnv(t, "s3cret", map[string]any{})

	req := httptest.NewRequest(http.MethodGet, "/operations", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/operations", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/operations", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}
}

func TestStatusFor_Default(t *testing.T) {
	if got := statusFor(http.ErrBodyNotAllowed); got != http.StatusInternalServerError {
		t.Errorf("statusFor(plain error) = %d, want 500", got)
	}
}
