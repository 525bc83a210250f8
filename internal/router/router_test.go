package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/localmodel"
	"github.com/starford/ansuz/internal/transport"
)

type stubSender struct {
	mu       sync.Mutex
	result   transport.Result
	requests []transport.Request
	uploads  []transport.MultipartRequest
}

func (s *stubSender) Send(_ context.Context, req transport.Request) transport.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result
}

func (s *stubSender) Upload(_ context.Context, req transport.MultipartRequest) transport.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, req)
	return s.result
}

type stubBackend struct {
	mu    sync.Mutex
	resp  localmodel.Response
	err   error
	calls []localmodel.Invocation
}

func (b *stubBackend) Invoke(_ context.Context, inv localmodel.Invocation) (localmodel.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, inv)
	return b.resp, b.err
}

// partialBackend serves every task except the ones listed.
type partialBackend struct {
	stubBackend
	unsupported []localmodel.Task
}

func (b *partialBackend) Supports(task localmodel.Task) bool {
	return !slices.Contains(b.unsupported, task)
}

var allModels = localmodel.StaticResolver{
	localmodel.TaskClassify:      "m-classify",
	localmodel.TaskTags:          "m-tags",
	localmodel.TaskFolders:       "m-folders",
	localmodel.TaskName:          "m-name",
	localmodel.TaskRelationships: "m-rel",
	localmodel.TaskFormat:        "m-format",
	localmodel.TaskChunks:        "m-chunks",
	localmodel.TaskVision:        "m-vision",
	localmodel.TaskTranscribe:    "m-whisper",
}

var remoteCtx = RoutingContext{ServerURL: "https://organizer.example/", APIKey: "key", UseRemote: true}

func fullRequest() Request {
	return Request{
		Content:               "meeting notes about invoices",
		FileName:              "inbox/note.md",
		TemplateNames:         []string{"invoice", "meeting"},
		Tags:                  []string{"finance"},
		ExistingFolders:       []string{"Finance"},
		Folders:               []string{"Finance", "Work"},
		Files:                 []FileRef{{Name: "a.md"}, {Name: "b.md"}},
		Instructions:          "short",
		CurrentName:           "Untitled",
		FormattingInstruction: "bullet points",
		Concept:               "invoices",
		Image:                 []byte("png-bytes"),
		Audio:                 []byte("mp3-bytes"),
		FileExtension:         "mp3",
	}
}

func envelope(t *testing.T, fields map[string]any) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = raw
	}
	return out
}

func TestExecute_RemoteFailureYieldsRemoteError(t *testing.T) {
	sender := &stubSender{result: transport.Result{OK: false, StatusCode: 503, Err: "unexpected status 503"}}
	r := New(sender)

	for _, op := range Operations() {
		t.Run(op.String(), func(t *testing.T) {
			_, err := r.Execute(context.Background(), op, fullRequest(), remoteCtx)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrRemote)
			if op == OpTranscription {
				assert.ErrorIs(t, err, apperr.ErrTranscription)
			}
			var oe *apperr.OperationError
			require.True(t, errors.As(err, &oe))
			assert.Equal(t, 503, oe.StatusCode)
			assert.Equal(t, op.String(), oe.Op)
		})
	}
}

func TestExecute_LocalRejectionYieldsLocalModelError(t *testing.T) {
	backend := &stubBackend{err: errors.New("model crashed")}
	r := New(&stubSender{}, WithLocalBackend(backend, allModels))

	for _, op := range Operations() {
		t.Run(op.String(), func(t *testing.T) {
			_, err := r.Execute(context.Background(), op, fullRequest(), RoutingContext{})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrLocalModel)
			assert.Contains(t, err.Error(), "model crashed")
		})
	}
}

func TestExecute_ClassifyRoundTrip(t *testing.T) {
	sender := &stubSender{result: transport.Result{OK: true, StatusCode: 200, Body: envelope(t, map[string]any{"documentType": "invoice"})}}
	r := New(sender)

	got, err := r.Classify(context.Background(), remoteCtx, "total due", "bill.md", []string{"invoice"})
	require.NoError(t, err)
	assert.Equal(t, "invoice", got)

	require.Len(t, sender.requests, 1)
	req := sender.requests[0]
	assert.Equal(t, "https://organizer.example/api/classify1", req.URL)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, transport.ContentTypeJSON, req.ContentType)
	assert.Equal(t, "key", req.Token)
	assert.JSONEq(t, `{"content":"total due","fileName":"bill.md","templateNames":["invoice"]}`, string(req.Body))
}

func TestExecute_RemoteWireContract(t *testing.T) {
	image := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	cases := []struct {
		op   Operation
		path string
		body string
	}{
		{OpClassify, "/api/classify1", `{"content":"meeting notes about invoices","fileName":"inbox/note.md","templateNames":["invoice","meeting"]}`},
		{OpTags, "/api/tags", `{"content":"meeting notes about invoices","fileName":"inbox/note.md","tags":["finance"]}`},
		{OpCreateFolder, "/api/create-folder", `{"content":"meeting notes about invoices","fileName":"inbox/note.md","existingFolders":["Finance"]}`},
		{OpAliases, "/api/aliases", `{"fileName":"inbox/note.md","content":"meeting notes about invoices"}`},
		{OpFolders, "/api/folders", `{"content":"meeting notes about invoices","fileName":"inbox/note.md","folders":["Finance","Work"]}`},
		{OpRelationships, "/api/relationships", `{"activeFileContent":"meeting notes about invoices","files":[{"name":"a.md"},{"name":"b.md"}]}`},
		{OpTitle, "/api/title", `{"document":"meeting notes about invoices","instructions":"short","currentName":"Untitled"}`},
		{OpFormat, "/api/format", `{"content":"meeting notes about invoices","formattingInstruction":"bullet points"}`},
		{OpConcepts, "/api/concepts", `{"content":"meeting notes about invoices"}`},
		{OpChunks, "/api/chunks", `{"content":"meeting notes about invoices","concept":"invoices"}`},
		{OpVision, "/api/vision", `{"image":"` + image + `"}`},
		{OpConceptsAndChunks, "/api/concepts-and-chunks", `{"content":"meeting notes about invoices"}`},
	}
	for _, tc := range cases {
		t.Run(tc.op.String(), func(t *testing.T) {
			sender := &stubSender{result: transport.Result{OK: false, Err: "stop"}}
			_, _ = New(sender).Execute(context.Background(), tc.op, fullRequest(), remoteCtx)
			require.Len(t, sender.requests, 1)
			assert.Equal(t, "https://organizer.example"+tc.path, sender.requests[0].URL)
			assert.JSONEq(t, tc.body, string(sender.requests[0].Body))
		})
	}
}

func TestExecute_NilSlicesEncodeAsEmptyArrays(t *testing.T) {
	sender := &stubSender{result: transport.Result{OK: false, Err: "stop"}}
	_, _ = New(sender).Execute(context.Background(), OpTags, Request{Content: "c", FileName: "f"}, remoteCtx)
	require.Len(t, sender.requests, 1)
	assert.JSONEq(t, `{"content":"c","fileName":"f","tags":[]}`, string(sender.requests[0].Body))
}

func TestExecute_Idempotent(t *testing.T) {
	sender := &stubSender{result: transport.Result{OK: true, Body: envelope(t, map[string]any{
		"concepts": []map[string]string{{"name": "tax", "chunk": "VAT is 20%"}},
	})}}
	r := New(sender)

	first, err := r.Execute(context.Background(), OpConceptsAndChunks, fullRequest(), remoteCtx)
	require.NoError(t, err)
	second, err := r.Execute(context.Background(), OpConceptsAndChunks, fullRequest(), remoteCtx)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("results differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, sender.requests[0].Body, sender.requests[1].Body)
	assert.Equal(t, []ConceptChunk{{Name: "tax", Chunk: "VAT is 20%"}}, first.Concepts)
}

func TestExecute_ConceptsAndChunksMissingIsMalformed(t *testing.T) {
	sender := &stubSender{result: transport.Result{OK: true, Body: envelope(t, map[string]any{"other": 1})}}
	_, err := New(sender).Execute(context.Background(), OpConceptsAndChunks, Request{Content: "x"}, remoteCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrMalformedResponse)
}

func TestExecute_RequiredFieldsMissingAreMalformed(t *testing.T) {
	for _, op := range []Operation{OpCreateFolder, OpTitle, OpFormat, OpVision, OpConceptsAndChunks, OpTranscription} {
		t.Run(op.String(), func(t *testing.T) {
			sender := &stubSender{result: transport.Result{OK: true, Body: map[string]json.RawMessage{}}}
			_, err := New(sender).Execute(context.Background(), op, fullRequest(), remoteCtx)
			assert.ErrorIs(t, err, apperr.ErrMalformedResponse)
		})
	}
}

func TestExecute_OptionalFieldsFallBackToEmpty(t *testing.T) {
	sender := &stubSender{result: transport.Result{OK: true, Body: map[string]json.RawMessage{"folder": json.RawMessage("null")}}}
	r := New(sender)
	ctx := context.Background()

	doc, err := r.Classify(ctx, remoteCtx, "c", "f", nil)
	require.NoError(t, err)
	assert.Equal(t, "", doc)

	tags, err := r.GenerateTags(ctx, remoteCtx, "c", "f", nil)
	require.NoError(t, err)
	assert.NotNil(t, tags)
	assert.Empty(t, tags)

	aliases, err := r.GenerateAliases(ctx, remoteCtx, "f", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{}, aliases)

	folder, ok, err := r.GuessFolder(ctx, remoteCtx, "c", "f", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", folder)

	chunk, err := r.FetchChunks(ctx, remoteCtx, "c", "x")
	require.NoError(t, err)
	assert.Nil(t, chunk.Content)

	similar, err := r.FindRelationships(ctx, remoteCtx, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{}, similar)

	concepts, err := r.IdentifyConcepts(ctx, remoteCtx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{}, concepts)
}

func TestExecute_WrongFieldTypeIsMalformed(t *testing.T) {
	sender := &stubSender{result: transport.Result{OK: true, Body: envelope(t, map[string]any{"title": 42})}}
	_, err := New(sender).GenerateTitle(context.Background(), remoteCtx, "c", "n", "")
	assert.ErrorIs(t, err, apperr.ErrMalformedResponse)
}

func TestExecute_RemoteErrorCarriesServerMessage(t *testing.T) {
	sender := &stubSender{result: transport.Result{OK: false, StatusCode: 401, Err: "unexpected status 401",
		Body: envelope(t, map[string]any{"error": "invalid api key"})}}
	_, err := New(sender).Execute(context.Background(), OpTags, Request{}, remoteCtx)
	require.Error(t, err)
	assert.Equal(t, "invalid api key", apperr.Message(err))
}

func TestExecute_RemoteRequiresCredentials(t *testing.T) {
	sender := &stubSender{}
	r := New(sender)
	for _, rc := range []RoutingContext{
		{UseRemote: true, APIKey: "key"},
		{UseRemote: true, ServerURL: "https://x.example"},
		{UseRemote: true, ServerURL: "ftp://x.example", APIKey: "key"},
	} {
		_, err := r.Execute(context.Background(), OpTags, Request{}, rc)
		assert.ErrorIs(t, err, apperr.ErrConfiguration, "%s", rc)
	}
	assert.Empty(t, sender.requests, "no call may be made with an invalid context")
}

func TestExecute_LocalRequiresBackendAndModel(t *testing.T) {
	_, err := New(&stubSender{}).Execute(context.Background(), OpTags, Request{}, RoutingContext{})
	assert.ErrorIs(t, err, apperr.ErrConfiguration)

	backend := &stubBackend{}
	r := New(&stubSender{}, WithLocalBackend(backend, localmodel.StaticResolver{localmodel.TaskTags: "m"}))
	_, err = r.Execute(context.Background(), OpTitle, Request{}, RoutingContext{})
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Empty(t, backend.calls)
}

func TestExecute_LocalUnsupportedTaskIsConfigurationError(t *testing.T) {
	backend := &partialBackend{unsupported: []localmodel.Task{localmodel.TaskTranscribe}}
	r := New(&stubSender{}, WithLocalBackend(backend, allModels))

	_, err := r.Execute(context.Background(), OpTranscription, Request{Audio: []byte("RIFF"), FileExtension: "wav"}, RoutingContext{})
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Contains(t, err.Error(), `cannot serve task "transcribe"`)
	assert.Empty(t, backend.calls)
}

func TestExecute_LocalUnwrapsObjectFields(t *testing.T) {
	backend := &stubBackend{resp: localmodel.Response{Object: envelope(t, map[string]any{
		"name":          "Quarterly invoice",
		"newFolderName": "Finance/Invoices",
	})}}
	r := New(&stubSender{}, WithLocalBackend(backend, allModels))
	ctx := context.Background()

	title, err := r.GenerateTitle(ctx, RoutingContext{}, "content", "Untitled", "short")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly invoice", title)

	folder, err := r.CreateFolder(ctx, RoutingContext{}, "content", "f.md", nil)
	require.NoError(t, err)
	assert.Equal(t, "Finance/Invoices", folder)

	require.Len(t, backend.calls, 2)
	assert.Equal(t, localmodel.TaskName, backend.calls[0].Task)
	assert.Equal(t, "m-name", backend.calls[0].Model)
	assert.Equal(t, "name", backend.calls[0].Field)
	assert.Equal(t, Request{Content: "content", CurrentName: "Untitled", Instructions: "short"}, backend.calls[0].Inputs)
	assert.Equal(t, localmodel.TaskFolders, backend.calls[1].Task)
}

func TestExecute_LocalVisionPassesRawImage(t *testing.T) {
	backend := &stubBackend{resp: localmodel.Response{Object: envelope(t, map[string]any{"text": "scanned"})}}
	r := New(&stubSender{}, WithLocalBackend(backend, allModels))

	text, err := r.ExtractText(context.Background(), RoutingContext{}, []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "scanned", text)
	require.Len(t, backend.calls, 1)
	assert.Equal(t, [][]byte{[]byte("png")}, backend.calls[0].Attachments)
	assert.Equal(t, Request{}, backend.calls[0].Inputs)
}

func TestExecute_LocalNilObjectIsMalformedForRequiredField(t *testing.T) {
	r := New(&stubSender{}, WithLocalBackend(&stubBackend{}, allModels))
	_, err := r.FormatContent(context.Background(), RoutingContext{}, "c", "i")
	assert.ErrorIs(t, err, apperr.ErrMalformedResponse)
}

func TestExecute_VisionRequiresImage(t *testing.T) {
	sender := &stubSender{}
	_, err := New(sender).ExtractText(context.Background(), remoteCtx, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	assert.Empty(t, sender.requests)
}

func TestExecute_UnknownOperation(t *testing.T) {
	_, err := New(&stubSender{}).Execute(context.Background(), Operation(99), Request{}, remoteCtx)
	assert.ErrorIs(t, err, apperr.ErrUnknownOperation)
}

func TestResult_Value(t *testing.T) {
	text := "Finance"
	assert.Equal(t, &text, Result{Operation: OpFolders, Text: "Finance"}.Value())
	assert.Equal(t, (*string)(nil), Result{Operation: OpFolders, Null: true}.Value())
	assert.Equal(t, Chunk{}, Result{Operation: OpChunks, Null: true}.Value())
	assert.Equal(t, []string{"a"}, Result{Operation: OpTags, List: []string{"a"}}.Value())
	assert.Equal(t, "x", Result{Operation: OpTitle, Text: "x"}.Value())
}

func TestRoutingContext_StringHidesKey(t *testing.T) {
	assert.NotContains(t, remoteCtx.String(), "key")
}
