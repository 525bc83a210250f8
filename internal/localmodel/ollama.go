package localmodel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

// ErrUnsupportedTask is returned for tasks a backend cannot serve.
var ErrUnsupportedTask = errors.New("unsupported task")

var taskInstructions = map[Task]string{
	TaskClassify:      "Classify the document into one of the given template names.",
	TaskTags:          "Suggest tags for the document, preferring the given existing tags.",
	TaskFolders:       "Choose or invent the folder this document belongs in.",
	TaskName:          "Suggest a concise document name or alias variations.",
	TaskRelationships: "List the names of the given files most related to the active file.",
	TaskFormat:        "Process the document content as instructed.",
	TaskChunks:        "Return the passages of the content relevant to the concept.",
	TaskVision:        "Transcribe all text visible in the attached image.",
}

// Ollama serves local invocations through an Ollama server's generate
// endpoint in JSON mode.
type Ollama struct {
	BaseURL string
	Client  *http.Client
}

var (
	_ Backend       = (*Ollama)(nil)
	_ TaskSupporter = (*Ollama)(nil)
)

// NewOllama creates an Ollama backend.
func NewOllama(baseURL string, timeout time.Duration) *Ollama {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOllamaURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Ollama{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// Supports reports whether the generate endpoint can serve task. Audio
// transcription is not one of them.
func (o *Ollama) Supports(task Task) bool {
	_, ok := taskInstructions[task]
	return ok
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Format string   `json:"format"`
	Stream bool     `json:"stream"`
	Images []string `json:"images,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Invoke implements Backend.
func (o *Ollama) Invoke(ctx context.Context, inv Invocation) (Response, error) {
	instruction, ok := taskInstructions[inv.Task]
	if !ok {
		return Response{}, fmt.Errorf("ollama: %w: %s", ErrUnsupportedTask, inv.Task)
	}

	inputs, err := json.Marshal(inv.Inputs)
	if err != nil {
		return Response{}, fmt.Errorf("ollama: marshal inputs: %w", err)
	}

	reqPayload := generateRequest{
		Model: inv.Model,
		Prompt: fmt.Sprintf("%s\nRespond with a JSON object containing the field %q.\nInput:\n%s",
			instruction, inv.Field, inputs),
		Format: "json",
	}
	for _, a := range inv.Attachments {
		reqPayload.Images = append(reqPayload.Images, base64.StdEncoding.EncodeToString(a))
	}

	payload, err := json.Marshal(reqPayload)
	if err != nil {
		return Response{}, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("ollama: status %d, body: %s", resp.StatusCode, string(body))
	}

	var gen generateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		return Response{}, fmt.Errorf("ollama: unmarshal response: %w", err)
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(gen.Response), &object); err != nil {
		return Response{}, fmt.Errorf("ollama: model output is not a JSON object: %w", err)
	}
	return Response{Object: object}, nil
}
