// Package transport performs single authenticated HTTP calls against the
// hosted document-intelligence service. Every failure is folded into a
// Result value; nothing is returned as an error or panic.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// ContentTypeJSON is the content type used for JSON operation calls.
const ContentTypeJSON = "application/json"

// Request describes one outbound call.
type Request struct {
	URL         string
	Method      string
	ContentType string
	Body        []byte
	// Token is sent as "Authorization: Bearer <Token>" when non-empty.
	Token string
}

// Result is the outcome of a call. When OK is false, Err describes the
// failure and Body holds the decoded error envelope if the server sent one.
type Result struct {
	OK         bool
	StatusCode int
	Body       map[string]json.RawMessage
	Err        string
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the transport adapter. It holds no per-call state and is safe
// for concurrent use.
type Client struct {
	http Doer
}

// New creates a Client. A nil doer uses a plain http.Client without a
// timeout; callers that need one impose it through ctx.
func New(doer Doer) *Client {
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{http: doer}
}

// Send performs exactly one HTTP request and decodes the JSON object body.
func (c *Client) Send(ctx context.Context, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(0, fmt.Sprintf("transport panic: %v", r))
		}
	}()

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return failed(0, "build request: "+err.Error())
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	return c.do(httpReq, req.Token)
}

func (c *Client) do(httpReq *http.Request, token string) Result {
	httpReq.Header.Set("Accept", ContentTypeJSON)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return failed(0, "request failed: "+err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failed(resp.StatusCode, "read response: "+err.Error())
	}

	envelope, decodeErr := decodeEnvelope(raw)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		res := failed(resp.StatusCode, fmt.Sprintf("unexpected status %d", resp.StatusCode))
		res.Body = envelope
		return res
	}
	if decodeErr != nil {
		return failed(resp.StatusCode, "malformed response body: "+decodeErr.Error())
	}
	return Result{OK: true, StatusCode: resp.StatusCode, Body: envelope}
}

func decodeEnvelope(raw []byte) (map[string]json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	if envelope == nil {
		return nil, fmt.Errorf("body is not a JSON object")
	}
	return envelope, nil
}

func failed(status int, msg string) Result {
	return Result{OK: false, StatusCode: status, Err: msg}
}
