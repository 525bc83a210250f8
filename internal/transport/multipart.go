package transport

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// FilePart is a binary part of a multipart upload.
type FilePart struct {
	Field       string
	FileName    string
	ContentType string
	Data        []byte
}

// Field is a plain text part of a multipart upload.
type Field struct {
	Name  string
	Value string
}

// MultipartRequest describes a multipart/form-data POST.
type MultipartRequest struct {
	URL    string
	Token  string
	Files  []FilePart
	Fields []Field
}

// Upload posts a multipart form. Failures follow the same rules as Send.
func (c *Client) Upload(ctx context.Context, req MultipartRequest) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(0, fmt.Sprintf("transport panic: %v", r))
		}
	}()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range req.Files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.FileName))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return failed(0, "build multipart body: "+err.Error())
		}
		if _, err := part.Write(f.Data); err != nil {
			return failed(0, "write multipart file: "+err.Error())
		}
	}
	for _, f := range req.Fields {
		if err := writer.WriteField(f.Name, f.Value); err != nil {
			return failed(0, "write multipart field: "+err.Error())
		}
	}
	if err := writer.Close(); err != nil {
		return failed(0, "finalize multipart body: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body.Bytes()))
	if err != nil {
		return failed(0, "build request: "+err.Error())
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(httpReq, req.Token)
}
