package router

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// RoutingContext selects and authenticates the backend for one call.
type RoutingContext struct {
	ServerURL string `json:"serverUrl" yaml:"server_url"`
	APIKey    string `json:"apiKey" yaml:"api_key"`
	UseRemote bool   `json:"useRemote" yaml:"use_remote"`
}

// Validate checks the fields the remote path depends on.
func (c RoutingContext) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.ServerURL, validation.When(c.UseRemote, validation.Required)),
		validation.Field(&c.APIKey, validation.When(c.UseRemote, validation.Required)),
	); err != nil {
		return err
	}
	if c.UseRemote && !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("serverUrl: must be an http(s) URL")
	}
	return nil
}

// String never includes the API key.
func (c RoutingContext) String() string {
	return fmt.Sprintf("RoutingContext{ServerURL:%s UseRemote:%t}", c.ServerURL, c.UseRemote)
}

// FileRef names a candidate file for relationship discovery.
type FileRef struct {
	Name string `json:"name"`
}

// Request carries the semantic inputs of an operation. Each operation
// reads only the fields its wire contract names.
type Request struct {
	Content               string    `json:"content,omitempty"`
	FileName              string    `json:"fileName,omitempty"`
	TemplateNames         []string  `json:"templateNames,omitempty"`
	Tags                  []string  `json:"tags,omitempty"`
	ExistingFolders       []string  `json:"existingFolders,omitempty"`
	Folders               []string  `json:"folders,omitempty"`
	Files                 []FileRef `json:"files,omitempty"`
	Instructions          string    `json:"instructions,omitempty"`
	CurrentName           string    `json:"currentName,omitempty"`
	FormattingInstruction string    `json:"formattingInstruction,omitempty"`
	Concept               string    `json:"concept,omitempty"`
	Image                 []byte    `json:"image,omitempty"`
	Audio                 []byte    `json:"audio,omitempty"`
	FileExtension         string    `json:"fileExtension,omitempty"`
}

// withoutBinary returns a copy of r with the binary payloads removed.
func (r Request) withoutBinary() Request {
	r.Image = nil
	r.Audio = nil
	return r
}

// ConceptChunk pairs a concept with the content chunk that explains it.
type ConceptChunk struct {
	Name  string `json:"name"`
	Chunk string `json:"chunk"`
}

// Chunk is the result of a chunks-for-concept call.
type Chunk struct {
	Content *string `json:"content"`
}

type shape int

const (
	shapeText shape = iota
	shapeNullableText
	shapeList
	shapeChunk
	shapeConcepts
)

// Result is the canonical outcome of an operation, identical for both
// backends. Value returns it in the operation's natural shape.
type Result struct {
	Operation Operation
	Text      string
	// Null reports that a nullable text result (folders, chunks) was absent.
	Null     bool
	List     []string
	Concepts []ConceptChunk
}

// Value returns the result as a string, *string, []string, Chunk or
// []ConceptChunk depending on the operation.
func (r Result) Value() any {
	s, ok := table[r.Operation]
	if !ok {
		return nil
	}
	switch s.shape {
	case shapeNullableText:
		if r.Null {
			return (*string)(nil)
		}
		text := r.Text
		return &text
	case shapeList:
		return r.List
	case shapeChunk:
		if r.Null {
			return Chunk{}
		}
		text := r.Text
		return Chunk{Content: &text}
	case shapeConcepts:
		return r.Concepts
	default:
		return r.Text
	}
}
