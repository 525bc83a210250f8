package router

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/localmodel"
)

// route is one row of the dispatch table.
type route struct {
	path        string
	task        localmodel.Task
	remoteField string
	localField  string
	// required marks the field as the operation's sole payload: its absence
	// is a malformed response rather than an empty result.
	required bool
	shape    shape
	build    func(Request) (any, error)
}

var table = map[Operation]route{
	OpClassify: {
		path: "/api/classify1", task: localmodel.TaskClassify,
		remoteField: "documentType", localField: "documentType",
		shape: shapeText,
		build: func(r Request) (any, error) {
			return struct {
				Content       string   `json:"content"`
				FileName      string   `json:"fileName"`
				TemplateNames []string `json:"templateNames"`
			}{r.Content, r.FileName, orEmpty(r.TemplateNames)}, nil
		},
	},
	OpTags: {
		path: "/api/tags", task: localmodel.TaskTags,
		remoteField: "generatedTags", localField: "generatedTags",
		shape: shapeList,
		build: func(r Request) (any, error) {
			return struct {
				Content  string   `json:"content"`
				FileName string   `json:"fileName"`
				Tags     []string `json:"tags"`
			}{r.Content, r.FileName, orEmpty(r.Tags)}, nil
		},
	},
	OpCreateFolder: {
		path: "/api/create-folder", task: localmodel.TaskFolders,
		remoteField: "folderName", localField: "newFolderName",
		required: true, shape: shapeText,
		build: func(r Request) (any, error) {
			return struct {
				Content         string   `json:"content"`
				FileName        string   `json:"fileName"`
				ExistingFolders []string `json:"existingFolders"`
			}{r.Content, r.FileName, orEmpty(r.ExistingFolders)}, nil
		},
	},
	OpAliases: {
		path: "/api/aliases", task: localmodel.TaskName,
		remoteField: "aliases", localField: "aliases",
		shape: shapeList,
		build: func(r Request) (any, error) {
			return struct {
				FileName string `json:"fileName"`
				Content  string `json:"content"`
			}{r.FileName, r.Content}, nil
		},
	},
	OpFolders: {
		path: "/api/folders", task: localmodel.TaskFolders,
		remoteField: "folder", localField: "folder",
		shape: shapeNullableText,
		build: func(r Request) (any, error) {
			return struct {
				Content  string   `json:"content"`
				FileName string   `json:"fileName"`
				Folders  []string `json:"folders"`
			}{r.Content, r.FileName, orEmpty(r.Folders)}, nil
		},
	},
	OpRelationships: {
		path: "/api/relationships", task: localmodel.TaskRelationships,
		remoteField: "similarFiles", localField: "similarFiles",
		shape: shapeList,
		build: func(r Request) (any, error) {
			files := r.Files
			if files == nil {
				files = []FileRef{}
			}
			return struct {
				ActiveFileContent string    `json:"activeFileContent"`
				Files             []FileRef `json:"files"`
			}{r.Content, files}, nil
		},
	},
	OpTitle: {
		path: "/api/title", task: localmodel.TaskName,
		remoteField: "title", localField: "name",
		required: true, shape: shapeText,
		build: func(r Request) (any, error) {
			return struct {
				Document     string `json:"document"`
				Instructions string `json:"instructions"`
				CurrentName  string `json:"currentName"`
			}{r.Content, r.Instructions, r.CurrentName}, nil
		},
	},
	OpFormat: {
		path: "/api/format", task: localmodel.TaskFormat,
		remoteField: "content", localField: "formattedContent",
		required: true, shape: shapeText,
		build: func(r Request) (any, error) {
			return struct {
				Content               string `json:"content"`
				FormattingInstruction string `json:"formattingInstruction"`
			}{r.Content, r.FormattingInstruction}, nil
		},
	},
	OpConcepts: {
		path: "/api/concepts", task: localmodel.TaskFormat,
		remoteField: "concepts", localField: "concepts",
		shape: shapeList,
		build: contentOnly,
	},
	OpChunks: {
		path: "/api/chunks", task: localmodel.TaskChunks,
		remoteField: "content", localField: "content",
		shape: shapeChunk,
		build: func(r Request) (any, error) {
			return struct {
				Content string `json:"content"`
				Concept string `json:"concept"`
			}{r.Content, r.Concept}, nil
		},
	},
	OpVision: {
		path: "/api/vision", task: localmodel.TaskVision,
		remoteField: "text", localField: "text",
		required: true, shape: shapeText,
		build: func(r Request) (any, error) {
			if len(r.Image) == 0 {
				return nil, fmt.Errorf("%w: image is empty", apperr.ErrInvalidRequest)
			}
			return struct {
				Image string `json:"image"`
			}{base64.StdEncoding.EncodeToString(r.Image)}, nil
		},
	},
	OpConceptsAndChunks: {
		path: "/api/concepts-and-chunks", task: localmodel.TaskFormat,
		remoteField: "concepts", localField: "concepts",
		required: true, shape: shapeConcepts,
		build: contentOnly,
	},
	OpTranscription: {
		task:        localmodel.TaskTranscribe,
		remoteField: "transcript", localField: "transcript",
		required: true, shape: shapeText,
	},
}

func contentOnly(r Request) (any, error) {
	return struct {
		Content string `json:"content"`
	}{r.Content}, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// unwrap extracts field from an envelope into a Result of op's shape.
func unwrap(op Operation, s route, envelope map[string]json.RawMessage, field string) (Result, error) {
	res := Result{Operation: op}
	raw, ok := envelope[field]
	if !ok || isNull(raw) {
		if s.required {
			return Result{}, apperr.New(apperr.ErrMalformedResponse, op.String(),
				fmt.Sprintf("response field %q is missing", field))
		}
		switch s.shape {
		case shapeNullableText, shapeChunk:
			res.Null = true
		case shapeList:
			res.List = []string{}
		case shapeConcepts:
			res.Concepts = []ConceptChunk{}
		}
		return res, nil
	}

	var err error
	switch s.shape {
	case shapeList:
		err = json.Unmarshal(raw, &res.List)
		if res.List == nil {
			res.List = []string{}
		}
	case shapeConcepts:
		err = json.Unmarshal(raw, &res.Concepts)
		if res.Concepts == nil {
			res.Concepts = []ConceptChunk{}
		}
	default:
		err = json.Unmarshal(raw, &res.Text)
	}
	if err != nil {
		return Result{}, &apperr.OperationError{
			Kind:    apperr.ErrMalformedResponse,
			Op:      op.String(),
			Message: fmt.Sprintf("response field %q has unexpected type", field),
			Cause:   err,
		}
	}
	return res, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
