package router

import (
	"fmt"

	"github.com/starford/ansuz/internal/apperr"
)

// Operation identifies one document-intelligence capability.
type Operation int

const (
	OpClassify Operation = iota + 1
	OpTags
	OpCreateFolder
	OpAliases
	OpFolders
	OpRelationships
	OpTitle
	OpFormat
	OpConcepts
	OpChunks
	OpVision
	OpConceptsAndChunks
	OpTranscription
)

var operationNames = map[Operation]string{
	OpClassify:          "classify",
	OpTags:              "tags",
	OpCreateFolder:      "create-folder",
	OpAliases:           "aliases",
	OpFolders:           "folders",
	OpRelationships:     "relationships",
	OpTitle:             "title",
	OpFormat:            "format",
	OpConcepts:          "concepts",
	OpChunks:            "chunks",
	OpVision:            "vision",
	OpConceptsAndChunks: "concepts-and-chunks",
	OpTranscription:     "transcription",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// ParseOperation looks an operation up by its wire name.
func ParseOperation(name string) (Operation, error) {
	for op, n := range operationNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", apperr.ErrUnknownOperation, name)
}

// Operations returns every operation in declaration order.
func Operations() []Operation {
	out := make([]Operation, 0, len(operationNames))
	for op := OpClassify; op <= OpTranscription; op++ {
		out = append(out, op)
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (o Operation) MarshalText() ([]byte, error) {
	if _, ok := operationNames[o]; !ok {
		return nil, fmt.Errorf("%w: %d", apperr.ErrUnknownOperation, int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operation) UnmarshalText(text []byte) error {
	op, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}
