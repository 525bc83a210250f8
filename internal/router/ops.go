package router

import "context"

// Descriptor documents one row of the dispatch table.
type Descriptor struct {
	Name        string `json:"name"`
	Path        string `json:"path,omitempty"`
	Task        string `json:"task"`
	RemoteField string `json:"remoteField"`
	LocalField  string `json:"localField"`
	Required    bool   `json:"required"`
}

// Catalogue describes every operation in declaration order.
func Catalogue() []Descriptor {
	ops := Operations()
	out := make([]Descriptor, 0, len(ops))
	for _, op := range ops {
		s := table[op]
		out = append(out, Descriptor{
			Name:        op.String(),
			Path:        s.path,
			Task:        string(s.task),
			RemoteField: s.remoteField,
			LocalField:  s.localField,
			Required:    s.required,
		})
	}
	return out
}

// Classify returns the document type, or "" when the backend gave none.
func (r *Router) Classify(ctx context.Context, rc RoutingContext, content, fileName string, templateNames []string) (string, error) {
	res, err := r.Execute(ctx, OpClassify, Request{Content: content, FileName: fileName, TemplateNames: templateNames}, rc)
	return res.Text, err
}

// GenerateTags returns suggested tags; empty when the backend gave none.
func (r *Router) GenerateTags(ctx context.Context, rc RoutingContext, content, fileName string, tags []string) ([]string, error) {
	res, err := r.Execute(ctx, OpTags, Request{Content: content, FileName: fileName, Tags: tags}, rc)
	return res.List, err
}

// CreateFolder returns a new folder name. A missing name is malformed.
func (r *Router) CreateFolder(ctx context.Context, rc RoutingContext, content, fileName string, existingFolders []string) (string, error) {
	res, err := r.Execute(ctx, OpCreateFolder, Request{Content: content, FileName: fileName, ExistingFolders: existingFolders}, rc)
	return res.Text, err
}

// GenerateAliases returns alternative names for the note, possibly none.
func (r *Router) GenerateAliases(ctx context.Context, rc RoutingContext, fileName, content string) ([]string, error) {
	res, err := r.Execute(ctx, OpAliases, Request{FileName: fileName, Content: content}, rc)
	return res.List, err
}

// GuessFolder returns the suggested folder; ok is false when the backend
// had no suggestion.
func (r *Router) GuessFolder(ctx context.Context, rc RoutingContext, content, filePath string, folders []string) (folder string, ok bool, err error) {
	res, err := r.Execute(ctx, OpFolders, Request{Content: content, FileName: filePath, Folders: folders}, rc)
	if err != nil {
		return "", false, err
	}
	return res.Text, !res.Null, nil
}

// FindRelationships returns the names of files similar to the active one.
func (r *Router) FindRelationships(ctx context.Context, rc RoutingContext, activeFileContent string, files []FileRef) ([]string, error) {
	res, err := r.Execute(ctx, OpRelationships, Request{Content: activeFileContent, Files: files}, rc)
	return res.List, err
}

// GenerateTitle returns a title for content. A missing title is malformed.
func (r *Router) GenerateTitle(ctx context.Context, rc RoutingContext, content, currentName, instructions string) (string, error) {
	res, err := r.Execute(ctx, OpTitle, Request{Content: content, CurrentName: currentName, Instructions: instructions}, rc)
	return res.Text, err
}

// FormatContent returns content rewritten per formattingInstruction.
func (r *Router) FormatContent(ctx context.Context, rc RoutingContext, content, formattingInstruction string) (string, error) {
	res, err := r.Execute(ctx, OpFormat, Request{Content: content, FormattingInstruction: formattingInstruction}, rc)
	return res.Text, err
}

// IdentifyConcepts returns the key concepts of content, possibly none.
func (r *Router) IdentifyConcepts(ctx context.Context, rc RoutingContext, content string) ([]string, error) {
	res, err := r.Execute(ctx, OpConcepts, Request{Content: content}, rc)
	return res.List, err
}

// FetchChunks returns the passages of content about concept. Chunk.Content
// is nil when the backend returned no content field.
func (r *Router) FetchChunks(ctx context.Context, rc RoutingContext, content, concept string) (Chunk, error) {
	res, err := r.Execute(ctx, OpChunks, Request{Content: content, Concept: concept}, rc)
	if err != nil {
		return Chunk{}, err
	}
	return res.Value().(Chunk), nil
}

// ExtractText runs OCR over image; the bytes are base64-encoded for the
// remote path.
func (r *Router) ExtractText(ctx context.Context, rc RoutingContext, image []byte) (string, error) {
	res, err := r.Execute(ctx, OpVision, Request{Image: image}, rc)
	return res.Text, err
}

// ConceptsAndChunks returns every concept with its passage. Unlike
// IdentifyConcepts, a missing concepts field is malformed.
func (r *Router) ConceptsAndChunks(ctx context.Context, rc RoutingContext, content string) ([]ConceptChunk, error) {
	res, err := r.Execute(ctx, OpConceptsAndChunks, Request{Content: content}, rc)
	return res.Concepts, err
}

// Transcribe returns the transcript of audio. fileExtension names the
// audio format, with or without a leading dot.
func (r *Router) Transcribe(ctx context.Context, rc RoutingContext, audio []byte, fileExtension string) (string, error) {
	res, err := r.Execute(ctx, OpTranscription, Request{Audio: audio, FileExtension: fileExtension}, rc)
	return res.Text, err
}
