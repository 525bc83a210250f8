// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the document-intelligence operations as tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/presenter"
	"github.com/starford/ansuz/internal/router"
)

// Executor runs router operations.
type Executor interface {
	Execute(ctx context.Context, op router.Operation, req router.Request, rc router.RoutingContext) (router.Result, error)
}

// RoutingSource supplies the routing context for every tool call.
type RoutingSource interface {
	Routing() router.RoutingContext
}

// Server wraps the MCP server with the operation tools.
type Server struct {
	mcp      *server.MCPServer
	exec     Executor
	routing  RoutingSource
	images   *imageLoader
	handlers map[string]server.ToolHandlerFunc
}

type operationTool struct {
	name        string
	description string
	op          router.Operation
	params      []mcp.ToolOption
	build       func(req mcp.CallToolRequest) (router.Request, error)
}

// New creates a new MCP server with all tools registered.
func New(exec Executor, routing RoutingSource) *Server {
	s := &Server{
		exec:     exec,
		routing:  routing,
		images:   newImageLoader(),
		handlers: map[string]server.ToolHandlerFunc{},
	}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	for _, t := range operationTools() {
		opts := append([]mcp.ToolOption{mcp.WithDescription(t.description)}, t.params...)
		s.addTool(mcp.NewTool(t.name, opts...), s.operationHandler(t))
	}

	s.addTool(mcp.NewTool("extract_text",
		mcp.WithDescription("Extract the text visible in an image. Accepts an http(s) URL or a base64 data URI."),
		mcp.WithString("image", mcp.Required(), mcp.Description("Image URL or data:image/...;base64,... URI")),
	), s.extractText)

	s.addTool(mcp.NewTool("present_tool_invocation",
		mcp.WithDescription("Render an agent tool invocation the way the chat surface shows it."),
		mcp.WithString("invocation", mcp.Required(), mcp.Description(`Invocation JSON: {"toolCallId","toolName","args","result"?}`)),
		mcp.WithString("results", mcp.Description("Optional JSON array of search results (searchNotes only)")),
	), s.presentInvocation)

	s.mcp.AddResource(
		mcp.NewResource("ansuz://operations", "Operation Catalogue",
			mcp.WithResourceDescription("Every supported operation with its remote path and response fields."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCatalogueResource,
	)

	return s
}

func (s *Server) addTool(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.handlers[tool.Name] = h
	s.mcp.AddTool(tool, h)
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func operationTools() []operationTool {
	content := mcp.WithString("content", mcp.Required(), mcp.Description("Document content"))
	fileName := mcp.WithString("file_name", mcp.Description("Document file name"))
	list := func(name, desc string) mcp.ToolOption {
		return mcp.WithArray(name, mcp.Description(desc), mcp.WithStringItems())
	}

	return []operationTool{
		{
			name:        "classify_document",
			description: "Classify a document against a set of template names.",
			op:          router.OpClassify,
			params:      []mcp.ToolOption{content, fileName, list("template_names", "Candidate document types")},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				return router.Request{Content: c, FileName: req.GetString("file_name", ""), TemplateNames: req.GetStringSlice("template_names", nil)}, err
			},
		},
		{
			name:        "generate_tags",
			description: "Suggest tags for a document, preferring existing vault tags.",
			op:          router.OpTags,
			params:      []mcp.ToolOption{content, fileName, list("tags", "Existing vault tags")},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				return router.Request{Content: c, FileName: req.GetString("file_name", ""), Tags: req.GetStringSlice("tags", nil)}, err
			},
		},
		{
			name:        "create_folder",
			description: "Propose a new folder name for a document.",
			op:          router.OpCreateFolder,
			params:      []mcp.ToolOption{content, fileName, list("existing_folders", "Folders that already exist")},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				return router.Request{Content: c, FileName: req.GetString("file_name", ""), ExistingFolders: req.GetStringSlice("existing_folders", nil)}, err
			},
		},
		{
			name:        "generate_aliases",
			description: "Suggest alternative names for a document.",
			op:          router.OpAliases,
			params:      []mcp.ToolOption{content, fileName},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				return router.Request{Content: c, FileName: req.GetString("file_name", "")}, err
			},
		},
		{
			name:        "guess_folder",
			description: "Pick the best existing folder for a document. Returns null when nothing fits.",
			op:          router.OpFolders,
			params: []mcp.ToolOption{content,
				mcp.WithString("file_path", mcp.Description("Current path of the document")),
				list("folders", "Candidate folders")},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				return router.Request{Content: c, FileName: req.GetString("file_path", ""), Folders: req.GetStringSlice("folders", nil)}, err
			},
		},
		{
			name:        "find_relationships",
			description: "Find files related to the active document.",
			op:          router.OpRelationships,
			params:      []mcp.ToolOption{content, list("files", "Candidate file names")},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				names := req.GetStringSlice("files", nil)
				files := make([]router.FileRef, 0, len(names))
				for _, n := range names {
					files = append(files, router.FileRef{Name: n})
				}
				return router.Request{Content: c, Files: files}, err
			},
		},
		{
			name:        "generate_title",
			description: "Generate a title for a document.",
			op:          router.OpTitle,
			params: []mcp.ToolOption{content,
				mcp.WithString("current_name", mcp.Description("Current file name")),
				mcp.WithString("instructions", mcp.Description("Naming instructions"))},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				return router.Request{Content: c, CurrentName: req.GetString("current_name", ""), Instructions: req.GetString("instructions", "")}, err
			},
		},
		{
			name:        "format_content",
			description: "Rewrite a document following a formatting instruction.",
			op:          router.OpFormat,
			params: []mcp.ToolOption{content,
				mcp.WithString("formatting_instruction", mcp.Required(), mcp.Description("How to format the content"))},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				if err != nil {
					return router.Request{}, err
				}
				f, err := req.RequireString("formatting_instruction")
				return router.Request{Content: c, FormattingInstruction: f}, err
			},
		},
		{
			name:        "identify_concepts",
			description: "List the key concepts of a document.",
			op:          router.OpConcepts,
			params:      []mcp.ToolOption{content},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				return router.Request{Content: c}, err
			},
		},
		{
			name:        "fetch_chunks",
			description: "Extract the passage of a document that covers one concept.",
			op:          router.OpChunks,
			params: []mcp.ToolOption{content,
				mcp.WithString("concept", mcp.Required(), mcp.Description("Concept to extract"))},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				if err != nil {
					return router.Request{}, err
				}
				concept, err := req.RequireString("concept")
				return router.Request{Content: c, Concept: concept}, err
			},
		},
		{
			name:        "concepts_and_chunks",
			description: "List concepts together with the passage covering each.",
			op:          router.OpConceptsAndChunks,
			params:      []mcp.ToolOption{content},
			build: func(req mcp.CallToolRequest) (router.Request, error) {
				c, err := req.RequireString("content")
				return router.Request{Content: c}, err
			},
		},
	}
}

func (s *Server) operationHandler(t operationTool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := t.build(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return s.run(ctx, t.op, in), nil
	}
}

func (s *Server) run(ctx context.Context, op router.Operation, in router.Request) *mcp.CallToolResult {
	rc := s.routing.Routing()
	start := time.Now()
	res, err := s.exec.Execute(ctx, op, in, rc)
	if err != nil {
		slog.Warn("mcp: operation failed",
			slog.String("operation", op.String()),
			slog.Bool("remote", rc.UseRemote),
			slog.String("error", err.Error()))
		return mcp.NewToolResultError(err.Error())
	}
	slog.Debug("mcp: operation completed",
		slog.String("operation", op.String()),
		slog.Duration("elapsed", time.Since(start)))
	return mcp.NewToolResultText(renderResult(res))
}

// renderResult returns text results verbatim and everything else as JSON.
func renderResult(res router.Result) string {
	if v, ok := res.Value().(string); ok {
		return v
	}
	out, err := json.MarshalIndent(res.Value(), "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", res.Value())
	}
	return string(out)
}

func (s *Server) extractText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("image")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.images.load(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.run(ctx, router.OpVision, router.Request{Image: data}), nil
}

func (s *Server) presentInvocation(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("invocation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var inv presenter.Invocation
	if err := json.Unmarshal([]byte(raw), &inv); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid invocation: %v", err)), nil
	}

	var results presenter.ResultSet
	if rs := req.GetString("results", ""); rs != "" {
		if err := json.Unmarshal([]byte(rs), &results); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid results: %v", err)), nil
		}
	}
	return mcp.NewToolResultText(presenter.Present(inv, results).String()), nil
}

func (s *Server) readCatalogueResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "ansuz://operations",
			MIMEType: "text/markdown",
			Text:     catalogueMarkdown(),
		},
	}, nil
}

func catalogueMarkdown() string {
	var b strings.Builder
	b.WriteString("# Operations\n\n| Operation | Remote path | Response field | Local task | Required |\n|---|---|---|---|---|\n")
	for _, d := range router.Catalogue() {
		path := d.Path
		if path == "" {
			path = "(multipart transcription service)"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %t |\n", d.Name, path, d.RemoteField, d.Task, d.Required)
	}
	return b.String()
}
