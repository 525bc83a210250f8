// Package inbox computes organization suggestions for notes dropped into
// the vault's inbox folder. It only reads the vault; acting on a
// suggestion is left to the host.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/router"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
)

// ErrUnchanged is returned by Process when the note's content has not
// changed since it was last processed successfully.
var ErrUnchanged = errors.New("inbox: note unchanged")

// Operations is the subset of the router the pipeline calls.
type Operations interface {
	Classify(ctx context.Context, rc router.RoutingContext, content, fileName string, templateNames []string) (string, error)
	GenerateTags(ctx context.Context, rc router.RoutingContext, content, fileName string, tags []string) ([]string, error)
	GenerateTitle(ctx context.Context, rc router.RoutingContext, content, currentName, instructions string) (string, error)
	GuessFolder(ctx context.Context, rc router.RoutingContext, content, filePath string, folders []string) (string, bool, error)
	GenerateAliases(ctx context.Context, rc router.RoutingContext, fileName, content string) ([]string, error)
}

// RoutingSource supplies the routing context for each note.
type RoutingSource interface {
	Routing() router.RoutingContext
}

// Publisher receives suggestions and failures.
type Publisher interface {
	PublishInboxEvent(kind string, data any)
}

// StageError attributes a failure to the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// Processor turns inbox notes into suggestions.
type Processor struct {
	ops       Operations
	store     storage.Provider
	routing   RoutingSource
	events    Publisher
	folder    string
	templates []string
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]string // path -> checksum of the last processed content
}

// NewProcessor creates a Processor for the inbox at folder (relative to
// the vault root). events may be nil.
func NewProcessor(ops Operations, store storage.Provider, routing RoutingSource, events Publisher, folder string, templates []string, logger *slog.Logger) *Processor {
	return &Processor{
		ops:       ops,
		store:     store,
		routing:   routing,
		events:    events,
		folder:    strings.Trim(path.Clean("/"+folder), "/"),
		templates: templates,
		logger:    logger,
		seen:      make(map[string]string),
	}
}

// Folder returns the inbox folder relative to the vault root.
func (p *Processor) Folder() string {
	return p.folder
}

// Scan processes every note currently in the inbox.
func (p *Processor) Scan(ctx context.Context) {
	metas, err := p.store.List(p.folder)
	if err != nil {
		p.logger.Warn("inbox: scan failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range metas {
		if ctx.Err() != nil {
			return
		}
		p.Handle(ctx, m.Path)
	}
}

// Handle processes one note and publishes the outcome.
func (p *Processor) Handle(ctx context.Context, rel string) {
	s, err := p.Process(ctx, rel)
	switch {
	case errors.Is(err, ErrUnchanged):
		p.logger.Debug("inbox: unchanged", slog.String("path", rel))
	case err != nil:
		stage := "read"
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		p.logger.Warn("inbox: processing failed",
			slog.String("path", rel),
			slog.String("stage", stage),
			slog.String("error", err.Error()))
		if p.events != nil {
			p.events.PublishInboxEvent(sse.TypeInboxFailed, models.Failure{Path: rel, Stage: stage, Error: err.Error()})
		}
	default:
		p.logger.Info("inbox: suggestion ready",
			slog.String("path", rel),
			slog.String("document_type", s.DocumentType),
			slog.String("title", s.Title))
		if p.events != nil {
			p.events.PublishInboxEvent(sse.TypeInboxSuggestion, s)
		}
	}
}

// Forget drops the remembered checksum for rel so the next Process call
// recomputes it.
func (p *Processor) Forget(rel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, rel)
}

// Process computes the suggestion for the note at rel (relative to the
// vault root). The five router calls run concurrently.
func (p *Processor) Process(ctx context.Context, rel string) (models.Suggestion, error) {
	data, err := p.store.Read(rel)
	if err != nil {
		return models.Suggestion{}, &StageError{Stage: "read", Err: err}
	}
	sum := checksum.Sum(data)

	p.mu.Lock()
	unchanged := p.seen[rel] == sum
	p.mu.Unlock()
	if unchanged {
		return models.Suggestion{}, ErrUnchanged
	}

	parsed, err := parser.Parse(data)
	if err != nil {
		return models.Suggestion{}, &StageError{Stage: "parse", Err: err}
	}

	folders, err := p.candidateFolders()
	if err != nil {
		return models.Suggestion{}, &StageError{Stage: "folders", Err: err}
	}
	vaultTags, err := p.vaultTags()
	if err != nil {
		return models.Suggestion{}, &StageError{Stage: "tags", Err: err}
	}

	rc := p.routing.Routing()
	name := strings.TrimSuffix(path.Base(rel), ".md")
	content := parsed.Body
	s := models.Suggestion{Path: rel, Checksum: sum}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := p.ops.Classify(gCtx, rc, content, name, p.templates)
		s.DocumentType = v
		return stage("classify", err)
	})
	g.Go(func() error {
		v, err := p.ops.GenerateTags(gCtx, rc, content, name, vaultTags)
		s.Tags = mergeTags(parsed.Tags, v)
		return stage("tags", err)
	})
	g.Go(func() error {
		v, err := p.ops.GenerateTitle(gCtx, rc, content, name, "")
		s.Title = v
		return stage("title", err)
	})
	g.Go(func() error {
		v, ok, err := p.ops.GuessFolder(gCtx, rc, content, rel, folders)
		if ok {
			s.Folder = &v
		}
		return stage("folders", err)
	})
	g.Go(func() error {
		v, err := p.ops.GenerateAliases(gCtx, rc, name, content)
		s.Aliases = mergeTags(parsed.Aliases, v)
		return stage("aliases", err)
	})
	if err := g.Wait(); err != nil {
		return models.Suggestion{}, err
	}

	s.CreatedAt = time.Now().UTC()
	p.mu.Lock()
	p.seen[rel] = sum
	p.mu.Unlock()
	return s, nil
}

func stage(name string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: name, Err: err}
}

// candidateFolders lists vault folders outside the inbox.
func (p *Processor) candidateFolders() ([]string, error) {
	all, err := p.store.Folders()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, f := range all {
		if !p.inInbox(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// vaultTags gathers the tags used by notes outside the inbox, sorted.
func (p *Processor) vaultTags() ([]string, error) {
	metas, err := p.store.List("")
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, m := range metas {
		if p.inInbox(m.Path) {
			continue
		}
		data, err := p.store.Read(m.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", m.Path, err)
		}
		parsed, err := parser.Parse(data)
		if err != nil {
			continue
		}
		for _, t := range parsed.Tags {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	slices.Sort(out)
	return out, nil
}

func (p *Processor) inInbox(rel string) bool {
	if p.folder == "" {
		return true
	}
	return rel == p.folder || strings.HasPrefix(rel, p.folder+"/")
}

// mergeTags returns existing followed by the new values not already present.
func mergeTags(existing, generated []string) []string {
	out := make([]string, 0, len(existing)+len(generated))
	seen := make(map[string]struct{}, cap(out))
	for _, list := range [][]string{existing, generated} {
		for _, t := range list {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
