// Package renderer converts preview documents to HTML. Before markdown
// conversion each document is classified and run through the auto-fixer,
// so bare Mermaid source renders the same way as a fenced block and known
// diagram syntax mistakes never reach the client.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"go.abhg.dev/goldmark/anchor"

	"github.com/euforicio/mdpreview/internal/autofix"
	"github.com/euforicio/mdpreview/internal/classify"
	d2renderer "github.com/euforicio/mdpreview/internal/renderer/d2"
	"github.com/euforicio/mdpreview/internal/renderer/transform"
)

// Metadata captures optional frontmatter data rendered alongside a document.
type Metadata struct {
	Raw         map[string]any
	Title       string
	Description string
	Tags        []string
}

// IsZero reports whether the metadata carries any meaningful values.
func (m Metadata) IsZero() bool {
	if m.Title != "" || m.Description != "" || len(m.Tags) > 0 {
		return false
	}
	return len(m.Raw) == 0
}

// Document is a fully processed preview document.
type Document struct {
	HTML           string
	Raw            string
	Corrected      string
	AppliedFixes   []string
	Classification classify.Result
	Metadata       Metadata
	Modified       time.Time
}

type cacheEntry struct {
	modTime time.Time
	doc     Document
}

type cacheKey string

// Service runs the classify → fix → convert pipeline with per-path
// caching by path and modification time.
type Service struct {
	md     goldmark.Markdown
	logger *slog.Logger
	cache  sync.Map // map[cacheKey]cacheEntry
}

// contextKey for storing document path
var docPathKey = parser.NewContextKey()

// linkTransformer rewrites .md links to /view/ routes and image paths to
// /media/ routes so relative references keep working inside the preview.
type linkTransformer struct{}

func (t *linkTransformer) Transform(node *ast.Document, _ text.Reader, pc parser.Context) {
	currentPath := ""
	if v := pc.Get(docPathKey); v != nil {
		if str, ok := v.(string); ok {
			currentPath = str
		}
	}
	currentDir := path.Dir(currentPath)

	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := n.(type) {
		case *ast.Link:
			t.transformLink(typed, currentDir)
		case *ast.Image:
			t.transformImage(typed, currentDir)
		}
		return ast.WalkContinue, nil
	})
}

func (t *linkTransformer) transformLink(link *ast.Link, currentDir string) {
	dest := string(link.Destination)
	if dest == "" || isExternalLink(dest) || strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "/view/") {
		return
	}
	if !strings.HasSuffix(dest, ".md") && !strings.HasSuffix(dest, ".markdown") {
		return
	}
	link.Destination = []byte("/view/" + normalizeRelPath(dest, currentDir))
}

func (t *linkTransformer) transformImage(img *ast.Image, currentDir string) {
	dest := string(img.Destination)
	if dest == "" || isExternalLink(dest) || strings.HasPrefix(dest, "/media/") || strings.HasPrefix(dest, "/static/") || strings.HasPrefix(dest, "data:") {
		return
	}
	img.Destination = []byte("/media/" + normalizeRelPath(dest, currentDir))
}

func isExternalLink(dest string) bool {
	return strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://")
}

func normalizeRelPath(dest, currentDir string) string {
	if !strings.HasPrefix(dest, "/") {
		if currentDir != "" && currentDir != "." {
			dest = path.Join(currentDir, dest)
		}
		dest = path.Clean(dest)
	}
	return strings.TrimPrefix(dest, "/")
}

// NewService constructs the markdown pipeline. Mermaid fences become divs
// hydrated client-side; D2 fences are compiled to SVG on the server when a
// D2 renderer is supplied (nil disables that transform). Everything else
// follows GitHub-flavored markdown with chroma highlighting.
func NewService(logger *slog.Logger, d2 *d2renderer.Renderer) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle("github-dark"),
		highlighting.WithFormatOptions(
			html.WithLineNumbers(false),
			html.WithClasses(true),
		),
		highlighting.WithWrapperRenderer(transform.DiagramWrapper()),
	)

	parserOptions := []parser.Option{
		parser.WithAutoHeadingID(),
		parser.WithAttribute(),
		parser.WithASTTransformers(
			util.Prioritized(&linkTransformer{}, 100),
		),
	}

	options := []goldmark.Option{
		goldmark.WithExtensions(
			extension.GFM,
			goldmarkmeta.Meta,
			highlight,
			&anchor.Extender{
				Position: anchor.After,
			},
		),
		goldmark.WithRendererOptions(
			// Raw HTML stays enabled; preview content is local and trusted.
			htmlrenderer.WithUnsafe(),
			htmlrenderer.WithXHTML(),
		),
	}

	if d2 != nil {
		parserOptions = append(parserOptions, parser.WithASTTransformers(
			util.Prioritized(transform.NewD2Transformer(d2, logger), 200),
		))
		options = append(options, goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(
				util.Prioritized(transform.NewD2BlockRenderer(), 100),
			),
		))
	}
	options = append(options, goldmark.WithParserOptions(parserOptions...))

	return &Service{
		md:     goldmark.New(options...),
		logger: logger.With("component", "renderer"),
	}
}

// Render classifies raw content, applies the auto-fixer, and converts the
// corrected text to HTML. Results are cached by path and modification
// time; pass a zero modTime to bypass the cache (used for ad-hoc editor
// previews that have no backing file).
func (s *Service) Render(_ context.Context, docPath string, modTime time.Time, content []byte) (Document, error) {
	key := cacheKey(docPath)

	if !modTime.IsZero() {
		if entry, ok := s.cache.Load(key); ok {
			if cached, ok := entry.(cacheEntry); ok && modTime.Equal(cached.modTime) {
				return cached.doc, nil
			}
		}
	}

	raw := string(content)
	classification := classify.Classify(raw)
	outcome := autofix.Document(raw, classification.Kind == classify.Diagram)

	if outcome.Changed {
		s.logger.Debug("auto-fixed document",
			slog.String("path", docPath),
			slog.Int("fixes", len(outcome.Applied)))
	}

	parserCtx := parser.NewContext()
	parserCtx.Set(docPathKey, docPath)
	buf := bytes.NewBuffer(nil)

	if err := s.md.Convert([]byte(outcome.Text), buf, parser.WithContext(parserCtx)); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}

	doc := Document{
		HTML:           buf.String(),
		Raw:            raw,
		Corrected:      outcome.Text,
		AppliedFixes:   outcome.Applied,
		Classification: classification,
		Metadata:       extractMetadata(parserCtx),
		Modified:       modTime,
	}

	if !modTime.IsZero() {
		s.cache.Store(key, cacheEntry{modTime: modTime, doc: doc})
	}
	return doc, nil
}

// Invalidate removes the cached entry for the given path.
func (s *Service) Invalidate(path string) {
	s.cache.Delete(cacheKey(path))
}

func extractMetadata(ctx parser.Context) Metadata {
	raw := goldmarkmeta.Get(ctx)
	var meta Metadata
	if raw == nil {
		return meta
	}

	meta.Raw = make(map[string]any)
	for k, v := range raw {
		meta.Raw[k] = v
		switch k {
		case "title":
			if str, ok := toString(v); ok {
				meta.Title = str
			}
		case "description", "summary":
			if str, ok := toString(v); ok {
				meta.Description = str
			}
		case "tags", "keywords":
			meta.Tags = toStringSlice(v)
		}
	}

	if len(meta.Raw) == 0 {
		meta.Raw = nil
	}
	return meta
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := toString(item); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	default:
		if str, ok := toString(v); ok {
			return []string{str}
		}
		return nil
	}
}
