// Package exporter produces standalone files from preview documents:
// self-contained HTML, corrected markdown, or PDF with diagrams rendered
// to embedded images.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	pdf "github.com/stephenafamo/goldmark-pdf"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/euforicio/mdpreview/internal/autofix"
	"github.com/euforicio/mdpreview/internal/classify"
	"github.com/euforicio/mdpreview/internal/renderer"
	d2renderer "github.com/euforicio/mdpreview/internal/renderer/d2"
)

// Format represents an export format.
type Format string

const (
	// FormatHTML exports a self-contained HTML page.
	FormatHTML Format = "html"
	// FormatMarkdown exports the auto-fixed markdown source.
	FormatMarkdown Format = "markdown"
	// FormatPDF exports a PDF with diagrams embedded as images.
	FormatPDF Format = "pdf"
)

// ValidFormats returns the list of supported export formats.
func ValidFormats() []Format {
	return []Format{FormatHTML, FormatMarkdown, FormatPDF}
}

// IsValidFormat checks if the given format is valid.
func IsValidFormat(format string) bool {
	f := Format(strings.ToLower(strings.TrimSpace(format)))
	for _, valid := range ValidFormats() {
		if f == valid {
			return true
		}
	}
	return false
}

// Exporter renders documents into standalone output files.
type Exporter struct {
	renderer *renderer.Service
	d2       *d2renderer.Renderer
	logger   *slog.Logger
}

// New constructs an exporter. The D2 renderer may be nil; D2 fences are
// then left as plain code blocks in PDF output.
func New(logger *slog.Logger, rendererSvc *renderer.Service, d2 *d2renderer.Renderer) (*Exporter, error) {
	if rendererSvc == nil {
		return nil, errors.New("renderer service must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		renderer: rendererSvc,
		d2:       d2,
		logger:   logger.With("component", "exporter"),
	}, nil
}

// Options configures a single document export.
type Options struct {
	Writer  io.Writer
	Format  Format
	RootDir string
	Path    string
}

// Export writes one document to opts.Writer in the requested format.
func (e *Exporter) Export(ctx context.Context, opts Options) error {
	if err := validateOptions(opts); err != nil {
		return err
	}

	rootDir, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	absPath, err := resolvePath(rootDir, opts.Path)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("document not found: %s", opts.Path)
		}
		return fmt.Errorf("stat document: %w", err)
	}
	raw, err := os.ReadFile(absPath) //nolint:gosec // absPath validated against root
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	switch Format(strings.ToLower(string(opts.Format))) {
	case FormatHTML:
		doc, err := e.renderer.Render(ctx, opts.Path, info.ModTime(), raw)
		if err != nil {
			return fmt.Errorf("render html: %w", err)
		}
		return e.writeHTML(doc, opts.Writer)
	case FormatMarkdown:
		return e.writeMarkdown(raw, opts.Writer)
	case FormatPDF:
		return e.writePDF(ctx, raw, opts.Writer)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

func validateOptions(opts Options) error {
	if strings.TrimSpace(opts.RootDir) == "" {
		return errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.Path) == "" {
		return errors.New("document path is required")
	}
	if opts.Writer == nil {
		return errors.New("writer is required")
	}
	if !IsValidFormat(string(opts.Format)) {
		return fmt.Errorf("unsupported format: %s (allowed: html, markdown, pdf)", opts.Format)
	}
	return nil
}

func resolvePath(rootDir, docPath string) (string, error) {
	cleanPath := filepath.Clean(docPath)
	if strings.Contains(cleanPath, "..") || filepath.IsAbs(cleanPath) {
		return "", errors.New("invalid path: directory traversal not allowed")
	}

	absPath := filepath.Join(rootDir, filepath.FromSlash(cleanPath))
	absPath, err := filepath.Abs(absPath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, rootDir+string(filepath.Separator)) && absPath != rootDir {
		return "", errors.New("invalid path: must be within root directory")
	}
	return absPath, nil
}

// correct runs the classifier and fixer over raw source, the same pipeline
// the live preview applies before rendering.
func correct(raw []byte) autofix.Outcome {
	text := string(raw)
	classification := classify.Classify(text)
	return autofix.Document(text, classification.Kind == classify.Diagram)
}

// writeMarkdown emits the auto-fixed markdown source.
func (e *Exporter) writeMarkdown(raw []byte, w io.Writer) error {
	outcome := correct(raw)
	if outcome.Changed {
		e.logger.Info("export applied fixes", slog.Int("fixes", len(outcome.Applied)))
	}
	_, err := io.WriteString(w, outcome.Text)
	return err
}

// writePDF converts the corrected markdown to PDF. Diagram fences are
// encoded to PNG data URIs first so the PDF renderer only ever sees plain
// markdown images.
func (e *Exporter) writePDF(ctx context.Context, raw []byte, w io.Writer) error {
	outcome := correct(raw)

	enc := &diagramEncoder{d2: e.d2, logger: e.logger}
	prepared, err := enc.encode(ctx, []byte(outcome.Text))
	if err != nil {
		return fmt.Errorf("encode diagrams: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			meta.Meta,
			highlighting.NewHighlighting(
				highlighting.WithStyle("monokai"),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRenderer(pdf.New()),
	)

	if err := md.Convert(prepared, w); err != nil {
		return fmt.Errorf("convert markdown to PDF: %w", err)
	}
	return nil
}

var htmlExportTemplate = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{ .Title }}</title>
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
      line-height: 1.6;
      max-width: 820px;
      margin: 0 auto;
      padding: 2rem;
      color: #333;
    }
    h1 { font-size: 2em; border-bottom: 1px solid #eee; padding-bottom: 0.3em; }
    code {
      background: #f5f5f5;
      padding: 0.2em 0.4em;
      border-radius: 3px;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 0.9em;
    }
    pre { background: #f5f5f5; padding: 1em; border-radius: 5px; overflow-x: auto; }
    pre code { background: none; padding: 0; }
    blockquote { border-left: 4px solid #ddd; padding-left: 1em; margin-left: 0; color: #666; }
    table { border-collapse: collapse; width: 100%; margin: 1em 0; }
    th, td { border: 1px solid #ddd; padding: 0.5em; text-align: left; }
    img { max-width: 100%; height: auto; }
    .mermaid { margin: 1em 0; }
    .d2-diagram svg { max-width: 100%; height: auto; }
    .diagram-error { color: #b00020; font-family: monospace; white-space: pre-wrap; }
  </style>
</head>
<body>
{{ if .Title }}<h1>{{ .Title }}</h1>{{ end }}
{{ .HTML }}
<script src="https://cdn.jsdelivr.net/npm/mermaid@11/dist/mermaid.min.js"></script>
<script>mermaid.initialize({ startOnLoad: true });</script>
</body>
</html>
`))

// writeHTML emits a standalone page. Mermaid divs hydrate from the CDN
// script; D2 diagrams are already inline SVG.
func (e *Exporter) writeHTML(doc renderer.Document, w io.Writer) error {
	data := struct {
		Title string
		HTML  template.HTML
	}{
		Title: doc.Metadata.Title,
		HTML:  template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
	}
	return htmlExportTemplate.Execute(w, data)
}
