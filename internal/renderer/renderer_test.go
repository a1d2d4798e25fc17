package renderer_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/euforicio/mdpreview/internal/classify"
	"github.com/euforicio/mdpreview/internal/renderer"
)

func newService() *renderer.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	return renderer.NewService(logger, nil)
}

func TestRenderMixedDocument(t *testing.T) {
	t.Parallel()
	svc := newService()

	content := []byte("---\n" +
		"title: Release Flow\n" +
		"tags:\n" +
		"  - git\n" +
		"---\n\n" +
		"# Releases\n\n" +
		"```mermaid\n" +
		"gitGraph\n" +
		"  commit id: \"a\"\n" +
		"```\n\n" +
		"```go\n" +
		"package main\n" +
		"```\n")

	modTime := time.Unix(1_000, 0)
	doc, err := svc.Render(context.Background(), "docs/releases.md", modTime, content)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	if doc.Classification.Kind != classify.Mixed {
		t.Fatalf("expected Mixed classification, got %v", doc.Classification.Kind)
	}
	if doc.Metadata.Title != "Release Flow" {
		t.Fatalf("unexpected title: %q", doc.Metadata.Title)
	}
	if !strings.Contains(doc.HTML, `<div class="mermaid">`) {
		t.Fatalf("expected mermaid div in HTML, got %s", doc.HTML)
	}
	if !strings.Contains(doc.HTML, "gitGraph") {
		t.Fatal("expected mermaid source in HTML")
	}
	if !strings.Contains(doc.HTML, `class="chroma"`) {
		t.Fatalf("expected chroma highlighter output, got %s", doc.HTML)
	}
	if len(doc.AppliedFixes) != 0 {
		t.Fatalf("clean document should need no fixes, got %v", doc.AppliedFixes)
	}
}

func TestRenderBareDiagramGetsWrapped(t *testing.T) {
	t.Parallel()
	svc := newService()

	doc, err := svc.Render(context.Background(), "scratch.md", time.Unix(1_000, 0), []byte("gitgraph\n  commit id: \"a\"\n  tag: \"v1\"\n"))
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	if doc.Classification.Kind != classify.Diagram {
		t.Fatalf("expected Diagram classification, got %v", doc.Classification.Kind)
	}
	if !strings.HasPrefix(doc.Corrected, "```mermaid\n") {
		t.Fatalf("corrected text not wrapped:\n%s", doc.Corrected)
	}
	if !strings.Contains(doc.HTML, `<div class="mermaid">`) {
		t.Fatalf("wrapped diagram did not render as mermaid div: %s", doc.HTML)
	}
	if !strings.Contains(doc.HTML, "gitGraph") {
		t.Fatal("keyword fix missing from rendered output")
	}
	if !strings.Contains(doc.HTML, `commit id: &quot;a&quot; tag: &quot;v1&quot;`) {
		t.Fatalf("tag merge missing from rendered output: %s", doc.HTML)
	}
	if len(doc.AppliedFixes) != 3 {
		t.Fatalf("expected wrap + keyword + tag fixes, got %v", doc.AppliedFixes)
	}
}

func TestRenderCaching(t *testing.T) {
	t.Parallel()
	svc := newService()

	ctx := context.Background()
	path := "docs/cache.md"
	modTime := time.Unix(2_000, 0)

	doc1, err := svc.Render(ctx, path, modTime, []byte("# First"))
	if err != nil {
		t.Fatalf("first render: %v", err)
	}
	doc2, err := svc.Render(ctx, path, modTime, []byte("# Second"))
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if doc2.HTML != doc1.HTML {
		t.Fatal("expected cached HTML for matching mod time")
	}

	doc3, err := svc.Render(ctx, path, modTime.Add(time.Second), []byte("# Second"))
	if err != nil {
		t.Fatalf("third render: %v", err)
	}
	if !strings.Contains(doc3.HTML, "Second") {
		t.Fatalf("expected re-render after mod time change, got %s", doc3.HTML)
	}
}

func TestRenderZeroModTimeBypassesCache(t *testing.T) {
	t.Parallel()
	svc := newService()

	ctx := context.Background()
	doc1, err := svc.Render(ctx, "editor", time.Time{}, []byte("# One"))
	if err != nil {
		t.Fatalf("first render: %v", err)
	}
	doc2, err := svc.Render(ctx, "editor", time.Time{}, []byte("# Two"))
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if doc1.HTML == doc2.HTML {
		t.Fatal("zero mod time must not serve cached output")
	}
}

func TestRenderEmptyDocument(t *testing.T) {
	t.Parallel()
	svc := newService()

	doc, err := svc.Render(context.Background(), "empty.md", time.Unix(3_000, 0), []byte("   \n"))
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if doc.Classification.Kind != classify.Empty {
		t.Fatalf("expected Empty classification, got %v", doc.Classification.Kind)
	}
	if len(doc.AppliedFixes) != 0 {
		t.Fatalf("empty document should need no fixes, got %v", doc.AppliedFixes)
	}
}

func TestRenderRelativeLinksRewritten(t *testing.T) {
	t.Parallel()
	svc := newService()

	doc, err := svc.Render(context.Background(), "guides/intro.md", time.Unix(4_000, 0), []byte("[next](setup.md)"))
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.Contains(doc.HTML, `href="/view/guides/setup.md"`) {
		t.Fatalf("relative markdown link not rewritten: %s", doc.HTML)
	}
}
