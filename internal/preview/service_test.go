package preview_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/euforicio/mdpreview/internal/classify"
	"github.com/euforicio/mdpreview/internal/preview"
	"github.com/euforicio/mdpreview/internal/renderer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newService(t *testing.T, root string) *preview.Service {
	t.Helper()
	renderSvc := renderer.NewService(discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := preview.NewService(ctx, root, renderSvc, discardLogger(), preview.Options{Debounce: 50 * time.Millisecond})
	if err != nil {
		cancel()
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() {
		svc.Close()
		cancel()
	})
	return svc
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDocumentsListing(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.md"), "# Notes\n")
	writeFile(t, filepath.Join(root, "flow.mmd"), "gitGraph\n  commit\n")
	writeFile(t, filepath.Join(root, "ignore.txt"), "not previewable\n")

	svc := newService(t, root)
	docs, err := svc.Documents(context.Background())
	if err != nil {
		t.Fatalf("Documents: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %+v", docs)
	}
	if docs[0].Path != "flow.mmd" || docs[1].Path != "notes.md" {
		t.Fatalf("unexpected listing order: %+v", docs)
	}
}

func TestDocumentRendersBareDiagramFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "flow.mmd"), "gitgraph\n  commit id: \"a\"\n")

	svc := newService(t, root)
	doc, err := svc.Document(context.Background(), "flow.mmd")
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.Classification.Kind != classify.Diagram {
		t.Fatalf("expected Diagram classification, got %v", doc.Classification.Kind)
	}
	if !strings.Contains(doc.HTML, `<div class="mermaid">`) {
		t.Fatalf("expected mermaid div, got %s", doc.HTML)
	}
}

func TestDocumentRejectsEscapingPaths(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "# A\n")

	svc := newService(t, root)
	for _, bad := range []string{"", "  ", "../outside.md", "a/../../b.md", "/etc/passwd", "a.txt"} {
		if _, err := svc.Document(context.Background(), bad); err == nil {
			t.Fatalf("expected error for path %q", bad)
		}
	}
}

func TestSaveDocumentRequiresExistingFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), "# A\n")

	svc := newService(t, root)
	if err := svc.SaveDocument(context.Background(), "missing.md", []byte("x")); err == nil {
		t.Fatal("expected error saving nonexistent document")
	}

	if err := svc.SaveDocument(context.Background(), "a.md", []byte("# Updated\n")); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "a.md"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "# Updated\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestServiceEmitsDebouncedEventOnChange(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	path := filepath.Join(root, "doc.md")
	writeFile(t, path, "# Before\n")

	svc := newService(t, root)

	subCtx, subCancel := context.WithCancel(context.Background())
	ch := svc.Subscribe(subCtx)
	t.Cleanup(subCancel)

	// Give the watcher time to attach.
	time.Sleep(200 * time.Millisecond)

	writeFile(t, path, "# After\n")

	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type == preview.EventDocumentUpdated && evt.Path == "doc.md" {
				return
			}
		case <-timeout:
			t.Fatal("did not receive expected documentUpdated event")
		}
	}
}
