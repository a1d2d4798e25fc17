package exporter_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/euforicio/mdpreview/internal/exporter"
	"github.com/euforicio/mdpreview/internal/renderer"
)

func newTestExporter(t *testing.T) *exporter.Exporter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	exp, err := exporter.New(logger, renderer.NewService(logger, nil), nil)
	if err != nil {
		t.Fatalf("exporter init failed: %v", err)
	}
	return exp
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestExportMarkdownCorrectsSource(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "flow.mmd", "GITGRAPH\n  commit id: \"a\"\n  tag: \"v1\"\n")

	exp := newTestExporter(t)
	var buf bytes.Buffer
	err := exp.Export(context.Background(), exporter.Options{
		Writer:  &buf,
		Format:  exporter.FormatMarkdown,
		RootDir: root,
		Path:    "flow.mmd",
	})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "```mermaid\n") {
		t.Errorf("expected wrapped diagram, got %q", out)
	}
	if !strings.Contains(out, "gitGraph") {
		t.Errorf("expected corrected keyword, got %q", out)
	}
	if !strings.Contains(out, `commit id: "a" tag: "v1"`) {
		t.Errorf("expected merged tag clause, got %q", out)
	}
}

func TestExportMarkdownLeavesCleanDocumentsAlone(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	source := "# Title\n\n```mermaid\ngitGraph\n  commit id: \"a\"\n```\n"
	writeFile(t, root, "doc.md", source)

	exp := newTestExporter(t)
	var buf bytes.Buffer
	err := exp.Export(context.Background(), exporter.Options{
		Writer:  &buf,
		Format:  exporter.FormatMarkdown,
		RootDir: root,
		Path:    "doc.md",
	})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if buf.String() != source {
		t.Fatalf("clean document should round-trip unchanged:\n%q\n%q", source, buf.String())
	}
}

func TestExportHTMLIsStandalone(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "doc.md", "---\ntitle: Release Notes\n---\n\n# Changes\n\n```mermaid\nsequencediagram\n  A->>B: ping\n```\n")

	exp := newTestExporter(t)
	var buf bytes.Buffer
	err := exp.Export(context.Background(), exporter.Options{
		Writer:  &buf,
		Format:  exporter.FormatHTML,
		RootDir: root,
		Path:    "doc.md",
	})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<!DOCTYPE html>") {
		t.Errorf("expected full HTML document")
	}
	if !strings.Contains(out, "Release Notes") {
		t.Errorf("expected front matter title in output")
	}
	if !strings.Contains(out, `<div class="mermaid">`) {
		t.Errorf("expected mermaid container in output")
	}
	if !strings.Contains(out, "sequenceDiagram") {
		t.Errorf("expected corrected keyword in output, got %q", out)
	}
}

func TestExportRejectsBadInput(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "doc.md", "# hi\n")

	exp := newTestExporter(t)
	cases := []struct {
		name string
		opts exporter.Options
	}{
		{"missing writer", exporter.Options{Format: exporter.FormatHTML, RootDir: root, Path: "doc.md"}},
		{"missing path", exporter.Options{Writer: io.Discard, Format: exporter.FormatHTML, RootDir: root}},
		{"bad format", exporter.Options{Writer: io.Discard, Format: "docx", RootDir: root, Path: "doc.md"}},
		{"traversal", exporter.Options{Writer: io.Discard, Format: exporter.FormatHTML, RootDir: root, Path: "../doc.md"}},
		{"unknown file", exporter.Options{Writer: io.Discard, Format: exporter.FormatHTML, RootDir: root, Path: "nope.md"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := exp.Export(context.Background(), tc.opts); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
