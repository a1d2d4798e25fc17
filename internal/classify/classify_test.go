package classify_test

import (
	"strings"
	"testing"

	"github.com/euforicio/mdpreview/internal/classify"
)

func TestClassifyEmpty(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "   \n", "\t\n\n  "} {
		res := classify.Classify(input)
		if res.Kind != classify.Empty {
			t.Fatalf("Classify(%q).Kind = %v, want Empty", input, res.Kind)
		}
		if res.DiagramBlocks != 0 {
			t.Fatalf("Classify(%q).DiagramBlocks = %d, want 0", input, res.DiagramBlocks)
		}
	}
}

func TestClassifyBareDiagram(t *testing.T) {
	t.Parallel()

	res := classify.Classify("gitgraph\n  commit id: \"a\"")
	if res.Kind != classify.Diagram {
		t.Fatalf("expected Diagram, got %v", res.Kind)
	}
	if res.DiagramBlocks != 1 {
		t.Fatalf("expected 1 diagram block, got %d", res.DiagramBlocks)
	}
	if len(res.PendingFixes) == 0 {
		t.Fatal("expected a pending-fix preview for the fence wrap")
	}
}

func TestClassifyBareDiagramVariants(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"sequenceDiagram\nAlice->>Bob: hi",
		"SEQUENCEDIAGRAM\nAlice->>Bob: hi",
		"classDiagram\nAnimal <|-- Duck",
		"stateDiagram-v2\n[*] --> Idle",
		"erDiagram\nCUSTOMER ||--o{ ORDER : places",
		"  gitGraph\n  commit",
	}
	for _, input := range inputs {
		res := classify.Classify(input)
		if res.Kind != classify.Diagram {
			t.Fatalf("Classify(%q).Kind = %v, want Diagram", input, res.Kind)
		}
	}
}

func TestKeywordInProseDoesNotMatch(t *testing.T) {
	t.Parallel()

	// A diagram keyword embedded in a sentence must not trigger the
	// bare-diagram heuristic.
	res := classify.Classify("gitGraphs are covered in chapter two.")
	if res.Kind == classify.Diagram {
		t.Fatal("keyword with trailing characters misdetected as diagram")
	}

	res = classify.Classify("The gitGraph syntax is documented elsewhere.")
	if res.Kind == classify.Diagram {
		t.Fatal("keyword mid-sentence misdetected as diagram")
	}
}

func TestClassifyMixed(t *testing.T) {
	t.Parallel()

	res := classify.Classify("# Title\n\n```mermaid\ngitGraph\n  commit\n```")
	if res.Kind != classify.Mixed {
		t.Fatalf("expected Mixed, got %v", res.Kind)
	}
	if res.DiagramBlocks != 1 {
		t.Fatalf("expected 1 diagram block, got %d", res.DiagramBlocks)
	}
}

func TestClassifyMixedCountsFences(t *testing.T) {
	t.Parallel()

	doc := strings.Join([]string{
		"# Two diagrams",
		"",
		"```mermaid",
		"gitGraph",
		"  commit",
		"```",
		"",
		"Some text between.",
		"",
		"```MERMAID",
		"sequenceDiagram",
		"A->>B: ping",
		"```",
	}, "\n")

	res := classify.Classify(doc)
	if res.Kind != classify.Mixed {
		t.Fatalf("expected Mixed, got %v", res.Kind)
	}
	if res.DiagramBlocks != 2 {
		t.Fatalf("expected 2 diagram blocks, got %d", res.DiagramBlocks)
	}
}

func TestClassifyFencedDiagramOnly(t *testing.T) {
	t.Parallel()

	res := classify.Classify("```mermaid\ngitGraph\n  commit\n```")
	if res.Kind != classify.Mixed {
		t.Fatalf("expected Mixed for fenced-only document, got %v", res.Kind)
	}
	if res.DiagramBlocks != 1 {
		t.Fatalf("expected 1 diagram block, got %d", res.DiagramBlocks)
	}
	if res.Badge.Code != "FEN" {
		t.Fatalf("expected the fenced-only badge, got %q", res.Badge.Code)
	}
}

func TestClassifyProse(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"# Just a heading",
		"- a list item\n- another",
		"see [the docs](https://example.com)",
		"some **bold** text",
		"> a quote",
		"| a | b |\n|---|---|",
		"```go\nfunc main() {}\n```",
	}
	for _, input := range inputs {
		res := classify.Classify(input)
		if res.Kind != classify.Prose {
			t.Fatalf("Classify(%q).Kind = %v, want Prose", input, res.Kind)
		}
		if res.DiagramBlocks != 0 {
			t.Fatalf("Classify(%q).DiagramBlocks = %d, want 0", input, res.DiagramBlocks)
		}
	}
}

func TestClassifyPlainTextFallback(t *testing.T) {
	t.Parallel()

	res := classify.Classify("just some words with no markup at all")
	if res.Kind != classify.Prose {
		t.Fatalf("expected Prose fallback, got %v", res.Kind)
	}
	if res.Badge.Code != "TXT" {
		t.Fatalf("expected plain-text badge, got %q", res.Badge.Code)
	}
}

func TestClassifyDiagramWithProseIsMixed(t *testing.T) {
	t.Parallel()

	// Bare diagram heuristic plus a prose marker resolves to Mixed with an
	// implicit single block.
	res := classify.Classify("gitGraph\n  commit\n\nSee the `commit` docs.")
	if res.Kind != classify.Mixed {
		t.Fatalf("expected Mixed, got %v", res.Kind)
	}
	if res.DiagramBlocks != 1 {
		t.Fatalf("expected 1 implicit diagram block, got %d", res.DiagramBlocks)
	}
}

func TestProseMarkersIgnoredInsideFences(t *testing.T) {
	t.Parallel()

	// The code inside a mermaid fence must not register as prose.
	res := classify.Classify("```mermaid\ngitGraph\n  commit id: \"a\"\n```")
	if res.Kind != classify.Mixed || res.Badge.Code != "FEN" {
		t.Fatalf("fence body leaked into prose detection: %+v", res)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	t.Parallel()

	input := "# Title\n\n```mermaid\ngitGraph\n  commit\n```"
	first := classify.Classify(input)
	for range 10 {
		again := classify.Classify(input)
		if again.Kind != first.Kind || again.DiagramBlocks != first.DiagramBlocks {
			t.Fatal("classification is not deterministic")
		}
	}
}
