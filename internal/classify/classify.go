// Package classify decides what kind of content a preview document holds:
// markdown prose, bare Mermaid diagram source, a mixture of both, or nothing.
// Classification is a pure function of the input text and never fails.
package classify

import (
	"regexp"
	"strings"
)

// Kind is the top-level classification of a document.
type Kind int

const (
	// Empty means the input contains nothing but whitespace.
	Empty Kind = iota
	// Prose means markdown (or plain) text with no diagram content.
	Prose
	// Diagram means the whole input is bare Mermaid source with no fence.
	Diagram
	// Mixed means prose and diagram content coexist, or the document is
	// made of fenced diagram blocks only.
	Mixed
)

// String returns a stable lowercase name for the kind.
func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Prose:
		return "prose"
	case Diagram:
		return "diagram"
	case Mixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Badge carries presentation hints for the classification. The style tokens
// are opaque to this package; the web shell feeds them straight into CSS.
type Badge struct {
	Label      string
	Code       string
	Foreground string
	Background string
	Border     string
}

// Result is the outcome of classifying one document.
type Result struct {
	Kind          Kind
	DiagramBlocks int
	Badge         Badge
	// PendingFixes previews what the auto-fixer will do. Advisory only;
	// the authoritative list comes from the autofix package.
	PendingFixes []string
}

var badges = map[string]Badge{
	"empty":   {Label: "Empty", Code: "NUL", Foreground: "#8b949e", Background: "rgba(139,148,158,0.12)", Border: "rgba(139,148,158,0.4)"},
	"diagram": {Label: "Mermaid diagram", Code: "MMD", Foreground: "#d2a8ff", Background: "rgba(210,168,255,0.12)", Border: "rgba(210,168,255,0.4)"},
	"mixed":   {Label: "Markdown + Mermaid", Code: "MIX", Foreground: "#79c0ff", Background: "rgba(121,192,255,0.12)", Border: "rgba(121,192,255,0.4)"},
	"fenced":  {Label: "Fenced Mermaid", Code: "FEN", Foreground: "#56d4dd", Background: "rgba(86,212,221,0.12)", Border: "rgba(86,212,221,0.4)"},
	"prose":   {Label: "Markdown", Code: "MD", Foreground: "#7ee787", Background: "rgba(126,231,135,0.12)", Border: "rgba(126,231,135,0.4)"},
	"plain":   {Label: "Plain text", Code: "TXT", Foreground: "#8b949e", Background: "rgba(139,148,158,0.12)", Border: "rgba(139,148,158,0.4)"},
}

// diagramKeywords maps the lowercase spelling of each supported Mermaid
// diagram type to its canonical camelCase form. Adding a diagram type here
// is all that is needed to teach the classifier (and the fixer, which
// shares this table) about it.
var diagramKeywords = map[string]string{
	"gitgraph":        "gitGraph",
	"sequencediagram": "sequenceDiagram",
	"classdiagram":    "classDiagram",
	"statediagram":    "stateDiagram",
	"statediagram-v2": "stateDiagram-v2",
	"erdiagram":       "erDiagram",
}

// CanonicalKeywords returns the canonical diagram-type spellings, used by
// the autofix package to build its keyword rewrite rules.
func CanonicalKeywords() []string {
	out := make([]string, 0, len(diagramKeywords))
	for _, canonical := range diagramKeywords {
		out = append(out, canonical)
	}
	return out
}

// proseMarkers are independent signals that a document contains formatted
// narrative text. One hit is enough; there is no scoring.
var proseMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^#{1,6}[ \t]`),                       // headings
	regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+\S`),               // bullet lists
	regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+\S`),               // numbered lists
	regexp.MustCompile(`\[[^\]\n]*\]\([^)\n]*\)`),                // links
	regexp.MustCompile(`!\[[^\]\n]*\]\([^)\n]*\)`),               // images
	regexp.MustCompile(`\*\*[^*\n]+\*\*|__[^_\n]+__`),            // bold
	regexp.MustCompile(`(^|[^*\w])\*[^*\s][^*\n]*\*`),            // italic
	regexp.MustCompile(`~~[^~\n]+~~`),                            // strikethrough
	regexp.MustCompile(`(?m)^[ \t]*>[ \t]`),                      // blockquotes
	regexp.MustCompile(`(?m)^\|.+\|[ \t]*$`),                     // tables
	regexp.MustCompile(`(?m)^[ \t]*(-{3,}|\*{3,}|_{3,})[ \t]*$`), // horizontal rules
	regexp.MustCompile("`[^`\n]+`"),                              // inline code
	regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+\[[ xX]\][ \t]`),   // task lists
}

// Classify inspects raw document text and reports what it contains.
func Classify(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Kind: Empty, Badge: badges["empty"]}
	}

	bare, miscased := looksLikeBareDiagram(text)
	mermaidFences, otherFences := scanFences(text)
	hasFences := mermaidFences > 0
	hasProse := hasProseFeatures(text) || otherFences

	switch {
	case bare && !hasProse && !hasFences:
		res := Result{Kind: Diagram, DiagramBlocks: 1, Badge: badges["diagram"]}
		res.PendingFixes = append(res.PendingFixes, "Bare diagram will be wrapped in a ```mermaid fence")
		if miscased {
			res.PendingFixes = append(res.PendingFixes, "Diagram keyword capitalization will be corrected")
		}
		return res
	case hasProse && (hasFences || bare):
		blocks := mermaidFences
		if blocks == 0 {
			blocks = 1
		}
		return Result{Kind: Mixed, DiagramBlocks: blocks, Badge: badges["mixed"]}
	case hasFences && !hasProse:
		return Result{Kind: Mixed, DiagramBlocks: mermaidFences, Badge: badges["fenced"]}
	case hasProse:
		return Result{Kind: Prose, Badge: badges["prose"]}
	default:
		return Result{Kind: Prose, Badge: badges["plain"]}
	}
}

// looksLikeBareDiagram tests the first non-blank line against the keyword
// table. The line must equal a keyword or start with one followed by a
// space or tab, so a keyword buried mid-sentence never matches. The second
// return value reports whether the keyword needs its capitalization fixed.
func looksLikeBareDiagram(text string) (bare, miscased bool) {
	line := firstNonBlankLine(text)
	if line == "" {
		return false, false
	}
	lower := strings.ToLower(line)
	for keyword, canonical := range diagramKeywords {
		if lower == keyword || strings.HasPrefix(lower, keyword+" ") || strings.HasPrefix(lower, keyword+"\t") {
			got := line[:len(keyword)]
			return true, got != canonical
		}
	}
	return false, false
}

func firstNonBlankLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// scanFences walks the document's fenced code blocks. It counts opening
// fences tagged mermaid (case-insensitive) and reports whether any other
// fenced block exists, which counts as a prose feature. Closing fences are
// consumed by the pairing so they are never mistaken for untagged blocks.
func scanFences(text string) (mermaid int, other bool) {
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, " \t\r")
		if inFence {
			if trimmed == "```" {
				inFence = false
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		inFence = true
		tag := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))
		if tag == "mermaid" {
			mermaid++
		} else {
			other = true
		}
	}
	return mermaid, other
}

func hasProseFeatures(text string) bool {
	stripped := withoutFencedBlocks(text)
	for _, marker := range proseMarkers {
		if marker.MatchString(stripped) {
			return true
		}
	}
	return false
}

// withoutFencedBlocks blanks out the interior of fenced code blocks so the
// prose markers never fire on diagram or code content. Fence lines
// themselves are dropped too; fences are detected separately by scanFences.
func withoutFencedBlocks(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if inFence {
			if trimmed == "```" {
				inFence = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			inFence = true
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
