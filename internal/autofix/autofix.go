// Package autofix rewrites Mermaid diagram source to repair a small set of
// well-known syntax mistakes before the text reaches a renderer: stray
// invisible characters, miscapitalized diagram-type keywords, and tag/type
// clauses that belong on the preceding commit line. Every rule is
// idempotent and no input can make a fix operation fail; the worst case is
// that nothing matches and the text passes through untouched.
package autofix

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/euforicio/mdpreview/internal/classify"
)

// Outcome reports the result of one fix pass.
type Outcome struct {
	// Text is the corrected document or snippet.
	Text string
	// Applied holds one human-readable entry per rule that changed the
	// text, in rule order. The merge rules report a single aggregated
	// entry with an occurrence count.
	Applied []string
	// Changed is true iff Text differs from the input.
	Changed bool
}

// invisibleRunes matches a byte-order mark and the zero-width characters
// that editors and chat clients smuggle into pasted diagram source.
var invisibleRunes = regexp.MustCompile("[\u200B\u200C\u200D\u2060\uFEFF]")

type keywordRule struct {
	canonical string
	pattern   *regexp.Regexp
}

var keywordRules = buildKeywordRules()

func buildKeywordRules() []keywordRule {
	canonicals := classify.CanonicalKeywords()
	rules := make([]keywordRule, 0, len(canonicals))
	for _, canonical := range canonicals {
		if strings.HasSuffix(canonical, "-v2") {
			// The base keyword rule already matches the prefix of the
			// suffixed form and leaves the suffix in place.
			continue
		}
		rules = append(rules, keywordRule{
			canonical: canonical,
			pattern:   regexp.MustCompile(`(?i)^([ \t]*)(` + strings.ToLower(canonical) + `)\b`),
		})
	}
	return rules
}

var (
	tagMergeRe  = regexp.MustCompile(`(?m)^([ \t]*(?:commit|merge)\b[^\n]*?)[ \t]*\n[ \t]*(tag:[ \t]*"[^"\n]*")[ \t]*$`)
	typeMergeRe = regexp.MustCompile(`(?m)^([ \t]*commit\b[^\n]*?)[ \t]*\n[ \t]*(type:[ \t]*[A-Za-z]+)[ \t]*$`)
)

// fencedBlockRe captures the body of a ```mermaid block: opening fence with
// a case-insensitive tag, non-greedy body, closing fence on its own line.
var fencedBlockRe = regexp.MustCompile("(?ims)^```mermaid[ \t]*\r?\n(.*?)^```[ \t]*\r?$")

// Snippet corrects a single diagram snippet. Rules run in a fixed order
// and each contributes at most one entry to Applied.
func Snippet(src string) Outcome {
	text := src
	var applied []string

	if cleaned := invisibleRunes.ReplaceAllString(text, ""); cleaned != text {
		text = cleaned
		applied = append(applied, "Removed invisible characters (byte-order mark / zero-width)")
	}

	if fixed, desc := normalizeKeyword(text); desc != "" {
		text = fixed
		applied = append(applied, desc)
	}

	if fixed, n := mergeClauses(text, tagMergeRe); n > 0 {
		text = fixed
		applied = append(applied, fmt.Sprintf("Moved tag onto the preceding commit/merge line (%s)", countNoun(n)))
	}

	if fixed, n := mergeClauses(text, typeMergeRe); n > 0 {
		text = fixed
		applied = append(applied, fmt.Sprintf("Moved type onto the preceding commit line (%s)", countNoun(n)))
	}

	return Outcome{Text: text, Applied: applied, Changed: len(applied) > 0}
}

// Document corrects a whole document. With bareDiagram set the entire
// input is treated as one diagram snippet and wrapped in a ```mermaid
// fence; wrapping always counts as a modification. Otherwise each fenced
// mermaid block is corrected independently and spliced back only when it
// actually changed, so untouched blocks stay byte-identical.
func Document(text string, bareDiagram bool) Outcome {
	if bareDiagram {
		inner := Snippet(text)
		body := inner.Text
		if !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		applied := append([]string{"Wrapped bare diagram in a ```mermaid fence"}, inner.Applied...)
		return Outcome{
			Text:    "```mermaid\n" + body + "```\n",
			Applied: applied,
			Changed: true,
		}
	}

	matches := fencedBlockRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return Outcome{Text: text}
	}

	var out strings.Builder
	var applied []string
	last := 0
	changed := false
	for _, m := range matches {
		bodyStart, bodyEnd := m[2], m[3]
		out.WriteString(text[last:bodyStart])
		body := text[bodyStart:bodyEnd]
		fixed := Snippet(body)
		if fixed.Changed {
			corrected := fixed.Text
			if !strings.HasSuffix(corrected, "\n") {
				corrected += "\n"
			}
			out.WriteString(corrected)
			applied = append(applied, fixed.Applied...)
			changed = true
		} else {
			out.WriteString(body)
		}
		last = bodyEnd
	}
	out.WriteString(text[last:])

	if !changed {
		return Outcome{Text: text}
	}
	return Outcome{Text: out.String(), Applied: applied, Changed: true}
}

// normalizeKeyword rewrites a miscapitalized diagram-type keyword on the
// first line to its canonical camelCase spelling, preserving indentation
// and any suffix such as -v2. Only the first line is ever touched.
func normalizeKeyword(text string) (string, string) {
	firstLine := text
	rest := ""
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine, rest = text[:idx], text[idx:]
	}

	for _, rule := range keywordRules {
		loc := rule.pattern.FindStringSubmatchIndex(firstLine)
		if loc == nil {
			continue
		}
		got := firstLine[loc[4]:loc[5]]
		if got == rule.canonical {
			return text, ""
		}
		fixed := firstLine[:loc[4]] + rule.canonical + firstLine[loc[5]:]
		desc := fmt.Sprintf("Corrected diagram keyword %q to %q", got, rule.canonical)
		return fixed + rest, desc
	}
	return text, ""
}

// mergeClauses folds lines matched by re onto their preceding line,
// separated by a single space, repeating until no pair remains so stacked
// clauses collapse too. Returns the rewritten text and total merge count.
func mergeClauses(text string, re *regexp.Regexp) (string, int) {
	total := 0
	for {
		matches := re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			return text, total
		}
		total += len(matches)
		text = re.ReplaceAllString(text, "$1 $2")
	}
}

func countNoun(n int) string {
	if n == 1 {
		return "1 fix"
	}
	return fmt.Sprintf("%d fixes", n)
}
