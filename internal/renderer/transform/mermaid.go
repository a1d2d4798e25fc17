// Package transform provides custom rendering transformations for fenced
// diagram blocks.
package transform

import (
	"bytes"
	"strings"

	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/util"
)

const mermaidLanguage = "mermaid"

// DiagramWrapper returns a wrapper renderer that turns ```mermaid fences
// into divs Mermaid.js hydrates in the browser. The corrected diagram
// source goes into the div verbatim; rendering it (and rejecting invalid
// syntax) is entirely Mermaid's job. All other unhighlighted fences fall
// back to a plain pre/code wrapper.
func DiagramWrapper() highlighting.WrapperRenderer {
	return func(w util.BufWriter, ctx highlighting.CodeBlockContext, entering bool) {
		if ctx.Highlighted() {
			// The chroma formatter emits its own wrapper markup.
			return
		}

		lang, _ := ctx.Language()
		if strings.EqualFold(strings.TrimSpace(string(lang)), mermaidLanguage) {
			if entering {
				_, _ = w.WriteString(`<div class="mermaid">`)
			} else {
				_, _ = w.WriteString("</div>\n")
			}
			return
		}

		if entering {
			_, _ = w.WriteString("<pre><code")
			if len(bytes.TrimSpace(lang)) > 0 {
				_, _ = w.WriteString(` class="language-`)
				_, _ = w.Write(util.EscapeHTML(lang))
				_, _ = w.WriteString(`"`)
			}
			_, _ = w.WriteString(">")
			return
		}
		_, _ = w.WriteString("</code></pre>\n")
	}
}
