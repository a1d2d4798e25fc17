package server

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/euforicio/mdpreview/internal/classify"
	"github.com/euforicio/mdpreview/internal/preview"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

type templateRenderer struct {
	tmpl *template.Template
}

func newTemplateRenderer() (*templateRenderer, error) {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("Jan 2, 2006 3:04 PM")
		},
	}

	base, err := template.New("mdpreview").Funcs(funcs).ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}
	return &templateRenderer{tmpl: base}, nil
}

func (r *templateRenderer) render(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

type indexViewData struct {
	Documents []preview.DocumentInfo
	DarkMode  bool
}

type pageViewData struct {
	Path         string
	Title        string
	HTML         template.HTML
	BadgeLabel   string
	BadgeCode    string
	BadgeStyle   template.CSS
	AppliedFixes []string
	Modified     time.Time
	DarkMode     bool
}

// badgeStyle turns the classifier's opaque style tokens into an inline CSS
// declaration. Done in code because html/template's CSS filter rejects
// functional color notations like rgba().
func badgeStyle(b classify.Badge) template.CSS {
	//nolint:gosec // tokens come from the classifier's static badge table
	return template.CSS(fmt.Sprintf("color:%s;background:%s;border-color:%s", b.Foreground, b.Background, b.Border))
}
