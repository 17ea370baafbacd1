// Package web holds the embedded templates and static assets and the
// renderer that serves them.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/JeremySu0818/GeminiAPIChat/pkg/logger"
)

//go:embed templates/*.html templates/partials/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// Renderer executes the embedded HTML templates.
type Renderer struct {
	tmpl *template.Template
	log  *logger.Logger
}

// NewRenderer parses the embedded templates. Message bodies are run
// through goldmark, which leaves raw HTML out of its output, so user
// text cannot inject markup.
func NewRenderer(log *logger.Logger) (*Renderer, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	funcs := template.FuncMap{
		"markdown": func(text string) template.HTML {
			var buf bytes.Buffer
			if err := md.Convert([]byte(text), &buf); err != nil {
				return template.HTML(template.HTMLEscapeString(text))
			}
			return template.HTML(buf.String())
		},
	}

	tmpl, err := template.New("").Funcs(funcs).ParseFS(templatesFS,
		"templates/*.html", "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	return &Renderer{tmpl: tmpl, log: log}, nil
}

// Render writes the named template with data.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		r.log.Error("template execution failed: " + err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// Static serves the embedded static assets.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
