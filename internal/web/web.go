// Package web embeds the dashboard template and its static assets.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"maps"
	"slices"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Renderer renders the embedded HTML templates for echo.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses the embedded templates. Templates are compiled into the
// binary so a parse failure is a programming error.
func NewRenderer() *Renderer {
	funcs := template.FuncMap{
		"seconds":    func(v float64) string { return fmt.Sprintf("%.3f", v) },
		"sortedKeys": sortedKeys,
	}
	return &Renderer{
		templates: template.Must(
			template.New("").Funcs(funcs).ParseFS(templatesFS, "templates/*.html"),
		),
	}
}

// Render implements echo.Renderer.
func (r *Renderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	if err := r.templates.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}

// Static returns the embedded static assets rooted at the asset directory.
func Static() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("embedded static assets: %v", err))
	}
	return sub
}

func sortedKeys(m map[string]int64) []string {
	return slices.Sorted(maps.Keys(m))
}
