package api

import (
	"bytes"
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/emotion-go/internal/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateRenderer is an html/template renderer for echo.
type TemplateRenderer struct {
	templates *template.Template
}

// NewTemplateRenderer parses the embedded page templates.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	title := cases.Title(language.English)
	funcs := template.FuncMap{
		"title": title.String,
	}
	tmpl, err := template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &TemplateRenderer{templates: tmpl}, nil
}

// Render renders a template with the given data. Output is buffered so a
// failing template does not leave a half written page.
func (t *TemplateRenderer) Render(w io.Writer, name string, data any, c echo.Context) error {
	var buf bytes.Buffer
	if err := t.templates.ExecuteTemplate(&buf, name, data); err != nil {
		GetLogger().Error("template execution failed", logger.String("template", name), logger.Error(err))
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}
