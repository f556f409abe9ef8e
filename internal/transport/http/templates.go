package http

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names understood by Templates.Render.
const (
	pageDashboard = "dashboard.html"
	pageError     = "error.html"
	pageContracts = "contracts.html"
	pageContract  = "contract.html"
	pageReports   = "reports.html"
	pageReport    = "report.html"
)

var pages = []string{pageDashboard, pageError, pageContracts, pageContract, pageReports, pageReport}

// Templates renders the embedded dashboard pages inside the shared layout.
type Templates struct {
	pages map[string]*template.Template
}

// NewTemplates parses every page together with the layout.
func NewTemplates() (*Templates, error) {
	t := &Templates{pages: make(map[string]*template.Template, len(pages))}
	for _, name := range pages {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		t.pages[name] = tmpl
	}
	return t, nil
}

// Render implements echo.Renderer.
func (t *Templates) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	tmpl, ok := t.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}
