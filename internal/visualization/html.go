package visualization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sync"

	"github.com/nvandessel/seekwalk/internal/scaling"
)

var (
	pageOnce sync.Once
	pageTmpl *template.Template
	pageErr  error
)

func densityTemplate() (*template.Template, error) {
	pageOnce.Do(func() {
		tmplBytes, err := templates.ReadFile("templates/density.html.tmpl")
		if err != nil {
			pageErr = fmt.Errorf("read HTML template: %w", err)
			return
		}
		pageTmpl, pageErr = template.New("density").Parse(string(tmplBytes))
		if pageErr != nil {
			pageErr = fmt.Errorf("parse HTML template: %w", pageErr)
		}
	})
	return pageTmpl, pageErr
}

// htmlTemplateData holds data passed to the HTML template.
type htmlTemplateData struct {
	Title         string
	Mode          Mode
	Scaling       string
	Kinds         []string
	TargetValue   int
	Runs          int
	MaxPathLength int
	APIBase       string
	ViewJSON      template.JS
}

// RenderHTML produces a self-contained page drawing v on a canvas.
// When apiBaseURL is set the page can switch color scaling through the
// server's /api/density endpoint.
func RenderHTML(v *View, apiBaseURL string) ([]byte, error) {
	tmpl, err := densityTemplate()
	if err != nil {
		return nil, err
	}

	// json.Marshal escapes <, > and & so the payload is safe inside <script>.
	viewJSON, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal view: %w", err)
	}

	kinds := make([]string, len(scaling.Kinds))
	for i, k := range scaling.Kinds {
		kinds[i] = string(k)
	}

	data := htmlTemplateData{
		Title:       v.Title,
		Mode:        v.Mode,
		Scaling:     string(v.Layers.Kind),
		Kinds:       kinds,
		TargetValue: v.TargetValue,
		APIBase:     apiBaseURL,
		ViewJSON:    template.JS(viewJSON), // #nosec G203
	}
	if data.Title == "" {
		data.Title = "seekwalk density"
	}
	if g := v.Grid(); g != nil {
		data.Runs = g.Runs
		data.MaxPathLength = g.MaxPathLength
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute HTML template: %w", err)
	}
	return buf.Bytes(), nil
}
