package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var summaryTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/summary.html")
	if err != nil {
		summaryTemplate = template.Must(template.New("summary").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	summaryTemplate = template.Must(template.New("summary").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds the rendered summary content.
type TemplateData struct {
	UserName            string
	CompanyName         string
	VisionInspirational string
	VisionMeasurable    string
	Keywords            []string
	Insights            []string
	Notes               string
	CreatedAt           time.Time
	History             []TemplateVersion
	Answers             []TemplateAnswer
}

// TemplateVersion is one version history entry for rendering.
type TemplateVersion struct {
	Label               string
	Timestamp           time.Time
	VisionInspirational string
	VisionMeasurable    string
}

// TemplateAnswer is one wizard question with its answer.
type TemplateAnswer struct {
	Number   int
	Question string
	Answer   string
}

// RenderSummaryHTML renders the summary template with provided data.
func RenderSummaryHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load.
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Vision Summary</title>
  <style>body { font-family: Arial, sans-serif; max-width: 800px; margin: 2rem auto; }</style>
</head>
<body>
  <h1>Vision Summary</h1>
  <p>{{.CompanyName}} | {{.UserName}}</p>
  <h2>Inspirational Vision</h2><p>{{.VisionInspirational}}</p>
  <h2>Measurable Vision</h2><p>{{.VisionMeasurable}}</p>
</body>
</html>`
