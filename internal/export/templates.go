package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML marks a string as safe HTML for template insertion.
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

//go:embed templates/*.html
var templateFS embed.FS

func headingTagName(depth int) string {
	if depth < 1 {
		depth = 1
	}
	if depth > 4 {
		depth = 4
	}
	return []string{"h1", "h2", "h3", "h4"}[depth-1]
}

var manuscriptTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML":   SafeHTML,
		"headingTag": headingTagName,
		// html/template escapes the surrounding </> when a tag name is
		// produced by an action, so emit the complete heading element here.
		"heading": func(depth int, title string) template.HTML {
			tag := headingTagName(depth)
			return template.HTML("<" + tag + ">" + template.HTMLEscapeString(title) + "</" + tag + ">")
		},
	}

	templateContent, err := templateFS.ReadFile("templates/manuscript.html")
	if err != nil {
		// Fallback to built-in template if file not found
		manuscriptTemplate = template.Must(template.New("manuscript").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	manuscriptTemplate = template.Must(template.New("manuscript").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for manuscript template rendering
type TemplateData struct {
	Title       string
	Author      string
	GeneratedAt time.Time
	WordCount   int
	Sections    []TemplateSection
}

// TemplateSection is one node of the compiled subtree, in reading order.
// Folders render as part headings, documents as titled prose sections.
type TemplateSection struct {
	Title    string
	Depth    int
	IsFolder bool
	Synopsis string
	BodyHTML template.HTML
}

// RenderManuscriptHTML renders the manuscript template with provided data
func RenderManuscriptHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := manuscriptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.7; max-width: 760px; margin: 2rem auto; }
    h1.title { text-align: center; border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; text-align: center; margin-bottom: 3rem; }
    .part { margin-top: 3rem; page-break-before: always; }
    .section { margin-top: 2rem; }
    .synopsis { color: #555; font-style: italic; }
  </style>
</head>
<body>
  <h1 class="title">{{.Title}}</h1>
  <div class="meta">{{.Author}} | {{.GeneratedAt.Format "Jan 2, 2006"}}{{if .WordCount}} | {{.WordCount}} words{{end}}</div>
  {{range .Sections}}
  {{if .IsFolder}}
  <div class="part">{{heading .Depth .Title}}</div>
  {{else}}
  <div class="section">
    {{heading .Depth .Title}}
    {{if .Synopsis}}<p class="synopsis">{{.Synopsis}}</p>{{end}}
    <div>{{.BodyHTML | safeHTML}}</div>
  </div>
  {{end}}
  {{end}}
</body>
</html>`
