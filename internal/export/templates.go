package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(reportTemplateHTML))
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title       string
	GeneratedAt time.Time
	Issues      []IssueRow
}

// RenderReportHTML renders the issue report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 900px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; }
    th, td { text-align: left; padding: 0.5rem; border-bottom: 1px solid #ddd; vertical-align: top; }
    th { background: #f5f5f5; }
    .status { font-weight: bold; }
    .priority-high { color: #b00020; }
    .priority-low { color: #666; }
    .desc { font-size: 0.9em; color: #444; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}} | {{len .Issues}} issue(s)</div>
  <table>
    <thead>
      <tr><th>Title</th><th>Status</th><th>Priority</th><th>Assignee</th><th>Created</th></tr>
    </thead>
    <tbody>
      {{range .Issues}}
      <tr>
        <td>{{.Title}}<div class="desc">{{.Description}}</div></td>
        <td class="status">{{.Status}}</td>
        <td class="priority-{{lower .Priority}}">{{.Priority}}</td>
        <td>{{if .AssignedTo}}{{.AssignedTo}}{{else}}&mdash;{{end}}</td>
        <td>{{formatDate .CreatedAt "Jan 2, 2006"}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
</body>
</html>`
