package api

import (
	"html/template"
	"net/http"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/mentionhub/mentiond/internal/store"
)

var sanitizer = bluemonday.UGCPolicy()

var mentionListTemplate = template.Must(template.New("mentions").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Mentions</title></head>
<body>
<ul class="mentions">
{{- range . }}
  <li class="h-cite {{ .Type }}">
    <a class="u-url" href="{{ .URL }}">{{ if .Name }}{{ .Name }}{{ else }}{{ .URL }}{{ end }}</a>
    {{- if .Author.Name }}
    <span class="p-author h-card">
      {{- if .Author.URL }}<a href="{{ .Author.URL }}">{{ .Author.Name }}</a>{{ else }}{{ .Author.Name }}{{ end -}}
    </span>
    {{- end }}
    {{- if .SummaryHTML }}
    <blockquote class="p-summary">{{ .SummaryHTML }}</blockquote>
    {{- end }}
    <time class="dt-published" datetime="{{ .Published.Format "2006-01-02T15:04:05Z07:00" }}">{{ .Published.Format "2006-01-02" }}</time>
  </li>
{{- end }}
</ul>
</body>
</html>
`))

type renderedMention struct {
	store.MentionView
	SummaryHTML template.HTML
}

// renderMentionsHTML writes the mention list as a server-rendered page.
// Summaries pass through the UGC sanitizer before being marked safe.
func (s *Server) renderMentionsHTML(w http.ResponseWriter, views []store.MentionView) {
	rendered := make([]renderedMention, 0, len(views))
	for _, view := range views {
		rendered = append(rendered, renderedMention{
			MentionView: view,
			SummaryHTML: template.HTML(sanitizer.Sanitize(view.Summary)),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := mentionListTemplate.Execute(w, rendered); err != nil {
		s.logger.Error("render mentions failed", zap.Error(err))
	}
}
