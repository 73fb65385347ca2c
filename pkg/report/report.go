package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	htmlTemplate "html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	textTemplate "text/template"
	"time"

	"github.com/GhostN3xus/bigipxxe/pkg/storage/lootdb"
	"github.com/GhostN3xus/bigipxxe/pkg/xxe"
)

const markdownTemplate = `# BIG-IP XXE File Read Report

Generated: {{formatTime .Generated}}
Attempts: {{.Total}}
{{range .Summary}}- {{.Outcome}}: {{.Count}}
{{end}}
---
{{range .Attempts}}
## {{.Host}}:{{.Port}} ({{.Outcome | upper}})

**Remote file**: {{.RemoteFile}}
**Status**: {{.Message}}
**Started**: {{formatTime .StartedAt}}
{{if .Entity}}**Entity**: {{.Entity}}
{{end}}{{if .Detail}}**Detail**: {{.Detail}}
{{end}}{{if .Error}}**Error**: {{.Error}}
{{end}}{{if .LootPath}}**Loot**: {{.LootPath}}
{{end}}
---
{{end}}{{if .Artifacts}}
## Artifacts

| ID | Host | File | Size | SHA-256 | Path |
|----|------|------|------|---------|------|
{{range .Artifacts}}| {{.ID}} | {{.Host}} | {{.OriginalPath}} | {{.Size}} | {{.SHA256}} | {{.Path}} |
{{end}}{{end}}`

var mdTmpl = textTemplate.Must(textTemplate.New("report").Funcs(textTemplate.FuncMap{
	"upper":      strings.ToUpper,
	"formatTime": formatTime,
}).Parse(markdownTemplate))

const htmlReportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>BIG-IP XXE File Read Report</title>
  <style>
    body { margin: 0; background: #0f172a; color: #e2e8f0; font-family: -apple-system, "Segoe UI", sans-serif; }
    .container { max-width: 960px; margin: 0 auto; padding: 2.5rem 1.5rem; }
    .summary { display: flex; flex-wrap: wrap; gap: 0.8rem; margin-bottom: 2rem; }
    .card { background: #1e293b; border-radius: 12px; padding: 0.9rem 1.2rem; }
    .attempt { background: #1e293b; border-radius: 14px; padding: 1.2rem 1.5rem; margin-bottom: 1.2rem; }
    .badge { padding: 0.2rem 0.7rem; border-radius: 999px; font-size: 0.75rem; text-transform: uppercase; background: #475569; }
    .outcome-leaked { background: #b91c1c; }
    .outcome-patched, .outcome-not_vulnerable { background: #15803d; }
    dl { display: grid; grid-template-columns: 160px 1fr; gap: 0.4rem 1rem; }
    dt { color: #94a3b8; }
    dd { margin: 0; }
    code { font-family: "JetBrains Mono", monospace; }
  </style>
</head>
<body>
  <div class="container">
    <h1>BIG-IP XXE File Read Report</h1>
    <p>Generated {{formatTime .Generated}}, {{.Total}} attempts</p>
    <div class="summary">
      {{range .Summary}}<div class="card"><span class="badge outcome-{{.Outcome}}">{{.Outcome}}</span> {{.Count}}</div>{{end}}
    </div>
    {{range .Attempts}}
    <section class="attempt">
      <h2>{{.Host}}:{{.Port}} <span class="badge outcome-{{.Outcome}}">{{.Outcome}}</span></h2>
      <dl>
        <dt>Remote file</dt><dd><code>{{.RemoteFile}}</code></dd>
        <dt>Status</dt><dd>{{.Message}}</dd>
        <dt>Started</dt><dd>{{formatTime .StartedAt}}</dd>
        {{if .Detail}}<dt>Detail</dt><dd>{{.Detail}}</dd>{{end}}
        {{if .Error}}<dt>Error</dt><dd>{{.Error}}</dd>{{end}}
        {{if .LootPath}}<dt>Loot</dt><dd><code>{{.LootPath}}</code></dd>{{end}}
      </dl>
    </section>
    {{else}}
    <section class="attempt"><h2>No attempts recorded</h2></section>
    {{end}}
  </div>
</body>
</html>`

var htmlTmpl = htmlTemplate.Must(htmlTemplate.New("html-report").Funcs(htmlTemplate.FuncMap{
	"formatTime": formatTime,
}).Parse(htmlReportTemplate))

// OutcomeCount is one line of the summary.
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

type attemptView struct {
	lootdb.Attempt
	Message string `json:"message"`
}

// Data is what every report format renders.
type Data struct {
	Generated time.Time         `json:"generated_at"`
	Total     int               `json:"total"`
	Summary   []OutcomeCount    `json:"summary"`
	Attempts  []attemptView     `json:"attempts"`
	Artifacts []lootdb.Artifact `json:"artifacts"`
}

// Build assembles report data from journaled attempts and artifacts.
func Build(attempts []lootdb.Attempt, artifacts []lootdb.Artifact) Data {
	data := Data{
		Generated: time.Now(),
		Total:     len(attempts),
		Attempts:  make([]attemptView, 0, len(attempts)),
		Artifacts: artifacts,
	}
	counts := map[string]int{}
	for _, a := range attempts {
		counts[a.Outcome]++
		data.Attempts = append(data.Attempts, attemptView{Attempt: a, Message: xxe.ParseOutcome(a.Outcome).Message()})
	}
	for outcome, n := range counts {
		data.Summary = append(data.Summary, OutcomeCount{Outcome: outcome, Count: n})
	}
	sort.Slice(data.Summary, func(i, j int) bool {
		if data.Summary[i].Count != data.Summary[j].Count {
			return data.Summary[i].Count > data.Summary[j].Count
		}
		return data.Summary[i].Outcome < data.Summary[j].Outcome
	})
	return data
}

// Write renders data in format (markdown, html or json) into outputDir and
// returns the file path.
func Write(outputDir, format string, data Data) (string, error) {
	var (
		ext    string
		render func(*bytes.Buffer) error
	)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "markdown", "md":
		ext, render = "md", func(b *bytes.Buffer) error { return mdTmpl.Execute(b, data) }
	case "html":
		ext, render = "html", func(b *bytes.Buffer) error { return htmlTmpl.Execute(b, data) }
	case "json":
		ext, render = "json", func(b *bytes.Buffer) error {
			enc := json.NewEncoder(b)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		}
	default:
		return "", fmt.Errorf("report: unsupported format %q", format)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return "", fmt.Errorf("report: render %s: %w", ext, err)
	}
	path := filepath.Join(outputDir, fmt.Sprintf("bigipxxe-report-%s.%s", data.Generated.Format("20060102-150405"), ext))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteAttempts dumps attempts as a JSON array to path.
func WriteAttempts(path string, attempts []lootdb.Attempt) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if attempts == nil {
		attempts = []lootdb.Attempt{}
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(attempts)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.Format(time.RFC3339)
}
