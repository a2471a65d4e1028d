package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// HTMLConfig contains configuration for HTML report generation.
type HTMLConfig struct {
	OutputPath  string // Path to write the HTML file
	EmbedAssets bool   // Embed screenshots as base64 (makes file larger but portable)
	Title       string // Report title (default: script name)
}

// GenerateHTML renders the report at reportPath as a static HTML page.
func GenerateHTML(reportPath string, cfg HTMLConfig) error {
	run, err := Read(reportPath)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	if cfg.Title == "" {
		cfg.Title = run.Script
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = strings.TrimSuffix(reportPath, filepath.Ext(reportPath)) + ".html"
	}

	html, err := renderHTML(buildHTMLData(run, cfg))
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	if err := os.WriteFile(cfg.OutputPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title         string
	GeneratedAt   string
	Run           *Run
	Steps         []StepHTMLData
	TotalDuration string
	PassRate      float64
	StatusClass   string
	Variables     []VariableHTMLData
}

// StepHTMLData contains step data formatted for HTML.
type StepHTMLData struct {
	Step
	StatusClass string
	DurationStr string
	Depth       int
	Score       string
	Screenshot  template.URL // base64 data URI or relative path
}

// VariableHTMLData is one final variable value.
type VariableHTMLData struct {
	Name  string
	Value string
}

func buildHTMLData(run *Run, cfg HTMLConfig) HTMLData {
	baseDir := filepath.Dir(cfg.OutputPath)

	steps := make([]StepHTMLData, len(run.Steps))
	for i, s := range run.Steps {
		step := StepHTMLData{
			Step:        s,
			StatusClass: string(s.Status),
			DurationStr: FormatDuration(s.Duration),
			Depth:       strings.Count(s.Path, "."),
		}
		if s.Confidence != nil {
			step.Score = fmt.Sprintf("%.2f", *s.Confidence)
		}
		if s.Screenshot != "" {
			src := s.Screenshot
			if cfg.EmbedAssets {
				src = loadAsBase64(s.Screenshot)
			} else if rel, err := filepath.Rel(baseDir, s.Screenshot); err == nil {
				src = filepath.ToSlash(rel)
			}
			step.Screenshot = template.URL(src)
		}
		steps[i] = step
	}

	var passRate float64
	if run.Summary.Total > 0 {
		passRate = float64(run.Summary.Passed) / float64(run.Summary.Total) * 100
	}

	totalDuration := "-"
	if run.Duration != nil {
		totalDuration = FormatDuration(*run.Duration)
	}

	variables := make([]VariableHTMLData, 0, len(run.Variables))
	for name, raw := range run.Variables {
		variables = append(variables, VariableHTMLData{Name: name, Value: string(raw)})
	}
	sort.Slice(variables, func(i, j int) bool { return variables[i].Name < variables[j].Name })

	return HTMLData{
		Title:         cfg.Title,
		GeneratedAt:   time.Now().Format("2006-01-02 15:04:05"),
		Run:           run,
		Steps:         steps,
		TotalDuration: totalDuration,
		PassRate:      passRate,
		StatusClass:   string(run.Status),
		Variables:     variables,
	}
}

func loadAsBase64(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(path))
	mimeType := "image/png"
	if ext == ".jpg" || ext == ".jpeg" {
		mimeType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func renderHTML(data HTMLData) (string, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"indent": func(depth int) int { return depth * 20 },
	}).Parse(htmlTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        :root {
            --bg-primary: #ffffff;
            --bg-secondary: #f9fafb;
            --text-primary: #000000;
            --text-muted: rgb(107, 114, 128);
            --border-color: #e5e7eb;
            --passed: #22c55e;
            --failed: #ef4444;
            --skipped: #9ca3af;
            --warned: #eab308;
            --running: #06b6d4;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; background: var(--bg-secondary); color: var(--text-primary); padding: 24px; }
        header { margin-bottom: 16px; }
        h1 { font-size: 20px; }
        .meta { color: var(--text-muted); font-size: 13px; margin-top: 4px; }
        .summary { display: flex; gap: 16px; margin: 16px 0; }
        .card { background: var(--bg-primary); border: 1px solid var(--border-color); border-radius: 6px; padding: 12px 16px; }
        .card b { display: block; font-size: 20px; }
        .step { background: var(--bg-primary); border-left: 4px solid var(--border-color); margin: 4px 0; padding: 8px 12px; }
        .step.passed { border-color: var(--passed); }
        .step.failed { border-color: var(--failed); }
        .step.skipped { border-color: var(--skipped); color: var(--text-muted); }
        .step.warned { border-color: var(--warned); }
        .step .path { color: var(--text-muted); font-family: monospace; font-size: 12px; }
        .step .error { color: var(--failed); margin-top: 4px; white-space: pre-wrap; }
        .step .hint { color: var(--text-muted); font-size: 12px; }
        .step img { max-width: 240px; margin-top: 8px; border: 1px solid var(--border-color); }
        .badge { font-size: 12px; font-weight: bold; text-transform: uppercase; }
        .badge.passed { color: var(--passed); }
        .badge.failed { color: var(--failed); }
        table { border-collapse: collapse; margin-top: 8px; background: var(--bg-primary); }
        td { border: 1px solid var(--border-color); padding: 4px 8px; font-family: monospace; font-size: 12px; }
    </style>
</head>
<body>
<header>
    <h1>{{.Title}} <span class="badge {{.StatusClass}}">{{.Run.Status}}</span></h1>
    <div class="meta">Run {{.Run.RunID}}{{if .Run.SourceFile}} &middot; {{.Run.SourceFile}}{{end}}{{if .Run.Device}} &middot; {{.Run.Device.Platform}} {{.Run.Device.ID}}{{end}} &middot; generated {{.GeneratedAt}}</div>
</header>
<section class="summary">
    <div class="card"><b>{{.Run.Summary.Total}}</b>steps</div>
    <div class="card"><b>{{.Run.Summary.Passed}}</b>passed</div>
    <div class="card"><b>{{.Run.Summary.Failed}}</b>failed</div>
    <div class="card"><b>{{.Run.Summary.Warned}}</b>warned</div>
    <div class="card"><b>{{.Run.Summary.Skipped}}</b>skipped</div>
    <div class="card"><b>{{printf "%.0f" .PassRate}}%</b>pass rate</div>
    <div class="card"><b>{{.TotalDuration}}</b>duration</div>
</section>
{{if .Run.Error}}<div class="step failed"><div class="error">{{.Run.Error.Message}}</div><div class="path">{{.Run.Error.Path}}</div></div>{{end}}
<section>
{{range .Steps}}
    <div class="step {{.StatusClass}}" style="margin-left: {{indent .Depth}}px">
        <div>{{.Label}} <span class="path">{{.Path}} &middot; {{.DurationStr}}{{if gt .Attempts 1}} &middot; {{.Attempts}} attempts{{end}}{{if .Score}} &middot; {{.Score}} {{.Strategy}}{{end}}</span></div>
        {{if .Message}}<div class="path">{{.Message}}</div>{{end}}
        {{if .Error}}<div class="error">{{.Error.Message}}</div>{{if .Error.Suggestion}}<div class="hint">{{.Error.Suggestion}}</div>{{end}}{{end}}
        {{if .Screenshot}}<img src="{{.Screenshot}}" alt="screenshot">{{end}}
    </div>
{{end}}
</section>
{{if .Variables}}
<section>
    <h2 style="font-size: 16px; margin-top: 16px;">Variables</h2>
    <table>
    {{range .Variables}}<tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>{{end}}
    </table>
</section>
{{end}}
</body>
</html>
`
