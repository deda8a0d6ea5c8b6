package report

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/sdlc-agency/agency/internal/state"
	"github.com/sdlc-agency/agency/internal/types"
)

// Export formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// ParseFormat validates an export format.
func ParseFormat(s string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(s))
	switch f {
	case FormatJSON, FormatMarkdown:
		return f, nil
	}
	return "", types.InvalidArgumentf("invalid format %q (valid: json, markdown)", s)
}

// Export is the dashboard with story metrics attached when available.
func Export(doc *state.Document, stories *StoryMetrics) *Dashboard {
	d := BuildDashboard(doc)
	if stories != nil {
		d.Stories = stories
	}
	return d
}

var mdTemplate = template.Must(template.New("report").Parse(`# SDLC Metrics Report

**Project:** {{ .Project }}
**Status:** {{ .Status }} ({{ .Percentage }}% complete)
**Generated:** {{ .Generated }}

## Phase Timing

| Phase | Status | Duration | Gate |
|-------|--------|----------|------|
{{ range .Rows }}| {{ .Name }} | {{ .Status }} | {{ .Duration }} | {{ .Gate }} |
{{ end }}
## Gate Performance

- First-try pass rate: {{ .FirstTryRate }}%
- Total gate iterations: {{ .TotalIterations }}
{{ range .Gates }}- {{ .Name }}: {{ .Iterations }} iteration(s) ({{ .Verdict }})
{{ end }}
## Story Progress

{{ with .Stories }}| Status | Count |
|--------|-------|
{{ range $.StatusRows }}| {{ .Status }} | {{ .Count }} |
{{ end }}| **Total** | **{{ .Total }}** |

Completion rate: {{ $.CompletionRate }}%
{{ if .InFlight }}In-flight stories: {{ .InFlight }}
{{ end }}{{ if .Blocked }}Blocked stories: {{ .Blocked }}
{{ end }}{{ else }}Story metrics not available (backlog not provided).
{{ end }}
## Timing Summary

- Total elapsed: {{ .TotalElapsed }}
- Average phase: {{ .Average }}
- Estimated remaining: {{ .Remaining }}
`))

type phaseRow struct {
	Name, Status, Duration, Gate string
}

type gateLine struct {
	Name       string
	Iterations int
	Verdict    types.Verdict
}

type statusCount struct {
	Status string
	Count  int
}

type markdownView struct {
	Project         string
	Status          types.OverallStatus
	Percentage      string
	Generated       string
	Rows            []phaseRow
	FirstTryRate    string
	TotalIterations int
	Gates           []gateLine
	Stories         *StoryMetrics
	StatusRows      []statusCount
	CompletionRate  string
	TotalElapsed    string
	Average         string
	Remaining       string
}

func capitalize(p types.Phase) string {
	s := string(p)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func oneDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// Markdown renders the export as a markdown report. Per-phase status and
// gate columns come from doc.
func Markdown(doc *state.Document, stories *StoryMetrics) ([]byte, error) {
	d := BuildDashboard(doc)
	v := markdownView{
		Project:         d.Project,
		Status:          d.Status,
		Percentage:      oneDecimal(d.Progress.Percentage),
		Generated:       timeNow().Format(time.RFC3339),
		FirstTryRate:    oneDecimal(d.Gates.FirstTryPassRate),
		TotalIterations: d.Gates.TotalIterations,
		Stories:         stories,
		TotalElapsed:    FormatDuration(d.Timing.TotalElapsedSeconds),
		Average:         FormatDuration(d.Timing.AveragePhaseSeconds),
		Remaining:       FormatDuration(d.Timing.EstimatedRemainingSeconds),
	}
	for _, p := range types.Phases() {
		row := phaseRow{Name: capitalize(p), Status: "unknown", Duration: "-", Gate: "-"}
		if ps := doc.Phases[p]; ps != nil {
			row.Status = string(ps.Status)
		}
		if dur, ok := d.Timing.PhaseDurations[p]; ok {
			row.Duration = dur.Formatted
		}
		if g, ok := d.Gates.ByPhase[p]; ok {
			row.Gate = fmt.Sprintf("%d (%s)", g.Iterations, g.LastVerdict)
			v.Gates = append(v.Gates, gateLine{Name: capitalize(p), Iterations: g.Iterations, Verdict: g.LastVerdict})
		}
		v.Rows = append(v.Rows, row)
	}
	if stories != nil {
		for status, n := range stories.ByStatus {
			v.StatusRows = append(v.StatusRows, statusCount{Status: status, Count: n})
		}
		sort.Slice(v.StatusRows, func(i, j int) bool { return v.StatusRows[i].Status < v.StatusRows[j].Status })
		v.CompletionRate = oneDecimal(stories.CompletionRate)
	}

	var buf bytes.Buffer
	if err := mdTemplate.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}
