// Package report derives workflow metrics from STATE.json and the backlog:
// phase timing, gate iterations and story progress.
package report

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sdlc-agency/agency/internal/backlog"
	"github.com/sdlc-agency/agency/internal/state"
	"github.com/sdlc-agency/agency/internal/types"
)

// StoriesNote stands in for story metrics when no backlog was read.
const StoriesNote = "Story metrics require backlog access - use 'metrics stories' subcommand"

// verdictUnknown is reported for a gate whose history is empty.
const verdictUnknown types.Verdict = "UNKNOWN"

var timeNow = func() time.Time { return time.Now().UTC() }

// Progress counts completed phases.
type Progress struct {
	CompletedPhases int     `json:"completed_phases"`
	TotalPhases     int     `json:"total_phases"`
	Percentage      float64 `json:"percentage"`
}

// Duration is a phase duration in seconds plus its human form.
type Duration struct {
	Seconds   int    `json:"seconds"`
	Formatted string `json:"formatted"`
}

// Timing summarizes recorded phase durations.
type Timing struct {
	TotalElapsedSeconds       int                      `json:"total_elapsed_seconds"`
	PhaseDurations            map[types.Phase]Duration `json:"phase_durations"`
	AveragePhaseSeconds       int                      `json:"average_phase_seconds"`
	SlowestPhase              *types.Phase             `json:"slowest_phase"`
	FastestPhase              *types.Phase             `json:"fastest_phase"`
	EstimatedRemainingSeconds int                      `json:"estimated_remaining_seconds"`
}

// GateStat is one gate phase that ran at least once.
type GateStat struct {
	Iterations     int           `json:"iterations"`
	LastVerdict    types.Verdict `json:"last_verdict"`
	PassedFirstTry bool          `json:"passed_first_try"`
}

// Gates summarizes the validate, review and test gates.
type Gates struct {
	TotalIterations  int                      `json:"total_iterations"`
	ByPhase          map[types.Phase]GateStat `json:"by_phase"`
	FirstTryPassRate float64                  `json:"first_try_pass_rate"`
}

// StoryMetrics counts backlog stories.
type StoryMetrics struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	ByPriority     map[string]int `json:"by_priority"`
	CompletionRate float64        `json:"completion_rate"`
	InFlight       int            `json:"in_flight"`
	Blocked        int            `json:"blocked"`
}

// Dashboard is the whole-project view. Stories holds either a
// *StoryMetrics or a note object.
type Dashboard struct {
	Project  string              `json:"project"`
	Status   types.OverallStatus `json:"status"`
	Progress Progress            `json:"progress"`
	Timing   Timing              `json:"timing"`
	Gates    Gates               `json:"gates"`
	Stories  interface{}         `json:"stories"`
}

type storiesNote struct {
	Note string `json:"note"`
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func percent(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return round1(float64(n) / float64(total) * 100)
}

// FormatDuration renders seconds as "1h 30m 45s", dropping zero units.
// Negative values render as "-".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		return "-"
	}
	h, m, s := seconds/3600, seconds%3600/60, seconds%60
	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

// passing reports whether v lets the workflow move past its gate.
func passing(v types.Verdict) bool {
	return v == types.VerdictApproved || v == types.VerdictPass
}

func lastVerdict(g *state.GateState) types.Verdict {
	if last := g.Last(); last != nil && last.Outcome() != "" {
		return last.Outcome()
	}
	return verdictUnknown
}

// BuildDashboard computes the dashboard for doc. Story metrics are left as
// a note; callers with a backlog replace them.
func BuildDashboard(doc *state.Document) *Dashboard {
	d := &Dashboard{
		Project: doc.Project,
		Status:  doc.Status,
		Progress: Progress{
			CompletedPhases: doc.Metrics.CompletedPhases,
			TotalPhases:     doc.Metrics.TotalPhases,
			Percentage:      percent(doc.Metrics.CompletedPhases, doc.Metrics.TotalPhases),
		},
		Stories: storiesNote{Note: StoriesNote},
	}
	if d.Progress.TotalPhases == 0 {
		d.Progress.TotalPhases = len(types.Phases())
	}
	d.Timing = buildTiming(doc, d.Progress.TotalPhases-d.Progress.CompletedPhases)
	d.Gates = buildGates(doc)
	return d
}

func buildTiming(doc *state.Document, remaining int) Timing {
	t := Timing{PhaseDurations: map[types.Phase]Duration{}}
	var sum, counted, slowest, fastest int
	for _, p := range types.Phases() {
		secs, ok := doc.Metrics.PhaseDurations[p]
		if !ok {
			continue
		}
		t.TotalElapsedSeconds += secs
		t.PhaseDurations[p] = Duration{Seconds: secs, Formatted: FormatDuration(secs)}
		if secs <= 0 {
			continue
		}
		sum += secs
		counted++
		if t.SlowestPhase == nil || secs > slowest {
			ph := p
			t.SlowestPhase, slowest = &ph, secs
		}
		if t.FastestPhase == nil || secs < fastest {
			ph := p
			t.FastestPhase, fastest = &ph, secs
		}
	}
	if counted > 0 {
		avg := float64(sum) / float64(counted)
		t.AveragePhaseSeconds = int(avg)
		if remaining > 0 {
			t.EstimatedRemainingSeconds = int(avg * float64(remaining))
		}
	}
	return t
}

func buildGates(doc *state.Document) Gates {
	g := Gates{TotalIterations: doc.Metrics.TotalGateIterations, ByPhase: map[types.Phase]GateStat{}}
	firstTry := 0
	for _, p := range types.Phases() {
		if !p.HasGate() {
			continue
		}
		ps := doc.Phases[p]
		if ps == nil || ps.Gate == nil || ps.Gate.Iterations == 0 {
			continue
		}
		stat := GateStat{Iterations: ps.Gate.Iterations, LastVerdict: lastVerdict(ps.Gate)}
		stat.PassedFirstTry = stat.Iterations == 1 && passing(stat.LastVerdict)
		if stat.PassedFirstTry {
			firstTry++
		}
		g.ByPhase[p] = stat
	}
	g.FirstTryPassRate = percent(firstTry, len(g.ByPhase))
	return g
}

// PhaseGate is the gate block of a phase detail.
type PhaseGate struct {
	Iterations int           `json:"iterations"`
	Verdict    types.Verdict `json:"verdict"`
}

// PhaseDetail describes one phase. Absent values serialize as null.
type PhaseDetail struct {
	Phase             types.Phase       `json:"phase"`
	Status            types.PhaseStatus `json:"status"`
	DurationSeconds   *int              `json:"duration_seconds"`
	DurationFormatted *string           `json:"duration_formatted"`
	StartedAt         *time.Time        `json:"started_at"`
	CompletedAt       *time.Time        `json:"completed_at"`
	Agents            map[string]string `json:"agents"`
	Gate              *PhaseGate        `json:"gate"`
	Notes             *string           `json:"notes"`
}

// BuildPhase returns the detail for p.
func BuildPhase(doc *state.Document, p types.Phase) (*PhaseDetail, error) {
	ps := doc.Phases[p]
	if ps == nil {
		return nil, types.NotFoundf("phase %s missing from state", p)
	}
	out := &PhaseDetail{
		Phase:       p,
		Status:      ps.Status,
		StartedAt:   ps.StartedAt,
		CompletedAt: ps.CompletedAt,
	}
	if secs, ok := doc.Metrics.PhaseDurations[p]; ok {
		f := FormatDuration(secs)
		out.DurationSeconds, out.DurationFormatted = &secs, &f
	}
	if len(ps.Agents) > 0 {
		out.Agents = ps.Agents
	}
	if ps.Gate != nil && ps.Gate.Iterations > 0 {
		out.Gate = &PhaseGate{Iterations: ps.Gate.Iterations, Verdict: lastVerdict(ps.Gate)}
	}
	if ps.Notes != "" {
		notes := ps.Notes
		out.Notes = &notes
	}
	return out, nil
}

var storyFields = []string{"id", "title", "status", "priority"}

// Stories counts every story in the backlog behind c.
func Stories(ctx context.Context, c backlog.Client) (*StoryMetrics, error) {
	res, err := c.List(ctx, backlog.ListOptions{Format: backlog.FormatJSON, Fields: storyFields})
	if err != nil {
		return nil, err
	}
	m := &StoryMetrics{ByStatus: map[string]int{}, ByPriority: map[string]int{}}
	for _, row := range res.Stories {
		status, priority := row.String("status"), row.String("priority")
		m.ByStatus[status]++
		m.ByPriority[priority]++
		switch types.StoryStatus(status) {
		case types.StatusInProgress, types.StatusInReview, types.StatusInTesting:
			m.InFlight++
		case types.StatusBlocked:
			m.Blocked++
		}
	}
	m.Total = len(res.Stories)
	m.CompletionRate = percent(m.ByStatus[string(types.StatusDone)], m.Total)
	return m, nil
}
