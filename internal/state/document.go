// Package state implements the persistent SDLC state machine stored in
// STATE.json: phase statuses, timestamps, gate verdict history, metrics and
// per-feature pipeline records.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sdlc-agency/agency/internal/types"
)

// SchemaVersion is written to new documents.
const SchemaVersion = "1.0"

// Document is the full STATE.json content.
type Document struct {
	Version      string              `json:"version"`
	Project      string              `json:"project"`
	Objective    string              `json:"objective"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	CurrentPhase *types.Phase        `json:"current_phase"`
	Status       types.OverallStatus `json:"status"`
	Phases       Phases              `json:"phases"`
	Metrics      Metrics             `json:"metrics"`
}

// PhaseState is the per-phase record.
type PhaseState struct {
	Status      types.PhaseStatus `json:"status"`
	StartedAt   *time.Time        `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at"`
	Artifacts   []string          `json:"artifacts"`
	Agents      map[string]string `json:"agents"`
	Notes       string            `json:"notes"`
	Gate        *GateState        `json:"gate,omitempty"`
	Pipelines   []PipelineRecord  `json:"pipelines,omitempty"`
}

// GateState is created lazily on the first gate-record for a phase.
type GateState struct {
	Iterations    int             `json:"iterations"`
	MaxIterations int             `json:"max_iterations"`
	Verdicts      []VerdictRecord `json:"verdicts"`
}

// Last returns the most recent verdict, or nil when none was recorded.
func (g *GateState) Last() *VerdictRecord {
	if g == nil || len(g.Verdicts) == 0 {
		return nil
	}
	return &g.Verdicts[len(g.Verdicts)-1]
}

// VerdictRecord is one gate iteration. Validate records carry PM, TL and
// Combined; review and test records carry Verdict.
type VerdictRecord struct {
	Iteration   int           `json:"iteration"`
	PM          types.Verdict `json:"pm,omitempty"`
	TL          types.Verdict `json:"tl,omitempty"`
	Combined    types.Verdict `json:"combined,omitempty"`
	Verdict     types.Verdict `json:"verdict,omitempty"`
	TestsPassed *int          `json:"tests_passed,omitempty"`
	TestsFailed *int          `json:"tests_failed,omitempty"`
}

// Outcome is the verdict dependency checks compare against: Combined for
// validate records, Verdict otherwise.
func (r *VerdictRecord) Outcome() types.Verdict {
	if r.Combined != "" {
		return r.Combined
	}
	return r.Verdict
}

// PipelineRecord tracks one feature pipeline during implement.
type PipelineRecord struct {
	Feature    string      `json:"feature"`
	Phase      types.Phase `json:"phase"`
	Status     string      `json:"status"`
	BranchName string      `json:"branch_name,omitempty"`
	UpdatedAt  *time.Time  `json:"updated_at,omitempty"`
}

// Metrics are recomputed or incremented on every mutation.
type Metrics struct {
	TotalPhases         int                 `json:"total_phases"`
	CompletedPhases     int                 `json:"completed_phases"`
	TotalGateIterations int                 `json:"total_gate_iterations"`
	PhaseDurations      map[types.Phase]int `json:"phase_durations"`
}

// Phases maps every canonical phase to its state. It always holds exactly
// the seven canonical phases and serializes them in canonical order.
type Phases map[types.Phase]*PhaseState

// MarshalJSON writes phases in canonical order.
func (p Phases) MarshalJSON() ([]byte, error) {
	return marshalCanonical(p)
}

// UnmarshalJSON rejects documents that are missing a canonical phase or
// carry an unknown one.
func (p *Phases) UnmarshalJSON(data []byte) error {
	raw := map[string]*PhaseState{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Phases, len(raw))
	for name, ps := range raw {
		ph := types.Phase(name)
		if !ph.IsValid() {
			return fmt.Errorf("unknown phase %q", name)
		}
		if ps == nil {
			return fmt.Errorf("phase %q is null", name)
		}
		out[ph] = ps
	}
	for _, ph := range types.Phases() {
		if _, ok := out[ph]; !ok {
			return fmt.Errorf("missing phase %q", ph)
		}
	}
	*p = out
	return nil
}

// marshalCanonical encodes a phase-keyed map in canonical phase order,
// skipping phases that are absent.
func marshalCanonical[T any](m map[types.Phase]T) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, ph := range types.Phases() {
		v, ok := m[ph]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(string(ph))
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func newDocument(project, objective string, now time.Time) *Document {
	phases := make(Phases, len(types.Phases()))
	for _, ph := range types.Phases() {
		phases[ph] = &PhaseState{
			Status:    types.PhasePending,
			Artifacts: []string{},
			Agents:    map[string]string{},
		}
	}
	return &Document{
		Version:   SchemaVersion,
		Project:   project,
		Objective: objective,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    types.OverallInProgress,
		Phases:    phases,
		Metrics: Metrics{
			TotalPhases:    len(types.Phases()),
			PhaseDurations: map[types.Phase]int{},
		},
	}
}

// normalize fills nil collections left by hand-edited files so the
// document re-serializes with [] and {} rather than null.
func (d *Document) normalize() {
	for _, ps := range d.Phases {
		if ps.Artifacts == nil {
			ps.Artifacts = []string{}
		}
		if ps.Agents == nil {
			ps.Agents = map[string]string{}
		}
		if ps.Gate != nil && ps.Gate.Verdicts == nil {
			ps.Gate.Verdicts = []VerdictRecord{}
		}
	}
	if d.Metrics.PhaseDurations == nil {
		d.Metrics.PhaseDurations = map[types.Phase]int{}
	}
}

// recount recomputes completed_phases and the overall status. The overall
// status only changes to completed (all phases done) or in_progress (some
// phase running); otherwise it is left as is.
func (d *Document) recount() {
	completed := 0
	running := false
	for _, ps := range d.Phases {
		switch ps.Status {
		case types.PhaseCompleted:
			completed++
		case types.PhaseInProgress:
			running = true
		}
	}
	d.Metrics.CompletedPhases = completed
	switch {
	case completed == len(types.Phases()):
		d.Status = types.OverallCompleted
	case running:
		d.Status = types.OverallInProgress
	}
}

// setStatus moves phase p to status and maintains timestamps, current
// phase, durations and counts.
func (d *Document) setStatus(p types.Phase, status types.PhaseStatus, now time.Time) {
	ps := d.Phases[p]
	old := ps.Status
	ps.Status = status

	if old != types.PhaseInProgress && status == types.PhaseInProgress {
		started := now
		ps.StartedAt = &started
		cur := p
		d.CurrentPhase = &cur
	}
	if status == types.PhaseCompleted && old != types.PhaseCompleted {
		completed := now
		ps.CompletedAt = &completed
		if ps.StartedAt != nil {
			d.Metrics.PhaseDurations[p] = int(now.Sub(*ps.StartedAt) / time.Second)
		}
	}
	d.recount()
}
