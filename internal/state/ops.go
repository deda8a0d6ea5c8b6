package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sdlc-agency/agency/internal/phase"
	"github.com/sdlc-agency/agency/internal/types"
)

// UpdateRequest describes a phase status change.
type UpdateRequest struct {
	Phase       types.Phase
	Status      types.PhaseStatus
	Agent       string
	AgentStatus string
	Notes       string
}

// UpdateResult is returned by UpdatePhase.
type UpdateResult struct {
	Status          string              `json:"status"`
	Phase           types.Phase         `json:"phase"`
	PhaseStatus     types.PhaseStatus   `json:"phase_status"`
	CurrentPhase    *types.Phase        `json:"current_phase"`
	CompletedPhases int                 `json:"completed_phases"`
	OverallStatus   types.OverallStatus `json:"overall_status"`
}

// UpdatePhase applies a status transition to one phase. Dependency gating
// is not enforced here; callers check CanProceed first.
func (s *Store) UpdatePhase(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	if !req.Phase.IsValid() {
		return nil, types.InvalidArgumentf("Invalid phase: %s", req.Phase)
	}
	if !req.Status.IsValid() {
		return nil, types.InvalidArgumentf("Invalid status: %s", req.Status)
	}

	doc, err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		doc.setStatus(req.Phase, req.Status, now)
		ps := doc.Phases[req.Phase]
		if agent := strings.TrimSpace(req.Agent); agent != "" {
			status := strings.TrimSpace(req.AgentStatus)
			if status == "" {
				status = "completed"
			}
			ps.Agents[agent] = status
		}
		if req.Notes != "" {
			ps.Notes = req.Notes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &UpdateResult{
		Status:          "updated",
		Phase:           req.Phase,
		PhaseStatus:     req.Status,
		CurrentPhase:    doc.CurrentPhase,
		CompletedPhases: doc.Metrics.CompletedPhases,
		OverallStatus:   doc.Status,
	}, nil
}

// GateRequest carries one gate-record invocation.
type GateRequest struct {
	Phase       types.Phase
	Verdict     types.Verdict
	PM          types.Verdict
	TL          types.Verdict
	TestsPassed *int
	TestsFailed *int
}

// GateRecordResult is returned by RecordGate.
type GateRecordResult struct {
	Status        string        `json:"status"`
	Phase         types.Phase   `json:"phase"`
	Iteration     int           `json:"iteration"`
	VerdictRecord VerdictRecord `json:"verdict_record"`
}

// buildVerdict validates the request shape for its phase and returns the
// record without an iteration number.
func buildVerdict(req GateRequest) (VerdictRecord, error) {
	var rec VerdictRecord
	switch req.Phase {
	case types.PhaseValidate:
		if req.PM == "" || req.TL == "" {
			return rec, types.InvalidArgumentf("Validate gate requires both --pm and --tl verdicts")
		}
		if !req.PM.IsValidFor(types.PhaseValidate) || !req.TL.IsValidFor(types.PhaseValidate) {
			return rec, types.InvalidArgumentf("Validate gate verdicts must be APPROVED or REPROVED (got pm=%s, tl=%s)", req.PM, req.TL)
		}
		rec.PM, rec.TL = req.PM, req.TL
		rec.Combined = types.VerdictReproved
		if req.PM == types.VerdictApproved && req.TL == types.VerdictApproved {
			rec.Combined = types.VerdictApproved
		}
	case types.PhaseReview:
		if !req.Verdict.IsValidFor(types.PhaseReview) {
			return rec, types.InvalidArgumentf("Review gate expects PASS or FAIL verdict")
		}
		rec.Verdict = req.Verdict
	case types.PhaseTest:
		if !req.Verdict.IsValidFor(types.PhaseTest) {
			return rec, types.InvalidArgumentf("Test gate expects PASS, FAIL_BUG, or FAIL_TEST verdict")
		}
		for name, n := range map[string]*int{"tests-passed": req.TestsPassed, "tests-failed": req.TestsFailed} {
			if n != nil && *n < 0 {
				return rec, types.InvalidArgumentf("--%s must not be negative", name)
			}
		}
		rec.Verdict = req.Verdict
		rec.TestsPassed = req.TestsPassed
		rec.TestsFailed = req.TestsFailed
	default:
		return rec, types.InvalidArgumentf("Phase %s is not a gate phase. Gate phases: validate, review, test", req.Phase)
	}
	return rec, nil
}

// RecordGate appends a verdict to the phase's gate and bumps the iteration
// counters. The request is validated before anything is written.
func (s *Store) RecordGate(ctx context.Context, req GateRequest) (*GateRecordResult, error) {
	rec, err := buildVerdict(req)
	if err != nil {
		return nil, err
	}

	_, err = s.mutate(ctx, func(doc *Document, _ time.Time) error {
		ps := doc.Phases[req.Phase]
		if ps.Gate == nil {
			ps.Gate = &GateState{MaxIterations: s.maxIterations, Verdicts: []VerdictRecord{}}
		}
		ps.Gate.Iterations++
		rec.Iteration = ps.Gate.Iterations
		ps.Gate.Verdicts = append(ps.Gate.Verdicts, rec)
		doc.Metrics.TotalGateIterations++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &GateRecordResult{
		Status:        "recorded",
		Phase:         req.Phase,
		Iteration:     rec.Iteration,
		VerdictRecord: rec,
	}, nil
}

// PhaseView is a single phase flattened with its name, as returned by
// Query with a phase.
type PhaseView struct {
	Phase types.Phase `json:"phase"`
	*PhaseState
}

// Query returns the whole document, one phase (PhaseView), or one top-level
// field as raw JSON. field takes precedence over phase.
func (s *Store) Query(_ context.Context, p types.Phase, field string) (interface{}, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	if field = strings.TrimSpace(field); field != "" {
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		v, ok := fields[field]
		if !ok {
			return nil, types.NotFoundf("Field not found: %s", field)
		}
		return v, nil
	}
	if p != "" {
		if !p.IsValid() {
			return nil, types.InvalidArgumentf("Invalid phase: %s", p)
		}
		return &PhaseView{Phase: p, PhaseState: doc.Phases[p]}, nil
	}
	return doc, nil
}

// CanProceedResult answers whether a phase may start.
type CanProceedResult struct {
	Allowed       bool         `json:"allowed"`
	Reason        string       `json:"reason"`
	BlockingPhase *types.Phase `json:"blocking_phase"`
	ToPhase       types.Phase  `json:"to_phase"`
}

// CanProceed checks that the predecessor of to is completed and, for
// implement/test/document, that the predecessor's last gate verdict is the
// required one. A missing verdict blocks; it is not an error.
func (s *Store) CanProceed(_ context.Context, to types.Phase) (*CanProceedResult, error) {
	if !to.IsValid() {
		return nil, types.InvalidArgumentf("Invalid phase: %s", to)
	}
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	return evaluateDependency(doc, to), nil
}

func evaluateDependency(doc *Document, to types.Phase) *CanProceedResult {
	res := &CanProceedResult{ToPhase: to}
	dep, ok := phase.DependencyOf(to)
	if !ok {
		res.Allowed = true
		res.Reason = "All dependencies satisfied"
		return res
	}

	blocked := func(reason string) *CanProceedResult {
		req := dep.Requires
		res.Reason = reason
		res.BlockingPhase = &req
		return res
	}

	req := doc.Phases[dep.Requires]
	if req.Status != types.PhaseCompleted {
		return blocked(fmt.Sprintf("Phase %s is required but has status: %s", dep.Requires, req.Status))
	}
	if dep.GateVerdict != "" {
		last := req.Gate.Last()
		name := capitalize(string(dep.Requires))
		if last == nil {
			return blocked(fmt.Sprintf("%s gate has no verdicts recorded", name))
		}
		if last.Outcome() != dep.GateVerdict {
			if dep.Requires == types.PhaseValidate {
				return blocked("Validate gate must have combined APPROVED verdict")
			}
			return blocked(fmt.Sprintf("%s gate must have %s verdict", name, dep.GateVerdict))
		}
	}

	res.Allowed = true
	res.Reason = "All dependencies satisfied"
	return res
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// PhaseSummary is the condensed view of one phase.
type PhaseSummary struct {
	Status          types.PhaseStatus `json:"status"`
	DurationSeconds *int              `json:"duration_seconds"`
	Agents          map[string]string `json:"agents,omitempty"`
	Gate            *GateSummary      `json:"gate,omitempty"`
	Notes           string            `json:"notes,omitempty"`
}

// GateSummary is present only when at least one verdict was recorded.
type GateSummary struct {
	Iterations    int           `json:"iterations"`
	MaxIterations int           `json:"max_iterations"`
	LastVerdict   VerdictRecord `json:"last_verdict"`
}

// PhaseSummaries serializes in canonical phase order.
type PhaseSummaries map[types.Phase]*PhaseSummary

func (p PhaseSummaries) MarshalJSON() ([]byte, error) {
	return marshalCanonical(p)
}

// SummaryResult is returned by Summary.
type SummaryResult struct {
	Project       string              `json:"project"`
	Objective     string              `json:"objective"`
	CurrentPhase  *types.Phase        `json:"current_phase"`
	OverallStatus types.OverallStatus `json:"overall_status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Metrics       Metrics             `json:"metrics"`
	Phases        PhaseSummaries      `json:"phases"`
}

// Snapshot returns the whole document as read from disk, for read-only
// reporting.
func (s *Store) Snapshot(_ context.Context) (*Document, error) {
	return s.Load()
}

// Summary condenses the document for display.
func (s *Store) Summary(_ context.Context) (*SummaryResult, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := &SummaryResult{
		Project:       doc.Project,
		Objective:     doc.Objective,
		CurrentPhase:  doc.CurrentPhase,
		OverallStatus: doc.Status,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		Metrics:       doc.Metrics,
		Phases:        make(PhaseSummaries, len(doc.Phases)),
	}
	for _, p := range types.Phases() {
		ps := doc.Phases[p]
		sum := &PhaseSummary{Status: ps.Status, Notes: ps.Notes}
		if d, ok := doc.Metrics.PhaseDurations[p]; ok {
			sum.DurationSeconds = &d
		}
		if len(ps.Agents) > 0 {
			sum.Agents = ps.Agents
		}
		if last := ps.Gate.Last(); last != nil {
			sum.Gate = &GateSummary{
				Iterations:    ps.Gate.Iterations,
				MaxIterations: ps.Gate.MaxIterations,
				LastVerdict:   *last,
			}
		}
		out.Phases[p] = sum
	}
	return out, nil
}

// StartResult is returned by StartPhase.
type StartResult struct {
	Ready        bool         `json:"ready"`
	BlockedBy    *types.Phase `json:"blocked_by,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	StateUpdated bool         `json:"state_updated"`
}

// StartPhase checks that p's predecessor is completed (status only, gate
// verdicts are not consulted) and marks p in_progress. When blocked,
// nothing is written.
func (s *Store) StartPhase(ctx context.Context, p types.Phase) (*StartResult, error) {
	if !p.IsValid() {
		return nil, types.InvalidArgumentf("Invalid phase: %s", p)
	}
	res := &StartResult{}
	_, err := s.mutate(ctx, func(doc *Document, now time.Time) error {
		if dep, ok := phase.DependencyOf(p); ok {
			if st := doc.Phases[dep.Requires].Status; st != types.PhaseCompleted {
				req := dep.Requires
				res.BlockedBy = &req
				res.Reason = fmt.Sprintf("Phase %s has status: %s", dep.Requires, st)
				return errBlocked
			}
		}
		if doc.Phases[p].Status != types.PhaseInProgress {
			doc.setStatus(p, types.PhaseInProgress, now)
		}
		return nil
	})
	if errors.Is(err, errBlocked) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Ready = true
	res.StateUpdated = true
	return res, nil
}

var errBlocked = errors.New("phase blocked")
