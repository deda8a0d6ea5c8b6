// Package types defines the enums shared by the agency state machine,
// the backlog store and the pipeline grouper.
package types

import "strings"

// Phase is one of the seven SDLC phases.
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhaseDesign    Phase = "design"
	PhaseValidate  Phase = "validate"
	PhaseImplement Phase = "implement"
	PhaseReview    Phase = "review"
	PhaseTest      Phase = "test"
	PhaseDocument  Phase = "document"
)

// Phases returns the canonical phase sequence. The returned slice is a copy.
func Phases() []Phase {
	return []Phase{PhasePlan, PhaseDesign, PhaseValidate, PhaseImplement, PhaseReview, PhaseTest, PhaseDocument}
}

// IsValid checks if the phase value is one of the canonical phases
func (p Phase) IsValid() bool {
	switch p {
	case PhasePlan, PhaseDesign, PhaseValidate, PhaseImplement, PhaseReview, PhaseTest, PhaseDocument:
		return true
	}
	return false
}

// HasGate reports whether the phase ends in a verdict gate.
func (p Phase) HasGate() bool {
	return p == PhaseValidate || p == PhaseReview || p == PhaseTest
}

// ParsePhase normalizes (trim + lowercase) and validates a phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", InvalidArgumentf("invalid phase %q (valid: %s)", s, joinPhases(Phases()))
	}
	return p, nil
}

func joinPhases(ps []Phase) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}

// PhaseStatus is the lifecycle status of a single phase in STATE.json.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseSkipped    PhaseStatus = "skipped"
)

func (s PhaseStatus) IsValid() bool {
	switch s {
	case PhasePending, PhaseInProgress, PhaseCompleted, PhaseSkipped:
		return true
	}
	return false
}

// ParsePhaseStatus normalizes and validates a phase status.
func ParsePhaseStatus(s string) (PhaseStatus, error) {
	st := PhaseStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", InvalidArgumentf("invalid status %q (valid: pending, in_progress, completed, skipped)", s)
	}
	return st, nil
}

// OverallStatus is the project-level status in STATE.json.
type OverallStatus string

const (
	OverallInProgress OverallStatus = "in_progress"
	OverallCompleted  OverallStatus = "completed"
)

// Verdict values used by the three gates.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictReproved Verdict = "REPROVED"
	VerdictPass     Verdict = "PASS"
	VerdictFail     Verdict = "FAIL"
	VerdictFailBug  Verdict = "FAIL_BUG"
	VerdictFailTest Verdict = "FAIL_TEST"
)

// ParseVerdict upper-cases and trims a verdict. It does not check it against a phase.
func ParseVerdict(s string) Verdict {
	return Verdict(strings.ToUpper(strings.TrimSpace(s)))
}

// IsValidFor reports whether v is an allowed verdict for the gate of phase p.
// For validate this checks a single reviewer verdict (PM or TL).
func (v Verdict) IsValidFor(p Phase) bool {
	switch p {
	case PhaseValidate:
		return v == VerdictApproved || v == VerdictReproved
	case PhaseReview:
		return v == VerdictPass || v == VerdictFail
	case PhaseTest:
		return v == VerdictPass || v == VerdictFailBug || v == VerdictFailTest
	}
	return false
}

// Role is one of the five agent roles.
type Role string

const (
	RolePM  Role = "pm"
	RolePO  Role = "po"
	RoleTL  Role = "tl"
	RoleDev Role = "dev"
	RoleQA  Role = "qa"
)

// Roles returns all valid roles in declaration order.
func Roles() []Role {
	return []Role{RolePM, RolePO, RoleTL, RoleDev, RoleQA}
}

func (r Role) IsValid() bool {
	switch r {
	case RolePM, RolePO, RoleTL, RoleDev, RoleQA:
		return true
	}
	return false
}

// ParseRole normalizes and validates a role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", InvalidArgumentf("invalid role %q (valid: pm, po, tl, dev, qa)", s)
	}
	return r, nil
}

// StoryStatus is the workflow status of a backlog story.
type StoryStatus string

const (
	StatusDraft      StoryStatus = "Draft"
	StatusReady      StoryStatus = "Ready"
	StatusInDesign   StoryStatus = "In Design"
	StatusValidated  StoryStatus = "Validated"
	StatusInProgress StoryStatus = "In Progress"
	StatusInReview   StoryStatus = "In Review"
	StatusInTesting  StoryStatus = "In Testing"
	StatusDone       StoryStatus = "Done"
	StatusBlocked    StoryStatus = "Blocked"
	StatusCancelled  StoryStatus = "Cancelled"
)

// StoryStatuses returns the ten story statuses in workflow order.
func StoryStatuses() []StoryStatus {
	return []StoryStatus{
		StatusDraft, StatusReady, StatusInDesign, StatusValidated, StatusInProgress,
		StatusInReview, StatusInTesting, StatusDone, StatusBlocked, StatusCancelled,
	}
}

func (s StoryStatus) IsValid() bool {
	for _, v := range StoryStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStoryStatus validates a story status. Matching is exact, as stored.
func ParseStoryStatus(s string) (StoryStatus, error) {
	st := StoryStatus(strings.TrimSpace(s))
	if !st.IsValid() {
		return "", InvalidArgumentf("invalid status %q (valid: %s)", s, joinStatuses(StoryStatuses()))
	}
	return st, nil
}

func joinStatuses(ss []StoryStatus) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

// Priority is a MoSCoW priority.
type Priority string

const (
	PriorityMust   Priority = "Must"
	PriorityShould Priority = "Should"
	PriorityCould  Priority = "Could"
	PriorityWont   Priority = "Won't"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityMust, PriorityShould, PriorityCould, PriorityWont:
		return true
	}
	return false
}

// ParsePriority validates a MoSCoW priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.TrimSpace(s))
	if !p.IsValid() {
		return "", InvalidArgumentf("invalid priority %q (valid: Must, Should, Could, Won't)", s)
	}
	return p, nil
}
