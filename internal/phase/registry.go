// Package phase holds the static description of the seven SDLC phases:
// their order, goals, gates, expected artifacts and dependencies, plus the
// verdict-driven transition policy.
package phase

import (
	"github.com/sdlc-agency/agency/internal/types"
)

// GateType describes how a phase gate is evaluated.
type GateType string

const (
	GateDual           GateType = "dual"            // PM + TL verdicts
	GateSingle         GateType = "single"          // one PASS/FAIL verdict
	GateSingleExtended GateType = "single_extended" // PASS/FAIL_BUG/FAIL_TEST
)

// Info is the registry entry for a phase.
type Info struct {
	Phase     types.Phase `json:"phase"`
	Index     int         `json:"index"`
	Goal      string      `json:"goal"`
	HasGate   bool        `json:"has_gate"`
	GateType  GateType    `json:"gate_type,omitempty"`
	Artifacts []string    `json:"artifacts"`
}

var registry = map[types.Phase]Info{
	types.PhasePlan: {
		Index:     0,
		Goal:      "docs/PROJECT_BRIEF.md + backlog",
		Artifacts: []string{"docs/PROJECT_BRIEF.md"},
	},
	types.PhaseDesign: {
		Index:     1,
		Goal:      "docs/ARCHITECTURE.md",
		Artifacts: []string{"docs/ARCHITECTURE.md"},
	},
	types.PhaseValidate: {
		Index:     2,
		Goal:      "docs/VALIDATION.md with dual verdicts",
		HasGate:   true,
		GateType:  GateDual,
		Artifacts: []string{"docs/VALIDATION.md"},
	},
	types.PhaseImplement: {
		Index:     3,
		Goal:      "Source code in src/",
		Artifacts: []string{"src/"},
	},
	types.PhaseReview: {
		Index:     4,
		Goal:      "docs/REVIEW.md",
		HasGate:   true,
		GateType:  GateSingle,
		Artifacts: []string{"docs/REVIEW.md"},
	},
	types.PhaseTest: {
		Index:     5,
		Goal:      "Tests in tests/ + docs/TEST_REPORT.md",
		HasGate:   true,
		GateType:  GateSingleExtended,
		Artifacts: []string{"tests/", "docs/TEST_REPORT.md"},
	},
	types.PhaseDocument: {
		Index:     6,
		Goal:      "README.md, CHANGELOG.md, docs/API_REFERENCE.md",
		Artifacts: []string{"README.md", "CHANGELOG.md", "docs/API_REFERENCE.md"},
	},
}

// Lookup returns the registry entry for p.
func Lookup(p types.Phase) (Info, error) {
	info, ok := registry[p]
	if !ok {
		return Info{}, types.InvalidArgumentf("unknown phase %q", p)
	}
	info.Phase = p
	info.Artifacts = append([]string(nil), info.Artifacts...)
	return info, nil
}

// Sequence returns every phase's registry entry in canonical order.
func Sequence() []Info {
	out := make([]Info, 0, len(registry))
	for _, p := range types.Phases() {
		info, _ := Lookup(p)
		out = append(out, info)
	}
	return out
}

// Dependency is the precondition a phase has on its predecessor.
type Dependency struct {
	// Requires must be completed before the phase may start.
	Requires types.Phase
	// GateVerdict, when set, is the last verdict Requires' gate must carry
	// (for validate: the combined verdict).
	GateVerdict types.Verdict
}

var dependencies = map[types.Phase]Dependency{
	types.PhaseDesign:    {Requires: types.PhasePlan},
	types.PhaseValidate:  {Requires: types.PhaseDesign},
	types.PhaseImplement: {Requires: types.PhaseValidate, GateVerdict: types.VerdictApproved},
	types.PhaseReview:    {Requires: types.PhaseImplement},
	types.PhaseTest:      {Requires: types.PhaseReview, GateVerdict: types.VerdictPass},
	types.PhaseDocument:  {Requires: types.PhaseTest, GateVerdict: types.VerdictPass},
}

// DependencyOf returns the dependency of p. plan has none (ok=false).
func DependencyOf(p types.Phase) (Dependency, bool) {
	d, ok := dependencies[p]
	return d, ok
}

// Next returns the phase after p in canonical order, or "" for document.
func Next(p types.Phase) types.Phase {
	ps := types.Phases()
	for i, q := range ps {
		if q == p && i+1 < len(ps) {
			return ps[i+1]
		}
	}
	return ""
}
