package phase

import (
	"strings"

	"github.com/sdlc-agency/agency/internal/types"
)

// Action is what the orchestrator should do after a gate verdict.
type Action string

const (
	ActionProceed  Action = "proceed"
	ActionLoopBack Action = "loop_back"
	ActionFixTests Action = "fix_tests"
)

// Decision is the outcome of the transition policy.
type Decision struct {
	Current       types.Phase `json:"current"`
	Verdict       string      `json:"verdict"`
	Next          types.Phase `json:"next_phase"`
	Action        Action      `json:"action"`
	Reason        string      `json:"reason"`
	SpawnFixAgent bool        `json:"spawn_fix_agent,omitempty"`
}

// NextPhase applies the verdict transition table. For validate the verdict
// is "PM,TL" (e.g. "APPROVED,REPROVED"); PM reproval is checked before TL
// reproval. Any other combination is an InvalidArgument error.
func NextPhase(current types.Phase, verdict string) (*Decision, error) {
	d := &Decision{Current: current, Verdict: strings.ToUpper(strings.TrimSpace(verdict))}

	switch current {
	case types.PhaseValidate:
		parts := strings.Split(d.Verdict, ",")
		if len(parts) != 2 {
			return nil, types.InvalidArgumentf("validate verdict must be PM,TL (e.g. APPROVED,REPROVED), got %q", verdict)
		}
		pm := types.ParseVerdict(parts[0])
		tl := types.ParseVerdict(parts[1])
		if !pm.IsValidFor(types.PhaseValidate) || !tl.IsValidFor(types.PhaseValidate) {
			return nil, types.InvalidArgumentf("validate verdicts must be APPROVED or REPROVED, got %q", verdict)
		}
		d.Verdict = string(pm) + "," + string(tl)
		switch {
		case pm == types.VerdictApproved && tl == types.VerdictApproved:
			d.Next, d.Action, d.Reason = types.PhaseImplement, ActionProceed, "Both approved"
		case pm == types.VerdictReproved:
			d.Next, d.Action, d.Reason = types.PhasePlan, ActionLoopBack, "PM reproved -- return to Plan"
		default:
			d.Next, d.Action, d.Reason = types.PhaseDesign, ActionLoopBack, "TL reproved -- return to Design"
		}
		return d, nil

	case types.PhaseReview:
		switch types.Verdict(d.Verdict) {
		case types.VerdictPass:
			d.Next, d.Action, d.Reason = types.PhaseTest, ActionProceed, "Review passed"
			return d, nil
		case types.VerdictFail:
			d.Next, d.Action, d.Reason = types.PhaseImplement, ActionLoopBack, "Blocking issues found"
			return d, nil
		}

	case types.PhaseTest:
		switch types.Verdict(d.Verdict) {
		case types.VerdictPass:
			d.Next, d.Action, d.Reason = types.PhaseDocument, ActionProceed, "All tests pass"
			return d, nil
		case types.VerdictFailBug:
			d.Next, d.Action, d.Reason = types.PhaseImplement, ActionLoopBack, "Bug found -- return to Implement"
			return d, nil
		case types.VerdictFailTest:
			d.Next, d.Action, d.Reason = types.PhaseTest, ActionFixTests, "Test issue -- spawn qa-test-fix to fix tests, then re-run"
			d.SpawnFixAgent = true
			return d, nil
		}
	}

	return nil, types.InvalidArgumentf("Invalid phase/verdict combination: %s/%s", current, verdict)
}
