// Package gate extracts gate verdicts and clarification questions from the
// free-form text agents produce. Everything here is pure: no I/O, no state.
package gate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sdlc-agency/agency/internal/types"
)

var (
	validateMarkerRe = regexp.MustCompile(`(?i)\[VERDICT:(APPROVED|REPROVED)\]`)
	reviewMarkerRe   = regexp.MustCompile(`(?i)\[GATE:(PASS|FAIL)\]`)
	testMarkerRe     = regexp.MustCompile(`(?i)\[GATE:(PASS|FAIL_BUG|FAIL_TEST)\]`)
	blockingRe       = regexp.MustCompile(`(?i)(blocking|critical|must.?fix)`)
	passedRe         = regexp.MustCompile(`(?i)(\d+)\s*(?:tests?\s+)?passed`)
	failedRe         = regexp.MustCompile(`(?i)(\d+)\s*(?:tests?\s+)?failed`)
)

// Missing is the result when no marker for the phase is present.
type Missing struct {
	Found bool   `json:"found"`
	Error string `json:"error"`
}

// ValidateResult is the dual-verdict parse of validate output. The first
// marker is the PM verdict and the second the TL verdict; extras are ignored.
type ValidateResult struct {
	Found           bool            `json:"found"`
	Partial         bool            `json:"partial,omitempty"`
	Verdicts        []types.Verdict `json:"verdicts,omitempty"`
	Warning         string          `json:"warning,omitempty"`
	PM              types.Verdict   `json:"pm,omitempty"`
	TL              types.Verdict   `json:"tl,omitempty"`
	Combined        types.Verdict   `json:"combined,omitempty"`
	CombinedVerdict string          `json:"combined_verdict,omitempty"`
}

// ReviewResult is the parse of review output. The last marker wins.
type ReviewResult struct {
	Found                  bool          `json:"found"`
	Verdict                types.Verdict `json:"verdict"`
	BlockingIssuesEstimate int           `json:"blocking_issues_estimate"`
}

// TestResult is the parse of test output. The last marker wins; test counts
// are nil when the text carries no "<N> passed" / "<N> failed" phrase.
type TestResult struct {
	Found       bool          `json:"found"`
	Verdict     types.Verdict `json:"verdict"`
	TestsPassed *int          `json:"tests_passed"`
	TestsFailed *int          `json:"tests_failed"`
}

// Combine returns APPROVED iff both PM and TL approved.
func Combine(pm, tl types.Verdict) types.Verdict {
	if pm == types.VerdictApproved && tl == types.VerdictApproved {
		return types.VerdictApproved
	}
	return types.VerdictReproved
}

// Parse dispatches on phase and returns *ValidateResult, *ReviewResult,
// *TestResult or *Missing. Phases without a gate are an InvalidArgument.
func Parse(p types.Phase, text string) (interface{}, error) {
	switch p {
	case types.PhaseValidate:
		if r, ok := ParseValidate(text); ok {
			return r, nil
		}
		return &Missing{Error: "No [VERDICT:...] markers found in text"}, nil
	case types.PhaseReview:
		if r, ok := ParseReview(text); ok {
			return r, nil
		}
		return &Missing{Error: "No [GATE:PASS/FAIL] marker found in text"}, nil
	case types.PhaseTest:
		if r, ok := ParseTest(text); ok {
			return r, nil
		}
		return &Missing{Error: "No [GATE:PASS/FAIL_BUG/FAIL_TEST] marker found"}, nil
	}
	return nil, types.InvalidArgumentf("Unknown gate phase: %s. Valid: validate, review, test", p)
}

// ParseValidate extracts validate verdicts. ok is false when no marker exists.
func ParseValidate(text string) (*ValidateResult, bool) {
	matches := validateMarkerRe.FindAllStringSubmatch(text, -1)
	switch len(matches) {
	case 0:
		return nil, false
	case 1:
		return &ValidateResult{
			Found:    true,
			Partial:  true,
			Verdicts: []types.Verdict{types.ParseVerdict(matches[0][1])},
			Warning:  "Only 1 verdict found, validate gate requires 2 (PM + TL)",
		}, true
	}
	pm := types.ParseVerdict(matches[0][1])
	tl := types.ParseVerdict(matches[1][1])
	return &ValidateResult{
		Found:           true,
		PM:              pm,
		TL:              tl,
		Combined:        Combine(pm, tl),
		CombinedVerdict: string(pm) + "," + string(tl),
	}, true
}

// ParseReview extracts the review verdict. ok is false when no marker exists.
func ParseReview(text string) (*ReviewResult, bool) {
	matches := reviewMarkerRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, false
	}
	return &ReviewResult{
		Found:                  true,
		Verdict:                types.ParseVerdict(matches[len(matches)-1][1]),
		BlockingIssuesEstimate: len(blockingRe.FindAllStringIndex(text, -1)),
	}, true
}

// ParseTest extracts the test verdict and counts. ok is false when no
// marker exists.
func ParseTest(text string) (*TestResult, bool) {
	matches := testMarkerRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, false
	}
	return &TestResult{
		Found:       true,
		Verdict:     types.ParseVerdict(matches[len(matches)-1][1]),
		TestsPassed: lastCount(passedRe, text),
		TestsFailed: lastCount(failedRe, text),
	}, true
}

func lastCount(re *regexp.Regexp, text string) *int {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return nil
	}
	return &n
}

// IterationCheck is the escalation decision for a gate loop.
type IterationCheck struct {
	Phase          string `json:"phase"`
	Iteration      int    `json:"iteration"`
	Max            int    `json:"max"`
	ShouldEscalate bool   `json:"should_escalate"`
	Action         string `json:"action"`
	Message        string `json:"message"`
}

// CheckIteration reports whether a gate loop has hit its iteration limit.
func CheckIteration(phase string, iteration, max int) *IterationCheck {
	c := &IterationCheck{
		Phase:          strings.ToLower(strings.TrimSpace(phase)),
		Iteration:      iteration,
		Max:            max,
		ShouldEscalate: iteration >= max,
	}
	if c.ShouldEscalate {
		c.Action = "escalate_to_user"
		c.Message = "Gate failed " + strconv.Itoa(iteration) + "/" + strconv.Itoa(max) + " times. Escalating to user."
	} else {
		c.Action = "continue_loop"
		c.Message = "Gate iteration " + strconv.Itoa(iteration) + "/" + strconv.Itoa(max) + ". Retrying."
	}
	return c
}
