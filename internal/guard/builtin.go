package guard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/state"
	"github.com/sdlc-agency/agency/internal/types"
	"github.com/sdlc-agency/agency/internal/utils"
)

// DefaultStateRel is where STATE.json lives under a project root.
var DefaultStateRel = filepath.Join("agent_docs", "agency", "STATE.json")

// RegisterBuiltinGuards registers the built-in guards on reg.
func RegisterBuiltinGuards(reg *Registry) {
	_ = reg.Register(PhaseSequenceGuard())
	_ = reg.Register(PreImplementGuard())
	_ = reg.Register(PreReviewGuard())
	_ = reg.Register(PreTestGuard())
	_ = reg.Register(BacklogReadGuard())
}

// Builtin returns a registry holding the built-in guards.
func Builtin() *Registry {
	reg := NewRegistry()
	RegisterBuiltinGuards(reg)
	return reg
}

var (
	slashPhaseRe   = regexp.MustCompile(`/(?:pm|po|tl|dev|qa)\s+(\w+)`)
	flagPhaseRe    = regexp.MustCompile(`--phase\s+(\w+)`)
	devImplementRe = regexp.MustCompile(`/dev\s+implement`)
	tlReviewRe     = regexp.MustCompile(`/tl\s+review`)
	qaTestRe       = regexp.MustCompile(`/qa\s+test`)
	approvedRe     = regexp.MustCompile(`(?i)\[VERDICT:\s*APPROVED\]`)
	reprovedRe     = regexp.MustCompile(`(?i)\[VERDICT:\s*REPROVED\]`)
	gatePassRe     = regexp.MustCompile(`(?i)\[GATE:\s*PASS\]`)
	gateFailRe     = regexp.MustCompile(`(?i)\[GATE:\s*FAIL\]`)
	blockingRe     = regexp.MustCompile(`(?i)BLOCKING ISSUES`)
)

// DetectPhase finds a phase invocation in a shell command: a skill call
// such as "/dev implement" or a "--phase implement" flag.
func DetectPhase(command string) (types.Phase, bool) {
	if m := slashPhaseRe.FindStringSubmatch(command); m != nil {
		return types.Phase(m[1]), true
	}
	if m := flagPhaseRe.FindStringSubmatch(command); m != nil {
		return types.Phase(m[1]), true
	}
	return "", false
}

// projectRoot walks up from gc.WorkDir looking for the state file.
func (c *Context) projectRoot() string {
	rel := c.StateRel
	if rel == "" {
		rel = DefaultStateRel
	}
	dir := c.WorkDir
	if dir == "" && c.Input != nil {
		dir = c.Input.Cwd
	}
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return utils.FindUp(dir, rel)
}

func (c *Context) statePath(root string) string {
	rel := c.StateRel
	if rel == "" {
		rel = DefaultStateRel
	}
	return filepath.Join(root, rel)
}

const phaseRules = `Phase sequence rules:
  - plan: always allowed
  - design: plan must be 'completed'
  - validate: design must be 'completed'
  - implement: validate must be 'completed' + dual APPROVED verdicts
  - review: implement must be 'completed'
  - test: review must be 'completed' + PASS verdict
  - document: test must be 'completed' + PASS verdict
`

// PhaseSequenceGuard blocks phase invocations whose prerequisites are not
// met according to STATE.json. Without a state file, or with one that
// cannot be read, the call is allowed.
func PhaseSequenceGuard() *Guard {
	return &Guard{
		ID:          "phase-sequence",
		Tool:        ToolBash,
		Description: "phase invoked before its prerequisites completed",
		Mode:        ModeStrict,
		Check:       checkPhaseSequence,
	}
}

func checkPhaseSequence(ctx context.Context, gc *Context) *Verdict {
	p, ok := DetectPhase(gc.Command())
	if !ok || !p.IsValid() {
		return nil
	}
	root := gc.projectRoot()
	if root == "" {
		return nil
	}
	res, err := state.NewStore(gc.statePath(root)).CanProceed(ctx, p)
	if err != nil {
		debug.Logf("guard: phase-sequence: %v\n", err)
		return nil
	}
	if res.Allowed {
		return nil
	}
	return &Verdict{
		Reason: res.Reason,
		Message: fmt.Sprintf("BLOCKED: Cannot proceed with '%s' phase.\nReason: %s\n\n%s",
			p, res.Reason, phaseRules),
	}
}

// PreImplementGuard blocks /dev implement unless docs/VALIDATION.md holds
// at least two [VERDICT:APPROVED] markers.
func PreImplementGuard() *Guard {
	return &Guard{
		ID:          "pre-implement",
		Tool:        ToolBash,
		Description: "implementation without dual validation approval",
		Mode:        ModeStrict,
		Check:       checkPreImplement,
	}
}

func checkPreImplement(_ context.Context, gc *Context) *Verdict {
	if !devImplementRe.MatchString(gc.Command()) {
		return nil
	}
	root := gc.projectRoot()
	if root == "" {
		return nil
	}
	reason := validationProblem(filepath.Join(root, "docs", "VALIDATION.md"))
	if reason == "" {
		return nil
	}
	return &Verdict{
		Reason: reason,
		Message: "BLOCKED: Cannot proceed with /dev implement.\n" +
			"Reason: " + reason + "\n\n" +
			"Implementation requires validation approval from both PM and TL.\n" +
			"Edit docs/VALIDATION.md and ensure it contains:\n" +
			"  1. Business Validation section with [VERDICT:APPROVED]\n" +
			"  2. Technical Validation section with [VERDICT:APPROVED]\n" +
			"Then return to implementation.\n",
	}
}

func validationProblem(path string) string {
	data, err := os.ReadFile(path) // #nosec G304 - fixed name under the project root
	if os.IsNotExist(err) {
		return "VALIDATION.md not found"
	}
	if err != nil {
		return fmt.Sprintf("Could not read VALIDATION.md: %v", err)
	}
	switch n := len(approvedRe.FindAll(data, -1)); {
	case n >= 2:
		return ""
	case n == 1:
		return "VALIDATION.md has only 1 APPROVED verdict. Need 2 (PM + TL)"
	}
	if reprovedRe.Match(data) {
		return "VALIDATION.md contains REPROVED verdict(s). Design must be revised."
	}
	return "VALIDATION.md does not contain any APPROVED verdicts"
}

// PreReviewGuard blocks /tl review while src/ is missing or holds only
// dotfiles.
func PreReviewGuard() *Guard {
	return &Guard{
		ID:          "pre-review",
		Tool:        ToolBash,
		Description: "code review without source code",
		Mode:        ModeStrict,
		Check:       checkPreReview,
	}
}

func checkPreReview(_ context.Context, gc *Context) *Verdict {
	if !tlReviewRe.MatchString(gc.Command()) {
		return nil
	}
	root := gc.projectRoot()
	if root == "" {
		return nil
	}
	reason := sourceProblem(filepath.Join(root, "src"))
	if reason == "" {
		return nil
	}
	return &Verdict{
		Reason: reason,
		Message: "BLOCKED: Cannot proceed with /tl review.\n" +
			"Reason: " + reason + "\n\n" +
			"Code review requires source code to review. The src/ directory\n" +
			"must exist and contain implementation files.\n" +
			"Steps:\n" +
			"  1. Run /dev implement to generate source code\n" +
			"  2. Ensure src/ directory contains implementation files\n" +
			"  3. Then proceed with /tl review\n",
	}
}

func sourceProblem(dir string) string {
	info, err := os.Stat(dir)
	if err != nil {
		return "src/ directory does not exist"
	}
	if !info.IsDir() {
		return "src/ exists but is not a directory"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Sprintf("Could not read src/ directory: %v", err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			return ""
		}
	}
	return "src/ directory exists but is empty"
}

// PreTestGuard blocks /qa test unless docs/REVIEW.md shows [GATE:PASS].
func PreTestGuard() *Guard {
	return &Guard{
		ID:          "pre-test",
		Tool:        ToolBash,
		Description: "testing without a passing code review",
		Mode:        ModeStrict,
		Check:       checkPreTest,
	}
}

func checkPreTest(_ context.Context, gc *Context) *Verdict {
	if !qaTestRe.MatchString(gc.Command()) {
		return nil
	}
	root := gc.projectRoot()
	if root == "" {
		return nil
	}
	reason := reviewProblem(filepath.Join(root, "docs", "REVIEW.md"))
	if reason == "" {
		return nil
	}
	return &Verdict{
		Reason: reason,
		Message: "BLOCKED: Cannot proceed with /qa test.\n" +
			"Reason: " + reason + "\n\n" +
			"Testing requires code review approval. The code review (REVIEW.md)\n" +
			"must be completed and show [GATE:PASS] verdict.\n" +
			"Steps:\n" +
			"  1. Run /tl review to complete code review\n" +
			"  2. Ensure REVIEW.md contains [GATE:PASS]\n" +
			"  3. Fix any blocking issues if needed\n" +
			"  4. Then proceed with /qa test\n",
	}
}

func reviewProblem(path string) string {
	data, err := os.ReadFile(path) // #nosec G304 - fixed name under the project root
	if os.IsNotExist(err) {
		return "REVIEW.md not found"
	}
	if err != nil {
		return fmt.Sprintf("Could not read REVIEW.md: %v", err)
	}
	switch {
	case gatePassRe.Match(data):
		return ""
	case gateFailRe.Match(data):
		return "REVIEW.md shows [GATE:FAIL]. Code review failed."
	case blockingRe.Match(data):
		return "REVIEW.md contains blocking issues that must be fixed."
	}
	return "REVIEW.md does not contain a [GATE:PASS] verdict"
}

// BacklogReadGuard blocks direct reads of backlog.json and BACKLOG.md
// under agent_docs; agents go through `agency story` instead.
func BacklogReadGuard() *Guard {
	return &Guard{
		ID:          "backlog-read",
		Tool:        ToolRead,
		Description: "direct read of backlog files",
		Mode:        ModeStrict,
		Check:       checkBacklogRead,
	}
}

func checkBacklogRead(_ context.Context, gc *Context) *Verdict {
	if gc.Input == nil {
		return nil
	}
	path := gc.Input.ToolInput.FilePath
	if !strings.Contains(path, "agent_docs") {
		return nil
	}
	if !strings.HasSuffix(path, "backlog.json") && !strings.HasSuffix(path, "BACKLOG.md") {
		return nil
	}
	return &Verdict{
		Reason: "backlog files must be read through agency story",
		Message: "BLOCKED: Do not read backlog files directly. " +
			"Use the story commands via Bash instead:\n" +
			"  - Stats:   agency story stats\n" +
			"  - List:    agency story list --format summary\n" +
			"  - Detail:  agency story get --id US-XXX\n",
	}
}
