package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlc-agency/agency/internal/types"
)

func TestParseValidate(t *testing.T) {
	t.Run("two markers", func(t *testing.T) {
		r, ok := ParseValidate("blah [VERDICT:APPROVED] blah [VERDICT:REPROVED]")
		require.True(t, ok)
		assert.Equal(t, types.VerdictApproved, r.PM)
		assert.Equal(t, types.VerdictReproved, r.TL)
		assert.Equal(t, types.VerdictReproved, r.Combined)
		assert.Equal(t, "APPROVED,REPROVED", r.CombinedVerdict)
		assert.False(t, r.Partial)
	})

	t.Run("case insensitive and extras ignored", func(t *testing.T) {
		r, ok := ParseValidate("[verdict:approved]\n[Verdict:Approved]\n[VERDICT:REPROVED]")
		require.True(t, ok)
		assert.Equal(t, types.VerdictApproved, r.Combined)
		assert.Equal(t, "APPROVED,APPROVED", r.CombinedVerdict)
	})

	t.Run("single marker is partial", func(t *testing.T) {
		r, ok := ParseValidate("PM says [VERDICT:APPROVED]")
		require.True(t, ok)
		assert.True(t, r.Partial)
		assert.Equal(t, []types.Verdict{types.VerdictApproved}, r.Verdicts)
		assert.Contains(t, r.Warning, "requires 2")
		assert.Empty(t, r.Combined)
	})

	t.Run("no marker", func(t *testing.T) {
		_, ok := ParseValidate("looks fine to me")
		assert.False(t, ok)
	})
}

func TestParseReviewLastMarkerWins(t *testing.T) {
	r, ok := ParseReview("[GATE:FAIL] two blocking issues, one critical ... fixed ... [GATE:PASS]")
	require.True(t, ok)
	assert.Equal(t, types.VerdictPass, r.Verdict)
	assert.Equal(t, 2, r.BlockingIssuesEstimate)

	r, ok = ParseReview("Must fix the handler. mustfix again. [gate:fail]")
	require.True(t, ok)
	assert.Equal(t, types.VerdictFail, r.Verdict)
	assert.Equal(t, 2, r.BlockingIssuesEstimate)
}

func TestParseTest(t *testing.T) {
	r, ok := ParseTest("Run 1: 10 tests passed, 2 failed\nRun 2: 12 passed 0 tests failed\n[GATE:FAIL_BUG]\n[GATE:PASS]")
	require.True(t, ok)
	assert.Equal(t, types.VerdictPass, r.Verdict)
	require.NotNil(t, r.TestsPassed)
	require.NotNil(t, r.TestsFailed)
	assert.Equal(t, 12, *r.TestsPassed)
	assert.Equal(t, 0, *r.TestsFailed)

	r, ok = ParseTest("[GATE:FAIL_TEST] flaky fixture")
	require.True(t, ok)
	assert.Equal(t, types.VerdictFailTest, r.Verdict)
	assert.Nil(t, r.TestsPassed)
	assert.Nil(t, r.TestsFailed)
}

func TestParseDispatch(t *testing.T) {
	got, err := Parse(types.PhaseReview, "no markers here")
	require.NoError(t, err)
	missing, ok := got.(*Missing)
	require.True(t, ok, "expected *Missing, got %T", got)
	assert.False(t, missing.Found)
	assert.NotEmpty(t, missing.Error)

	got, err = Parse(types.PhaseTest, "[GATE:PASS]")
	require.NoError(t, err)
	_, ok = got.(*TestResult)
	assert.True(t, ok)

	_, err = Parse(types.PhaseDesign, "[GATE:PASS]")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestCheckIteration(t *testing.T) {
	c := CheckIteration("review", 2, 3)
	assert.False(t, c.ShouldEscalate)
	assert.Equal(t, "continue_loop", c.Action)
	assert.Equal(t, "Gate iteration 2/3. Retrying.", c.Message)

	c = CheckIteration("review", 3, 3)
	assert.True(t, c.ShouldEscalate)
	assert.Equal(t, "escalate_to_user", c.Action)
	assert.Equal(t, "Gate failed 3/3 times. Escalating to user.", c.Message)
}

func TestExtractQuestions(t *testing.T) {
	text := `Here is my plan.

[QUESTIONS]
1. Should the API be versioned?
2) What is the expected peak load per second?
- ok?
* Which auth provider do we integrate with
Q3: Should the API be versioned?
[VERDICT:APPROVED]

Also [QUESTION: Do we need GDPR export?] inline.
`
	q := ExtractQuestions(text)
	assert.True(t, q.Found)
	assert.Equal(t, []string{
		"Should the API be versioned?",
		"What is the expected peak load per second?",
		"Which auth provider do we integrate with",
		"Also [QUESTION: Do we need GDPR export?] inline.",
		"Do we need GDPR export?",
	}, q.Questions)
	assert.Equal(t, 5, q.Count)
}

// Only the bare [VERDICT], [GATE] and [NOTES] markers close a block; a
// verdict marker with a value does not.
func TestExtractQuestionsBlockTerminators(t *testing.T) {
	q := ExtractQuestions("[QUESTIONS]\nIs SSO in scope for v1?\n[VERDICT]\nThis sentence is long enough to count.")
	assert.Equal(t, []string{"Is SSO in scope for v1?"}, q.Questions)

	q = ExtractQuestions("[QUESTIONS]\nIs SSO in scope for v1?\n[VERDICT:REPROVED]\nThis sentence is long enough to count.")
	assert.Equal(t, []string{"Is SSO in scope for v1?", "This sentence is long enough to count."}, q.Questions)
}

func TestExtractQuestionsBlockRunsToEnd(t *testing.T) {
	q := ExtractQuestions("[questions]\nHow many tenants are expected?\n[NOTES] not a question at all here")
	assert.Equal(t, []string{"How many tenants are expected?"}, q.Questions)

	q = ExtractQuestions("[QUESTIONS]\n- Is offline mode required?")
	assert.Equal(t, []string{"Is offline mode required?"}, q.Questions)
}

func TestExtractQuestionsNone(t *testing.T) {
	q := ExtractQuestions("nothing to ask")
	assert.False(t, q.Found)
	assert.Equal(t, 0, q.Count)
	assert.NotNil(t, q.Questions)
	assert.Empty(t, q.Questions)
}
