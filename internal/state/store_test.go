package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlc-agency/agency/internal/types"
)

// fakeClock replaces timeNow for the duration of a test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func useFakeClock(t *testing.T) *fakeClock {
	t.Helper()
	c := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	prev := timeNow
	timeNow = func() time.Time {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.now
	}
	t.Cleanup(func() { timeNow = prev })
	return c
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent_docs", "agency", "STATE.json")
	s := NewStore(path, WithLockTimeout(2*time.Second))
	_, err := s.Init(context.Background(), "demo", "ship it")
	require.NoError(t, err)
	return s
}

func complete(t *testing.T, s *Store, p types.Phase) {
	t.Helper()
	_, err := s.UpdatePhase(context.Background(), UpdateRequest{Phase: p, Status: types.PhaseCompleted})
	require.NoError(t, err)
}

func TestInitCreatesPendingDocument(t *testing.T) {
	useFakeClock(t)
	s := newTestStore(t)

	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, doc.Version)
	assert.Equal(t, "demo", doc.Project)
	assert.Nil(t, doc.CurrentPhase)
	assert.Equal(t, types.OverallInProgress, doc.Status)
	assert.Equal(t, 7, doc.Metrics.TotalPhases)
	assert.Zero(t, doc.Metrics.CompletedPhases)
	require.Len(t, doc.Phases, 7)
	for _, p := range types.Phases() {
		assert.Equal(t, types.PhasePending, doc.Phases[p].Status, "phase %s", p)
		assert.Nil(t, doc.Phases[p].StartedAt)
	}
}

func TestInitRefusesExistingFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Init(context.Background(), "again", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAlreadyExists))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewStore(filepath.Join(dir, "missing.json")).Load()
	assert.Equal(t, "not_found", types.Code(err))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = NewStore(bad).Load()
	assert.Equal(t, "parse_error", types.Code(err))

	partial := filepath.Join(dir, "partial.json")
	require.NoError(t, os.WriteFile(partial, []byte(`{"phases":{"plan":{"status":"pending"}}}`), 0o600))
	_, err = NewStore(partial).Load()
	assert.Equal(t, "parse_error", types.Code(err))
}

func TestPhasesSerializeInCanonicalOrder(t *testing.T) {
	s := newTestStore(t)
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	last := -1
	for _, p := range types.Phases() {
		idx := strings.Index(string(data), `"`+string(p)+`": {`)
		require.NotEqual(t, -1, idx, "phase %s missing", p)
		assert.Greater(t, idx, last, "phase %s out of order", p)
		last = idx
	}
}

func TestUpdatePhaseTimestampsAndDuration(t *testing.T) {
	clock := useFakeClock(t)
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.UpdatePhase(ctx, UpdateRequest{Phase: types.PhasePlan, Status: types.PhaseInProgress, Agent: "pm-plan"})
	require.NoError(t, err)
	require.NotNil(t, res.CurrentPhase)
	assert.Equal(t, types.PhasePlan, *res.CurrentPhase)

	clock.advance(90 * time.Second)
	res, err = s.UpdatePhase(ctx, UpdateRequest{Phase: types.PhasePlan, Status: types.PhaseCompleted, Notes: "done"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CompletedPhases)

	doc, err := s.Load()
	require.NoError(t, err)
	ps := doc.Phases[types.PhasePlan]
	assert.Equal(t, "completed", ps.Agents["pm-plan"])
	assert.Equal(t, "done", ps.Notes)
	require.NotNil(t, ps.CompletedAt)
	assert.Equal(t, 90, doc.Metrics.PhaseDurations[types.PhasePlan])

	// Completing again neither double counts nor rewrites the duration.
	clock.advance(time.Hour)
	res, err = s.UpdatePhase(ctx, UpdateRequest{Phase: types.PhasePlan, Status: types.PhaseCompleted})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CompletedPhases)
	doc, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, 90, doc.Metrics.PhaseDurations[types.PhasePlan])
	assert.Equal(t, "done", doc.Phases[types.PhasePlan].Notes)
}

func TestUpdatePhaseIgnoresDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpdatePhase(ctx, UpdateRequest{Phase: types.PhaseDesign, Status: types.PhaseInProgress})
	require.NoError(t, err)

	res, err := s.CanProceed(ctx, types.PhaseDesign)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	require.NotNil(t, res.BlockingPhase)
	assert.Equal(t, types.PhasePlan, *res.BlockingPhase)
	assert.Equal(t, "Phase plan is required but has status: pending", res.Reason)
}

func TestUpdatePhaseRejectsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdatePhase(context.Background(), UpdateRequest{Phase: "deploy", Status: types.PhaseCompleted})
	assert.Equal(t, "invalid_argument", types.Code(err))
	_, err = s.UpdatePhase(context.Background(), UpdateRequest{Phase: types.PhasePlan, Status: "done"})
	assert.Equal(t, "invalid_argument", types.Code(err))
}

func TestAllPhasesCompletedFinishesProject(t *testing.T) {
	s := newTestStore(t)
	for _, p := range types.Phases() {
		complete(t, s, p)
	}
	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, types.OverallCompleted, doc.Status)
	assert.Equal(t, 7, doc.Metrics.CompletedPhases)
}

func TestRecordGateIterations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.RecordGate(ctx, GateRequest{Phase: types.PhaseValidate, PM: types.VerdictApproved, TL: types.VerdictReproved})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Iteration)
	assert.Equal(t, types.VerdictReproved, first.VerdictRecord.Combined)

	second, err := s.RecordGate(ctx, GateRequest{Phase: types.PhaseValidate, PM: types.VerdictApproved, TL: types.VerdictApproved})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Iteration)
	assert.Equal(t, types.VerdictApproved, second.VerdictRecord.Combined)

	doc, err := s.Load()
	require.NoError(t, err)
	g := doc.Phases[types.PhaseValidate].Gate
	require.NotNil(t, g)
	assert.Equal(t, 2, g.Iterations)
	assert.Equal(t, DefaultMaxIterations, g.MaxIterations)
	assert.Len(t, g.Verdicts, 2)
	assert.Equal(t, 2, doc.Metrics.TotalGateIterations)
}

func TestRecordGateValidatesBeforeWriting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	bad := []GateRequest{
		{Phase: types.PhaseValidate, PM: types.VerdictApproved},
		{Phase: types.PhaseValidate, PM: "MAYBE", TL: types.VerdictApproved},
		{Phase: types.PhaseReview, Verdict: types.VerdictApproved},
		{Phase: types.PhaseTest, Verdict: types.VerdictFail},
		{Phase: types.PhasePlan, Verdict: types.VerdictPass},
	}
	for _, req := range bad {
		_, err := s.RecordGate(ctx, req)
		assert.Equal(t, "invalid_argument", types.Code(err), "request %+v", req)
	}

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestRecordGateTestCounts(t *testing.T) {
	s := newTestStore(t)
	passed, failed := 12, 0
	res, err := s.RecordGate(context.Background(), GateRequest{
		Phase:       types.PhaseTest,
		Verdict:     types.VerdictPass,
		TestsPassed: &passed,
		TestsFailed: &failed,
	})
	require.NoError(t, err)
	require.NotNil(t, res.VerdictRecord.TestsPassed)
	assert.Equal(t, 12, *res.VerdictRecord.TestsPassed)

	neg := -1
	_, err = s.RecordGate(context.Background(), GateRequest{Phase: types.PhaseTest, Verdict: types.VerdictPass, TestsFailed: &neg})
	assert.Equal(t, "invalid_argument", types.Code(err))
}

func TestCanProceedGateVerdicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, p := range []types.Phase{types.PhasePlan, types.PhaseDesign, types.PhaseValidate} {
		complete(t, s, p)
	}

	res, err := s.CanProceed(ctx, types.PhaseImplement)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "Validate gate has no verdicts recorded", res.Reason)

	_, err = s.RecordGate(ctx, GateRequest{Phase: types.PhaseValidate, PM: types.VerdictApproved, TL: types.VerdictReproved})
	require.NoError(t, err)
	res, err = s.CanProceed(ctx, types.PhaseImplement)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "Validate gate must have combined APPROVED verdict", res.Reason)

	_, err = s.RecordGate(ctx, GateRequest{Phase: types.PhaseValidate, PM: types.VerdictApproved, TL: types.VerdictApproved})
	require.NoError(t, err)
	res, err = s.CanProceed(ctx, types.PhaseImplement)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Nil(t, res.BlockingPhase)
	assert.Equal(t, "All dependencies satisfied", res.Reason)

	complete(t, s, types.PhaseImplement)
	complete(t, s, types.PhaseReview)
	_, err = s.RecordGate(ctx, GateRequest{Phase: types.PhaseReview, Verdict: types.VerdictFail})
	require.NoError(t, err)
	res, err = s.CanProceed(ctx, types.PhaseTest)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "Review gate must have PASS verdict", res.Reason)
}

func TestCanProceedFirstPhase(t *testing.T) {
	s := newTestStore(t)
	res, err := s.CanProceed(context.Background(), types.PhasePlan)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Query(ctx, "", "project")
	require.NoError(t, err)
	assert.JSONEq(t, `"demo"`, string(v.(json.RawMessage)))

	_, err = s.Query(ctx, "", "nope")
	assert.Equal(t, "not_found", types.Code(err))

	v, err = s.Query(ctx, types.PhaseDesign, "")
	require.NoError(t, err)
	view := v.(*PhaseView)
	assert.Equal(t, types.PhaseDesign, view.Phase)
	assert.Equal(t, types.PhasePending, view.Status)

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"design"`)
	assert.Contains(t, string(data), `"status":"pending"`)
}

func TestSummary(t *testing.T) {
	clock := useFakeClock(t)
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpdatePhase(ctx, UpdateRequest{Phase: types.PhasePlan, Status: types.PhaseInProgress})
	require.NoError(t, err)
	clock.advance(5 * time.Second)
	complete(t, s, types.PhasePlan)
	_, err = s.RecordGate(ctx, GateRequest{Phase: types.PhaseReview, Verdict: types.VerdictPass})
	require.NoError(t, err)

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	require.NotNil(t, sum.Phases[types.PhasePlan].DurationSeconds)
	assert.Equal(t, 5, *sum.Phases[types.PhasePlan].DurationSeconds)
	assert.Nil(t, sum.Phases[types.PhaseDesign].DurationSeconds)
	assert.Nil(t, sum.Phases[types.PhaseValidate].Gate)
	require.NotNil(t, sum.Phases[types.PhaseReview].Gate)
	assert.Equal(t, types.VerdictPass, sum.Phases[types.PhaseReview].Gate.LastVerdict.Verdict)
}

func TestStartPhase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	res, err := s.StartPhase(ctx, types.PhaseDesign)
	require.NoError(t, err)
	assert.False(t, res.Ready)
	require.NotNil(t, res.BlockedBy)
	assert.Equal(t, types.PhasePlan, *res.BlockedBy)
	assert.Equal(t, "Phase plan has status: pending", res.Reason)
	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	res, err = s.StartPhase(ctx, types.PhasePlan)
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.True(t, res.StateUpdated)
	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, types.PhaseInProgress, doc.Phases[types.PhasePlan].Status)
}

func TestPipelines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.PipelineStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Pipelines)
	assert.False(t, st.AllCompleted)

	_, err = s.UpsertPipeline(ctx, "Auth", "in_progress", "feat/auth")
	require.NoError(t, err)
	_, err = s.UpsertPipeline(ctx, "Billing", "completed", "")
	require.NoError(t, err)
	rec, err := s.UpsertPipeline(ctx, "Auth", "COMPLETED", "")
	require.NoError(t, err)
	assert.Equal(t, "feat/auth", rec.BranchName)

	st, err = s.PipelineStatus(ctx)
	require.NoError(t, err)
	require.Len(t, st.Pipelines, 2)
	assert.Equal(t, "Auth", st.Pipelines[0].Feature)
	assert.Equal(t, types.PhaseImplement, st.Pipelines[0].Phase)
	assert.True(t, st.AllCompleted)

	_, err = s.UpsertPipeline(ctx, "Auth", "stalled", "")
	assert.Equal(t, "invalid_argument", types.Code(err))
}

func TestConcurrentGateRecordsAreNotLost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordGate(ctx, GateRequest{Phase: types.PhaseReview, Verdict: types.VerdictPass})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, n, doc.Phases[types.PhaseReview].Gate.Iterations)
	assert.Equal(t, n, doc.Metrics.TotalGateIterations)
}
