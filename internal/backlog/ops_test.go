package backlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlc-agency/agency/internal/types"
)

func TestPhaseTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "US-001", "A")
	mustCreate(t, s, "US-002", "A")
	mustCreate(t, s, "US-003", "B")
	for _, id := range []string{"US-001", "US-002"} {
		_, err := s.SetStatus(ctx, id, types.StatusReady, types.RolePO)
		require.NoError(t, err)
	}
	c := NewLocalClient(s)

	res, err := PhaseTransition(ctx, c, types.PhaseDesign, types.RoleTL)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Transitioned)
	assert.Equal(t, types.StatusReady, res.From)
	assert.Equal(t, types.StatusInDesign, res.To)
	assert.True(t, res.Rendered)
	assert.FileExists(t, RenderPath(s.Path()))
	for _, r := range res.Results {
		assert.True(t, r.Success, r.ID)
	}

	st, err := s.Get(ctx, "US-003")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDraft, st.Status)

	res, err = PhaseTransition(ctx, c, types.PhaseDesign, types.RoleTL)
	require.NoError(t, err)
	assert.Zero(t, res.Transitioned)
	assert.Equal(t, "No stories in 'Ready' status", res.Message)

	res, err = PhaseTransition(ctx, c, types.PhasePlan, types.RolePO)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestBatchCreate(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "US-004", "A")
	input := filepath.Join(t.TempDir(), "stories.json")
	require.NoError(t, os.WriteFile(input, []byte(`[
  {"title": "Login", "feature": "Auth", "priority": "Must", "role": "user", "want": "to log in", "benefit": "access"},
  {"title": "Logout", "feature": "Auth", "priority": "Should", "depends": "US-005",
   "ac": [{"id": "AC-1", "given": "a session", "when": "I log out", "then": "it ends"}]}
]`), 0o600))

	stories, err := ReadBatchFile(input)
	require.NoError(t, err)
	require.Len(t, stories, 2)

	res, err := BatchCreate(context.Background(), NewLocalClient(s), types.RolePO, stories)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, "US-005", res.Results[0].ID)
	assert.Equal(t, "US-006", res.Results[1].ID)
	assert.True(t, res.Rendered)

	st, err := s.Get(context.Background(), "US-006")
	require.NoError(t, err)
	assert.Equal(t, []string{"US-005"}, st.Dependencies)
	require.Len(t, st.AcceptanceCriteria, 1)
	assert.Equal(t, "it ends", st.AcceptanceCriteria[0].Then)
}

func TestBatchCreateReportsPerStoryFailures(t *testing.T) {
	s := newTestStore(t)
	res, err := BatchCreate(context.Background(), NewLocalClient(s), types.RoleDev, []BatchStory{{Title: "x", Priority: types.PriorityMust}})
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	require.Len(t, res.Results, 1)
	assert.False(t, res.Results[0].Success)
	assert.Contains(t, res.Results[0].Error, "Permission denied")
}

func TestReadBatchFileRejectsObject(t *testing.T) {
	input := filepath.Join(t.TempDir(), "stories.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"title": "x"}`), 0o600))
	_, err := ReadBatchFile(input)
	assert.Equal(t, "invalid_argument", types.Code(err))

	_, err = ReadBatchFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, "not_found", types.Code(err))
}

func TestQueryProfiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "US-001", "A")
	mustCreate(t, s, "US-002", "A")
	_, err := s.SetStatus(ctx, "US-002", types.StatusReady, types.RolePO)
	require.NoError(t, err)
	c := NewLocalClient(s)

	res, err := Query(ctx, c, types.PhaseDesign, "minimal", "")
	require.NoError(t, err)
	require.Len(t, res.Stories, 1)
	assert.Equal(t, []string{"id", "title", "status"}, res.Stories[0].Fields())
	assert.Equal(t, "US-002", res.Stories[0].String("id"))

	res, err = Query(ctx, c, types.PhaseDesign, "ids", types.StatusDraft)
	require.NoError(t, err)
	require.Len(t, res.Stories, 1)
	assert.Equal(t, "US-001", res.Stories[0].String("id"))

	res, err = Query(ctx, c, types.PhasePlan, "audit", "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.NotNil(t, res.Stories[0].Raw("history"))

	_, err = Query(ctx, c, types.PhasePlan, "everything", "")
	assert.Equal(t, "invalid_argument", types.Code(err))
}

func TestResolveDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "US-003", "A", "US-001", "US-002")
	mustCreate(t, s, "US-001", "A")
	mustCreate(t, s, "US-002", "A", "US-001")
	mustCreate(t, s, "US-004", "B")
	c := NewLocalClient(s)

	res, err := ResolveDependencies(ctx, c, "")
	require.NoError(t, err)
	assert.False(t, res.HasCycle)
	assert.Nil(t, res.CycleWarning)
	assert.Equal(t, []string{"US-001", "US-002", "US-003", "US-004"}, orderedIDs(res))

	res, err = ResolveDependencies(ctx, c, "US-002")
	require.NoError(t, err)
	assert.Equal(t, []string{"US-001", "US-002"}, orderedIDs(res))

	_, err = ResolveDependencies(ctx, c, "US-404")
	assert.Equal(t, "not_found", types.Code(err))
}

func TestResolveDependenciesCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "US-001", "A", "US-002")
	mustCreate(t, s, "US-002", "A", "US-001")
	mustCreate(t, s, "US-003", "A")

	res, err := ResolveDependencies(ctx, NewLocalClient(s), "")
	require.NoError(t, err)
	assert.True(t, res.HasCycle)
	require.NotNil(t, res.CycleWarning)
	assert.Equal(t, []string{"US-003"}, orderedIDs(res))
}

func TestResolveDependenciesEmpty(t *testing.T) {
	res, err := ResolveDependencies(context.Background(), NewLocalClient(newTestStore(t)), "")
	require.NoError(t, err)
	assert.Equal(t, "No stories found", res.Message)
	assert.Empty(t, res.Ordered)
}

func orderedIDs(res *DependencyOrder) []string {
	ids := make([]string, len(res.Ordered))
	for i, o := range res.Ordered {
		ids[i] = o.ID
	}
	return ids
}
