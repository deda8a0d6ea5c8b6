package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlc-agency/agency/internal/agent"
	"github.com/sdlc-agency/agency/internal/backlog"
	"github.com/sdlc-agency/agency/internal/types"
)

// fakeClient answers List from canned JSON keyed by status.
type fakeClient struct {
	backlog.Client
	byStatus map[types.StoryStatus]string
	asked    []types.StoryStatus
}

func (f *fakeClient) List(_ context.Context, opts backlog.ListOptions) (*backlog.ListResult, error) {
	f.asked = append(f.asked, opts.Status)
	body, ok := f.byStatus[opts.Status]
	if !ok {
		body = `{"stories": [], "count": 0}`
	}
	var res backlog.ListResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func TestGroupStoriesLayersDependentFeatures(t *testing.T) {
	a := GroupStories([]Story{
		{ID: "US-001", FeatureArea: "A"},
		{ID: "US-002", FeatureArea: "B", Dependencies: []string{"US-001"}},
	})

	assert.False(t, a.HasCycle)
	assert.Equal(t, 2, a.TotalGroups)
	assert.Equal(t, 2, a.TotalStories)
	assert.Equal(t, 1, a.ParallelizableGroups)
	require.Len(t, a.Waves, 2)

	assert.Equal(t, 1, a.Waves[0].Wave)
	require.Len(t, a.Waves[0].Groups, 1)
	assert.Equal(t, "A", a.Waves[0].Groups[0].FeatureArea)
	assert.True(t, a.Waves[0].Groups[0].CanParallel)
	assert.Empty(t, a.Waves[0].Groups[0].DependsOn)

	b := a.Waves[1].Groups[0]
	assert.Equal(t, 2, a.Waves[1].Wave)
	assert.Equal(t, "B", b.FeatureArea)
	assert.Equal(t, []string{"US-002"}, b.Stories)
	assert.False(t, b.CanParallel)
	assert.Equal(t, []string{"feat/a"}, b.DependsOn)
}

func TestGroupStoriesCycleTerminates(t *testing.T) {
	a := GroupStories([]Story{
		{ID: "US-001", FeatureArea: "A", Dependencies: []string{"US-002"}},
		{ID: "US-002", FeatureArea: "B", Dependencies: []string{"US-001"}},
		{ID: "US-003", FeatureArea: "C"},
	})

	assert.True(t, a.HasCycle)
	assert.Equal(t, []string{"A", "B"}, a.UnassignedFeatures)
	assert.Equal(t, []string{"A", "B"}, a.CycleFeatures)
	assert.Empty(t, a.BlockedFeatures)
	assert.Contains(t, a.Warning, "among features: A, B.")
	assert.NotContains(t, a.Warning, "Blocked")
	require.Len(t, a.Waves, 1)
	assert.Equal(t, "C", a.Waves[0].Groups[0].FeatureArea)
	assert.Equal(t, 3, a.TotalGroups)
}

func TestGroupStoriesSeparatesBlockedFromCycle(t *testing.T) {
	a := GroupStories([]Story{
		{ID: "US-001", FeatureArea: "A", Dependencies: []string{"US-002"}},
		{ID: "US-002", FeatureArea: "B", Dependencies: []string{"US-001"}},
		{ID: "US-003", FeatureArea: "C", Dependencies: []string{"US-001"}},
		{ID: "US-004", FeatureArea: "D"},
	})

	assert.True(t, a.HasCycle)
	assert.Equal(t, []string{"A", "B", "C"}, a.UnassignedFeatures)
	assert.Equal(t, []string{"A", "B"}, a.CycleFeatures)
	assert.Equal(t, []string{"C"}, a.BlockedFeatures)
	assert.Equal(t,
		"Dependency cycle detected among features: A, B. Blocked behind the cycle: C. These features were left out of the waves.",
		a.Warning)
	require.Len(t, a.Waves, 1)
	assert.Equal(t, "D", a.Waves[0].Groups[0].FeatureArea)
}

func TestGroupStoriesDefaults(t *testing.T) {
	a := GroupStories([]Story{
		{ID: "US-001", FeatureArea: "User Auth"},
		{ID: "US-002"},
		{ID: "US-003", FeatureArea: "User Auth", Dependencies: []string{"US-001", "US-404"}},
	})

	require.Len(t, a.Waves, 1)
	groups := a.Waves[0].Groups
	require.Len(t, groups, 2)
	assert.Equal(t, "User Auth", groups[0].FeatureArea)
	assert.Equal(t, "feat/user-auth", groups[0].BranchName)
	assert.Equal(t, []string{"US-001", "US-003"}, groups[0].Stories)
	assert.True(t, groups[0].CanParallel)
	assert.Equal(t, Unclassified, groups[1].FeatureArea)
	assert.Equal(t, 2, a.ParallelizableGroups)
}

func TestGroupStoriesDiamond(t *testing.T) {
	a := GroupStories([]Story{
		{ID: "US-004", FeatureArea: "D", Dependencies: []string{"US-002", "US-003"}},
		{ID: "US-002", FeatureArea: "B", Dependencies: []string{"US-001"}},
		{ID: "US-003", FeatureArea: "C", Dependencies: []string{"US-001"}},
		{ID: "US-001", FeatureArea: "A"},
	})
	require.Len(t, a.Waves, 3)
	assert.Equal(t, "A", a.Waves[0].Groups[0].FeatureArea)
	require.Len(t, a.Waves[1].Groups, 2)
	assert.Equal(t, "B", a.Waves[1].Groups[0].FeatureArea)
	assert.Equal(t, "C", a.Waves[1].Groups[1].FeatureArea)
	assert.Equal(t, []string{"feat/b", "feat/c"}, a.Waves[2].Groups[0].DependsOn)
}

func TestAnalyzeDefaultsToValidated(t *testing.T) {
	c := &fakeClient{byStatus: map[types.StoryStatus]string{
		types.StatusValidated: `{"stories": [
			{"id": "US-001", "title": "Login", "feature_area": "Auth", "dependencies": []},
			{"id": "US-002", "title": "Cart", "feature_area": "Shop", "dependencies": ["US-001"]}
		], "count": 2}`,
	}}
	a, err := Analyze(context.Background(), c, "")
	require.NoError(t, err)
	assert.Equal(t, []types.StoryStatus{types.StatusValidated}, c.asked)
	require.Len(t, a.Waves, 2)
	assert.Equal(t, []string{"feat/auth"}, a.Waves[1].Groups[0].DependsOn)

	a, err = Analyze(context.Background(), c, types.StatusReady)
	require.NoError(t, err)
	assert.Empty(t, a.Waves)
	assert.Equal(t, "No stories found with status 'Ready'", a.Message)
}

func TestReadyFor(t *testing.T) {
	c := &fakeClient{byStatus: map[types.StoryStatus]string{
		types.StatusInProgress: `{"stories": [
			{"id": "US-001", "title": "Login", "feature_area": "Auth", "status": "In Progress"},
			{"id": "US-002", "title": "Misc", "feature_area": "", "status": "In Progress"},
			{"id": "US-003", "title": "Logout", "feature_area": "Auth", "status": "In Progress"}
		], "count": 3}`,
	}}
	res, err := ReadyFor(context.Background(), c, types.PhaseReview)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ReadyCount)
	assert.Equal(t, []string{"US-001", "US-003"}, res.ByFeature["Auth"])
	assert.Equal(t, []string{"US-002"}, res.ByFeature[Unclassified])

	res, err = ReadyFor(context.Background(), c, types.PhaseTest)
	require.NoError(t, err)
	assert.Zero(t, res.ReadyCount)
	assert.Equal(t, types.StatusInReview, c.asked[1])

	_, err = ReadyFor(context.Background(), c, types.PhaseDesign)
	assert.EqualError(t, err, "Unsupported phase: design. Valid: review, test")
}

func TestAgentsScopedToFeature(t *testing.T) {
	c := &fakeClient{byStatus: map[types.StoryStatus]string{
		types.StatusValidated: `{"stories": [
			{"id": "US-001", "title": "Login", "feature_area": "User Auth"},
			{"id": "US-002", "title": "Cart", "feature_area": "Shop"}
		], "count": 2}`,
	}}
	in := agent.PromptInput{ProjectRoot: "/p", BacklogPath: "/p/backlog.json", Objective: "Build it"}

	res, err := Agents(context.Background(), c, types.PhaseImplement, "User Auth", in, nil)
	require.NoError(t, err)
	require.Len(t, res.Agents, 2)

	dev := res.Agents[0]
	assert.Equal(t, types.RoleDev, dev.Role)
	assert.Equal(t, "dev-implement-user-auth", dev.Name)
	assert.Equal(t, []string{"US-001"}, dev.Stories)
	assert.Contains(t, dev.Prompt, "The project objective is: Build it (Feature: User Auth).")

	tl := res.Agents[1]
	assert.Equal(t, "tl-implement-user-auth-assist", tl.Name)
	assert.Equal(t, agent.KindAssist, tl.Type)

	_, err = Agents(context.Background(), c, types.PhaseImplement, "x", agent.PromptInput{}, nil)
	assert.Equal(t, "invalid_argument", types.Code(err))
}
